package itip

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/text/language"
)

var (
	t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	organizer = CalendarUser{URI: "mailto:org@example.com", Name: "Olga Organizer"}
	alice     = CalendarUser{URI: "mailto:alice@example.com", Name: "Alice"}
	bob       = CalendarUser{URI: "mailto:bob@example.com", Name: "Bob"}

	aliceSession = Session{Owner: "alice@example.com", CalendarID: "default", Locale: language.English}
	orgSession   = Session{Owner: "org@example.com", CalendarID: "default", Locale: language.English}
)

// meeting is a one hour event organized by organizer with alice and bob
// invited.
func meeting(uid string, seq int, stamp time.Time) *Event {
	return &Event{
		UID:          uid,
		RecurrenceID: fn.None[time.Time](),
		Sequence:     seq,
		Stamp:        stamp,
		Organizer:    organizer,
		Attendees: []Attendee{
			{CalendarUser: alice, PartStat: PartStatNeedsAction, RSVP: true},
			{CalendarUser: bob, PartStat: PartStatNeedsAction, RSVP: true},
		},
		Summary: "Planning",
		Start:   time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC),
	}
}

func withPartStat(ev *Event, who CalendarUser, ps PartStat) *Event {
	a, _ := ev.FindAttendee(who.URI)
	a.CalendarUser = who
	a.PartStat = ps
	a.RSVP = false
	return ev.WithAttendee(a)
}

func message(id string, method Method, sender, recipient CalendarUser, occurrences ...*Event) *Message {
	return &Message{
		ID:           id,
		Method:       method,
		Occurrences:  occurrences,
		RelatedToUID: fn.None[string](),
		Sender:       sender,
		Recipient:    recipient,
	}
}

// memCalendar is an in-memory calendar store with ETag checks.
type memCalendar struct {
	mu        sync.Mutex
	byUID     map[string][]Resource
	nextID    int
	failWrite error

	creates, updates, deletes int
}

func newMemCalendar() *memCalendar {
	return &memCalendar{byUID: make(map[string][]Resource)}
}

// put seeds res and returns it with its assigned identity.
func (m *memCalendar) put(res Resource) Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	res.ID = fmt.Sprint(m.nextID)
	res.ETag = fmt.Sprintf("etag-%d-0", m.nextID)
	if res.CalendarID == "" {
		res.CalendarID = "default"
	}
	m.byUID[res.UID] = append(m.byUID[res.UID], res)
	return res
}

func (m *memCalendar) get(uid string) (Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.byUID[uid]) != 1 {
		return Resource{}, false
	}
	return m.byUID[uid][0], true
}

func (m *memCalendar) writes() int { return m.creates + m.updates + m.deletes }

func (m *memCalendar) FindByUID(_ context.Context, _ string, uid string) ([]Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Resource(nil), m.byUID[uid]...), nil
}

func (m *memCalendar) FindRelated(ctx context.Context, owner, uid string) ([]Resource, error) {
	return m.FindByUID(ctx, owner, uid)
}

func (m *memCalendar) Create(_ context.Context, _ string, res Resource) (Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.failWrite != nil {
		return Resource{}, m.failWrite
	}
	if len(m.byUID[res.UID]) > 0 {
		return Resource{}, ErrConcurrentModification
	}
	m.nextID++
	res.ID = fmt.Sprint(m.nextID)
	res.ETag = fmt.Sprintf("etag-%d-0", m.nextID)
	m.byUID[res.UID] = []Resource{res}
	return res, nil
}

func (m *memCalendar) Update(_ context.Context, _ string, res Resource, expectedETag string) (Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.failWrite != nil {
		return Resource{}, m.failWrite
	}
	uid, i, ok := m.locate(res.ID)
	if !ok || m.byUID[uid][i].ETag != expectedETag {
		return Resource{}, ErrConcurrentModification
	}
	m.remove(uid, i)
	res.ETag = expectedETag + "+"
	m.byUID[res.UID] = append(m.byUID[res.UID], res)
	return res, nil
}

func (m *memCalendar) Delete(_ context.Context, _ string, res Resource, expectedETag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.failWrite != nil {
		return m.failWrite
	}
	uid, i, ok := m.locate(res.ID)
	if !ok || m.byUID[uid][i].ETag != expectedETag {
		return ErrConcurrentModification
	}
	m.remove(uid, i)
	return nil
}

// touch simulates a concurrent edit of the stored resource.
func (m *memCalendar) touch(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.byUID[uid] {
		m.byUID[uid][i].ETag += "*"
	}
}

func (m *memCalendar) locate(id string) (string, int, bool) {
	for uid, list := range m.byUID {
		for i, r := range list {
			if r.ID == id {
				return uid, i, true
			}
		}
	}
	return "", 0, false
}

func (m *memCalendar) remove(uid string, i int) {
	list := m.byUID[uid]
	list = append(list[:i:i], list[i+1:]...)
	if len(list) == 0 {
		delete(m.byUID, uid)
		return
	}
	m.byUID[uid] = list
}

// fatalHelper is satisfied by both *testing.T and *rapid.T.
type fatalHelper interface {
	Helper()
	Fatalf(format string, args ...any)
}

func newTestEngine(t fatalHelper, cal *memCalendar, conflicts ConflictChecker) (*Engine, *MemoryStatusStore) {
	t.Helper()
	statuses := NewMemoryStatusStore()
	engine, err := NewEngine(Config{
		Store:     cal,
		Mutator:   cal,
		Conflicts: conflicts,
		Statuses:  statuses,
		Now:       func() time.Time { return t0.Add(time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, statuses
}

func mainChange(t *testing.T, a *Analysis) AnalyzedChange {
	t.Helper()
	c, ok := unwrapAnalyzed(a.MainChange)
	if !ok {
		t.Fatalf("analysis has no main change")
	}
	return c
}
