package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lightningnetwork/lnd/fn/v2"

	"gitea.jw6.us/james/calsched/internal/itip"
)

const storedObject = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//jw6//calsched//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@example.com\r\n" +
	"SEQUENCE:2\r\n" +
	"DTSTAMP:20260301T080000Z\r\n" +
	"DTSTART:20260302T090000Z\r\n" +
	"DTEND:20260302T091500Z\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"SUMMARY:Standup\r\n" +
	"ORGANIZER:mailto:org@example.com\r\n" +
	"ATTENDEE;PARTSTAT=ACCEPTED;X-CALSCHED-SEQUENCE=2:mailto:alice@example.com\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@example.com\r\n" +
	"RECURRENCE-ID:20260304T090000Z\r\n" +
	"SEQUENCE:2\r\n" +
	"DTSTART:20260304T100000Z\r\n" +
	"DTEND:20260304T101500Z\r\n" +
	"SUMMARY:Standup (moved)\r\n" +
	"ORGANIZER:mailto:org@example.com\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func newEvent(uid string) *itip.Event {
	return &itip.Event{
		UID:          uid,
		RecurrenceID: fn.None[time.Time](),
		Sequence:     1,
		Stamp:        time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Organizer:    itip.CalendarUser{URI: "mailto:org@example.com"},
		Summary:      "Review",
		Start:        time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC),
	}
}

func TestFindByUIDParsesStoredObject(t *testing.T) {
	pool := &mockPool{
		t: t,
		selects: []rowsExpectation{{
			expect: regexp.MustCompile(`FROM calendar_objects WHERE owner=\$1 AND uid=\$2`),
			args:   []any{"alice@example.com", "standup@example.com"},
			rows:   [][]any{{int64(7), "default", "etag-7", storedObject}},
		}},
	}
	repo := New(pool).Objects

	got, err := repo.FindByUID(context.Background(), "alice@example.com", "standup@example.com")
	if err != nil {
		t.Fatalf("FindByUID: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one resource, got %d", len(got))
	}
	res := got[0]
	if res.ID != "7" || res.CalendarID != "default" || res.ETag != "etag-7" {
		t.Fatalf("unexpected identity %+v", res)
	}
	if res.Master == nil || res.Master.RRule != "FREQ=DAILY;COUNT=5" {
		t.Fatalf("master not parsed: %+v", res.Master)
	}
	if len(res.Exceptions) != 1 || res.Exceptions[0].Summary != "Standup (moved)" {
		t.Fatalf("exceptions not parsed: %+v", res.Exceptions)
	}
	if a, ok := res.Master.FindAttendee("alice@example.com"); !ok || a.Sequence != 2 {
		t.Fatalf("attendee revision not restored: %+v", a)
	}
	pool.assertDone()
}

func TestFindRelatedMatchesRelatedTo(t *testing.T) {
	pool := &mockPool{
		t: t,
		selects: []rowsExpectation{{
			expect: regexp.MustCompile(`related_to=\$2`),
			args:   []any{"alice@example.com", "old@example.com"},
		}},
	}
	got, err := New(pool).Objects.FindRelated(context.Background(), "alice@example.com", "old@example.com")
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no resources, got %d", len(got))
	}
	pool.assertDone()
}

func TestCreateAssignsIDAndETag(t *testing.T) {
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{{
			expect: regexp.MustCompile(`INSERT INTO calendar_objects[\s\S]*ON CONFLICT \(owner, calendar_id, uid\) DO NOTHING`),
			args:   []any{"alice@example.com", "default", "review@example.com", nil, nil, nil, nil, nil, nil, nil},
			value:  int64(11),
		}},
	}
	res := itip.Resource{CalendarID: "default", UID: "review@example.com"}.WithOccurrence(newEvent("review@example.com"))

	created, err := New(pool).Objects.Create(context.Background(), "alice@example.com", res)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != "11" {
		t.Fatalf("ID = %q", created.ID)
	}
	if len(created.ETag) != 64 {
		t.Fatalf("expected sha256 etag, got %q", created.ETag)
	}
	pool.assertDone()
}

func TestCreateDuplicateIsConcurrentModification(t *testing.T) {
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{{
			expect: regexp.MustCompile(`INSERT INTO calendar_objects`),
			err:    pgx.ErrNoRows,
		}},
	}
	res := itip.Resource{CalendarID: "default", UID: "review@example.com"}.WithOccurrence(newEvent("review@example.com"))

	_, err := New(pool).Objects.Create(context.Background(), "alice@example.com", res)
	if !errors.Is(err, itip.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	pool.assertDone()
}

func TestUpdateGuardsETag(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		wantErr error
	}{
		{name: "matching etag", tag: "UPDATE 1"},
		{name: "stale etag", tag: "UPDATE 0", wantErr: itip.ErrConcurrentModification},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &mockPool{
				t: t,
				execs: []execExpectation{{
					expect: regexp.MustCompile(`UPDATE calendar_objects[\s\S]*WHERE id=\$1 AND owner=\$2 AND etag=\$11`),
					args:   []any{int64(11), "alice@example.com", "review@example.com", nil, nil, nil, nil, nil, nil, nil, "etag-old"},
					tag:    tt.tag,
				}},
			}
			res := itip.Resource{ID: "11", CalendarID: "default", UID: "review@example.com", ETag: "etag-old"}.
				WithOccurrence(newEvent("review@example.com"))

			updated, err := New(pool).Objects.Update(context.Background(), "alice@example.com", res, "etag-old")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if updated.ETag == "etag-old" || updated.ETag == "" {
				t.Fatalf("etag not refreshed: %q", updated.ETag)
			}
			pool.assertDone()
		})
	}
}

func TestDeleteGuardsETag(t *testing.T) {
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile(`DELETE FROM calendar_objects`), args: []any{int64(3), "alice@example.com", "etag-3"}, tag: "DELETE 1"},
			{expect: regexp.MustCompile(`DELETE FROM calendar_objects`), args: []any{int64(3), "alice@example.com", "etag-3"}, tag: "DELETE 0"},
		},
	}
	repo := New(pool).Objects
	res := itip.Resource{ID: "3", UID: "gone@example.com"}

	if err := repo.Delete(context.Background(), "alice@example.com", res, "etag-3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	err := repo.Delete(context.Background(), "alice@example.com", res, "etag-3")
	if !errors.Is(err, itip.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	pool.assertDone()
}

func TestDeleteRejectsForeignID(t *testing.T) {
	pool := &mockPool{t: t}
	err := New(pool).Objects.Delete(context.Background(), "alice@example.com", itip.Resource{ID: "abc"}, "etag")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	pool.assertDone()
}

func TestConflictsFor(t *testing.T) {
	start := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	pool := &mockPool{
		t: t,
		selects: []rowsExpectation{{
			expect: regexp.MustCompile(`uid<>\$2 AND NOT transparent AND dtstart < \$4 AND dtend > \$3`),
			args:   []any{"alice@example.com", "review@example.com", nil, nil},
			rows:   [][]any{{"dentist@example.com", "Dentist", start, end}},
		}},
	}
	repo := New(pool).Objects

	got, err := repo.ConflictsFor(context.Background(), "alice@example.com", newEvent("review@example.com"))
	if err != nil {
		t.Fatalf("ConflictsFor: %v", err)
	}
	if len(got) != 1 || got[0].UID != "dentist@example.com" || !got[0].Start.Equal(start) {
		t.Fatalf("unexpected conflicts %+v", got)
	}

	// No start means nothing to overlap; no query is issued.
	floating := newEvent("todo@example.com")
	floating.Start = time.Time{}
	got, err = repo.ConflictsFor(context.Background(), "alice@example.com", floating)
	if err != nil || got != nil {
		t.Fatalf("expected no conflicts, got %v, %v", got, err)
	}
	pool.assertDone()
}

func TestHealthCheck(t *testing.T) {
	pool := &mockPool{t: t, pingErr: errors.New("connection refused")}
	if err := New(pool).HealthCheck(context.Background()); err == nil {
		t.Fatalf("expected ping error")
	}
}
