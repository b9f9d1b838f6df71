package itip

import (
	"fmt"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func analyzedChange(rid fn.Option[time.Time], typ ChangeType, actions ...Action) AnalyzedChange {
	c := AnalyzedChange{
		UID:          "evt-1@example.com",
		RecurrenceID: rid,
		Change:       fn.None[Change](),
		Actions:      NewActionSet(actions...),
	}
	if typ != "" {
		c.Change = fn.Some(Change{Type: typ})
	}
	return c
}

func TestAggregatePrefersMasterCreation(t *testing.T) {
	exception := analyzedChange(fn.Some(t0), ChangeUpdate,
		ActionAccept, ActionDecline, ActionTentative, ActionAcceptAndIgnoreConflicts, ActionApplyChange)
	master := analyzedChange(fn.None[time.Time](), ChangeCreate, ActionApplyCreate)
	noop := analyzedChange(fn.Some(t0.Add(time.Hour)), "", ActionIgnore)

	a := Aggregate(MethodRequest, nil, []AnalyzedChange{noop, exception, master})
	main := mainChange(t, a)
	require.True(t, main.RecurrenceID.IsNone())
	ch, ok := unwrapChange(main.Change)
	require.True(t, ok)
	require.Equal(t, ChangeCreate, ch.Type)

	// Changes come out master first, then by occurrence.
	require.True(t, a.Changes[0].RecurrenceID.IsNone())
	require.Equal(t, fn.Some(t0), a.Changes[1].RecurrenceID)
}

func TestAggregateEmpty(t *testing.T) {
	a := Aggregate(MethodRequest, nil, nil)
	require.True(t, a.MainChange.IsNone())
	require.Empty(t, a.Changes)
}

func TestAggregateTargetsSenderForReplies(t *testing.T) {
	ev := meeting("evt-1@example.com", 0, t0)
	msg := message("reply-1", MethodReply, bob, organizer, ev)
	a := Aggregate(MethodReply, msg, nil)
	targeted, ok := unwrapAttendee(a.TargetedAttendee)
	require.True(t, ok)
	require.Equal(t, "bob@example.com", targeted.Key())
	require.Equal(t, "reply-1", a.MessageID)
	require.Equal(t, "evt-1@example.com", a.UID)
}

func TestAggregateMainChangeIsDeterministic(t *testing.T) {
	types := []ChangeType{"", ChangeCreate, ChangeUpdate, ChangeDelete, ChangeCreateDeleteException}
	rapid.Check(t, func(t *rapid.T) {
		days := rapid.SliceOfNDistinct(rapid.IntRange(-1, 30), 1, 8, rapid.ID[int]).Draw(t, "occurrences")
		changes := make([]AnalyzedChange, 0, len(days))
		for i, day := range days {
			rid := fn.None[time.Time]()
			if day >= 0 {
				rid = fn.Some(t0.AddDate(0, 0, day))
			}
			actions := rapid.SliceOfN(rapid.SampledFrom(Actions), 0, 4).Draw(t, fmt.Sprintf("actions%d", i))
			typ := rapid.SampledFrom(types).Draw(t, fmt.Sprintf("type%d", i))
			changes = append(changes, analyzedChange(rid, typ, actions...))
		}
		shuffled := rapid.Permutation(changes).Draw(t, "shuffled")

		first := mainOf(t, Aggregate(MethodRequest, nil, changes))
		second := mainOf(t, Aggregate(MethodRequest, nil, shuffled))
		if !sameOccurrence(first.RecurrenceID, second.RecurrenceID) || !first.Actions.Equal(second.Actions) {
			t.Fatalf("main change depends on input order: %s vs %s",
				occurrenceLabel(first.RecurrenceID), occurrenceLabel(second.RecurrenceID))
		}
	})
}

func mainOf(t *rapid.T, a *Analysis) AnalyzedChange {
	c, ok := unwrapAnalyzed(a.MainChange)
	if !ok {
		t.Fatalf("no main change for %d changes", len(a.Changes))
	}
	return c
}
