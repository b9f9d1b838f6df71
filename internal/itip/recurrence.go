package itip

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/teambition/rrule-go"
)

// instanceOf synthesizes the occurrence of a recurring master that starts at
// rid. It fails when the rule does not produce rid or an EXDATE removes it.
func instanceOf(master *Event, rid time.Time) (*Event, bool) {
	if !master.IsRecurring() || !occursAt(master, rid) {
		return nil, false
	}
	inst := master.Clone()
	inst.RecurrenceID = fn.Some(rid)
	inst.RRule = ""
	inst.ExDates = nil
	inst.Start = rid
	if !master.End.IsZero() {
		inst.End = rid.Add(master.End.Sub(master.Start))
	}
	return inst, true
}

func occursAt(master *Event, at time.Time) bool {
	r, err := rrule.StrToRRule(master.RRule)
	if err != nil {
		return false
	}
	loc := master.Start.Location()
	r.DTStart(master.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range master.ExDates {
		set.ExDate(ex.In(loc))
	}

	at = at.In(loc)
	if master.AllDay {
		day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, loc)
		for _, hit := range set.Between(day, day.Add(24*time.Hour), true) {
			if hit.Year() == day.Year() && hit.YearDay() == day.YearDay() {
				return true
			}
		}
		return false
	}
	for _, hit := range set.Between(at.Add(-time.Second), at.Add(time.Second), true) {
		if hit.Equal(at) {
			return true
		}
	}
	return false
}
