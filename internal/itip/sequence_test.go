package itip

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestSequenceIgnoresSubSecondPrecision(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sec := rapid.Int64Range(0, 4_000_000_000).Draw(t, "sec")
		na := rapid.Int64Range(0, int64(time.Second)-1).Draw(t, "nanosA")
		nb := rapid.Int64Range(0, int64(time.Second)-1).Draw(t, "nanosB")
		n := rapid.IntRange(0, 1000).Draw(t, "sequence")

		a := NewSequence(n, time.Unix(sec, na))
		b := NewSequence(n, time.Unix(sec, nb))
		if a != b || a.Compare(b) != 0 {
			t.Fatalf("%s and %s differ only below one second", a, b)
		}
	})
}

func TestSequenceTotalOrder(t *testing.T) {
	gen := rapid.Custom(func(t *rapid.T) Sequence {
		return Sequence{
			Number:    rapid.Int32Range(0, 4).Draw(t, "number"),
			Timestamp: rapid.Int64Range(0, 4).Draw(t, "timestamp"),
		}
	})
	rapid.Check(t, func(t *rapid.T) {
		a, b, c := gen.Draw(t, "a"), gen.Draw(t, "b"), gen.Draw(t, "c")

		if a.Compare(b) != -b.Compare(a) {
			t.Fatalf("compare not antisymmetric for %s, %s", a, b)
		}
		if (a.Compare(b) == 0) != (a == b) {
			t.Fatalf("equal compare for distinct revisions %s, %s", a, b)
		}
		if a.Before(b) && b.Before(c) && !a.Before(c) {
			t.Fatalf("order not transitive: %s < %s < %s", a, b, c)
		}
		if a.AfterOrEquals(b) == a.Before(b) {
			t.Fatalf("AfterOrEquals and Before disagree for %s, %s", a, b)
		}
	})
}

func TestSequenceNumberDominatesTimestamp(t *testing.T) {
	older := NewSequence(1, t0.Add(24*time.Hour))
	newer := NewSequence(2, t0)
	if !newer.After(older) {
		t.Fatalf("expected %s after %s", newer, older)
	}
	if got := NewSequence(0, time.Time{}); got.Timestamp != 0 {
		t.Fatalf("zero stamp should map to 0, got %d", got.Timestamp)
	}
}
