package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"gitea.jw6.us/james/calsched/internal/itip"
)

func analysisFrom(sender string, status itip.MessageStatus, actions ...itip.Action) *itip.Analysis {
	return &itip.Analysis{
		Sender:  itip.CalendarUser{URI: sender},
		Status:  status,
		MainChange: fn.Some(itip.AnalyzedChange{
			UID:     "evt-1",
			Actions: itip.NewActionSet(actions...),
		}),
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"ALWAYS": ModeAlways, " known ": ModeKnown, "": ModeNever, "never": ModeNever} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseMode("sometimes")
	require.Error(t, err)
}

func TestDecide(t *testing.T) {
	known, err := New(ModeKnown, []string{"mailto:Organizer@Example.com"}, nil)
	require.NoError(t, err)
	always, err := New(ModeAlways, nil, nil)
	require.NoError(t, err)
	never, err := New(ModeNever, []string{"organizer@example.com"}, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		policy *Policy
		a      *itip.Analysis
		want   itip.Action
		ok     bool
	}{
		{
			name:   "known sender gets update applied",
			policy: known,
			a:      analysisFrom("organizer@example.com", itip.StatusNone, itip.ActionApplyChange, itip.ActionIgnore),
			want:   itip.ActionApplyChange,
			ok:     true,
		},
		{
			name:   "unknown sender stays manual",
			policy: known,
			a:      analysisFrom("stranger@example.com", itip.StatusNone, itip.ActionApplyChange),
		},
		{
			name:   "invitation is never answered automatically",
			policy: always,
			a:      analysisFrom("organizer@example.com", itip.StatusNeedsUserInteraction, itip.ActionAccept, itip.ActionDecline, itip.ActionTentative),
		},
		{
			name:   "always mode applies replies",
			policy: always,
			a:      analysisFrom("guest@example.com", itip.StatusNeedsUserInteraction, itip.ActionApplyResponse),
			want:   itip.ActionApplyResponse,
			ok:     true,
		},
		{
			name:   "terminal status is left alone",
			policy: always,
			a:      analysisFrom("guest@example.com", itip.StatusApplied, itip.ActionApplyResponse),
		},
		{
			name:   "never mode",
			policy: never,
			a:      analysisFrom("organizer@example.com", itip.StatusNone, itip.ActionApplyRemove),
		},
		{
			name:   "no main change",
			policy: always,
			a:      &itip.Analysis{MainChange: fn.None[itip.AnalyzedChange]()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.policy.Decide(tt.a)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	data := []byte("mode: known\nknown_senders:\n  - boss@example.com\nactions:\n  - apply_remove\n  - IGNORE\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	p, err := Load(path, ModeNever)
	require.NoError(t, err)
	require.Equal(t, ModeKnown, p.Mode)
	require.True(t, p.IsKnown("MAILTO:boss@example.com"))

	got, ok := p.Decide(analysisFrom("boss@example.com", itip.StatusNone, itip.ActionApplyChange, itip.ActionIgnore))
	require.True(t, ok)
	require.Equal(t, itip.ActionIgnore, got)
}

func TestLoadMissingFileUsesFallback(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), ModeAlways)
	require.NoError(t, err)
	require.Equal(t, ModeAlways, p.Mode)
	require.False(t, p.IsKnown("anyone@example.com"))
}

func TestLoadRejectsUnknownAction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("actions: [FLY]\n"), 0o600))
	_, err := Load(path, ModeNever)
	require.Error(t, err)
}
