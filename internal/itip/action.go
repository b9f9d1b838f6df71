package itip

import (
	"encoding/json"
	"sort"
)

// Action is a decision the receiving side may take for an analyzed change.
type Action string

const (
	ActionAccept                   Action = "ACCEPT"
	ActionDecline                  Action = "DECLINE"
	ActionTentative                Action = "TENTATIVE"
	ActionAcceptAndIgnoreConflicts Action = "ACCEPT_AND_IGNORE_CONFLICTS"
	ActionIgnore                   Action = "IGNORE"
	ActionRequestRefresh           Action = "REQUEST_REFRESH"
	ActionSendRefresh              Action = "SEND_REFRESH"
	ActionAcceptPartyCrasher       Action = "ACCEPT_PARTY_CRASHER"
	ActionDeclineCounter           Action = "DECLINECOUNTER"
	ActionApplyProposal            Action = "APPLY_PROPOSAL"
	ActionApplyRemove              Action = "APPLY_REMOVE"
	ActionApplyResponse            Action = "APPLY_RESPONSE"
	ActionApplyCreate              Action = "APPLY_CREATE"
	ActionApplyChange              Action = "APPLY_CHANGE"
)

// Actions lists the closed set of actions.
var Actions = []Action{
	ActionAccept,
	ActionDecline,
	ActionTentative,
	ActionAcceptAndIgnoreConflicts,
	ActionIgnore,
	ActionRequestRefresh,
	ActionSendRefresh,
	ActionAcceptPartyCrasher,
	ActionDeclineCounter,
	ActionApplyProposal,
	ActionApplyRemove,
	ActionApplyResponse,
	ActionApplyCreate,
	ActionApplyChange,
}

// ParseAction maps a wire token onto an Action.
func ParseAction(s string) (Action, bool) {
	for _, a := range Actions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

func (a Action) String() string { return string(a) }

// isResponse reports whether the action answers an invitation with a
// participation status.
func (a Action) isResponse() bool {
	switch a {
	case ActionAccept, ActionDecline, ActionTentative, ActionAcceptAndIgnoreConflicts:
		return true
	}
	return false
}

// partStat is the participation status a response action sets.
func (a Action) partStat() PartStat {
	switch a {
	case ActionAccept, ActionAcceptAndIgnoreConflicts:
		return PartStatAccepted
	case ActionDecline:
		return PartStatDeclined
	case ActionTentative:
		return PartStatTentative
	}
	return ""
}

// ActionSet is an immutable, deduplicated set of actions. Iteration order is
// the declaration order of Actions so equal sets always render identically.
type ActionSet struct {
	actions []Action
}

// NewActionSet builds a set from the given actions, dropping duplicates.
func NewActionSet(actions ...Action) ActionSet {
	seen := make(map[Action]struct{}, len(actions))
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return actionRank(out[i]) < actionRank(out[j])
	})
	return ActionSet{actions: out}
}

func actionRank(a Action) int {
	for i, known := range Actions {
		if known == a {
			return i
		}
	}
	return len(Actions)
}

// With returns a new set that also contains the given actions.
func (s ActionSet) With(actions ...Action) ActionSet {
	return NewActionSet(append(s.Slice(), actions...)...)
}

// Contains reports whether a is part of the set.
func (s ActionSet) Contains(a Action) bool {
	for _, have := range s.actions {
		if have == a {
			return true
		}
	}
	return false
}

// Len returns the number of actions.
func (s ActionSet) Len() int { return len(s.actions) }

// IsEmpty reports whether no action is offered.
func (s ActionSet) IsEmpty() bool { return len(s.actions) == 0 }

// IsIgnoreOnly reports whether the set offers nothing beyond IGNORE.
func (s ActionSet) IsIgnoreOnly() bool {
	for _, a := range s.actions {
		if a != ActionIgnore {
			return false
		}
	}
	return true
}

// Slice returns a copy of the actions.
func (s ActionSet) Slice() []Action {
	out := make([]Action, len(s.actions))
	copy(out, s.actions)
	return out
}

// Equal reports whether both sets hold the same actions.
func (s ActionSet) Equal(o ActionSet) bool {
	if len(s.actions) != len(o.actions) {
		return false
	}
	for i := range s.actions {
		if s.actions[i] != o.actions[i] {
			return false
		}
	}
	return true
}

// MarshalJSON renders the set as a JSON array.
func (s ActionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}
