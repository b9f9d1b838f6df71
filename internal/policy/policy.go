// Package policy decides whether an analyzed scheduling message may be
// processed without asking the user.
package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"gitea.jw6.us/james/calsched/internal/itip"
)

// Mode is the tri-state auto-processing switch.
type Mode string

const (
	ModeAlways Mode = "always"
	ModeNever  Mode = "never"
	// ModeKnown only auto-processes messages from listed senders.
	ModeKnown Mode = "known"
)

// ParseMode accepts the modes case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAlways, ModeNever, ModeKnown:
		return m, nil
	case "":
		return ModeNever, nil
	}
	return "", fmt.Errorf("unknown autoprocess mode %q", s)
}

// DefaultActions are the actions applied automatically when the policy
// allows it. They only mirror what the sender already decided; answering
// an invitation always stays with the user.
var DefaultActions = []itip.Action{
	itip.ActionApplyResponse,
	itip.ActionApplyChange,
	itip.ActionApplyRemove,
	itip.ActionSendRefresh,
}

// Policy is the loaded gate.
type Policy struct {
	Mode         Mode     `yaml:"mode"`
	KnownSenders []string `yaml:"known_senders"`
	Actions      []string `yaml:"actions"`

	known   map[string]struct{}
	actions []itip.Action
}

// New builds a policy from its parts and validates it.
func New(mode Mode, knownSenders []string, actions []string) (*Policy, error) {
	p := &Policy{Mode: mode, KnownSenders: knownSenders, Actions: actions}
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads a YAML policy file. A missing file yields a policy with the
// fallback mode and no known senders. A mode in the file wins over the
// fallback.
func Load(path string, fallback Mode) (*Policy, error) {
	p := &Policy{Mode: fallback}
	if path == "" {
		return p, p.normalize()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, p.normalize()
		}
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if p.Mode == "" {
		p.Mode = fallback
	}
	if err := p.normalize(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

func (p *Policy) normalize() error {
	mode, err := ParseMode(string(p.Mode))
	if err != nil {
		return err
	}
	p.Mode = mode

	p.known = make(map[string]struct{}, len(p.KnownSenders))
	for _, s := range p.KnownSenders {
		if addr := itip.NormalizeAddress(s); addr != "" {
			p.known[addr] = struct{}{}
		}
	}

	p.actions = p.actions[:0]
	if len(p.Actions) == 0 {
		p.actions = append(p.actions, DefaultActions...)
		return nil
	}
	for _, name := range p.Actions {
		a, ok := itip.ParseAction(strings.ToUpper(strings.TrimSpace(name)))
		if !ok {
			return fmt.Errorf("unknown action %q", name)
		}
		p.actions = append(p.actions, a)
	}
	return nil
}

// IsKnown reports whether sender is on the known list.
func (p *Policy) IsKnown(sender string) bool {
	_, ok := p.known[itip.NormalizeAddress(sender)]
	return ok
}

// Allows reports whether the mode permits processing a message from
// sender without the user.
func (p *Policy) Allows(sender string) bool {
	switch p.Mode {
	case ModeAlways:
		return true
	case ModeKnown:
		return p.IsKnown(sender)
	}
	return false
}

// Decide picks the action to apply automatically to a's main change. It
// returns false when the policy forbids it, the main change has no
// automatable action, or the message already has a final status.
func (p *Policy) Decide(a *itip.Analysis) (itip.Action, bool) {
	if a == nil || a.Status.IsTerminal() || a.MainChange.IsNone() {
		return "", false
	}
	if !p.Allows(a.Sender.URI) {
		return "", false
	}
	main := a.MainChange.UnwrapOr(itip.AnalyzedChange{})
	for _, action := range p.actions {
		if main.Actions.Contains(action) {
			return action, true
		}
	}
	return "", false
}
