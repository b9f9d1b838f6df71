package itip

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MessageStatus is the processing state of an inbound message.
type MessageStatus string

const (
	StatusNone                 MessageStatus = "NONE"
	StatusNeedsUserInteraction MessageStatus = "NEEDS_USER_INTERACTION"
	StatusApplied              MessageStatus = "APPLIED"
	StatusIgnored              MessageStatus = "IGNORED"
)

// ParseMessageStatus maps a stored value onto a MessageStatus.
func ParseMessageStatus(s string) (MessageStatus, error) {
	switch st := MessageStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusNone, StatusNeedsUserInteraction, StatusApplied, StatusIgnored:
		return st, nil
	case "":
		return StatusNone, nil
	}
	return "", fmt.Errorf("unknown message status %q", s)
}

func (s MessageStatus) String() string { return string(s) }

// IsTerminal reports whether no further transition is allowed without an
// explicit reset.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusApplied || s == StatusIgnored
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	switch s {
	case StatusNone:
		return next == StatusNeedsUserInteraction || next.IsTerminal()
	case StatusNeedsUserInteraction:
		return next.IsTerminal()
	}
	return false
}

// MessageKey identifies a message for one owner.
type MessageKey struct {
	MessageID string
	Owner     string
}

func (k MessageKey) String() string { return k.Owner + "/" + k.MessageID }

// StatusStore persists message statuses. CompareAndSet stores next only when
// the current value equals expected and reports whether it did. Unknown keys
// read as StatusNone.
type StatusStore interface {
	Get(ctx context.Context, key MessageKey) (MessageStatus, error)
	CompareAndSet(ctx context.Context, key MessageKey, expected, next MessageStatus) (bool, error)
	Reset(ctx context.Context, key MessageKey) error
}

// MemoryStatusStore is an in-process StatusStore.
type MemoryStatusStore struct {
	mu       sync.Mutex
	statuses map[MessageKey]MessageStatus
}

// NewMemoryStatusStore returns an empty store.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[MessageKey]MessageStatus)}
}

func (m *MemoryStatusStore) Get(_ context.Context, key MessageKey) (MessageStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.statuses[key]; ok {
		return st, nil
	}
	return StatusNone, nil
}

func (m *MemoryStatusStore) CompareAndSet(_ context.Context, key MessageKey, expected, next MessageStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.statuses[key]
	if !ok {
		current = StatusNone
	}
	if current != expected {
		return false, nil
	}
	m.statuses[key] = next
	return true, nil
}

func (m *MemoryStatusStore) Reset(_ context.Context, key MessageKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, key)
	return nil
}

// advanceStatus moves key from expected to next, enforcing the lifecycle.
func advanceStatus(ctx context.Context, store StatusStore, key MessageKey, expected, next MessageStatus) error {
	if !expected.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrStatusConflict, expected, next)
	}
	ok, err := store.CompareAndSet(ctx, key, expected, next)
	if err != nil {
		return fmt.Errorf("set status %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s no longer %s", ErrStatusConflict, key, expected)
	}
	return nil
}
