package events

import (
	"context"
	"sync"
)

// Completion is the outcome of finalizing a recording file
type Completion struct {
	SessionID string
	Path      string

	// Set when finalization failed
	Code    ErrorCode
	Message string
	Failed  bool
}

// Event converts the completion into the matching notification
func (c Completion) Event() Event {
	if c.Failed {
		return NewError(c.Code, c.Message)
	}
	return NewComplete(c.SessionID, c.Path)
}

// CompletionSlot holds the most recent completion. Waiters that arrive after
// the value was set still observe it.
type CompletionSlot struct {
	mu      sync.Mutex
	last    *Completion
	changed chan struct{}
}

// NewCompletionSlot creates an empty slot
func NewCompletionSlot() *CompletionSlot {
	return &CompletionSlot{changed: make(chan struct{})}
}

// Set replaces the stored completion and wakes all waiters
func (s *CompletionSlot) Set(c Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = &c
	close(s.changed)
	s.changed = make(chan struct{})
}

// Last returns the stored completion, if any
func (s *CompletionSlot) Last() (Completion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		return Completion{}, false
	}
	return *s.last, true
}

// Await blocks until a completion for sessionID is stored or ctx is done
func (s *CompletionSlot) Await(ctx context.Context, sessionID string) (Completion, error) {
	for {
		s.mu.Lock()
		if s.last != nil && s.last.SessionID == sessionID {
			c := *s.last
			s.mu.Unlock()
			return c, nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}
}
