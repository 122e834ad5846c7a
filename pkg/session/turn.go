package session

import (
	"context"
	"errors"
	"sync"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/go-go-golems/tavern/pkg/dispatch"
)

var ErrTurnHandleNil = errors.New("turn handle is nil")

// Turn is what gets dispatched, and what Regenerate and Continue re-issue.
type Turn struct {
	UserText   string
	SystemTurn bool
	Mode       dispatch.Mode
}

// TurnOutcome collects everything a dispatcher emitted for one turn.
type TurnOutcome struct {
	TurnID string
	// Removed holds the ids dropped by Regenerate before the turn was re-issued.
	Removed  []string
	Replies  []*conversation.Message
	Infos    []string
	Failures []error
}

// ReplyIDs returns the ids of the accepted replies in emission order.
func (o *TurnOutcome) ReplyIDs() []string {
	if o == nil {
		return nil
	}
	ret := make([]string, 0, len(o.Replies))
	for _, r := range o.Replies {
		ret = append(ret, r.ID)
	}
	return ret
}

// TurnHandle represents a single in-flight turn. It is cancelable and
// waitable.
type TurnHandle struct {
	SessionID string
	TurnID    string
	Turn      Turn

	done chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	outcome *TurnOutcome
	err     error
}

func newTurnHandle(sessionID, turnID string, turn Turn, cancel context.CancelFunc) *TurnHandle {
	return &TurnHandle{
		SessionID: sessionID,
		TurnID:    turnID,
		Turn:      turn,
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

func (h *TurnHandle) setResult(outcome *TurnOutcome, err error) {
	h.mu.Lock()
	h.outcome = outcome
	h.err = err
	close(h.done)
	h.cancel = nil
	h.mu.Unlock()
}

// Cancel abandons the turn. Replies arriving afterwards are discarded. It is
// safe to call multiple times.
func (h *TurnHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the turn completes.
func (h *TurnHandle) Wait() (*TurnOutcome, error) {
	if h == nil {
		return nil, ErrTurnHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, h.err
}

func (h *TurnHandle) Done() <-chan struct{} {
	return h.done
}

func (h *TurnHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
