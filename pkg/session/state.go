package session

import (
	"fmt"

	"github.com/go-go-golems/tavern/pkg/conversation"
)

type State int

const (
	StateIdle State = iota
	StateLoadingInitial
	StateReady
	StateLoadingMore
	StateCleared
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingInitial:
		return "loading-initial"
	case StateReady:
		return "ready"
	case StateLoadingMore:
		return "loading-more"
	case StateCleared:
		return "cleared"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is an immutable view of a session. A new snapshot is published
// after every state change; callers render from it and never write back.
type Snapshot struct {
	SessionID string `json:"session_id"`
	State     State  `json:"state"`
	// Displayed is the loaded history, most recent first.
	Displayed conversation.Conversation `json:"displayed"`
	// Window is the context window, oldest first.
	Window         []conversation.Record `json:"window"`
	WindowCapacity int                   `json:"window_capacity"`
	HasMore        bool                  `json:"has_more"`
	TurnRunning    bool                  `json:"turn_running"`
	LastReplyIDs   []string              `json:"last_reply_ids,omitempty"`
	Version        uint64                `json:"version"`
}

// DisplayedIDs returns the ids of the displayed messages, most recent first.
func (s *Snapshot) DisplayedIDs() []string {
	ret := make([]string, 0, len(s.Displayed))
	for _, m := range s.Displayed {
		ret = append(ret, m.ID)
	}
	return ret
}

// WindowIDs returns the ids of the context window, oldest first.
func (s *Snapshot) WindowIDs() []string {
	ret := make([]string, 0, len(s.Window))
	for _, r := range s.Window {
		ret = append(ret, r.ID)
	}
	return ret
}

func (s *Snapshot) Contains(id string) bool {
	for _, m := range s.Displayed {
		if m.ID == id {
			return true
		}
	}
	for _, r := range s.Window {
		if r.ID == id {
			return true
		}
	}
	return false
}
