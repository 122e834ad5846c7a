package events

import (
	"time"

	"github.com/go-go-golems/tavern/pkg/conversation"
)

type SessionEventType string

const (
	SessionEventMessageAccepted SessionEventType = "message-accepted"
	SessionEventMessageEdited   SessionEventType = "message-edited"
	SessionEventMessagesRemoved SessionEventType = "messages-removed"
	SessionEventSessionCleared  SessionEventType = "session-cleared"
	SessionEventContextReset    SessionEventType = "context-reset"
	SessionEventPageLoaded      SessionEventType = "page-loaded"
	SessionEventTurnStarted     SessionEventType = "turn-started"
	SessionEventTurnFinished    SessionEventType = "turn-finished"
	SessionEventTurnInfo        SessionEventType = "turn-info"
	SessionEventTurnError       SessionEventType = "turn-error"
)

// SessionEvent is published on a session's Stream after the session state
// changed. Sequence numbers start at 1 and increase by one per event.
type SessionEvent struct {
	Type          SessionEventType      `json:"type"`
	SessionID     string                `json:"session_id"`
	Sequence      uint64                `json:"seq"`
	Time          time.Time             `json:"time"`
	CorrelationID string                `json:"correlation_id,omitempty"`
	MessageIDs    []string              `json:"message_ids,omitempty"`
	Message       *conversation.Message `json:"message,omitempty"`
	Text          string                `json:"text,omitempty"`
	Error         string                `json:"error,omitempty"`
	Count         int                   `json:"count,omitempty"`
}

func NewMessageAccepted(msg *conversation.Message) SessionEvent {
	return SessionEvent{Type: SessionEventMessageAccepted, Message: msg, MessageIDs: []string{msg.ID}}
}

func NewMessageEdited(id string, text string) SessionEvent {
	return SessionEvent{Type: SessionEventMessageEdited, MessageIDs: []string{id}, Text: text}
}

func NewMessagesRemoved(ids []string) SessionEvent {
	return SessionEvent{Type: SessionEventMessagesRemoved, MessageIDs: ids, Count: len(ids)}
}

func NewPageLoaded(ids []string, hasMore bool) SessionEvent {
	e := SessionEvent{Type: SessionEventPageLoaded, MessageIDs: ids, Count: len(ids)}
	if hasMore {
		e.Text = "more"
	}
	return e
}

func NewTurnFinished(replies int) SessionEvent {
	return SessionEvent{Type: SessionEventTurnFinished, Count: replies}
}

func NewTurnError(err error) SessionEvent {
	return SessionEvent{Type: SessionEventTurnError, Error: err.Error()}
}
