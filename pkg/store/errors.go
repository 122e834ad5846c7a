package store

import (
	"errors"
	"fmt"

	"github.com/go-go-golems/tavern/pkg/conversation"
)

var (
	ErrStoreClosed    = errors.New("store closed")
	ErrInvalidMessage = errors.New("invalid message")
)

// InvalidMessageError reports a message that cannot be stored.
type InvalidMessageError struct {
	ID     string
	Reason string
}

func (e *InvalidMessageError) Error() string {
	if e == nil {
		return ErrInvalidMessage.Error()
	}
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidMessage, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", ErrInvalidMessage, e.ID, e.Reason)
}

func (e *InvalidMessageError) Is(target error) bool { return target == ErrInvalidMessage }

func validateMessage(msg *conversation.Message) error {
	switch {
	case msg == nil:
		return &InvalidMessageError{Reason: "message is nil"}
	case msg.ID == "":
		return &InvalidMessageError{Reason: "empty id"}
	case msg.SessionID == "":
		return &InvalidMessageError{ID: msg.ID, Reason: "empty session id"}
	}
	return nil
}
