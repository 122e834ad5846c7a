package session

import (
	"errors"
	"fmt"
)

var (
	ErrStorage         = errors.New("storage failure")
	ErrSessionIDEmpty  = errors.New("session has empty SessionID")
	ErrStoreNil        = errors.New("session store is nil")
	ErrSessionClosed   = errors.New("session closed")
	ErrTurnInProgress  = errors.New("session already has a turn in progress")
	ErrNoPreviousTurn  = errors.New("session has no previous turn")
	ErrNoDispatcher    = errors.New("session has no turn dispatcher")
	ErrNoPersona       = errors.New("session has no persona")
	ErrMessageNil      = errors.New("message is nil")
	ErrForeignMessage  = errors.New("message belongs to another session")
	ErrLoadInterrupted = errors.New("history load kept being interrupted by concurrent mutations")

	// errTurnAbandoned stops the durable write of a reply whose turn was cleared.
	errTurnAbandoned = errors.New("turn abandoned")
)

// StorageError reports a failed durable operation. The in-memory state of the
// session is left untouched when one is returned.
type StorageError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *StorageError) Error() string {
	if e == nil {
		return ErrStorage.Error()
	}
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
