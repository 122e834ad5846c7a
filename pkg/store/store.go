package store

import (
	"context"

	"github.com/go-go-golems/tavern/pkg/conversation"
)

// MessageReader provides the paged reads a session needs to display history.
type MessageReader interface {
	// GetPage returns up to limit messages of a session, most recent first,
	// skipping the offset most recent ones.
	GetPage(ctx context.Context, sessionID string, limit int, offset int) ([]*conversation.Message, error)
	GetTotalCount(ctx context.Context, sessionID string) (int, error)
}

// MessageWriter mutates displayed messages. Writes also maintain the context
// record of the message so that both tables always agree.
type MessageWriter interface {
	// Insert stores msg and, unless it carries an attachment, its context record.
	Insert(ctx context.Context, msg *conversation.Message) error
	// UpdateText changes the text of a message and of its context record.
	// Unknown ids are a no-op.
	UpdateText(ctx context.Context, sessionID string, id string, text string) error
	// Delete removes messages and their context records. Unknown ids are a no-op.
	Delete(ctx context.Context, sessionID string, ids ...string) error
	DeleteAllForSession(ctx context.Context, sessionID string) error
}

// ContextStore holds the lightweight records the context window is seeded from.
type ContextStore interface {
	// GetContextRecords returns the newest limit records of a session, oldest
	// first. A limit below one returns no records.
	GetContextRecords(ctx context.Context, sessionID string, limit int) ([]conversation.Record, error)
	DeleteContextRecordsByIDs(ctx context.Context, sessionID string, ids ...string) error
	ClearContextForSession(ctx context.Context, sessionID string) error
}

// Store is the persistence abstraction used by sessions.
type Store interface {
	MessageReader
	MessageWriter
	ContextStore
	Close() error
}
