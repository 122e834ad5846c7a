package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    speaker_id TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    text TEXT NOT NULL,
    attachment_json TEXT NOT NULL DEFAULT '',
    metadata_json TEXT NOT NULL DEFAULT '',
    visible INTEGER NOT NULL DEFAULT 1,
    created_at_ms INTEGER NOT NULL DEFAULT 0,
    updated_at_ms INTEGER NOT NULL DEFAULT 0,
    UNIQUE (session_id, id)
);
CREATE INDEX IF NOT EXISTS messages_session_seq ON messages (session_id, seq);

CREATE TABLE IF NOT EXISTS context_records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    speaker_id TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    text TEXT NOT NULL,
    visible INTEGER NOT NULL DEFAULT 1,
    created_at_ms INTEGER NOT NULL DEFAULT 0,
    UNIQUE (session_id, id)
);
CREATE INDEX IF NOT EXISTS context_records_session_seq ON context_records (session_id, seq);
`

var nowFunc = time.Now

// SQLiteStore persists messages and context records in a SQLite database.
// Every mutating call runs in a single transaction so that the two tables
// never disagree.
type SQLiteStore struct {
	mu     sync.RWMutex
	dsn    string
	db     *sqlx.DB
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

type messageRow struct {
	ID             string `db:"id"`
	SessionID      string `db:"session_id"`
	Role           string `db:"role"`
	SpeakerID      string `db:"speaker_id"`
	Kind           string `db:"kind"`
	Text           string `db:"text"`
	AttachmentJSON string `db:"attachment_json"`
	MetadataJSON   string `db:"metadata_json"`
	Visible        bool   `db:"visible"`
	CreatedAtMs    int64  `db:"created_at_ms"`
	UpdatedAtMs    int64  `db:"updated_at_ms"`
}

type recordRow struct {
	ID          string `db:"id"`
	SessionID   string `db:"session_id"`
	Role        string `db:"role"`
	SpeakerID   string `db:"speaker_id"`
	Kind        string `db:"kind"`
	Text        string `db:"text"`
	Visible     bool   `db:"visible"`
	CreatedAtMs int64  `db:"created_at_ms"`
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite store: empty dsn")
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	s := &SQLiteStore{dsn: dsn, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) GetPage(ctx context.Context, sessionID string, limit int, offset int) ([]*conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 || offset < 0 {
		return nil, nil
	}

	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, session_id, role, speaker_id, kind, text, attachment_json, metadata_json, visible, created_at_ms, updated_at_ms
FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ? OFFSET ?`,
		sessionID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: select page")
	}

	out := make([]*conversation.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *SQLiteStore) GetTotalCount(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return 0, errors.Wrap(err, "sqlite store: count")
	}
	return n, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, msg *conversation.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	row, err := newMessageRow(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, speaker_id, kind, text, attachment_json, metadata_json, visible, created_at_ms, updated_at_ms)
VALUES (:id, :session_id, :role, :speaker_id, :kind, :text, :attachment_json, :metadata_json, :visible, :created_at_ms, :updated_at_ms)`,
			row); err != nil {
			return errors.Wrapf(err, "sqlite store: insert message %s", msg.ID)
		}
		if msg.HasAttachment() {
			return nil
		}
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO context_records (id, session_id, role, speaker_id, kind, text, visible, created_at_ms)
VALUES (:id, :session_id, :role, :speaker_id, :kind, :text, :visible, :created_at_ms)`,
			row.record()); err != nil {
			return errors.Wrapf(err, "sqlite store: insert context record %s", msg.ID)
		}
		return nil
	})
}

func (s *SQLiteStore) UpdateText(ctx context.Context, sessionID string, id string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET text = ?, updated_at_ms = ? WHERE session_id = ? AND id = ?`,
			text, nowFunc().UnixMilli(), sessionID, id); err != nil {
			return errors.Wrapf(err, "sqlite store: update message %s", id)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE context_records SET text = ? WHERE session_id = ? AND id = ?`,
			text, sessionID, id); err != nil {
			return errors.Wrapf(err, "sqlite store: update context record %s", id)
		}
		return nil
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := deleteByIDs(ctx, tx, "messages", sessionID, ids); err != nil {
			return err
		}
		return deleteByIDs(ctx, tx, "context_records", sessionID, ids)
	})
}

func (s *SQLiteStore) DeleteAllForSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
			return errors.Wrap(err, "sqlite store: delete messages")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM context_records WHERE session_id = ?`, sessionID); err != nil {
			return errors.Wrap(err, "sqlite store: delete context records")
		}
		return nil
	})
}

func (s *SQLiteStore) GetContextRecords(ctx context.Context, sessionID string, limit int) ([]conversation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, session_id, role, speaker_id, kind, text, visible, created_at_ms FROM (
    SELECT seq, id, session_id, role, speaker_id, kind, text, visible, created_at_ms
    FROM context_records WHERE session_id = ? ORDER BY seq DESC LIMIT ?
) ORDER BY seq ASC`,
		sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: select context records")
	}

	out := make([]conversation.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (s *SQLiteStore) DeleteContextRecordsByIDs(ctx context.Context, sessionID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return deleteByIDs(ctx, tx, "context_records", sessionID, ids)
	})
}

func (s *SQLiteStore) ClearContextForSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM context_records WHERE session_id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "sqlite store: clear context records")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite store: db is nil")
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return errors.Wrap(err, "sqlite store: pragma")
	}
	if _, err := s.db.Exec(sqliteSchemaV1); err != nil {
		return errors.Wrap(err, "sqlite store: migrate")
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite store: begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite store: commit")
	}
	return nil
}

func (s *SQLiteStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	if s.db == nil {
		return fmt.Errorf("sqlite store db is nil")
	}
	return nil
}

func deleteByIDs(ctx context.Context, tx *sqlx.Tx, table string, sessionID string, ids []string) error {
	query, args, err := sqlx.In(`DELETE FROM `+table+` WHERE session_id = ? AND id IN (?)`, sessionID, ids)
	if err != nil {
		return errors.Wrapf(err, "sqlite store: build delete from %s", table)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return errors.Wrapf(err, "sqlite store: delete from %s", table)
	}
	return nil
}

func newMessageRow(msg *conversation.Message) (messageRow, error) {
	row := messageRow{
		ID:          msg.ID,
		SessionID:   msg.SessionID,
		Role:        string(msg.Role),
		SpeakerID:   msg.SpeakerID,
		Kind:        string(msg.Kind),
		Text:        msg.Text,
		Visible:     msg.Visible,
		CreatedAtMs: msg.Time.UnixMilli(),
		UpdatedAtMs: msg.LastUpdate.UnixMilli(),
	}
	if msg.Attachment != nil {
		b, err := json.Marshal(msg.Attachment)
		if err != nil {
			return messageRow{}, errors.Wrapf(err, "sqlite store: encode attachment of %s", msg.ID)
		}
		row.AttachmentJSON = string(b)
	}
	if len(msg.Metadata) > 0 {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return messageRow{}, errors.Wrapf(err, "sqlite store: encode metadata of %s", msg.ID)
		}
		row.MetadataJSON = string(b)
	}
	return row, nil
}

func (r messageRow) record() recordRow {
	return recordRow{
		ID:          r.ID,
		SessionID:   r.SessionID,
		Role:        r.Role,
		SpeakerID:   r.SpeakerID,
		Kind:        r.Kind,
		Text:        r.Text,
		Visible:     r.Visible,
		CreatedAtMs: r.CreatedAtMs,
	}
}

func (r messageRow) toMessage() (*conversation.Message, error) {
	msg := &conversation.Message{
		ID:         r.ID,
		SessionID:  r.SessionID,
		Role:       conversation.Role(r.Role),
		SpeakerID:  r.SpeakerID,
		Kind:       conversation.ContentKind(r.Kind),
		Text:       r.Text,
		Visible:    r.Visible,
		Time:       time.UnixMilli(r.CreatedAtMs),
		LastUpdate: time.UnixMilli(r.UpdatedAtMs),
	}
	if r.AttachmentJSON != "" {
		msg.Attachment = &conversation.Attachment{}
		if err := json.Unmarshal([]byte(r.AttachmentJSON), msg.Attachment); err != nil {
			return nil, errors.Wrapf(err, "sqlite store: decode attachment of %s", r.ID)
		}
	}
	if r.MetadataJSON != "" {
		if err := json.Unmarshal([]byte(r.MetadataJSON), &msg.Metadata); err != nil {
			return nil, errors.Wrapf(err, "sqlite store: decode metadata of %s", r.ID)
		}
	}
	return msg, nil
}

func (r recordRow) toRecord() conversation.Record {
	return conversation.Record{
		ID:        r.ID,
		Text:      r.Text,
		Role:      conversation.Role(r.Role),
		SpeakerID: r.SpeakerID,
		Kind:      conversation.ContentKind(r.Kind),
		Time:      time.UnixMilli(r.CreatedAtMs),
		Visible:   r.Visible,
	}
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
