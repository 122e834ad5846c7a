package store

import (
	"context"
	"sync"

	"github.com/go-go-golems/tavern/pkg/conversation"
)

// InMemoryStore is a thread-safe Store implementation. Messages are returned
// as clones so callers never share state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	closed   bool
}

type memorySession struct {
	// both slices are kept in insertion order, oldest first
	messages []*conversation.Message
	records  []conversation.Record
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: map[string]*memorySession{},
	}
}

func (s *InMemoryStore) GetPage(_ context.Context, sessionID string, limit int, offset int) ([]*conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[sessionID]
	if !ok || limit <= 0 || offset < 0 {
		return nil, nil
	}

	// walk backwards from the newest message
	start := len(sess.messages) - 1 - offset
	out := make([]*conversation.Message, 0, limit)
	for i := start; i >= 0 && len(out) < limit; i-- {
		out = append(out, sess.messages[i].Clone())
	}
	return out, nil
}

func (s *InMemoryStore) GetTotalCount(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	if sess, ok := s.sessions[sessionID]; ok {
		return len(sess.messages), nil
	}
	return 0, nil
}

func (s *InMemoryStore) Insert(_ context.Context, msg *conversation.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	sess := s.session(msg.SessionID)
	for _, m := range sess.messages {
		if m.ID == msg.ID {
			return &InvalidMessageError{ID: msg.ID, Reason: "duplicate id"}
		}
	}
	sess.messages = append(sess.messages, msg.Clone())
	if !msg.HasAttachment() {
		sess.records = append(sess.records, msg.Record())
	}
	return nil
}

func (s *InMemoryStore) UpdateText(_ context.Context, sessionID string, id string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	for _, m := range sess.messages {
		if m.ID == id {
			m.Text = text
			m.LastUpdate = nowFunc()
		}
	}
	for i := range sess.records {
		if sess.records[i].ID == id {
			sess.records[i].Text = text
		}
	}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	sess, ok := s.sessions[sessionID]
	if !ok || len(ids) == 0 {
		return nil
	}
	drop := idSet(ids)

	messages := sess.messages[:0]
	for _, m := range sess.messages {
		if _, ok := drop[m.ID]; !ok {
			messages = append(messages, m)
		}
	}
	sess.messages = messages
	sess.records = filterRecords(sess.records, drop)
	return nil
}

func (s *InMemoryStore) DeleteAllForSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *InMemoryStore) GetContextRecords(_ context.Context, sessionID string, limit int) ([]conversation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[sessionID]
	if !ok || limit <= 0 {
		return nil, nil
	}
	records := sess.records
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	return append([]conversation.Record(nil), records...), nil
}

func (s *InMemoryStore) DeleteContextRecordsByIDs(_ context.Context, sessionID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if sess, ok := s.sessions[sessionID]; ok && len(ids) > 0 {
		sess.records = filterRecords(sess.records, idSet(ids))
	}
	return nil
}

func (s *InMemoryStore) ClearContextForSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if sess, ok := s.sessions[sessionID]; ok {
		sess.records = nil
	}
	return nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *InMemoryStore) session(sessionID string) *memorySession {
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &memorySession{}
		s.sessions[sessionID] = sess
	}
	return sess
}

func (s *InMemoryStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func idSet(ids []string) map[string]struct{} {
	ret := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		ret[id] = struct{}{}
	}
	return ret
}

func filterRecords(records []conversation.Record, drop map[string]struct{}) []conversation.Record {
	kept := records[:0]
	for _, r := range records {
		if _, ok := drop[r.ID]; !ok {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(records); i++ {
		records[i] = conversation.Record{}
	}
	return kept
}
