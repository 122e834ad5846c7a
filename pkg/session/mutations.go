package session

import (
	"context"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/go-go-golems/tavern/pkg/events"
)

// Accept mirrors an already persisted message into the session: it is
// prepended to the displayed list and, unless it carries an attachment, its
// record is pushed into the context window. Messages of another session, and
// messages arriving after Close, are rejected and Accept returns false.
func (m *Manager) Accept(msg *conversation.Message) bool {
	if msg == nil {
		return false
	}
	m.mu.Lock()
	ok := m.acceptLocked(msg)
	if ok {
		m.publishSnapshotLocked()
	}
	m.mu.Unlock()
	if ok {
		m.publish(context.Background(), events.NewMessageAccepted(msg.Clone()))
	}
	return ok
}

func (m *Manager) acceptLocked(msg *conversation.Message) bool {
	if m.closed {
		m.logger.Debug().Str("message_id", msg.ID).Msg("dropping message delivered after close")
		return false
	}
	if msg.SessionID != m.sessionID {
		m.logger.Debug().
			Str("message_id", msg.ID).
			Str("message_session_id", msg.SessionID).
			Msg("dropping message of another session")
		return false
	}
	if m.indexOfDisplayedLocked(msg.ID) >= 0 {
		return false
	}

	m.displayed = append([]*conversation.Message{msg.Clone()}, m.displayed...)
	if !msg.HasAttachment() {
		if evicted := m.window.Push(msg.Record()); len(evicted) > 0 {
			m.logger.Debug().Int("evicted", len(evicted)).Msg("context window full, evicted oldest records")
		}
	}
	if m.totalKnown {
		m.total++
	}
	if m.state == StateCleared {
		m.state = StateReady
	}
	return true
}

// Post persists msg and then accepts it.
func (m *Manager) Post(ctx context.Context, msg *conversation.Message) error {
	if msg == nil {
		return ErrMessageNil
	}
	if msg.SessionID != m.sessionID {
		return ErrForeignMessage
	}
	return m.mutate(ctx, "post",
		func(ctx context.Context) error {
			return m.store.Insert(ctx, msg)
		},
		func() []events.SessionEvent {
			if !m.acceptLocked(msg) {
				return nil
			}
			return []events.SessionEvent{events.NewMessageAccepted(msg.Clone())}
		})
}

// Edit changes the text of a message in the store, the context window and
// the displayed list. Unknown ids are a no-op everywhere.
func (m *Manager) Edit(ctx context.Context, id string, text string) error {
	return m.mutate(ctx, "edit",
		func(ctx context.Context) error {
			return m.store.UpdateText(ctx, m.sessionID, id, text)
		},
		func() []events.SessionEvent {
			m.pageGen++
			m.window.UpdateTextByID(id, text)
			if i := m.indexOfDisplayedLocked(id); i >= 0 {
				updated := m.displayed[i].Clone()
				updated.Text = text
				updated.LastUpdate = nowFunc()
				m.displayed[i] = updated
			}
			return []events.SessionEvent{events.NewMessageEdited(id, text)}
		})
}

// Delete removes messages from the store, the context window and the
// displayed list.
func (m *Manager) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return m.mutate(ctx, "delete",
		func(ctx context.Context) error {
			return m.store.Delete(ctx, m.sessionID, ids...)
		},
		func() []events.SessionEvent {
			m.removeLocked(ids)
			return []events.SessionEvent{events.NewMessagesRemoved(append([]string(nil), ids...))}
		})
}

// removeLocked drops ids from the window and the displayed list. The store
// count is refetched lazily because some ids may not have existed.
func (m *Manager) removeLocked(ids []string) {
	set := idSet(ids)
	m.pageGen++
	for _, id := range ids {
		m.window.RemoveByID(id)
	}
	m.removeDisplayedLocked(set)
	m.forgetReplyIDsLocked(set)
	m.totalKnown = false
	m.exhausted = false
}

// Clear deletes every message of the session and empties the window and the
// displayed list. An in-flight turn is abandoned.
func (m *Manager) Clear(ctx context.Context) error {
	var active *TurnHandle
	err := m.mutate(ctx, "clear",
		func(ctx context.Context) error {
			return m.store.DeleteAllForSession(ctx, m.sessionID)
		},
		func() []events.SessionEvent {
			m.pageGen++
			m.epoch++
			m.window.Clear()
			m.displayed = nil
			m.total, m.totalKnown = 0, true
			m.exhausted = true
			m.lastTurn = nil
			m.lastReplyIDs = nil
			m.state = StateCleared
			active = m.activeTurn
			return []events.SessionEvent{{Type: events.SessionEventSessionCleared}}
		})
	if active != nil {
		active.Cancel()
	}
	return err
}

// Forget removes messages from the context window only. The history keeps
// them.
func (m *Manager) Forget(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return m.mutate(ctx, "forget",
		func(ctx context.Context) error {
			return m.store.DeleteContextRecordsByIDs(ctx, m.sessionID, ids...)
		},
		func() []events.SessionEvent {
			for _, id := range ids {
				m.window.RemoveByID(id)
			}
			return []events.SessionEvent{{Type: events.SessionEventContextReset, MessageIDs: append([]string(nil), ids...)}}
		})
}

// ResetContext empties the context window while keeping the history, so the
// next turn starts without context.
func (m *Manager) ResetContext(ctx context.Context) error {
	return m.mutate(ctx, "reset-context",
		func(ctx context.Context) error {
			return m.store.ClearContextForSession(ctx, m.sessionID)
		},
		func() []events.SessionEvent {
			m.window.Clear()
			return []events.SessionEvent{{Type: events.SessionEventContextReset}}
		})
}

// SetWindowCapacity resizes the context window and returns the ids of the
// records evicted by shrinking it. The store is not touched.
func (m *Manager) SetWindowCapacity(n int) ([]string, error) {
	var evicted []conversation.Record
	err := m.mutate(context.Background(), "set-window-capacity", nil, func() []events.SessionEvent {
		evicted = m.window.SetCapacity(n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(evicted))
	for _, r := range evicted {
		ids = append(ids, r.ID)
	}
	return ids, nil
}
