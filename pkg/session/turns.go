package session

import (
	"context"
	"errors"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/go-go-golems/tavern/pkg/dispatch"
	"github.com/go-go-golems/tavern/pkg/events"
	"github.com/go-go-golems/tavern/pkg/helpers"
	"github.com/google/uuid"
)

// prepareFunc runs with the turn lock held, before the dispatcher is called.
// It returns the ids it removed, if any.
type prepareFunc func(ctx context.Context) ([]string, error)

// StartTurn dispatches turn asynchronously with the current context window as
// history. Only one turn runs at a time; a second call fails with
// ErrTurnInProgress.
func (m *Manager) StartTurn(ctx context.Context, turn Turn) (*TurnHandle, error) {
	return m.startTurn(ctx, turn, nil)
}

// DispatchTurn dispatches a turn and waits for it to finish.
func (m *Manager) DispatchTurn(ctx context.Context, userText string, systemTurn bool, mode dispatch.Mode) (*TurnOutcome, error) {
	h, err := m.StartTurn(ctx, Turn{UserText: userText, SystemTurn: systemTurn, Mode: mode})
	if err != nil {
		return nil, err
	}
	return h.Wait()
}

// Send persists text as a user message, accepts it and dispatches the turn.
func (m *Manager) Send(ctx context.Context, text string, mode dispatch.Mode) (*TurnOutcome, error) {
	msg := conversation.NewMessage(m.sessionID, conversation.RoleUser, text)
	h, err := m.startTurn(ctx, Turn{UserText: text, Mode: mode}, func(ctx context.Context) ([]string, error) {
		return nil, m.Post(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	return h.Wait()
}

// Regenerate drops the replies of the previous turn from the store, the
// context window and the displayed list, then re-issues that turn in mode.
// The three representations drop the same ids, reported in
// TurnOutcome.Removed.
func (m *Manager) Regenerate(ctx context.Context, mode dispatch.Mode) (*TurnOutcome, error) {
	m.mu.Lock()
	last := m.lastTurn
	m.mu.Unlock()
	if last == nil {
		return nil, ErrNoPreviousTurn
	}
	turn := *last
	turn.Mode = mode

	h, err := m.startTurn(ctx, turn, m.removeLastReplies)
	if err != nil {
		return nil, err
	}
	return h.Wait()
}

// Continue re-issues the previous turn without removing anything and without
// new user text.
func (m *Manager) Continue(ctx context.Context, mode dispatch.Mode) (*TurnOutcome, error) {
	m.mu.Lock()
	last := m.lastTurn
	m.mu.Unlock()
	if last == nil {
		return nil, ErrNoPreviousTurn
	}

	h, err := m.startTurn(ctx, Turn{SystemTurn: last.SystemTurn, Mode: mode}, nil)
	if err != nil {
		return nil, err
	}
	return h.Wait()
}

// CancelTurn abandons the running turn, if any.
func (m *Manager) CancelTurn() bool {
	m.mu.Lock()
	h := m.activeTurn
	m.mu.Unlock()
	if h == nil || !h.IsRunning() {
		return false
	}
	h.Cancel()
	return true
}

func (m *Manager) removeLastReplies(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	ids := append([]string(nil), m.lastReplyIDs...)
	m.mu.Unlock()
	if len(ids) == 0 {
		return nil, nil
	}

	err := m.mutate(ctx, "regenerate",
		func(ctx context.Context) error {
			return m.store.Delete(ctx, m.sessionID, ids...)
		},
		func() []events.SessionEvent {
			if equalIDs(m.window.TailIDs(len(ids)), ids) {
				m.window.RemoveLast(len(ids))
			}
			m.removeLocked(ids)
			m.lastReplyIDs = nil
			return []events.SessionEvent{events.NewMessagesRemoved(ids)}
		})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) startTurn(ctx context.Context, turn Turn, prepare prepareFunc) (*TurnHandle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.ensureOpen(); err != nil {
		return nil, err
	}
	if m.dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	if len(m.personas) == 0 {
		return nil, ErrNoPersona
	}
	if !m.turnMu.TryLock() {
		return nil, ErrTurnInProgress
	}

	turnID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	runCtx = WithSessionMeta(runCtx, m.sessionID, turnID)
	runCtx = helpers.ContextWithCorrelationID(runCtx, turnID)
	handle := newTurnHandle(m.sessionID, turnID, turn, cancel)
	outcome := &TurnOutcome{TurnID: turnID}

	release := func() {
		m.mu.Lock()
		if m.activeTurn == handle {
			m.activeTurn = nil
		}
		m.publishSnapshotLocked()
		m.mu.Unlock()
		cancel()
		m.turnMu.Unlock()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		m.turnMu.Unlock()
		return nil, ErrSessionClosed
	}
	m.activeTurn = handle
	m.publishSnapshotLocked()
	m.mu.Unlock()

	if prepare != nil {
		removed, err := prepare(runCtx)
		if err != nil {
			release()
			return nil, err
		}
		outcome.Removed = removed
	}

	m.mu.Lock()
	epoch := m.epoch
	req := dispatch.Request{
		SessionID:  m.sessionID,
		History:    m.window.Records(),
		UserText:   turn.UserText,
		SystemTurn: turn.SystemTurn,
	}
	m.mu.Unlock()

	m.logger.Debug().Str("turn_id", turnID).Str("mode", turn.Mode.String()).Int("history", len(req.History)).Msg("turn started")
	m.publish(runCtx, events.SessionEvent{Type: events.SessionEventTurnStarted, Text: turn.UserText})

	go func() {
		err := m.runTurn(runCtx, turn, req, epoch, outcome)

		m.mu.Lock()
		if m.epoch == epoch {
			last := turn
			m.lastTurn = &last
			m.lastReplyIDs = outcome.ReplyIDs()
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.Warn().Err(err).Str("turn_id", turnID).Msg("turn failed")
			m.publish(runCtx, events.NewTurnError(err))
		}
		m.publish(runCtx, events.NewTurnFinished(len(outcome.Replies)))
		// the session accepts a new turn by the time Wait returns
		release()
		handle.setResult(outcome, err)
	}()

	return handle, nil
}

func (m *Manager) runTurn(ctx context.Context, turn Turn, req dispatch.Request, epoch uint64, outcome *TurnOutcome) error {
	emit := func(r dispatch.Result) {
		switch r.Kind {
		case dispatch.ResultReply:
			m.acceptReply(ctx, r.Message, epoch, outcome)
		case dispatch.ResultFailure:
			if r.Err == nil {
				return
			}
			outcome.Failures = append(outcome.Failures, r.Err)
			m.publish(ctx, events.NewTurnError(r.Err))
		case dispatch.ResultInfo:
			outcome.Infos = append(outcome.Infos, r.Info)
			m.publish(ctx, events.SessionEvent{Type: events.SessionEventTurnInfo, Text: r.Info})
		}
	}

	switch turn.Mode {
	case dispatch.ModeGroup:
		n, err := m.dispatcher.DispatchGroup(ctx, req, m.personas, emit)
		if n != len(outcome.Replies) {
			m.logger.Debug().Int("reported", n).Int("accepted", len(outcome.Replies)).Msg("dispatcher reply count differs from accepted replies")
		}
		return err
	default:
		return m.dispatcher.DispatchSingle(ctx, req, m.personas[0], emit)
	}
}

// acceptReply persists and accepts one reply unless the turn was abandoned.
func (m *Manager) acceptReply(ctx context.Context, msg *conversation.Message, epoch uint64, outcome *TurnOutcome) {
	if msg == nil {
		return
	}
	m.mu.Lock()
	stale := m.closed || m.epoch != epoch || ctx.Err() != nil
	m.mu.Unlock()
	if stale {
		m.logger.Debug().Str("message_id", msg.ID).Msg("discarding reply of abandoned turn")
		return
	}
	if msg.SessionID == "" {
		msg.SessionID = m.sessionID
	}
	if msg.SessionID != m.sessionID {
		m.logger.Debug().Str("message_id", msg.ID).Msg("discarding reply addressed to another session")
		return
	}

	// once past the staleness check the reply is written in full
	err := m.postReply(context.WithoutCancel(ctx), msg, epoch)
	if errors.Is(err, errTurnAbandoned) {
		m.logger.Debug().Str("message_id", msg.ID).Msg("session cleared while reply was queued, discarding it")
		return
	}
	if err != nil {
		outcome.Failures = append(outcome.Failures, err)
		m.publish(ctx, events.NewTurnError(err))
		return
	}
	outcome.Replies = append(outcome.Replies, msg.Clone())
}

// postReply is Post for a reply of the turn started at epoch. The epoch is
// checked again with the write lock held, so a Clear queued ahead of the
// reply wins.
func (m *Manager) postReply(ctx context.Context, msg *conversation.Message, epoch uint64) error {
	return m.mutate(ctx, "post",
		func(ctx context.Context) error {
			m.mu.Lock()
			stale := m.epoch != epoch
			m.mu.Unlock()
			if stale {
				return errTurnAbandoned
			}
			return m.store.Insert(ctx, msg)
		},
		func() []events.SessionEvent {
			if m.epoch != epoch || !m.acceptLocked(msg) {
				return nil
			}
			return []events.SessionEvent{events.NewMessageAccepted(msg.Clone())}
		})
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
