// Package session keeps the three representations of a conversation session
// consistent: the history displayed to the user, the persisted store and the
// bounded context window handed to the generation backend.
//
// All mutations of a Manager are serialized. Durable writes happen first and
// are mirrored into memory only once they succeed, so a storage failure never
// leaves the displayed list or the window ahead of the store. Readers observe
// the session through immutable snapshots.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/go-go-golems/tavern/pkg/dispatch"
	"github.com/go-go-golems/tavern/pkg/events"
	"github.com/go-go-golems/tavern/pkg/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPageSize       = 20
	DefaultWindowCapacity = 20

	maxLoadAttempts = 3
)

var nowFunc = time.Now

type Manager struct {
	sessionID  string
	store      store.Store
	dispatcher dispatch.Dispatcher
	stream     *events.Stream
	ownStream  bool
	logger     zerolog.Logger
	pageSize   int
	capacity   int
	personas   []conversation.PersonaRef

	// writeMu serializes durable writes and their mirroring.
	writeMu sync.Mutex
	// turnMu is held for the whole duration of a turn.
	turnMu sync.Mutex

	// mu guards the fields below. It is never held across store or
	// dispatcher calls.
	mu             sync.Mutex
	state          State
	closed         bool
	displayed      []*conversation.Message
	window         *conversation.Window
	total          int
	totalKnown     bool
	exhausted      bool
	loadingInitial bool
	loadingMore    bool
	// pageGen changes whenever existing history is edited or removed, which
	// invalidates page fetches that were started before.
	pageGen uint64
	// epoch changes when the session is cleared or closed, which invalidates
	// in-flight turns.
	epoch        uint64
	lastTurn     *Turn
	lastReplyIDs []string
	activeTurn   *TurnHandle
	version      uint64

	snapshot atomic.Pointer[Snapshot]
}

type Option func(*Manager)

func WithPageSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

func WithWindowCapacity(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.capacity = n
		}
	}
}

// WithPersonas sets the personas turns are dispatched to. Single mode uses
// the first one.
func WithPersonas(personas ...conversation.PersonaRef) Option {
	return func(m *Manager) {
		m.personas = append([]conversation.PersonaRef(nil), personas...)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithStream publishes session events on stream instead of a stream owned by
// the manager. The caller keeps ownership and closes it.
func WithStream(stream *events.Stream) Option {
	return func(m *Manager) {
		m.stream = stream
	}
}

// New creates a manager for sessionID. The dispatcher may be nil, in which
// case every turn fails with ErrNoDispatcher. The store remains owned by the
// caller.
func New(sessionID string, st store.Store, dispatcher dispatch.Dispatcher, options ...Option) (*Manager, error) {
	if sessionID == "" {
		return nil, ErrSessionIDEmpty
	}
	if st == nil {
		return nil, ErrStoreNil
	}

	m := &Manager{
		sessionID:  sessionID,
		store:      st,
		dispatcher: dispatcher,
		logger:     log.Logger,
		pageSize:   DefaultPageSize,
		capacity:   DefaultWindowCapacity,
	}
	for _, o := range options {
		o(m)
	}
	for _, p := range m.personas {
		if err := p.Validate(); err != nil {
			return nil, errors.Wrap(err, "invalid persona")
		}
	}
	if m.stream == nil {
		m.stream = events.NewStream(sessionID)
		m.ownStream = true
	}
	m.logger = m.logger.With().Str("session_id", sessionID).Logger()
	m.window = conversation.NewWindow(m.capacity)

	m.mu.Lock()
	m.publishSnapshotLocked()
	m.mu.Unlock()
	return m, nil
}

func (m *Manager) SessionID() string {
	return m.sessionID
}

func (m *Manager) Personas() []conversation.PersonaRef {
	return append([]conversation.PersonaRef(nil), m.personas...)
}

// Snapshot returns the latest published view of the session. The returned
// value must not be modified.
func (m *Manager) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// Events subscribes to the session's event stream until ctx is cancelled.
func (m *Manager) Events(ctx context.Context) (<-chan events.SessionEvent, error) {
	return m.stream.Subscribe(ctx)
}

// Close tears the session down. In-flight loads and turns are abandoned and
// their results discarded.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.state = StateClosed
	m.epoch++
	active := m.activeTurn
	m.publishSnapshotLocked()
	m.mu.Unlock()

	if active != nil {
		active.Cancel()
	}
	m.logger.Debug().Msg("session closed")
	if m.ownStream {
		return m.stream.Close()
	}
	return nil
}

func (m *Manager) ensureOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionClosed
	}
	return nil
}

// mutate runs durable under writeMu and, only if it succeeded, mirror under
// mu. Events returned by mirror are published after all locks are released.
func (m *Manager) mutate(
	ctx context.Context,
	op string,
	durable func(ctx context.Context) error,
	mirror func() []events.SessionEvent,
) error {
	m.writeMu.Lock()
	if err := m.ensureOpen(); err != nil {
		m.writeMu.Unlock()
		return err
	}
	if durable != nil {
		if err := durable(ctx); err != nil {
			m.writeMu.Unlock()
			if errors.Is(err, errTurnAbandoned) {
				return err
			}
			m.logger.Warn().Err(err).Str("op", op).Msg("durable write failed, session state left unchanged")
			return &StorageError{Op: op, SessionID: m.sessionID, Err: err}
		}
	}

	m.mu.Lock()
	if m.closed {
		// the write went through but nobody is looking at this session anymore
		m.mu.Unlock()
		m.writeMu.Unlock()
		m.logger.Debug().Str("op", op).Msg("session closed during write, not mirroring")
		return nil
	}
	evs := mirror()
	m.publishSnapshotLocked()
	m.mu.Unlock()
	m.writeMu.Unlock()

	m.logger.Debug().Str("op", op).Msg("session mutated")
	m.publish(ctx, evs...)
	return nil
}

func (m *Manager) publish(ctx context.Context, evs ...events.SessionEvent) {
	for _, e := range evs {
		m.stream.PublishBlind(ctx, e)
	}
}

func (m *Manager) publishSnapshotLocked() {
	m.version++
	s := &Snapshot{
		SessionID:      m.sessionID,
		State:          m.state,
		Displayed:      conversation.Conversation(m.displayed).Clone(),
		Window:         m.window.Records(),
		WindowCapacity: m.window.Capacity(),
		HasMore:        m.hasMoreLocked(),
		TurnRunning:    m.activeTurn != nil,
		LastReplyIDs:   append([]string(nil), m.lastReplyIDs...),
		Version:        m.version,
	}
	if s.Displayed == nil {
		s.Displayed = conversation.Conversation{}
	}
	m.snapshot.Store(s)
}

func (m *Manager) hasMoreLocked() bool {
	switch m.state {
	case StateIdle, StateLoadingInitial, StateCleared, StateClosed:
		return false
	}
	return !m.exhausted
}

func (m *Manager) indexOfDisplayedLocked(id string) int {
	for i, msg := range m.displayed {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) removeDisplayedLocked(ids map[string]struct{}) []string {
	var removed []string
	kept := m.displayed[:0]
	for _, msg := range m.displayed {
		if _, ok := ids[msg.ID]; ok {
			removed = append(removed, msg.ID)
			continue
		}
		kept = append(kept, msg)
	}
	for i := len(kept); i < len(m.displayed); i++ {
		m.displayed[i] = nil
	}
	m.displayed = kept
	return removed
}

func (m *Manager) forgetReplyIDsLocked(ids map[string]struct{}) {
	kept := m.lastReplyIDs[:0]
	for _, id := range m.lastReplyIDs {
		if _, ok := ids[id]; !ok {
			kept = append(kept, id)
		}
	}
	m.lastReplyIDs = kept
}

func idSet(ids []string) map[string]struct{} {
	ret := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		ret[id] = struct{}{}
	}
	return ret
}
