package session

import (
	"context"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/go-go-golems/tavern/pkg/events"
	"golang.org/x/sync/errgroup"
)

// LoadInitial fetches the most recent page of history and seeds the context
// window with the newest records that fit. It only runs on an idle session;
// calling it again, even while a load is in flight, is a no-op.
func (m *Manager) LoadInitial(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	if m.loadingInitial || m.state != StateIdle {
		m.mu.Unlock()
		return nil
	}
	m.loadingInitial = true
	m.state = StateLoadingInitial
	m.publishSnapshotLocked()
	m.mu.Unlock()

	finish := func(state State) {
		m.mu.Lock()
		m.loadingInitial = false
		if m.state == StateLoadingInitial {
			m.state = state
		}
		m.publishSnapshotLocked()
		m.mu.Unlock()
	}

	for attempt := 0; attempt < maxLoadAttempts; attempt++ {
		m.mu.Lock()
		gen := m.pageGen
		capacity := m.window.Capacity()
		m.mu.Unlock()

		var (
			page    []*conversation.Message
			records []conversation.Record
			total   int
		)
		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			var err error
			page, err = m.store.GetPage(egCtx, m.sessionID, m.pageSize, 0)
			return err
		})
		eg.Go(func() error {
			var err error
			records, err = m.store.GetContextRecords(egCtx, m.sessionID, capacity)
			return err
		})
		eg.Go(func() error {
			var err error
			total, err = m.store.GetTotalCount(egCtx, m.sessionID)
			return err
		})
		if err := eg.Wait(); err != nil {
			finish(StateIdle)
			m.logger.Warn().Err(err).Msg("initial load failed")
			return &StorageError{Op: "load-initial", SessionID: m.sessionID, Err: err}
		}

		m.mu.Lock()
		if m.closed {
			m.loadingInitial = false
			m.mu.Unlock()
			m.logger.Debug().Msg("discarding initial load of closed session")
			return nil
		}
		if m.state != StateLoadingInitial {
			// cleared while loading, the empty session is authoritative
			m.loadingInitial = false
			m.publishSnapshotLocked()
			m.mu.Unlock()
			return nil
		}
		if gen != m.pageGen {
			m.mu.Unlock()
			m.logger.Debug().Int("attempt", attempt).Msg("history changed during initial load, retrying")
			continue
		}

		ids := m.applyInitialLocked(page, records, total)
		m.loadingInitial = false
		m.state = StateReady
		hasMore := m.hasMoreLocked()
		m.publishSnapshotLocked()
		m.mu.Unlock()

		m.logger.Debug().Int("messages", len(page)).Int("records", len(records)).Int("total", total).Msg("initial page loaded")
		m.publish(ctx, events.NewPageLoaded(ids, hasMore))
		return nil
	}

	finish(StateIdle)
	return ErrLoadInterrupted
}

// applyInitialLocked installs a fetched first page. Messages accepted while
// the page was in flight are kept in front of it.
func (m *Manager) applyInitialLocked(page []*conversation.Message, records []conversation.Record, total int) []string {
	inPage := make(map[string]struct{}, len(page))
	for _, msg := range page {
		inPage[msg.ID] = struct{}{}
	}
	var newcomers []*conversation.Message
	for _, msg := range m.displayed {
		if _, ok := inPage[msg.ID]; !ok {
			newcomers = append(newcomers, msg)
		}
	}

	m.displayed = append(newcomers, page...)
	m.window.Seed(records)
	// newcomers are most recent first, the window wants oldest first
	for i := len(newcomers) - 1; i >= 0; i-- {
		msg := newcomers[i]
		if msg.HasAttachment() || m.window.Contains(msg.ID) {
			continue
		}
		m.window.Push(msg.Record())
	}

	m.total = total
	m.totalKnown = len(newcomers) == 0
	m.exhausted = m.totalKnown && len(m.displayed) >= total

	ids := make([]string, 0, len(page))
	for _, msg := range page {
		ids = append(ids, msg.ID)
	}
	return ids
}

// LoadMore appends the next page of older messages and returns how many were
// added. It is a no-op returning 0 while another load is in flight, before
// the initial load and once the history is exhausted.
func (m *Manager) LoadMore(ctx context.Context) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrSessionClosed
	}
	if m.loadingMore || m.loadingInitial || m.state != StateReady || m.exhausted {
		m.mu.Unlock()
		return 0, nil
	}
	m.loadingMore = true
	m.state = StateLoadingMore
	m.publishSnapshotLocked()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.loadingMore = false
		if m.state == StateLoadingMore {
			m.state = StateReady
		}
		m.publishSnapshotLocked()
		m.mu.Unlock()
	}()

	for attempt := 0; attempt < maxLoadAttempts; attempt++ {
		m.mu.Lock()
		if m.closed || m.exhausted || m.state != StateLoadingMore {
			m.mu.Unlock()
			return 0, nil
		}
		gen := m.pageGen
		offset := len(m.displayed)
		total, known := m.total, m.totalKnown
		m.mu.Unlock()

		if !known {
			var err error
			total, err = m.store.GetTotalCount(ctx, m.sessionID)
			if err != nil {
				m.logger.Warn().Err(err).Msg("count failed")
				return 0, &StorageError{Op: "load-more", SessionID: m.sessionID, Err: err}
			}
			m.mu.Lock()
			if gen == m.pageGen {
				m.total, m.totalKnown = total, true
			}
			m.mu.Unlock()
		}

		if offset >= total {
			m.mu.Lock()
			if gen == m.pageGen {
				m.exhausted = true
			}
			m.mu.Unlock()
			return 0, nil
		}

		page, err := m.store.GetPage(ctx, m.sessionID, m.pageSize, offset)
		if err != nil {
			m.logger.Warn().Err(err).Int("offset", offset).Msg("page fetch failed")
			return 0, &StorageError{Op: "load-more", SessionID: m.sessionID, Err: err}
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			m.logger.Debug().Msg("discarding page of closed session")
			return 0, nil
		}
		if gen != m.pageGen {
			m.mu.Unlock()
			m.logger.Debug().Int("attempt", attempt).Msg("history changed during page fetch, retrying")
			continue
		}
		ids := make([]string, 0, len(page))
		for _, msg := range page {
			// the page shifts when messages are accepted while it is in flight
			if m.indexOfDisplayedLocked(msg.ID) >= 0 {
				continue
			}
			m.displayed = append(m.displayed, msg)
			ids = append(ids, msg.ID)
		}
		if len(page) < m.pageSize || (m.totalKnown && len(m.displayed) >= m.total) {
			m.exhausted = true
		}
		hasMore := !m.exhausted
		m.mu.Unlock()

		m.logger.Debug().Int("offset", offset).Int("added", len(ids)).Msg("page loaded")
		m.publish(ctx, events.NewPageLoaded(ids, hasMore))
		return len(ids), nil
	}
	return 0, ErrLoadInterrupted
}
