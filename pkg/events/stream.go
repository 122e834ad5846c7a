package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/tavern/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrStreamClosed = errors.New("event stream closed")

// Stream is the event channel owned by one session. Publish blocks until
// every subscriber has taken the event, so subscribers must keep draining the
// channel returned by Subscribe until their context is cancelled.
type Stream struct {
	sessionID string
	topic     string
	logger    watermill.LoggerAdapter
	pubSub    *gochannel.GoChannel
	publisher message.Publisher

	mu             sync.Mutex
	sequenceNumber uint64
	closed         bool
}

type StreamOption func(*Stream)

func WithLogger(logger watermill.LoggerAdapter) StreamOption {
	return func(s *Stream) {
		s.logger = logger
	}
}

func WithVerbose(verbose bool) StreamOption {
	return func(s *Stream) {
		if verbose {
			s.logger = helpers.NewWatermill(log.Logger)
		}
	}
}

func TopicForSession(sessionID string) string {
	return "session." + sessionID
}

func NewStream(sessionID string, options ...StreamOption) *Stream {
	ret := &Stream{
		sessionID: sessionID,
		topic:     TopicForSession(sessionID),
		logger:    watermill.NopLogger{},
	}
	for _, o := range options {
		o(ret)
	}

	ret.pubSub = gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.publisher = helpers.CorrelationPublisherDecorator{Publisher: ret.pubSub}
	return ret
}

func (s *Stream) SessionID() string {
	return s.sessionID
}

func (s *Stream) Topic() string {
	return s.topic
}

// Publish stamps e with the session id, the next sequence number and the time
// and hands it to all subscribers. The correlation id is taken from ctx.
func (s *Stream) Publish(ctx context.Context, e SessionEvent) (SessionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return e, ErrStreamClosed
	}

	s.sequenceNumber++
	e.SessionID = s.sessionID
	e.Sequence = s.sequenceNumber
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b, err := json.Marshal(e)
	if err != nil {
		return e, errors.Wrapf(err, "could not marshal %s event", e.Type)
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.SetContext(ctx)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", e.Sequence))
	msg.Metadata.Set("event_type", string(e.Type))

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return e, errors.Wrapf(err, "could not publish %s event", e.Type)
	}
	e.CorrelationID = msg.Metadata.Get(helpers.CorrelationIDMetadataKey)
	return e, nil
}

func (s *Stream) PublishBlind(ctx context.Context, e SessionEvent) {
	if _, err := s.Publish(ctx, e); err != nil && !errors.Is(err, ErrStreamClosed) {
		log.Warn().Err(err).Str("session_id", s.sessionID).Msg("failed to publish session event")
	}
}

// Subscribe returns the events published after the call. The channel is
// closed when ctx is cancelled or the stream is closed.
func (s *Stream) Subscribe(ctx context.Context) (<-chan SessionEvent, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	messages, err := s.pubSub.Subscribe(ctx, s.topic)
	s.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "could not subscribe to session events")
	}

	out := make(chan SessionEvent, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			var e SessionEvent
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed session event")
				msg.Ack()
				continue
			}
			e.CorrelationID = msg.Metadata.Get(helpers.CorrelationIDMetadataKey)
			select {
			case out <- e:
			case <-ctx.Done():
			}
			msg.Ack()
		}
	}()
	return out, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.pubSub.Close()
}
