package dispatch

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PersonaDispatcher is the reference Dispatcher. In group mode, personas whose
// trigger keywords occur in the user text reply first, then every other
// persona replies with probability ResponseWeight. When nobody was picked the
// persona with the highest weight replies so a group turn is never silent.
//
// Each persona sees the replies given earlier in the same turn.
type PersonaDispatcher struct {
	generator Generator
	logger    zerolog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

var _ Dispatcher = (*PersonaDispatcher)(nil)

type PersonaDispatcherOption func(*PersonaDispatcher)

// WithRand sets the source used for weighted selection.
func WithRand(r *rand.Rand) PersonaDispatcherOption {
	return func(d *PersonaDispatcher) {
		d.rnd = r
	}
}

func WithSeed(seed int64) PersonaDispatcherOption {
	return WithRand(rand.New(rand.NewSource(seed)))
}

func WithLogger(logger zerolog.Logger) PersonaDispatcherOption {
	return func(d *PersonaDispatcher) {
		d.logger = logger
	}
}

func NewPersonaDispatcher(generator Generator, options ...PersonaDispatcherOption) *PersonaDispatcher {
	ret := &PersonaDispatcher{
		generator: generator,
		logger:    log.Logger,
	}
	for _, o := range options {
		o(ret)
	}
	if ret.rnd == nil {
		ret.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return ret
}

func (d *PersonaDispatcher) DispatchSingle(ctx context.Context, req Request, persona conversation.PersonaRef, emit Emitter) error {
	if err := persona.Validate(); err != nil {
		emit(Failure(err))
		return err
	}
	_, err := d.reply(ctx, req, req.History, persona, emit)
	return err
}

func (d *PersonaDispatcher) DispatchGroup(ctx context.Context, req Request, personas []conversation.PersonaRef, emit Emitter) (int, error) {
	selected := d.Select(req.UserText, personas)
	if len(selected) == 0 {
		emit(Info("no persona available to reply"))
		return 0, nil
	}

	history := append([]conversation.Record(nil), req.History...)
	count := 0
	for _, persona := range selected {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		msg, err := d.reply(ctx, req, history, persona, emit)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return count, err
			}
			// a failing persona does not silence the rest of the group
			continue
		}
		if msg != nil {
			history = append(history, msg.Record())
			count++
		}
	}
	return count, nil
}

func (d *PersonaDispatcher) reply(
	ctx context.Context,
	req Request,
	history []conversation.Record,
	persona conversation.PersonaRef,
	emit Emitter,
) (*conversation.Message, error) {
	text, err := d.generator.Generate(ctx, GenerateRequest{
		SessionID:  req.SessionID,
		Persona:    persona,
		History:    history,
		UserText:   req.UserText,
		SystemTurn: req.SystemTurn,
	})
	if err != nil {
		err = errors.Wrapf(err, "persona %s", persona.ID)
		d.logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("generation failed")
		emit(Failure(err))
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		emit(Info(persona.ID + " has nothing to say"))
		return nil, nil
	}

	msg := conversation.NewMessage(req.SessionID, conversation.RoleAssistant, text,
		conversation.WithSpeaker(persona.ID))
	emit(Reply(msg))
	return msg, nil
}

// Select returns the personas that reply to userText, in reply order.
// Invalid personas and duplicate ids are skipped.
func (d *PersonaDispatcher) Select(userText string, personas []conversation.PersonaRef) []conversation.PersonaRef {
	lowered := strings.ToLower(userText)
	seen := map[string]struct{}{}
	var triggered, rest []conversation.PersonaRef
	for _, p := range personas {
		if p.Validate() != nil {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		if isTriggered(lowered, p.TriggerKeywords) {
			triggered = append(triggered, p)
		} else {
			rest = append(rest, p)
		}
	}

	selected := triggered
	d.mu.Lock()
	for _, p := range rest {
		if d.rnd.Float64() < p.ResponseWeight {
			selected = append(selected, p)
		}
	}
	d.mu.Unlock()

	if len(selected) == 0 && len(rest) > 0 {
		best := rest[0]
		for _, p := range rest[1:] {
			if p.ResponseWeight > best.ResponseWeight {
				best = p
			}
		}
		selected = append(selected, best)
	}
	return selected
}

func isTriggered(loweredText string, keywords []string) bool {
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(loweredText, k) {
			return true
		}
	}
	return false
}
