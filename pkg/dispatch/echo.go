package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/pkg/errors"
)

// GenerateRequest is what a Generator sees for one persona reply.
type GenerateRequest struct {
	SessionID  string
	Persona    conversation.PersonaRef
	History    []conversation.Record
	UserText   string
	SystemTurn bool
}

// Generator produces the text of a single persona reply. An empty reply means
// the persona has nothing to say.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

type GeneratorFunc func(ctx context.Context, req GenerateRequest) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return f(ctx, req)
}

// EchoGenerator answers with the user text, or with the most recent user
// record when the turn carries no text. It waits TimePerCharacter per
// character of the reply, which makes it useful to exercise cancellation.
type EchoGenerator struct {
	TimePerCharacter time.Duration
}

func NewEchoGenerator() *EchoGenerator {
	return &EchoGenerator{}
}

func (e *EchoGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := req.UserText
	if text == "" {
		for i := len(req.History) - 1; i >= 0; i-- {
			if req.History[i].Role == conversation.RoleUser {
				text = req.History[i].Text
				break
			}
		}
	}
	if text == "" {
		return "", errors.New("no input")
	}

	name := req.Persona.Name
	if name == "" {
		name = req.Persona.ID
	}
	reply := strings.TrimSpace(name + ": " + text)

	if e.TimePerCharacter > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.TimePerCharacter * time.Duration(len([]rune(reply)))):
		}
	}
	return reply, nil
}
