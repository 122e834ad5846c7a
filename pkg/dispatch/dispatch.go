// Package dispatch contains the turn dispatcher contract used by sessions and
// a reference implementation that picks personas and asks a Generator for
// their replies.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/tavern/pkg/conversation"
)

type Mode int

const (
	ModeSingle Mode = iota
	ModeGroup
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeGroup:
		return "group"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "":
		return ModeSingle, nil
	case "group":
		return ModeGroup, nil
	}
	return ModeSingle, fmt.Errorf("unknown dispatch mode %q", s)
}

type ResultKind string

const (
	ResultReply   ResultKind = "reply"
	ResultFailure ResultKind = "failure"
	ResultInfo    ResultKind = "info"
)

// Result is one outcome emitted while a turn is dispatched. Exactly one of
// Message, Err or Info is set, matching Kind.
type Result struct {
	Kind    ResultKind
	Message *conversation.Message
	Err     error
	Info    string
}

func Reply(msg *conversation.Message) Result {
	return Result{Kind: ResultReply, Message: msg}
}

func Failure(err error) Result {
	return Result{Kind: ResultFailure, Err: err}
}

func Info(text string) Result {
	return Result{Kind: ResultInfo, Info: text}
}

func (r Result) String() string {
	switch r.Kind {
	case ResultReply:
		if r.Message == nil {
			return "reply(<nil>)"
		}
		return "reply(" + r.Message.ID + ")"
	case ResultFailure:
		return fmt.Sprintf("failure(%v)", r.Err)
	case ResultInfo:
		return "info(" + r.Info + ")"
	}
	return string(r.Kind)
}

// Emitter receives results in the order they are produced. It is called
// synchronously from the dispatching goroutine.
type Emitter func(Result)

// Request is the turn handed to a dispatcher.
type Request struct {
	SessionID string
	// History is the context window content, oldest first. Dispatchers must
	// not modify it.
	History    []conversation.Record
	UserText   string
	SystemTurn bool
}

// Dispatcher produces persona replies for a turn. Which personas reply, and
// in what order, is entirely up to the implementation.
type Dispatcher interface {
	// DispatchSingle emits at most one reply of persona.
	DispatchSingle(ctx context.Context, req Request, persona conversation.PersonaRef, emit Emitter) error
	// DispatchGroup emits zero or more replies and returns how many.
	DispatchGroup(ctx context.Context, req Request, personas []conversation.PersonaRef, emit Emitter) (int, error)
}
