package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/go-go-golems/tavern/pkg/dispatch"
	"github.com/go-go-golems/tavern/pkg/render"
	"github.com/go-go-golems/tavern/pkg/session"
	"github.com/go-go-golems/tavern/pkg/tokens"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with echo personas over a persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := storeFlagsFromCobra(cmd)
			s, err := loadSettings(flags)
			if err != nil {
				return err
			}
			st, err := s.OpenStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = st.Close()
			}()

			personas, err := personasFromFlags(cmd)
			if err != nil {
				return err
			}
			group, _ := cmd.Flags().GetBool("group")
			delay, _ := cmd.Flags().GetDuration("delay")
			seed, _ := cmd.Flags().GetInt64("seed")

			dispatcherOptions := []dispatch.PersonaDispatcherOption{}
			if seed != 0 {
				dispatcherOptions = append(dispatcherOptions, dispatch.WithSeed(seed))
			}
			dispatcher := dispatch.NewPersonaDispatcher(
				&dispatch.EchoGenerator{TimePerCharacter: delay},
				dispatcherOptions...,
			)

			options := append(s.SessionOptions(), session.WithPersonas(personas...))
			m, err := session.New(flags.SessionID(), st, dispatcher, options...)
			if err != nil {
				return err
			}
			defer func() {
				_ = m.Close()
			}()

			pipeline, err := newPipeline(s)
			if err != nil {
				return err
			}
			counter, err := s.NewTokenCounter()
			if err != nil {
				return err
			}

			mode := dispatch.ModeSingle
			if group {
				mode = dispatch.ModeGroup
			}
			r := &Repl{
				Manager:  m,
				Mode:     mode,
				Pipeline: pipeline,
				Painter:  NewPainter(),
				Counter:  counter,
				Out:      cmd.OutOrStdout(),
				Prompt:   isTerminal(cmd.InOrStdin()),
			}
			return r.Run(cmd.Context(), cmd.InOrStdin())
		},
	}
	addStoreFlags(cmd)
	// StringArray, the keyword list of a persona is comma separated
	cmd.Flags().StringArray("persona", nil, "Persona as id[:weight[:keyword,keyword]], may be repeated")
	cmd.Flags().Bool("group", false, "Dispatch turns to the whole group")
	cmd.Flags().Duration("delay", 0, "Echo delay per reply character")
	cmd.Flags().Int64("seed", 0, "Seed for group selection (0 picks a random seed)")
	return cmd
}

// Repl is a line based front end to a session manager.
type Repl struct {
	Manager  *session.Manager
	Mode     dispatch.Mode
	Pipeline *render.Pipeline
	Painter  *Painter
	Counter  *tokens.Counter
	Out      io.Writer
	// Prompt prints "> " before reading a line.
	Prompt   bool
}

var errQuit = errors.New("quit")

const replHelp = `commands:
  /more                load older messages
  /regen               regenerate the last replies
  /continue            ask for more replies without new input
  /edit ID TEXT        edit a message
  /delete ID           delete a message
  /forget ID           drop a message from the context window
  /reset               empty the context window
  /clear               delete the whole session
  /capacity N          resize the context window
  /history             print the loaded history
  /status              print the session state
  /quit                leave`

// Run loads the session and processes lines from in until EOF or /quit.
func (r *Repl) Run(ctx context.Context, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	evs, err := r.Manager.Events(ctx)
	if err != nil {
		return err
	}
	go func() {
		for e := range evs {
			log.Debug().
				Str("type", string(e.Type)).
				Uint64("sequence", e.Sequence).
				Str("correlation_id", e.CorrelationID).
				Strs("message_ids", e.MessageIDs).
				Msg("session event")
		}
	}()

	if err := r.Manager.LoadInitial(ctx); err != nil {
		return err
	}
	r.printHistory()

	scanner := bufio.NewScanner(in)
	for {
		if r.Prompt {
			r.printf("> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		err := r.Handle(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			r.printf("error: %v\n", err)
		}
	}
}

// Handle processes one input line.
func (r *Repl) Handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		outcome, err := r.Manager.Send(ctx, line, r.Mode)
		if err != nil {
			return err
		}
		r.printOutcome(outcome)
		return nil
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch command {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		r.printf("%s\n", replHelp)
	case "/more":
		n, err := r.Manager.LoadMore(ctx)
		if err != nil {
			return err
		}
		snap := r.Manager.Snapshot()
		r.printf("loaded %d older messages\n", n)
		// displayed is most recent first, the new page sits at the end
		older := snap.Displayed[len(snap.Displayed)-min(n, len(snap.Displayed)):]
		for i := len(older) - 1; i >= 0; i-- {
			r.printMessage(older[i])
		}
	case "/regen":
		outcome, err := r.Manager.Regenerate(ctx, r.Mode)
		if err != nil {
			return err
		}
		if len(outcome.Removed) > 0 {
			r.printf("removed %s\n", strings.Join(outcome.Removed, ", "))
		}
		r.printOutcome(outcome)
	case "/continue":
		outcome, err := r.Manager.Continue(ctx, r.Mode)
		if err != nil {
			return err
		}
		r.printOutcome(outcome)
	case "/edit":
		id, text, ok := strings.Cut(rest, " ")
		if !ok || id == "" {
			return errors.New("usage: /edit ID TEXT")
		}
		return r.Manager.Edit(ctx, id, strings.TrimSpace(text))
	case "/delete":
		if rest == "" {
			return errors.New("usage: /delete ID...")
		}
		return r.Manager.Delete(ctx, strings.Fields(rest)...)
	case "/forget":
		if rest == "" {
			return errors.New("usage: /forget ID...")
		}
		return r.Manager.Forget(ctx, strings.Fields(rest)...)
	case "/reset":
		return r.Manager.ResetContext(ctx)
	case "/clear":
		return r.Manager.Clear(ctx)
	case "/capacity":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return errors.New("usage: /capacity N")
		}
		evicted, err := r.Manager.SetWindowCapacity(n)
		if err != nil {
			return err
		}
		r.printf("window capacity %d, evicted %d records\n", n, len(evicted))
	case "/history":
		r.printHistory()
	case "/status":
		return r.printStatus()
	default:
		return errors.Errorf("unknown command %s, try /help", command)
	}
	return nil
}

func (r *Repl) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.Out, format, args...)
}

func (r *Repl) printHistory() {
	snap := r.Manager.Snapshot()
	for i := len(snap.Displayed) - 1; i >= 0; i-- {
		r.printMessage(snap.Displayed[i])
	}
	if snap.HasMore {
		r.printf("(older messages available, /more)\n")
	}
}

func (r *Repl) printMessage(msg *conversation.Message) {
	if !msg.Visible {
		return
	}
	speaker := string(msg.Role)
	if msg.SpeakerID != "" {
		speaker = msg.SpeakerID
	}
	body := msg.Text
	if instructions, err := r.Pipeline.Prepare(msg.Text); err == nil {
		body = r.Painter.PaintInstructions(instructions)
	}
	if msg.HasAttachment() {
		body += fmt.Sprintf(" [%s %s]", msg.Kind, msg.Attachment.URI)
	}
	r.printf("%s %s %s: %s\n", msg.ID, msg.Time.Format(time.Kitchen), speaker, body)
}

func (r *Repl) printOutcome(o *session.TurnOutcome) {
	for _, msg := range o.Replies {
		r.printMessage(msg)
	}
	for _, info := range o.Infos {
		r.printf("info: %s\n", info)
	}
	for _, err := range o.Failures {
		r.printf("failure: %v\n", err)
	}
}

func (r *Repl) printStatus() error {
	snap := r.Manager.Snapshot()
	count, err := r.Counter.CountRecords(snap.Window)
	if err != nil {
		return err
	}
	r.printf("session %s: %s, %d messages loaded, more: %t\n",
		snap.SessionID, snap.State, len(snap.Displayed), snap.HasMore)
	r.printf("window: %d/%d records, %d tokens (%s)\n",
		len(snap.Window), snap.WindowCapacity, count, r.Counter.Encoding())
	return nil
}
