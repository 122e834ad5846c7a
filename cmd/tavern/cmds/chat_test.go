package cmds

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/go-go-golems/tavern/pkg/dispatch"
	"github.com/go-go-golems/tavern/pkg/render"
	"github.com/go-go-golems/tavern/pkg/session"
	"github.com/go-go-golems/tavern/pkg/store"
	"github.com/go-go-golems/tavern/pkg/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepl(t *testing.T, st store.Store) (*Repl, *bytes.Buffer) {
	t.Helper()
	m, err := session.New("s1", st,
		dispatch.NewPersonaDispatcher(dispatch.NewEchoGenerator(), dispatch.WithSeed(1)),
		session.WithPersonas(conversation.PersonaRef{ID: "mira", ResponseWeight: 1}),
		session.WithPageSize(2),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	counter, err := tokens.New("")
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return &Repl{
		Manager:  m,
		Mode:     dispatch.ModeSingle,
		Pipeline: render.New(),
		Painter:  NewPainterWithRenderer(lipgloss.NewRenderer(&bytes.Buffer{})),
		Counter:  counter,
		Out:      out,
	}, out
}

func TestRepl_SendRegenerateAndStatus(t *testing.T) {
	st := store.NewInMemoryStore()
	r, out := newTestRepl(t, st)

	input := strings.Join([]string{
		"hello [world]",
		"/regen",
		"/status",
		"/quit",
		"never read",
	}, "\n")
	require.NoError(t, r.Run(context.Background(), strings.NewReader(input)))

	text := out.String()
	assert.Equal(t, 2, strings.Count(text, "mira: hello [world]"))
	assert.Contains(t, text, "removed ")
	assert.Contains(t, text, "session s1: ready, 2 messages loaded")
	assert.Contains(t, text, "window: 2/20 records")

	n, err := st.GetTotalCount(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRepl_LoadsHistoryAndPages(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	for _, text := range []string{"first", "second", "third"} {
		require.NoError(t, st.Insert(ctx, conversation.NewMessage("s1", conversation.RoleUser, text)))
	}

	r, out := newTestRepl(t, st)
	require.NoError(t, r.Run(ctx, strings.NewReader("/more\n")))

	text := out.String()
	assert.Contains(t, text, "(older messages available, /more)")
	assert.Contains(t, text, "loaded 1 older messages")
	assert.Less(t, strings.Index(text, "second"), strings.Index(text, "third"))
	assert.Greater(t, strings.Index(text, "first"), strings.Index(text, "loaded 1"))
}

func TestRepl_CommandErrors(t *testing.T) {
	r, _ := newTestRepl(t, store.NewInMemoryStore())
	ctx := context.Background()
	require.NoError(t, r.Manager.LoadInitial(ctx))

	assert.ErrorIs(t, r.Handle(ctx, "/regen"), session.ErrNoPreviousTurn)
	assert.Error(t, r.Handle(ctx, "/capacity lots"))
	assert.Error(t, r.Handle(ctx, "/edit"))
	assert.Error(t, r.Handle(ctx, "/bogus"))
	assert.ErrorIs(t, r.Handle(ctx, "/quit"), errQuit)
}

func TestRepl_EditDeleteAndCapacity(t *testing.T) {
	st := store.NewInMemoryStore()
	r, out := newTestRepl(t, st)
	ctx := context.Background()
	require.NoError(t, r.Manager.LoadInitial(ctx))

	require.NoError(t, r.Handle(ctx, "one"))
	snap := r.Manager.Snapshot()
	require.Len(t, snap.Displayed, 2)
	replyID := snap.Displayed[0].ID
	userID := snap.Displayed[1].ID

	require.NoError(t, r.Handle(ctx, "/edit "+userID+" changed text"))
	assert.Equal(t, "changed text", r.Manager.Snapshot().Displayed[1].Text)

	require.NoError(t, r.Handle(ctx, "/delete "+replyID))
	assert.Equal(t, []string{userID}, r.Manager.Snapshot().DisplayedIDs())

	require.NoError(t, r.Handle(ctx, "/capacity 0"))
	assert.Contains(t, out.String(), "window capacity 0, evicted 1 records")
	assert.Empty(t, r.Manager.Snapshot().Window)

	require.NoError(t, r.Handle(ctx, "/clear"))
	assert.Empty(t, r.Manager.Snapshot().Displayed)
}
