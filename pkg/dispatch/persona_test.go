package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	results []Result
}

func (c *collector) emit(r Result) {
	c.results = append(c.results, r)
}

func (c *collector) replies() []*conversation.Message {
	var ret []*conversation.Message
	for _, r := range c.results {
		if r.Kind == ResultReply {
			ret = append(ret, r.Message)
		}
	}
	return ret
}

func personaIDs(ps []conversation.PersonaRef) []string {
	ret := make([]string, 0, len(ps))
	for _, p := range ps {
		ret = append(ret, p.ID)
	}
	return ret
}

func TestDispatchSingle_EchoesUserText(t *testing.T) {
	d := NewPersonaDispatcher(NewEchoGenerator(), WithSeed(1))
	c := &collector{}
	err := d.DispatchSingle(context.Background(), Request{SessionID: "s", UserText: "hello"},
		conversation.PersonaRef{ID: "mira", Name: "Mira", ResponseWeight: 1}, c.emit)
	require.NoError(t, err)

	replies := c.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, "Mira: hello", replies[0].Text)
	assert.Equal(t, "mira", replies[0].SpeakerID)
	assert.Equal(t, "s", replies[0].SessionID)
	assert.Equal(t, conversation.RoleAssistant, replies[0].Role)
}

func TestDispatchSingle_ContinueUsesLastUserRecord(t *testing.T) {
	d := NewPersonaDispatcher(NewEchoGenerator())
	c := &collector{}
	history := []conversation.Record{
		{ID: "1", Role: conversation.RoleUser, Text: "first"},
		{ID: "2", Role: conversation.RoleAssistant, Text: "reply"},
	}
	err := d.DispatchSingle(context.Background(), Request{SessionID: "s", History: history},
		conversation.PersonaRef{ID: "mira"}, c.emit)
	require.NoError(t, err)
	require.Len(t, c.replies(), 1)
	assert.Equal(t, "mira: first", c.replies()[0].Text)
}

func TestDispatchSingle_FailuresAndEmptyReplies(t *testing.T) {
	boom := errors.New("boom")
	d := NewPersonaDispatcher(GeneratorFunc(func(ctx context.Context, req GenerateRequest) (string, error) {
		if req.UserText == "fail" {
			return "", boom
		}
		return "  ", nil
	}))

	c := &collector{}
	err := d.DispatchSingle(context.Background(), Request{UserText: "fail"}, conversation.PersonaRef{ID: "p"}, c.emit)
	require.ErrorIs(t, err, boom)
	require.Len(t, c.results, 1)
	assert.Equal(t, ResultFailure, c.results[0].Kind)

	c = &collector{}
	err = d.DispatchSingle(context.Background(), Request{UserText: "quiet"}, conversation.PersonaRef{ID: "p"}, c.emit)
	require.NoError(t, err)
	require.Len(t, c.results, 1)
	assert.Equal(t, ResultInfo, c.results[0].Kind)

	c = &collector{}
	err = d.DispatchSingle(context.Background(), Request{UserText: "x"}, conversation.PersonaRef{ID: ""}, c.emit)
	require.Error(t, err)
	assert.Equal(t, ResultFailure, c.results[0].Kind)
}

func TestSelect_KeywordsFirstThenWeight(t *testing.T) {
	d := NewPersonaDispatcher(NewEchoGenerator(), WithSeed(42))
	personas := []conversation.PersonaRef{
		{ID: "always", ResponseWeight: 1},
		{ID: "never", ResponseWeight: 0},
		{ID: "knight", ResponseWeight: 0, TriggerKeywords: []string{"Sword"}},
		{ID: "always", ResponseWeight: 1},
		{ID: "bad", ResponseWeight: 2},
	}
	selected := d.Select("I draw my SWORD", personas)
	assert.Equal(t, []string{"knight", "always"}, personaIDs(selected))
}

func TestSelect_FallsBackToHighestWeight(t *testing.T) {
	d := NewPersonaDispatcher(NewEchoGenerator(), WithSeed(7))
	personas := []conversation.PersonaRef{
		{ID: "a", ResponseWeight: 0},
		{ID: "b", ResponseWeight: 0},
	}
	assert.Equal(t, []string{"a"}, personaIDs(d.Select("hi", personas)))
	assert.Empty(t, d.Select("hi", nil))
}

func TestDispatchGroup_LaterPersonasSeeEarlierReplies(t *testing.T) {
	var seen []int
	gen := GeneratorFunc(func(ctx context.Context, req GenerateRequest) (string, error) {
		seen = append(seen, len(req.History))
		return req.Persona.ID + " says hi", nil
	})
	d := NewPersonaDispatcher(gen, WithSeed(3))
	c := &collector{}
	personas := []conversation.PersonaRef{
		{ID: "a", ResponseWeight: 1},
		{ID: "b", ResponseWeight: 1},
	}
	history := []conversation.Record{{ID: "u", Role: conversation.RoleUser, Text: "hi"}}

	n, err := d.DispatchGroup(context.Background(), Request{SessionID: "s", History: history, UserText: "hi"}, personas, c.emit)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{1, 2}, seen)
	assert.Len(t, history, 1)

	replies := c.replies()
	require.Len(t, replies, 2)
	assert.Equal(t, "a", replies[0].SpeakerID)
	assert.Equal(t, "b", replies[1].SpeakerID)
}

func TestDispatchGroup_FailureDoesNotStopGroup(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, req GenerateRequest) (string, error) {
		if req.Persona.ID == "a" {
			return "", errors.New("backend down")
		}
		return "ok", nil
	})
	d := NewPersonaDispatcher(gen, WithSeed(3))
	c := &collector{}
	n, err := d.DispatchGroup(context.Background(), Request{UserText: "x"}, []conversation.PersonaRef{
		{ID: "a", ResponseWeight: 1},
		{ID: "b", ResponseWeight: 1},
	}, c.emit)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, c.results, 2)
	assert.Equal(t, ResultFailure, c.results[0].Kind)
	assert.Equal(t, ResultReply, c.results[1].Kind)
}

func TestDispatchGroup_NoPersonas(t *testing.T) {
	d := NewPersonaDispatcher(NewEchoGenerator())
	c := &collector{}
	n, err := d.DispatchGroup(context.Background(), Request{UserText: "x"}, nil, c.emit)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.Len(t, c.results, 1)
	assert.Equal(t, ResultInfo, c.results[0].Kind)
}

func TestEchoGenerator_Cancellation(t *testing.T) {
	gen := &EchoGenerator{TimePerCharacter: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	d := NewPersonaDispatcher(gen)
	c := &collector{}
	n, err := d.DispatchGroup(ctx, Request{UserText: "a long message"}, []conversation.PersonaRef{
		{ID: "a", ResponseWeight: 1},
		{ID: "b", ResponseWeight: 1},
	}, c.emit)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, n)
	assert.Empty(t, c.replies())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Group")
	require.NoError(t, err)
	assert.Equal(t, ModeGroup, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, m)
	_, err = ParseMode("crowd")
	require.Error(t, err)
	assert.Equal(t, "group", ModeGroup.String())
}
