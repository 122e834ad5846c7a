package tokens

import (
	"testing"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCount_DefaultEncoding(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "cl100k_base", c.Encoding())

	n, err := c.Count("hello world")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.Count("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNew_UnknownEncoding(t *testing.T) {
	_, err := New("no-such-encoding")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-encoding")
}

func TestForModel(t *testing.T) {
	c, err := ForModel("gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "cl100k_base", c.Encoding())

	_, err = ForModel("not-a-model")
	require.Error(t, err)
}

func TestCountRecords_AddsOverhead(t *testing.T) {
	c, err := New("", WithRecordOverhead(4))
	require.NoError(t, err)

	records := []conversation.Record{
		{ID: "a", Text: "hello world", Role: conversation.RoleUser},
		{ID: "b", Text: "hello world", Role: conversation.RoleAssistant},
		{ID: "c", Text: "", Role: conversation.RoleAssistant},
	}
	n, err := c.CountRecords(records)
	require.NoError(t, err)
	assert.Equal(t, 2+4+2+4+0+4, n)

	n, err = c.CountRecords(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
