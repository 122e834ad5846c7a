package cmds

import (
	"context"
	"strings"
	"testing"

	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/tavern/pkg/config"
	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/go-go-golems/tavern/pkg/render"
	"github.com/go-go-golems/tavern/pkg/segment"
	"github.com/go-go-golems/tavern/pkg/styling"
	"github.com/go-go-golems/tavern/pkg/tokens"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rowCollector struct {
	rows []types.Row
}

var _ middlewares.Processor = (*rowCollector)(nil)

func (c *rowCollector) AddRow(ctx context.Context, row types.Row) error {
	c.rows = append(c.rows, row)
	return nil
}

func (c *rowCollector) Close(ctx context.Context) error {
	return nil
}

func (c *rowCollector) column(key string) []interface{} {
	ret := make([]interface{}, 0, len(c.rows))
	for _, row := range c.rows {
		v, _ := row.Get(key)
		ret = append(ret, v)
	}
	return ret
}

func TestStyleRows(t *testing.T) {
	gp := &rowCollector{}
	require.NoError(t, styleRows(context.Background(), styling.MustNew(), "a [b] c", true, gp))

	require.Len(t, gp.rows, 5)
	assert.Equal(t, []interface{}{"a ", "[", "b", "]", " c"}, gp.column("text"))
	assert.Equal(t, []interface{}{"plain", "emphasized", "emphasized", "emphasized", "plain"}, gp.column("style"))
	assert.Equal(t, []interface{}{"", "square", "square", "square", ""}, gp.column("pair"))
	assert.Equal(t, []interface{}{0, 2, 3, 4, 5}, gp.column("start"))
	assert.Equal(t, []interface{}{1, 2, 3, 4, 6}, gp.column("end"))

	gp = &rowCollector{}
	require.NoError(t, styleRows(context.Background(), styling.MustNew(), "x", false, gp))
	require.Len(t, gp.rows, 1)
	_, ok := gp.rows[0].Get("text")
	assert.False(t, ok)
}

func TestSegmentRows(t *testing.T) {
	gp := &rowCollector{}
	segments := segment.MustNew().Split("hi <div>there</div> bye")
	require.NoError(t, segmentRows(context.Background(), segments, gp))

	assert.Equal(t, []interface{}{"plain-text", "markup", "plain-text"}, gp.column("kind"))
	assert.Equal(t, []interface{}{"hi ", "<div>there</div>", " bye"}, gp.column("text"))
	assert.Equal(t, []interface{}{0, 1, 2}, gp.column("index"))
}

func TestRenderRows(t *testing.T) {
	instructions, err := render.New().Prepare("a [b] <div>c</div>")
	require.NoError(t, err)

	gp := &rowCollector{}
	require.NoError(t, renderRows(context.Background(), instructions, gp))
	require.Len(t, gp.rows, 2)

	assert.Equal(t, []interface{}{"plain-text", "markup"}, gp.column("kind"))
	assert.Equal(t, []interface{}{5, 0}, gp.column("runs"))
	assert.Equal(t, []interface{}{3, 0}, gp.column("emphasized"))
	html := gp.column("html")
	assert.Equal(t, "", html[0])
	assert.Contains(t, html[1], "<div>c</div>")
}

func TestTokenRows(t *testing.T) {
	counter, err := tokens.New("")
	require.NoError(t, err)
	records := []conversation.Record{
		{ID: "m1", Role: conversation.RoleUser, Text: "hello world"},
		{ID: "m2", Role: conversation.RoleAssistant, Text: ""},
	}

	gp := &rowCollector{}
	require.NoError(t, recordTokenRows(context.Background(), counter, records, gp))
	assert.Equal(t, []interface{}{"m1", "m2"}, gp.column("id"))
	assert.Equal(t, []interface{}{2, 0}, gp.column("tokens"))

	gp = &rowCollector{}
	require.NoError(t, totalTokenRow(context.Background(), counter, "s1", records, gp))
	require.Len(t, gp.rows, 1)
	assert.Equal(t, []interface{}{"s1"}, gp.column("session"))
	assert.Equal(t, []interface{}{tokens.DefaultEncoding}, gp.column("codec"))
	assert.Equal(t, []interface{}{2}, gp.column("records"))
	want, err := counter.CountRecords(records)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{want}, gp.column("tokens"))
}

func TestStoreFlags_OverrideOnlySetValues(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	(&StoreFlags{PageSize: 7, StoreDriver: config.DriverSQLite, StorePath: "x.db"}).apply(v)

	s, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7, s.PageSize)
	assert.Equal(t, config.DriverSQLite, s.Store.Driver)
	assert.Equal(t, "x.db", s.Store.Path)
	assert.Equal(t, v.GetInt("window-capacity"), s.WindowCapacity)

	assert.Equal(t, defaultSessionID, (&StoreFlags{}).SessionID())
	assert.Equal(t, "s2", (&StoreFlags{Session: "s2"}).SessionID())
}

func TestReadText(t *testing.T) {
	text, err := readText([]string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a b", text)

	text, err = readText(nil, strings.NewReader("from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", text)
}
