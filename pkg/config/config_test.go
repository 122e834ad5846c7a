package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/tavern/pkg/store"
	"github.com/go-go-golems/tavern/pkg/styling"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 20, s.PageSize)
	assert.Equal(t, 20, s.WindowCapacity)
	assert.Equal(t, DriverMemory, s.Store.Driver)
	assert.Equal(t, []string{"[]", "()", "【】", "（）"}, s.Brackets)
	assert.Equal(t, "cl100k_base", s.Tokens.Encoding)

	pairs, err := s.BracketPairs()
	require.NoError(t, err)
	require.Len(t, pairs, len(styling.DefaultPairs))
	for i, p := range pairs {
		assert.Equal(t, styling.DefaultPairs[i].Open, p.Open)
		assert.Equal(t, styling.DefaultPairs[i].Close, p.Close)
	}
}

func TestNewViper_ReadsConfigFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tavern.db")
	path := writeConfig(t, `
page-size: 5
window-capacity: 8
store:
  driver: sqlite
  path: `+dbPath+`
brackets:
  - "[]"
  - "{}"
tag-name-pattern: "[a-z]+"
`)
	v, err := NewViper(path)
	require.NoError(t, err)
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 5, s.PageSize)
	assert.Equal(t, 8, s.WindowCapacity)
	assert.Equal(t, DriverSQLite, s.Store.Driver)
	assert.Equal(t, []string{"[]", "{}"}, s.Brackets)

	styler, err := s.NewStyler()
	require.NoError(t, err)
	ranges := styler.Classify("a (b) {c}")
	assert.Equal(t, styling.StylePlain, ranges[0].Style)
	assert.Equal(t, "a (b) ", string([]rune("a (b) {c}")[ranges[0].Start:ranges[0].End+1]))

	st, err := s.OpenStore()
	require.NoError(t, err)
	defer st.Close()
	_, ok := st.(*store.SQLiteStore)
	assert.True(t, ok)
}

func TestNewViper_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TAVERN_PAGE_SIZE", "7")
	t.Setenv("TAVERN_STORE_DRIVER", "memory")
	path := writeConfig(t, "page-size: 3\n")

	v, err := NewViper(path)
	require.NoError(t, err)
	s, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7, s.PageSize)

	st, err := s.OpenStore()
	require.NoError(t, err)
	defer st.Close()
	_, ok := st.(*store.InMemoryStore)
	assert.True(t, ok)
}

func TestValidate_Errors(t *testing.T) {
	base := func() *Settings {
		return &Settings{
			PageSize:       10,
			WindowCapacity: 10,
			Store:          StoreSettings{Driver: DriverMemory},
			Tokens:         TokenSettings{Encoding: "cl100k_base"},
		}
	}

	cases := []struct {
		name   string
		modify func(s *Settings)
		key    string
	}{
		{"page size", func(s *Settings) { s.PageSize = 0 }, "page-size"},
		{"window capacity", func(s *Settings) { s.WindowCapacity = -1 }, "window-capacity"},
		{"driver", func(s *Settings) { s.Store.Driver = "postgres" }, "store.driver"},
		{"sqlite without path", func(s *Settings) { s.Store.Driver = DriverSQLite }, "store.path"},
		{"bracket length", func(s *Settings) { s.Brackets = []string{"[", "()"} }, "brackets[0]"},
		{"shared bracket character", func(s *Settings) { s.Brackets = []string{"[]", "]["} }, "brackets"},
		{"same open and close", func(s *Settings) { s.Brackets = []string{"||"} }, "brackets"},
		{"tag pattern", func(s *Settings) { s.TagNamePattern = "[a-" }, "tag-name-pattern"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := base()
			c.modify(s)
			err := s.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSettings)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, c.key, ve.Key)
		})
	}

	require.NoError(t, base().Validate())
}
