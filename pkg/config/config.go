// Package config loads the tavern settings from defaults, a YAML config file
// and TAVERN_* environment variables using viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/tavern/pkg/segment"
	"github.com/go-go-golems/tavern/pkg/session"
	"github.com/go-go-golems/tavern/pkg/store"
	"github.com/go-go-golems/tavern/pkg/styling"
	"github.com/go-go-golems/tavern/pkg/tokens"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "tavern"

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type StoreSettings struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

type TokenSettings struct {
	Encoding string `mapstructure:"encoding" yaml:"encoding"`
}

type Settings struct {
	PageSize       int           `mapstructure:"page-size" yaml:"page-size"`
	WindowCapacity int           `mapstructure:"window-capacity" yaml:"window-capacity"`
	Store          StoreSettings `mapstructure:"store" yaml:"store"`
	// Brackets lists bracket pairs as two-character strings, e.g. "[]".
	Brackets       []string      `mapstructure:"brackets" yaml:"brackets"`
	TagNamePattern string        `mapstructure:"tag-name-pattern" yaml:"tag-name-pattern"`
	Tokens         TokenSettings `mapstructure:"tokens" yaml:"tokens"`
}

// DefaultBrackets are the string forms of styling.DefaultPairs.
func DefaultBrackets() []string {
	ret := make([]string, 0, len(styling.DefaultPairs))
	for _, p := range styling.DefaultPairs {
		ret = append(ret, string([]rune{p.Open, p.Close}))
	}
	return ret
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("page-size", session.DefaultPageSize)
	v.SetDefault("window-capacity", session.DefaultWindowCapacity)
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.path", "")
	v.SetDefault("brackets", DefaultBrackets())
	v.SetDefault("tag-name-pattern", segment.DefaultTagNamePattern)
	v.SetDefault("tokens.encoding", tokens.DefaultEncoding)
}

// NewViper returns a viper instance reading configFile, or config.yaml from
// the current directory, $HOME/.tavern and the user config dir when
// configFile is empty. A missing config file is not an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tavern")
		if xdgConfigPath, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(xdgConfigPath, "tavern"))
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return v, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}
	return v, nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.PageSize <= 0 {
		return &ValidationError{Key: "page-size", Reason: fmt.Sprintf("must be positive, got %d", s.PageSize)}
	}
	if s.WindowCapacity < 0 {
		return &ValidationError{Key: "window-capacity", Reason: fmt.Sprintf("must not be negative, got %d", s.WindowCapacity)}
	}
	switch s.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if s.Store.Path == "" {
			return &ValidationError{Key: "store.path", Reason: "required by the sqlite driver"}
		}
	default:
		return &ValidationError{Key: "store.driver", Reason: fmt.Sprintf("unknown driver %q", s.Store.Driver)}
	}
	if _, err := s.BracketPairs(); err != nil {
		return err
	}
	if _, err := s.NewSegmenter(); err != nil {
		return &ValidationError{Key: "tag-name-pattern", Reason: err.Error()}
	}
	return nil
}

// BracketPairs parses Brackets. An empty list selects the default pairs.
func (s *Settings) BracketPairs() ([]styling.Pair, error) {
	if len(s.Brackets) == 0 {
		return append([]styling.Pair(nil), styling.DefaultPairs...), nil
	}
	pairs := make([]styling.Pair, 0, len(s.Brackets))
	for i, b := range s.Brackets {
		runes := []rune(b)
		if len(runes) != 2 {
			return nil, &ValidationError{
				Key:    fmt.Sprintf("brackets[%d]", i),
				Reason: fmt.Sprintf("%q must be exactly an opening and a closing character", b),
			}
		}
		pairs = append(pairs, styling.Pair{Name: b, Open: runes[0], Close: runes[1]})
	}
	if _, err := styling.New(pairs...); err != nil {
		return nil, &ValidationError{Key: "brackets", Reason: err.Error()}
	}
	return pairs, nil
}

func (s *Settings) NewStyler() (*styling.Styler, error) {
	pairs, err := s.BracketPairs()
	if err != nil {
		return nil, err
	}
	return styling.New(pairs...)
}

func (s *Settings) NewSegmenter() (*segment.Segmenter, error) {
	if s.TagNamePattern == "" {
		return segment.New()
	}
	return segment.New(segment.WithTagNamePattern(s.TagNamePattern))
}

func (s *Settings) NewTokenCounter() (*tokens.Counter, error) {
	return tokens.New(s.Tokens.Encoding)
}

// OpenStore opens the configured store. The caller closes it.
func (s *Settings) OpenStore() (store.Store, error) {
	switch s.Store.Driver {
	case DriverSQLite:
		dsn, err := store.SQLiteDSNForFile(s.Store.Path)
		if err != nil {
			return nil, err
		}
		st, err := store.NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverMemory, "":
		return store.NewInMemoryStore(), nil
	default:
		return nil, &ValidationError{Key: "store.driver", Reason: fmt.Sprintf("unknown driver %q", s.Store.Driver)}
	}
}

// SessionOptions returns the session options derived from the settings.
func (s *Settings) SessionOptions() []session.Option {
	return []session.Option{
		session.WithPageSize(s.PageSize),
		session.WithWindowCapacity(s.WindowCapacity),
	}
}
