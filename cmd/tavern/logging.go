package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

// logConfigFromViper reads the logging flags. --verbose raises the level to
// debug unless trace was asked for.
func logConfigFromViper() *logConfig {
	level := viper.GetString("log-level")
	if viper.GetBool("verbose") && level != "trace" {
		level = "debug"
	}
	return &logConfig{
		Level:      level,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	}
}

func parseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "invalid log level %q", s)
	}
	return level, nil
}

func consoleWriter(config *logConfig) (io.Writer, error) {
	switch config.LogFormat {
	case "json":
		return os.Stderr, nil
	case "text", "":
		return zerolog.ConsoleWriter{Out: os.Stderr}, nil
	default:
		return nil, errors.Errorf("invalid log format %q, expected json or text", config.LogFormat)
	}
}

// InitLogger points the global logger at stderr and, when a log file is
// configured, at a rotated plain text file as well.
func InitLogger(config *logConfig) error {
	level, err := parseLevel(config.Level)
	if err != nil {
		return err
	}
	w, err := consoleWriter(config)
	if err != nil {
		return err
	}
	if config.LogFile != "" {
		w = io.MultiWriter(w, zerolog.ConsoleWriter{
			NoColor: true,
			Out: &lumberjack.Logger{
				Filename:   config.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			},
		})
	}

	logger := zerolog.New(w).With().Timestamp()
	if config.WithCaller {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()
	zerolog.SetGlobalLevel(level)
	return nil
}
