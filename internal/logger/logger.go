// Package logger sets up the process-wide zerolog logger with console output and rotated log files.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string
	LogDir     string
	File       string
	Console    bool
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		LogDir:     "logs",
		File:       "crawlctl.log",
		Console:    true,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// Init builds the logger, installs it as log.Logger and returns it. An empty LogDir
// disables file output.
func Init(cfg Config) (zerolog.Logger, error) {
	return initWithConsole(cfg, os.Stderr)
}

func initWithConsole(cfg Config, console io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.RFC3339,
		})
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return zerolog.Nop(), err
		}

		name := cfg.File
		if name == "" {
			name = "crawlctl.log"
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))

		writers = append(writers,
			rotated(cfg, filepath.Join(cfg.LogDir, name)),
			&FilteredWriter{
				Writer:   rotated(cfg, filepath.Join(cfg.LogDir, base+"_error.log")),
				MinLevel: zerolog.ErrorLevel,
			},
		)
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Logger()

	log.Logger = logger

	logger.Debug().
		Str("level", level.String()).
		Str("log_dir", cfg.LogDir).
		Msg("logger initialized")

	return logger, nil
}

func rotated(cfg Config, filename string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

// FilteredWriter only passes through events at MinLevel or above.
type FilteredWriter struct {
	Writer   io.Writer
	MinLevel zerolog.Level
}

// Write drops level-less writes; zerolog always calls WriteLevel through MultiLevelWriter.
func (w *FilteredWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (w *FilteredWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level >= w.MinLevel && level != zerolog.NoLevel {
		return w.Writer.Write(p)
	}

	return len(p), nil
}
