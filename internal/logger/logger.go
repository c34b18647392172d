package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog with optional file rotation.
type Logger struct {
	logger zerolog.Logger
}

var (
	globalLogger *Logger
	once         sync.Once
)

// Config holds logger configuration.
type Config struct {
	Path       string
	Level      string
	Format     string // "json" or "console"
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init initializes the global logger. Safe to call once at startup.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var l *Logger
		l, err = New(cfg)
		if err == nil {
			globalLogger = l
		}
	})
	return err
}

// New creates a standalone logger instance.
func New(cfg Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, err
		}
		writer = &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var zlog zerolog.Logger
	if cfg.Format == "console" {
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		zlog = zerolog.New(writer).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return &Logger{logger: zlog.Level(level)}, nil
}

// Get returns the global logger, falling back to a plain stdout logger
// if Init was never called.
func Get() *Logger {
	if globalLogger == nil {
		return &Logger{logger: zerolog.New(os.Stdout).With().Timestamp().Logger()}
	}
	return globalLogger
}

// WithComponent scopes a logger under a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", component).Logger()}
}

func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }
func (l *Logger) Fatal() *zerolog.Event { return l.logger.Fatal() }

// Raw exposes the underlying zerolog.Logger for callers that need it
// (e.g. to pass into a third-party library expecting zerolog directly).
func (l *Logger) Raw() zerolog.Logger { return l.logger }
