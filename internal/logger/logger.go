package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ekisa-team/modelconv/internal/env"
)

const defaultLogFile = "logs/modelconv.log"

type options struct {
	console    io.Writer
	logFile    string
	level      *slog.Level
	logToFile  bool
	maxSizeMB  int
	maxBackups int
}

// Option configures the logger.
type Option func(*options)

// WithLogToFile enables the rotating JSON log file.
func WithLogToFile(enabled bool) Option {
	return func(o *options) {
		o.logToFile = enabled
	}
}

// WithLogFile sets the path of the rotating log file.
func WithLogFile(path string) Option {
	return func(o *options) {
		o.logFile = path
	}
}

// WithConsole sets the writer used for console logs. Defaults to stderr.
func WithConsole(w io.Writer) Option {
	return func(o *options) {
		o.console = w
	}
}

// WithLevel overrides the level derived from the environment.
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		o.level = &level
	}
}

// New builds a slog.Logger for the given environment.
func New(environment env.Environment, opts ...Option) *slog.Logger {
	o := &options{
		console:    os.Stderr,
		logFile:    defaultLogFile,
		maxSizeMB:  10,
		maxBackups: 3,
	}
	for _, opt := range opts {
		opt(o)
	}

	level := slog.LevelDebug
	if environment.IsProduction() {
		level = slog.LevelInfo
	}
	if o.level != nil {
		level = *o.level
	}

	console := tint.NewHandler(o.console, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    environment != env.Development,
	})

	if !o.logToFile {
		return slog.New(console)
	}

	file := slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   o.logFile,
		MaxSize:    o.maxSizeMB,
		MaxBackups: o.maxBackups,
		MaxAge:     28,
		Compress:   true,
	}, &slog.HandlerOptions{Level: level})

	return slog.New(fanout{console, file})
}
