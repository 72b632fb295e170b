// Package cli holds the start-up and exit handling shared by the
// conversion binaries.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ekisa-team/modelconv/internal/config"
	"github.com/ekisa-team/modelconv/internal/converter"
	"github.com/ekisa-team/modelconv/internal/env"
	"github.com/ekisa-team/modelconv/internal/logger"
)

const dotenvFile = ".env"

// Flags are accepted by every binary.
type Flags struct {
	ConfigPath string
	SchemaPath string
	Verbose    bool
}

// RegisterFlags adds the shared flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file (default "+config.DefaultConfigFile()+")")
	fs.StringVar(&f.SchemaPath, "schema", "", "Path to a JSON schema overriding the built-in one")
	fs.BoolVar(&f.Verbose, "verbose", false, "Log debug messages")
	return f
}

// App is a bootstrapped binary.
type App struct {
	Name   string
	RunID  string
	Env    env.Environment
	Config *config.Config
	Tools  *converter.Toolbox
}

// Bootstrap loads .env, configures the default logger and reads the
// config. An explicit -config must exist; the default location may be absent.
// Console progress goes to stdout.
func Bootstrap(name string, flags *Flags, stdout io.Writer, opts ...logger.Option) (*App, error) {
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", dotenvFile, err)
	}

	environment := env.FromEnv()
	runID := uuid.NewString()

	logOpts := []logger.Option{
		logger.WithLogToFile(true),
		logger.WithLogFile(filepath.Join("logs", name+".log")),
	}
	if !flags.Verbose {
		logOpts = append(logOpts, logger.WithLevel(slog.LevelInfo))
	}
	logOpts = append(logOpts, opts...)

	slog.SetDefault(logger.New(environment, logOpts...).With("tool", name, "run_id", runID))

	var (
		cfg *config.Config
		err error
	)
	if flags.ConfigPath != "" {
		cfg, err = config.LoadAndValidate(flags.ConfigPath, flags.SchemaPath)
	} else {
		cfg, err = config.LoadOrDefault(config.DefaultConfigFile(), flags.SchemaPath)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("Started", "env", environment, "models_path", cfg.ModelsPath())

	return &App{
		Name:   name,
		RunID:  runID,
		Env:    environment,
		Config: cfg,
		Tools:  converter.NewToolbox(cfg, stdout),
	}, nil
}

// Context returns a context canceled by SIGINT or SIGTERM.
func Context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Exit prints err and returns the process exit code.
func Exit(w io.Writer, err error) int {
	if err == nil {
		return 0
	}

	slog.Error("Failed", "error", err)
	fmt.Fprintf(w, "\n✗ Error: %v\n", err)
	return 1
}
