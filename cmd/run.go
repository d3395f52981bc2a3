package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sitebuild/internal/config"
	"github.com/conneroisu/sitebuild/internal/logging"
	"github.com/conneroisu/sitebuild/internal/site"
)

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config, cmd *cobra.Command) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	}), nil
}

// loadSite loads the configuration and assembles the site.
func loadSite(cmd *cobra.Command) (*site.Site, logging.Logger, error) {
	if err := SetViperBindings(cmd, serverFlagBindings); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cfg, cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	s, err := site.New(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up tasks: %w", err)
	}
	return s, logger, nil
}

// runTask runs one task and, when it started the dev server or the watcher,
// keeps the process alive until interrupted.
func runTask(cmd *cobra.Command, name string) error {
	s, logger, err := loadSite(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx, name); err != nil {
		stop()
		// Services that did start still need to wind down.
		_ = s.Wait()
		return err
	}

	if !s.Background() {
		return nil
	}
	logger.Info(ctx, "Running until interrupted, press Ctrl+C to stop")
	<-ctx.Done()
	return s.Wait()
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
