package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/motorctl/internal/devicefactory"
	"github.com/srg/motorctl/pkg/config"
	"github.com/srg/motorctl/pkg/motor"
)

// adapterFactory creates the platform adapter (can be overridden in tests)
var adapterFactory = devicefactory.NewAdapter

// app carries what every command needs: configuration and a logger
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// loadApp reads --config, applies the global flags on top and builds the logger
func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

// newManager creates a manager on the configured backend
func (a *app) newManager(listener motor.Listener) (*motor.Manager, error) {
	adapter, err := adapterFactory(a.cfg.Backend, a.logger, a.cfg.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bluetooth adapter: %w", err)
	}

	m, err := motor.NewManager(adapter, listener,
		motor.WithLogger(a.logger),
		motor.WithScanWindow(a.cfg.ScanWindow),
		motor.WithServiceUUID(a.cfg.ServiceUUID),
		motor.WithCharacteristicUUID(a.cfg.CharacteristicUUID),
	)
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}
	return m, nil
}

// startManager creates a manager and runs its event pump until ctx is done.
// The returned stop function closes the manager.
func (a *app) startManager(ctx context.Context, listener motor.Listener) (*motor.Manager, func(), error) {
	m, err := a.newManager(listener)
	if err != nil {
		return nil, nil, err
	}

	go func() {
		if err := m.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.WithError(err).Error("Event pump stopped")
		}
	}()

	stop := func() {
		if err := m.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close bluetooth adapter")
		}
	}
	return m, stop, nil
}

// interruptible returns a context cancelled by Ctrl+C or SIGTERM
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
