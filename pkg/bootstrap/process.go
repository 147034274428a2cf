// Package bootstrap holds the startup and shutdown sequence shared by every
// binary: environment loading, config, logger, and the long-lived clients
// that must be closed on exit.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/migrate"
	"github.com/angelmondragon/fulfillment-engine/pkg/redis"
)

type closer struct {
	name string
	c    io.Closer
}

type Process struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger

	closers []closer
	exit    func(int)
}

// Start loads .env when present, then config, and returns a process logging
// at the configured level.
func Start(name string) (*Process, error) {
	boot := logger.New(logger.Options{ServiceName: name})
	if err := godotenv.Load(); err != nil {
		boot.Debug(context.Background(), ".env not loaded, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = name

	return &Process{
		Name:   name,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: name,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
		}),
		exit: os.Exit,
	}, nil
}

// Must exits with a plain stderr line when Start fails, since no configured
// logger exists yet.
func Must(p *Process, err error) *Process {
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	return p
}

// Defer registers c to be closed by Shutdown, newest first.
func (p *Process) Defer(name string, c io.Closer) {
	p.closers = append(p.closers, closer{name: name, c: c})
}

func (p *Process) Shutdown(ctx context.Context) error {
	var errs error
	for i := len(p.closers) - 1; i >= 0; i-- {
		cl := p.closers[i]
		if err := cl.c.Close(); err != nil {
			p.Logger.Error(p.Logger.WithField(ctx, "resource", cl.name), "close failed", err)
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", cl.name, err))
		}
	}
	p.closers = nil
	return errs
}

// Fatal logs err, releases everything registered with Defer and exits 1.
func (p *Process) Fatal(ctx context.Context, msg string, err error) {
	p.Logger.Error(ctx, msg, err)
	_ = p.Shutdown(ctx)
	p.exit(1)
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the process
// fields every entry should log.
func (p *Process) SignalContext(fields map[string]any) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	base := map[string]any{"env": p.Config.App.Env, "service_kind": p.Name}
	for k, v := range fields {
		base[k] = v
	}
	return p.Logger.WithFields(ctx, base), stop
}

// OpenDB connects to the database and applies embedded migrations when
// auto-migrate is enabled for the environment.
func (p *Process) OpenDB(ctx context.Context) (*db.Client, error) {
	client, err := db.New(ctx, p.Config.DB, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	p.Defer("database", client)
	if err := migrate.MaybeRunDev(ctx, p.Config, p.Logger, client); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return client, nil
}

func (p *Process) OpenRedis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, p.Config.Redis, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}
	p.Defer("redis", client)
	return client, nil
}
