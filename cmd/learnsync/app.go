package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"example.com/learnsync/internal/adapter"
	"example.com/learnsync/internal/config"
	"example.com/learnsync/internal/identity"
	"example.com/learnsync/internal/localstore/sqlite"
	"example.com/learnsync/internal/logging"
	"example.com/learnsync/internal/remote"
	remotememory "example.com/learnsync/internal/remote/memory"
	"example.com/learnsync/internal/remote/postgres"
	"example.com/learnsync/internal/remote/rest"
	"example.com/learnsync/internal/syncengine"
	"example.com/learnsync/internal/telemetry"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	store   *sqlite.Store
	remote  remote.Client
	session *identity.Session
	engine  *syncengine.Engine

	closers []io.Closer
}

func newApp(ctx context.Context, console bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Console: console})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	a.store, err = sqlite.Open(ctx, sqlite.Config{Path: cfg.LocalDBPath})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open local store: %w", err)
	}
	a.closers = append(a.closers, a.store)

	a.session = identity.NewSession(identity.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	if cfg.SessionTokenFile != "" {
		if err := loadTokenFile(a.session, cfg.SessionTokenFile); err != nil {
			logger.Warn().Err(err).Str("path", cfg.SessionTokenFile).Msg("session token not loaded")
		}
	}

	a.remote, err = a.connectRemote(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []syncengine.Option{
		syncengine.WithLogger(logger.With().Str("component", "syncengine").Logger()),
		syncengine.WithCallTimeout(cfg.SyncCallTimeout),
		syncengine.WithBatchSize(cfg.SyncBatchSize),
		syncengine.WithLeaderboardSize(cfg.LeaderboardSize),
	}
	if cfg.OwnerFormat == "uuid" {
		opts = append(opts, syncengine.WithOwnerParser(adapter.UUIDOwners))
	}
	if cfg.TelemetryEnabled() {
		producer := telemetry.NewKafkaProducer(cfg.KafkaBrokers,
			telemetry.WithTopicSettings(cfg.TelemetryTopic, telemetry.TopicSettings{FlushInterval: cfg.TelemetryFlush}))
		a.closers = append(a.closers, producer)
		registry := telemetry.NewSchemaRegistryClient(cfg.SchemaRegistryURL, nil)
		publisher := telemetry.NewPublisher(producer, registry, cfg.TelemetryTopic, deviceID(cfg),
			telemetry.WithPublisherLogger(logger.With().Str("component", "telemetry").Logger()))
		opts = append(opts, syncengine.WithObserver(publisher))
	}
	a.engine = syncengine.New(a.store, a.remote, a.session, opts...)
	return a, nil
}

func (a *app) connectRemote(ctx context.Context) (remote.Client, error) {
	switch a.cfg.RemoteKind {
	case config.RemotePostgres:
		pool, err := postgres.Connect(ctx, a.cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, closerFunc(func() error { pool.Close(); return nil }))
		return postgres.NewClient(pool), nil
	case config.RemoteREST:
		return rest.NewClient(a.cfg.RESTURL, rest.WithAPIKey(a.cfg.RESTAPIKey), rest.WithTokenSource(a.session)), nil
	case config.RemoteMemory:
		a.logger.Warn().Msg("using in-memory remote; pushed records are lost on exit")
		return remotememory.New(), nil
	default:
		return nil, fmt.Errorf("unknown remote kind %q", a.cfg.RemoteKind)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadTokenFile(session *identity.Session, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = session.SetToken(strings.TrimSpace(string(data)))
	return err
}

func deviceID(cfg config.Config) string {
	if cfg.DeviceID != "" {
		return cfg.DeviceID
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
