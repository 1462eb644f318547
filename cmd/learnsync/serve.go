package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/learnsync/internal/api"
	"example.com/learnsync/internal/domain"
	"example.com/learnsync/internal/identity"
	"example.com/learnsync/internal/syncengine"
	httptransport "example.com/learnsync/internal/transport/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local agent",
	Long: `Run the local agent: the HTTP API, the token-file watcher and the sync
triggers. A session runs at startup, whenever the signed-in identity changes,
and on every foreground tick when foreground_interval is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	service := domain.NewService(a.store, a.session)
	mux := http.NewServeMux()
	api.NewHandler(a.engine, service, a.session, logger.With().Str("component", "api").Logger()).RegisterRoutes(mux)
	if a.cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      a.cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: a.cfg.SyncCallTimeout*6 + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.RequestLogger(logger)(mux))

	if a.cfg.SessionTokenFile != "" {
		watcher, err := identity.NewTokenFileWatcher(a.cfg.SessionTokenFile, a.session,
			identity.WithWatcherLogger(logger.With().Str("component", "identity").Logger()))
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	identities, unsubscribe := a.session.Subscribe(4)
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)

	foreground := make(chan struct{}, 1)
	if a.cfg.ForegroundInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(a.cfg.ForegroundInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					select {
					case foreground <- struct{}{}:
					default:
					}
				}
			}
		})
	}

	g.Go(func() error {
		return a.engine.Run(ctx, syncengine.Triggers{IdentityChanges: identities, Foreground: foreground})
	})

	g.Go(func() error {
		logger.Info().Str("address", a.cfg.HTTPAddress).Str("remote", a.cfg.RemoteKind).Msg("learnsync agent listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Msg("learnsync agent stopped")
	return err
}
