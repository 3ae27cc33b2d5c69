package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sam-hudson02/wallsync-client/internal/logging"
	"github.com/sam-hudson02/wallsync-client/internal/metrics"
	"github.com/sam-hudson02/wallsync-client/internal/scan"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the relay and keep the wallpaper in sync",
	Args:  cobra.NoArgs,
	RunE:  runClient,
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync()

	cl, err := newClient(cfg)
	if err != nil {
		return err
	}

	// Upload everything in the sync folders after each handshake.
	cl.OnReady(func() {
		for _, path := range scan.Folders(cfg.Sync) {
			if err := cl.Engine().Sync(path); err != nil {
				logging.Warn("sync failed", logging.String("path", path), logging.Err(err))
			}
		}
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("wallsync starting",
		logging.String("name", cfg.Name),
		logging.String("server", cfg.WSURL()),
		logging.String("cache", cfg.CacheDir))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cl.Run(ctx)
	})

	addr := cfg.MetricsAddr
	if metricsAddr != "" {
		addr = metricsAddr
	}
	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logging.Info("metrics server listening", logging.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logging.Info("shutting down")
		return nil
	}
	return err
}
