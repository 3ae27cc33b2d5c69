package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sam-hudson02/wallsync-client/internal/logging"
	"github.com/sam-hudson02/wallsync-client/pkg/protocol"
	"github.com/sam-hudson02/wallsync-client/pkg/retry"
)

const pushPollInterval = 250 * time.Millisecond

var pushTimeout time.Duration

var pushCmd = &cobra.Command{
	Use:   "push FILE...",
	Short: "Upload images to the relay and wait until it has them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPush,
}

func init() {
	pushCmd.Flags().DurationVar(&pushTimeout, "timeout", 2*time.Minute, "Give up after this long")
}

func checkImages(paths []string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s: not a regular file", path)
		}
		if info.Size() == 0 {
			return fmt.Errorf("%s: empty file", path)
		}
		if !protocol.IsImage(path) {
			return fmt.Errorf("%s: not a png or jpeg image", path)
		}
	}
	return nil
}

func runPush(cmd *cobra.Command, args []string) error {
	if err := checkImages(args); err != nil {
		return err
	}

	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync()

	cl, err := newClient(cfg)
	if err != nil {
		return err
	}

	ready := make(chan struct{})
	var once sync.Once
	cl.OnReady(func() {
		for _, path := range args {
			if err := cl.Engine().Sync(path); err != nil {
				logging.Error("push failed", logging.String("path", path), logging.Err(err))
			}
		}
		once.Do(func() { close(ready) })
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	runCtx, stopClient := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := cl.Run(runCtx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer stopClient()
		select {
		case <-ready:
		case <-gctx.Done():
			return fmt.Errorf("waiting for relay: %w", gctx.Err())
		}
		for {
			n, err := cl.Pending(gctx)
			if err != nil {
				return fmt.Errorf("waiting for acknowledgment: %w", err)
			}
			if n == 0 {
				logging.Info("relay has all files", logging.Int("files", len(args)))
				return nil
			}
			if err := retry.Sleep(gctx, pushPollInterval); err != nil {
				return fmt.Errorf("waiting for acknowledgment (%d pending): %w", n, err)
			}
		}
	})
	return g.Wait()
}
