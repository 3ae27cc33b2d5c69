package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sam-hudson02/wallsync-client/internal/cache"
	"github.com/sam-hudson02/wallsync-client/internal/config"
	"github.com/sam-hudson02/wallsync-client/internal/scan"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show identity, relay address and cache usage",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c, err := cache.New(cfg.CacheDir, cfg.MaxCacheSize)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	size, count, err := c.Stats()
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}

	id := cfg.Identity()
	if id == config.NewClientID {
		id += " (not registered)"
	}
	limit := "unlimited"
	if cfg.MaxCacheSize > 0 {
		limit = formatMB(cfg.MaxCacheSize)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Config:\t%s\n", cfg.Path())
	fmt.Fprintf(w, "ID:\t%s\n", id)
	fmt.Fprintf(w, "Name:\t%s\n", cfg.Name)
	fmt.Fprintf(w, "Relay:\t%s\n", cfg.WSURL())
	fmt.Fprintf(w, "Command:\t%s\n", cfg.Command)
	fmt.Fprintf(w, "Cache:\t%s\n", c.Dir())
	fmt.Fprintf(w, "Cache usage:\t%s / %s (%d files)\n", formatMB(size), limit, count)
	for _, dir := range cfg.Sync {
		images, err := scan.Images(dir)
		if err != nil {
			fmt.Fprintf(w, "Sync folder:\t%s (%v)\n", dir, err)
			continue
		}
		fmt.Fprintf(w, "Sync folder:\t%s (%d images)\n", dir, len(images))
	}
	return w.Flush()
}

func formatMB(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}
