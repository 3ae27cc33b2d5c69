// wallsync keeps this device's wallpaper in sync with a relay.
//
// Commands:
//   - run (default): connect, upload images from the sync folders and apply
//     wallpapers the relay sends
//   - push FILE...: upload files and wait until the relay has them
//   - status: print identity and cache usage
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sam-hudson02/wallsync-client/internal/cache"
	"github.com/sam-hudson02/wallsync-client/internal/client"
	"github.com/sam-hudson02/wallsync-client/internal/config"
	"github.com/sam-hudson02/wallsync-client/internal/logging"
	"github.com/sam-hudson02/wallsync-client/internal/transport"
	"github.com/sam-hudson02/wallsync-client/internal/wallpaper"
)

var (
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "wallsync",
	Short: "Sync wallpapers across devices through a relay",
	Long: `wallsync connects to a wallsync relay, uploads the images found in the
configured sync folders and sets the wallpaper whenever the relay announces
a new one.

Configuration is read from ` + "`" + `~/.config/wallsync/config.json` + "`" + ` (created with
defaults on first run) and WALLSYNC_* environment variables.`,
	SilenceUsage: true,
	RunE:         runClient,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (overrides config)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")

	rootCmd.AddCommand(runCmd, pushCmd, statusCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and initializes logging. Flag overrides are
// applied to the logger only; they are never written to the config file.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	lc := logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}
	if logLevel != "" {
		lc.Level = logLevel
	}
	if logFormat != "" {
		lc.Format = logFormat
	}
	if err := logging.Init(lc); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

// newClient wires the relay client for cfg.
func newClient(cfg *config.Config) (*client.Client, error) {
	c, err := cache.New(cfg.CacheDir, cfg.MaxCacheSize)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	dialer := transport.NewWebSocket(client.DefaultConnectTimeout)
	applier := wallpaper.NewShell(cfg.Command)
	return client.New(cfg, dialer, c, applier, client.Options{}), nil
}
