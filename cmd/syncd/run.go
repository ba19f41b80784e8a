package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/teamsync/internal/metrics"
	"github.com/good-yellow-bee/teamsync/pkg/config"
)

var (
	remoteAddr  string
	metricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync the configured scopes until interrupted",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().StringVarP(&remoteAddr, "remote", "r", "", "remote address (overrides config)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics", "", "metrics listen address (overrides config, enables metrics)")

	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Override with CLI flags
	if remoteAddr != "" {
		cfg.Remote.Address = remoteAddr
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = metricsAddr
	}
	cfg.Verbose = verbose

	d, err := newDaemon(cfg)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)
	log.Printf("starting syncd %s (device %s)", config.Version, cfg.Device.ID)
	log.Printf("remote %s, cache %s", cfg.Remote.Address, cfg.Cache.Path)

	if err := d.Run(ctx, configFile); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}

	log.Printf("syncd stopped")
	return nil
}
