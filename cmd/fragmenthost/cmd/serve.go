package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/fragments"
	"github.com/GoCodeAlone/fragments/config"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

// NewServeCommand creates the command that runs the host until interrupted.
func NewServeCommand() *cobra.Command {
	var configPath string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fragment host",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML config file")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload the config file when it changes")
	return cmd
}

func serve(ctx context.Context, configPath string, watch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	zl, level, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	host, err := NewHost(cfg, zl, level)
	if err != nil {
		return err
	}
	if err := host.Start(ctx); err != nil {
		shutdown(host)
		return fmt.Errorf("start host: %w", err)
	}

	if watch && configPath != "" {
		w, err := config.Watch(ctx, configPath, cfg, host.ApplyConfig,
			config.WithWatchLogger(fragments.NewZapLogger(zl.Named("config"))))
		if err != nil {
			shutdown(host)
			return err
		}
		defer w.Close()
	}

	<-ctx.Done()
	return shutdown(host)
}

func shutdown(host *Host) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return host.Shutdown(ctx)
}
