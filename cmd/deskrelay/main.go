// Package main provides the CLI entry point for deskrelay.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/postalsys/deskrelay/internal/config"
	"github.com/postalsys/deskrelay/internal/health"
	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/metrics"
	"github.com/postalsys/deskrelay/internal/sysinfo"
	"github.com/postalsys/deskrelay/internal/transport"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	serverURL  string
	insecure   bool
}

func main() {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:   "deskrelay",
		Short: "deskrelay - remote desktop sessions through a relay",
		Long: `deskrelay connects a controlling agent with up to three clients
through a WebSocket relay. Clients join with the six digit code the
agent shows, stream their screen and accept the agent's input.`,
		Version:       sysinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Path to configuration file")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format (text, json)")
	pf.StringVarP(&g.serverURL, "server", "s", "", "Relay WebSocket URL")
	pf.BoolVar(&g.insecure, "insecure", false, "Skip TLS certificate verification")

	rootCmd.AddCommand(clientCmd(&g))
	rootCmd.AddCommand(agentCmd(&g))
	rootCmd.AddCommand(relayCmd(&g))
	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(embedCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads the config file, or defaults when none was given, and applies
// command-line overrides.
func (g *globalFlags) load() (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		cfg, err = config.Load(g.configPath)
		if err != nil {
			return nil, err
		}
	}

	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if g.serverURL != "" {
		cfg.Server.URL = g.serverURL
	}
	if g.insecure {
		cfg.Server.InsecureSkipVerify = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func transportConfig(s config.ServerConfig) (transport.Config, error) {
	tc := transport.Config{
		ConnectTimeout:    s.ConnectTimeout,
		HeartbeatInterval: s.HeartbeatInterval,
		CloseTimeout:      s.CloseTimeout,
	}
	if s.CA != "" || s.InsecureSkipVerify {
		tlsCfg, err := transport.ClientTLSConfig(s.CA, s.InsecureSkipVerify)
		if err != nil {
			return tc, err
		}
		tc.TLSConfig = tlsCfg
	}
	return tc, nil
}

func reconnectConfig(r config.ReconnectConfig) transport.ReconnectConfig {
	return transport.ReconnectConfig{
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   r.Multiplier,
		MaxAttempts:  r.MaxRetries,
		Jitter:       r.Jitter,
	}
}

// startHealth starts the health server when enabled. The returned stop
// function is always safe to call.
func startHealth(cfg config.HealthConfig, provider health.StatsProvider, logger *slog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}
	srv := health.NewServer(health.ServerConfig{
		Address:      cfg.Address,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger,
	}, provider)
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("start health server: %w", err)
	}
	return func() { srv.Stop() }, nil
}

func defaultMetrics() *metrics.Metrics {
	return metrics.Default()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("deskrelay %s\n", sysinfo.Version)
			if sysinfo.Commit != "" {
				fmt.Printf("  commit:  %s\n", sysinfo.Commit)
			}
			if sysinfo.BuildDate != "" {
				fmt.Printf("  built:   %s\n", sysinfo.BuildDate)
			}
		},
	}
}
