package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/postalsys/deskrelay/internal/health"
	"github.com/postalsys/deskrelay/internal/relay"
	"github.com/postalsys/deskrelay/internal/transport"
)

func relayCmd(g *globalFlags) *cobra.Command {
	var (
		listen     string
		selfSigned bool
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a relay server",
		Long: `Run the relay that pairs agents with clients.

The WebSocket endpoint is served next to /health, /healthz, /ready and
/metrics on the same listener.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			if listen != "" {
				cfg.Relay.Address = listen
			}

			hub := relay.New(relay.Config{
				CodeTTL: cfg.Relay.CodeTTL,
				Logger:  logger,
				Metrics: defaultMetrics(),
			})

			srvCfg := health.ServerConfig{
				Address:     cfg.Relay.Address,
				ReadTimeout: cfg.Health.ReadTimeout,
				Logger:      logger,
			}
			if cfg.Relay.TLS.Cert != "" {
				tlsCfg, err := transport.LoadTLSConfig(cfg.Relay.TLS.Cert, cfg.Relay.TLS.Key)
				if err != nil {
					return err
				}
				srvCfg.TLSConfig = tlsCfg
			} else if selfSigned {
				certPEM, keyPEM, err := transport.GenerateSelfSignedCert("deskrelay", 365*24*time.Hour)
				if err != nil {
					return err
				}
				tlsCfg, err := transport.TLSConfigFromBytes(certPEM, keyPEM)
				if err != nil {
					return err
				}
				srvCfg.TLSConfig = tlsCfg
				logger.Warn("serving a self-signed certificate, clients need --insecure")
			}

			srv := health.NewServer(srvCfg, hub)
			srv.Handle(cfg.Relay.Path, hub)
			if err := srv.Start(); err != nil {
				return fmt.Errorf("start relay: %w", err)
			}

			scheme := "ws"
			if srvCfg.TLSConfig != nil {
				scheme = "wss"
			}
			logger.Info("relay listening",
				"address", srv.Address().String(),
				"url", fmt.Sprintf("%s://%s%s", scheme, srv.Address(), cfg.Relay.Path))

			ctx, cancel := signalContext()
			defer cancel()
			<-ctx.Done()

			logger.Info("shutting down")
			hub.Close()
			return srv.Stop()
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default from config, :8080)")

	cmd.Flags().BoolVar(&selfSigned, "self-signed", false, "Serve wss:// with a generated certificate when no cert is configured")

	return cmd
}
