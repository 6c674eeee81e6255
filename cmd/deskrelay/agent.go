package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/postalsys/deskrelay/internal/agent"
	"github.com/postalsys/deskrelay/internal/prompt"
	"github.com/postalsys/deskrelay/internal/session"
)

func agentCmd(g *globalFlags) *cobra.Command {
	var (
		name    string
		dataDir string
		console bool
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Control clients that join with this agent's auth code",
		Long: `Register with the relay and print the auth code clients join with.

Up to three clients are shown at once. With --console, commands read
from stdin send chat, settings and system commands to bound clients.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			if name != "" {
				cfg.Agent.Name = name
			}
			if dataDir != "" {
				cfg.Agent.DataDir = dataDir
			}

			tc, err := transportConfig(cfg.Server)
			if err != nil {
				return err
			}

			m := defaultMetrics()
			d := cfg.Agent.Display
			a, err := agent.New(agent.Config{
				URL:         cfg.Server.URL,
				Name:        cfg.Agent.Name,
				DataDir:     cfg.Agent.DataDir,
				Transport:   tc,
				Reconnect:   reconnectConfig(cfg.Server.Reconnect),
				SettleDelay: cfg.Server.SettleDelay,
				Sessions: session.Config{
					MaxSessions: cfg.Agent.MaxSessions,
					Width:       float64(d.Width),
					Height:      float64(d.Height),
					Spacing:     float64(d.Spacing),
					Padding:     float64(d.Padding),
					Logger:      logger,
					Metrics:     m,
				},
				OnAuthCode: func(code string, sessionID int) {
					fmt.Println(prompt.AuthCodeCard(code, sessionID))
				},
				OnSessions: func(sessions []*session.Session) {
					fmt.Print(prompt.SessionTable(sessionRows(sessions), cfg.Agent.MaxSessions, time.Now()))
				},
				OnChat: func(clientID, sender, text string) {
					fmt.Printf("[%s %s] %s\n", shortID(clientID), sender, text)
				},
				Logger:  logger,
				Metrics: m,
			})
			if err != nil {
				return err
			}

			stopHealth, err := startHealth(cfg.Health, a, logger)
			if err != nil {
				return err
			}
			defer stopHealth()

			ctx, cancel := signalContext()
			defer cancel()

			fmt.Println(prompt.Banner("Agent"))
			if console {
				go runConsole(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
			}
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Agent name shown to clients")
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "Directory for the persistent agent id")
	cmd.Flags().BoolVar(&console, "console", false, "Read session commands from stdin")

	return cmd
}

func sessionRows(sessions []*session.Session) []prompt.SessionRow {
	rows := make([]prompt.SessionRow, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, prompt.SessionRow{
			ClientID:   s.ID(),
			Name:       s.Client.Name,
			OS:         s.Client.OS,
			Resolution: s.Client.Resolution,
			FPS:        s.FPS.FPS(),
			Since:      s.BoundAt,
		})
	}
	return rows
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
