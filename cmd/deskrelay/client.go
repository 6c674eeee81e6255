package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/deskrelay/internal/authcode"
	"github.com/postalsys/deskrelay/internal/client"
	"github.com/postalsys/deskrelay/internal/input"
	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/prompt"
	"github.com/postalsys/deskrelay/internal/vault"
)

func clientCmd(g *globalFlags) *cobra.Command {
	var (
		code        string
		name        string
		allowReboot bool
		noInput     bool
	)

	cmd := &cobra.Command{
		Use:   "client [auth-code]",
		Short: "Share this screen with an agent",
		Long: `Join the agent that issued the auth code and stream this screen to it.

The auth code is taken from, in order: the argument, --auth-code, the
config file, a code embedded in this executable, the saved reconnect
credential, and finally an interactive prompt.

Lines typed on the terminal are sent to the agent as chat. Type
/disconnect to end the session and forget the saved credential; Ctrl-C
stops the client but keeps it for the next start.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			v, err := openVault(cfg.Client.VaultDir, logger)
			if err != nil {
				logger.Warn("reconnect credential disabled", logging.KeyError, err)
			}

			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			resolved, err := resolveAuthCode(arg, code, cfg.Client.AuthCode, v)
			if err != nil {
				return err
			}

			if name != "" {
				cfg.Client.Name = name
			}

			tc, err := transportConfig(cfg.Server)
			if err != nil {
				return err
			}

			var injector input.Injector
			if !noInput {
				injector = platformInjector(logger)
			}

			capt := cfg.Client.Capture
			m := defaultMetrics()
			c, err := client.New(client.Config{
				URL:         cfg.Server.URL,
				AuthCode:    resolved,
				Name:        cfg.Client.Name,
				Transport:   tc,
				Reconnect:   reconnectConfig(cfg.Server.Reconnect),
				SettleDelay: cfg.Server.SettleDelay,
				Capture: client.CaptureConfig{
					Interval:        capt.Interval,
					Quality:         capt.Quality,
					ColorDepth:      capt.ColorDepth,
					CaptureCursor:   capt.CaptureCursor,
					Monitor:         capt.Monitor,
					NetworkPriority: capt.NetworkPriority,
					MaxBandwidth:    cfg.MaxBandwidthBytes(),
					Encrypt:         capt.Encrypt,
				},
				Injector:  injector,
				Commander: input.NewCommander(input.CommanderConfig{AllowReboot: allowReboot, Logger: logger}),
				Vault:     v,
				OnChat: func(sender, text string) {
					fmt.Printf("[%s] %s\n", sender, text)
				},
				Logger:  logger,
				Metrics: m,
			})
			if err != nil {
				return err
			}

			stopHealth, err := startHealth(cfg.Health, c, logger)
			if err != nil {
				return err
			}
			defer stopHealth()

			ctx, cancel := signalContext()
			defer cancel()

			fmt.Println(prompt.Banner("Client"))
			if term.IsTerminal(int(os.Stdin.Fd())) {
				go chatFromStdin(ctx, os.Stdin, c, logger)
			}
			err = c.Run(ctx)
			if errors.Is(err, client.ErrAuthRejected) {
				return fmt.Errorf("the relay rejected auth code %s", resolved)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&code, "auth-code", "a", "", "Six digit auth code")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Name shown to the agent (default: hostname)")
	cmd.Flags().BoolVar(&allowReboot, "allow-reboot", false, "Allow the agent to reboot this machine")
	cmd.Flags().BoolVar(&noInput, "view-only", false, "Ignore mouse and keyboard input from the agent")

	return cmd
}

// chatSession is the part of the client the stdin loop drives.
type chatSession interface {
	SendChat(ctx context.Context, text string) error
	Disconnect()
}

// chatFromStdin sends each line read from r to the agent. The line
// /disconnect ends the session and forgets the saved credential.
func chatFromStdin(ctx context.Context, r io.Reader, c chatSession, logger *slog.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		switch text {
		case "":
			continue
		case "/disconnect":
			c.Disconnect()
			return
		}
		if err := c.SendChat(ctx, text); err != nil {
			logger.Warn("chat not sent", logging.KeyError, err)
		}
	}
}

func openVault(dir string, logger *slog.Logger) (*vault.Vault, error) {
	if dir == "" {
		var err error
		dir, err = vault.DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	return vault.New(dir, logger), nil
}

// resolveAuthCode applies the auth code priority order. A code given
// explicitly on the command line must be valid; it never falls through to
// a configured or saved one.
func resolveAuthCode(arg, flag, configured string, v *vault.Vault) (string, error) {
	for _, explicit := range []string{arg, flag} {
		if explicit == "" {
			continue
		}
		code, err := authcode.Normalize(explicit)
		if err != nil {
			return "", fmt.Errorf("invalid auth code: %w", err)
		}
		return code, nil
	}

	saved := func() string {
		if v == nil {
			return ""
		}
		code, _, ok := v.Load()
		if !ok {
			return ""
		}
		return code
	}

	if code, ok := authcode.Resolve(
		authcode.Static(configured),
		authcode.Executable(),
		saved,
	); ok {
		return code, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no auth code given and stdin is not a terminal")
	}
	return prompt.AskAuthCode()
}

// platformInjector returns the desktop input backend, or nil when none is
// available and events are only tracked.
func platformInjector(logger *slog.Logger) input.Injector {
	if runtime.GOOS != "linux" {
		logger.Warn("input injection not available on this platform, events are logged only")
		return nil
	}
	x, err := input.NewXdotool(nil)
	if err != nil {
		logger.Warn("input injection disabled", logging.KeyError, err)
		return nil
	}
	return x
}
