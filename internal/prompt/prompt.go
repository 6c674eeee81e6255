// Package prompt holds the interactive terminal pieces: the auth code
// form, the setup wizard and the styled banners the agent prints.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/postalsys/deskrelay/internal/authcode"
	"github.com/postalsys/deskrelay/internal/config"
	"gopkg.in/yaml.v3"
)

// Roles a setup can configure.
const (
	RoleClient = "client"
	RoleAgent  = "agent"
)

// AskAuthCode asks for the six digit code shown on the agent.
func AskAuthCode() (string, error) {
	var code string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Join a support session").
				Description("Enter the 6 digit code displayed by the person helping you."),

			huh.NewInput().
				Title("Auth code").
				Placeholder("123456").
				CharLimit(authcode.Length).
				Value(&code).
				Validate(validateAuthCode),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		return "", err
	}
	return authcode.Normalize(code)
}

func validateAuthCode(s string) error {
	if !authcode.Valid(strings.TrimSpace(s)) {
		return fmt.Errorf("the code is 6 digits")
	}
	return nil
}

// SetupResult is what the setup wizard produced.
type SetupResult struct {
	Config     *config.Config
	ConfigPath string
	Role       string
}

// Answers are the values the setup wizard collects.
type Answers struct {
	Role       string
	ServerURL  string
	Name       string
	ConfigPath string
	DataDir    string
	Quality    string
	ColorDepth string
	Health     bool
}

// DefaultAnswers returns the values pre-filled in the wizard.
func DefaultAnswers() Answers {
	return Answers{
		Role:       RoleClient,
		ServerURL:  config.Default().Server.URL,
		ConfigPath: "./deskrelay.yaml",
		DataDir:    "./data",
		Quality:    "75",
		ColorDepth: "true",
	}
}

// Setup runs the interactive setup wizard and writes the config file.
func Setup() (*SetupResult, error) {
	fmt.Println(Banner("Setup"))

	a := DefaultAnswers()
	if h, err := os.Hostname(); err == nil {
		a.Name = h
	}

	basic := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Role").
				Description("Which side of the session does this machine run?").
				Options(
					huh.NewOption("Client (share this screen)", RoleClient),
					huh.NewOption("Agent (view and control clients)", RoleAgent),
				).
				Value(&a.Role),

			huh.NewInput().
				Title("Relay URL").
				Placeholder("wss://relay.example.com/ws").
				Value(&a.ServerURL).
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "ws://") && !strings.HasPrefix(s, "wss://") {
						return fmt.Errorf("URL must start with ws:// or wss://")
					}
					return nil
				}),

			huh.NewInput().
				Title("Display name").
				Value(&a.Name),

			huh.NewInput().
				Title("Config file path").
				Value(&a.ConfigPath).
				Validate(func(s string) error {
					if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
						return fmt.Errorf("config file should have .yaml or .yml extension")
					}
					return nil
				}),
		),
	).WithTheme(huh.ThemeDracula())

	if err := basic.Run(); err != nil {
		return nil, err
	}

	var detail *huh.Form
	if a.Role == RoleClient {
		detail = huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Image quality").
					Options(
						huh.NewOption("Low (40)", "40"),
						huh.NewOption("Normal (75)", "75"),
						huh.NewOption("High (90)", "90"),
					).
					Value(&a.Quality),

				huh.NewSelect[string]().
					Title("Color depth").
					Options(
						huh.NewOption("True color", "true"),
						huh.NewOption("256 colors", "256"),
						huh.NewOption("64 colors", "64"),
					).
					Value(&a.ColorDepth),
			),
		).WithTheme(huh.ThemeDracula())
	} else {
		detail = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Data directory").
					Description("Where the agent identity is stored").
					Value(&a.DataDir),

				huh.NewConfirm().
					Title("Enable health endpoint?").
					Value(&a.Health),
			),
		).WithTheme(huh.ThemeDracula())
	}
	if err := detail.Run(); err != nil {
		return nil, err
	}

	cfg, err := BuildConfig(a)
	if err != nil {
		return nil, err
	}
	if err := WriteConfig(cfg, a.ConfigPath); err != nil {
		return nil, err
	}

	fmt.Println(Summary(a))
	return &SetupResult{Config: cfg, ConfigPath: a.ConfigPath, Role: a.Role}, nil
}

// BuildConfig turns wizard answers into a validated configuration.
func BuildConfig(a Answers) (*config.Config, error) {
	cfg := config.Default()
	cfg.Server.URL = a.ServerURL

	switch a.Role {
	case RoleClient:
		cfg.Client.Name = a.Name
		if a.Quality != "" {
			var q int
			if _, err := fmt.Sscanf(a.Quality, "%d", &q); err != nil {
				return nil, fmt.Errorf("invalid quality %q", a.Quality)
			}
			cfg.Client.Capture.Quality = q
		}
		if a.ColorDepth != "" {
			cfg.Client.Capture.ColorDepth = a.ColorDepth
		}
	case RoleAgent:
		cfg.Agent.Name = a.Name
		if a.DataDir != "" {
			cfg.Agent.DataDir = a.DataDir
		}
		cfg.Health.Enabled = a.Health
	default:
		return nil, fmt.Errorf("unknown role %q", a.Role)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteConfig writes cfg as YAML, creating parent directories.
func WriteConfig(cfg *config.Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := "# deskrelay configuration\n# Generated by setup wizard\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
