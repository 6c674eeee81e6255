// Package config provides configuration parsing and validation for deskrelay.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/deskrelay/internal/session"
)

// Config represents the complete configuration of every deskrelay role.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Agent  AgentConfig  `yaml:"agent"`
	Relay  RelayConfig  `yaml:"relay"`
	Health HealthConfig `yaml:"health"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig describes the relay connection used by clients and agents.
type ServerConfig struct {
	URL                string          `yaml:"url"`
	ConnectTimeout     time.Duration   `yaml:"connect_timeout"`
	HeartbeatInterval  time.Duration   `yaml:"heartbeat_interval"`
	SettleDelay        time.Duration   `yaml:"settle_delay"`
	CloseTimeout       time.Duration   `yaml:"close_timeout"`
	InsecureSkipVerify bool            `yaml:"insecure_skip_verify"`
	CA                 string          `yaml:"ca"`
	Reconnect          ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig defines reconnection behavior.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
	MaxRetries   int           `yaml:"max_retries"` // 0 = infinite
}

// ClientConfig configures the controlled side.
type ClientConfig struct {
	Name     string        `yaml:"name"`
	AuthCode string        `yaml:"auth_code"`
	VaultDir string        `yaml:"vault_dir"`
	Capture  CaptureConfig `yaml:"capture"`
}

// CaptureConfig configures the screen streamer.
type CaptureConfig struct {
	Interval        time.Duration `yaml:"interval"`
	Quality         int           `yaml:"quality"`
	ColorDepth      string        `yaml:"color_depth"`
	CaptureCursor   bool          `yaml:"capture_cursor"`
	Monitor         int           `yaml:"monitor"`
	NetworkPriority bool          `yaml:"network_priority"`
	MaxBandwidth    string        `yaml:"max_bandwidth"`
	Encrypt         bool          `yaml:"encrypt"`
}

// AgentConfig configures the controlling side.
type AgentConfig struct {
	Name        string        `yaml:"name"`
	DataDir     string        `yaml:"data_dir"`
	MaxSessions int           `yaml:"max_sessions"`
	Display     DisplayConfig `yaml:"display"`
}

// DisplayConfig is the area session surfaces are laid out in.
type DisplayConfig struct {
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	Spacing int `yaml:"spacing"`
	Padding int `yaml:"padding"`
}

// RelayConfig configures the development relay.
type RelayConfig struct {
	Address string        `yaml:"address"`
	Path    string        `yaml:"path"`
	CodeTTL time.Duration `yaml:"code_ttl"`
	TLS     TLSConfig     `yaml:"tls"`
}

// TLSConfig holds certificate file paths. Both empty means plain HTTP.
type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			URL:               "ws://127.0.0.1:8080/ws",
			ConnectTimeout:    30 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			SettleDelay:       1 * time.Second,
			CloseTimeout:      1 * time.Second,
			Reconnect: ReconnectConfig{
				InitialDelay: 1 * time.Second,
				MaxDelay:     60 * time.Second,
				Multiplier:   2.0,
				Jitter:       0.2,
				MaxRetries:   0,
			},
		},
		Client: ClientConfig{
			Capture: CaptureConfig{
				Interval:     100 * time.Millisecond,
				Quality:      75,
				ColorDepth:   "true",
				MaxBandwidth: "2MiB",
			},
		},
		Agent: AgentConfig{
			Name:        "",
			DataDir:     "./data",
			MaxSessions: session.MaxSessions,
			Display: DisplayConfig{
				Width:   session.DefaultWidth,
				Height:  session.DefaultHeight,
				Spacing: session.DefaultSpacing,
				Padding: session.DefaultPadding,
			},
		},
		Relay: RelayConfig{
			Address: ":8080",
			Path:    "/ws",
			CodeTTL: 24 * time.Hour,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      ":8081",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	// Server
	if err := validateURL(c.Server.URL); err != nil {
		errs = append(errs, fmt.Sprintf("server.url: %v", err))
	}
	if c.Server.ConnectTimeout <= 0 {
		errs = append(errs, "server.connect_timeout must be positive")
	}
	if c.Server.CloseTimeout <= 0 {
		errs = append(errs, "server.close_timeout must be positive")
	}
	if c.Server.SettleDelay < 0 {
		errs = append(errs, "server.settle_delay must not be negative")
	}
	r := c.Server.Reconnect
	if r.InitialDelay <= 0 {
		errs = append(errs, "server.reconnect.initial_delay must be positive")
	}
	if r.MaxDelay < r.InitialDelay {
		errs = append(errs, "server.reconnect.max_delay must be >= initial_delay")
	}
	if r.Multiplier < 1 {
		errs = append(errs, "server.reconnect.multiplier must be at least 1")
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		errs = append(errs, "server.reconnect.jitter must be between 0 and 1")
	}
	if r.MaxRetries < 0 {
		errs = append(errs, "server.reconnect.max_retries must not be negative")
	}

	// Client
	if c.Client.AuthCode != "" && !isValidAuthCode(c.Client.AuthCode) {
		errs = append(errs, "client.auth_code must be 6 digits")
	}
	capt := c.Client.Capture
	if capt.Interval <= 0 {
		errs = append(errs, "client.capture.interval must be positive")
	}
	if capt.Quality < 1 || capt.Quality > 100 {
		errs = append(errs, fmt.Sprintf("invalid client.capture.quality: %d (must be 1-100)", capt.Quality))
	}
	if !isValidColorDepth(capt.ColorDepth) {
		errs = append(errs, fmt.Sprintf("invalid client.capture.color_depth: %s (must be 64, 256, or true)", capt.ColorDepth))
	}
	if capt.Monitor < 0 {
		errs = append(errs, "client.capture.monitor must not be negative")
	}
	if capt.MaxBandwidth != "" {
		if _, err := ParseSize(capt.MaxBandwidth); err != nil {
			errs = append(errs, fmt.Sprintf("client.capture.max_bandwidth: %v", err))
		}
	}

	// Agent
	if c.Agent.DataDir == "" {
		errs = append(errs, "agent.data_dir is required")
	}
	if c.Agent.MaxSessions < 1 {
		errs = append(errs, "agent.max_sessions must be positive")
	}
	d := c.Agent.Display
	if d.Width <= 0 || d.Height <= 0 {
		errs = append(errs, "agent.display width and height must be positive")
	}
	if d.Spacing < 0 || d.Padding < 0 {
		errs = append(errs, "agent.display spacing and padding must not be negative")
	}

	// Relay
	if c.Relay.Address == "" {
		errs = append(errs, "relay.address is required")
	}
	if !strings.HasPrefix(c.Relay.Path, "/") {
		errs = append(errs, "relay.path must start with /")
	}
	if (c.Relay.TLS.Cert == "") != (c.Relay.TLS.Key == "") {
		errs = append(errs, "relay.tls requires both cert and key")
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	}
	return false
}

func isValidColorDepth(depth string) bool {
	switch depth {
	case "64", "256", "true":
		return true
	}
	return false
}

func isValidAuthCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// ParseSize parses a human-readable size such as "2MiB", "500KB" or
// "1048576" to bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size format '%s': %w", s, err)
	}

	return int64(bytes), nil
}

// MaxBandwidthBytes returns client.capture.max_bandwidth in bytes per
// second, or zero when unset.
func (c *Config) MaxBandwidthBytes() int64 {
	if c.Client.Capture.MaxBandwidth == "" {
		return 0
	}
	n, err := ParseSize(c.Client.Capture.MaxBandwidth)
	if err != nil {
		return 0
	}
	return n
}

// String returns a string representation of the config (for debugging).
// The auth code and TLS key path are redacted.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with sensitive values redacted.
func (c *Config) Redacted() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	if redacted.Client.AuthCode != "" {
		redacted.Client.AuthCode = redactedValue
	}
	if redacted.Relay.TLS.Key != "" {
		redacted.Relay.TLS.Key = redactedValue
	}

	return redacted
}
