package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/protocol"
)

var (
	// ErrUnknownCommand is returned for command names outside the protocol set.
	ErrUnknownCommand = errors.New("input: unknown system command")

	// ErrCommandDisabled is returned for reboot unless explicitly allowed.
	ErrCommandDisabled = errors.New("input: system command disabled")
)

// Commander runs a system_command.
type Commander interface {
	Run(ctx context.Context, command, params string) error
}

// invocation is one program run.
type invocation struct {
	name string
	args []string
}

// CommandTable maps each protocol command to the programs that implement
// it on one platform. Commands missing from a table are reported as
// unsupported.
type CommandTable map[string][]invocation

func run(name string, args ...string) invocation {
	return invocation{name: name, args: args}
}

// Tables per GOOS. Windows uses the shell and keyboard shortcuts the
// commands are named after; Linux maps them onto xdotool key chords and
// systemd.
var commandTables = map[string]CommandTable{
	"windows": {
		protocol.CommandStartMenu:   {run("powershell", "-NoProfile", "-Command", "(New-Object -ComObject WScript.Shell).SendKeys('^{ESC}')")},
		protocol.CommandTaskManager: {run("taskmgr")},
		protocol.CommandPrompt:      {run("cmd", "/c", "start", "cmd")},
		protocol.CommandExplorer:    {run("explorer")},
		protocol.CommandShowDesktop: {run("powershell", "-NoProfile", "-Command", "(New-Object -ComObject Shell.Application).MinimizeAll()")},
		protocol.CommandReboot:      {run("shutdown", "/r", "/t", "0")},
	},
	"linux": {
		protocol.CommandStartMenu:   {run("xdotool", "key", "super")},
		protocol.CommandTaskManager: {run("xdotool", "key", "ctrl+Escape")},
		protocol.CommandPrompt:      {run("x-terminal-emulator")},
		protocol.CommandCtrlAltDel:  {run("xdotool", "key", "ctrl+alt+Delete")},
		protocol.CommandExplorer:    {run("xdg-open", ".")},
		protocol.CommandShowDesktop: {run("xdotool", "key", "super+d")},
		protocol.CommandReboot:      {run("systemctl", "reboot")},
	},
	"darwin": {
		protocol.CommandTaskManager: {run("open", "-a", "Activity Monitor")},
		protocol.CommandPrompt:      {run("open", "-a", "Terminal")},
		protocol.CommandExplorer:    {run("open", ".")},
		protocol.CommandReboot:      {run("osascript", "-e", `tell app "System Events" to restart`)},
	},
}

// SystemCommander runs protocol system commands through a Runner.
type SystemCommander struct {
	table       CommandTable
	run         Runner
	allowReboot bool
	logger      *slog.Logger
}

// CommanderConfig configures a SystemCommander.
type CommanderConfig struct {
	// GOOS selects the command table; runtime.GOOS when empty.
	GOOS string

	// Runner executes programs; ExecRunner when nil.
	Runner Runner

	// AllowReboot permits the reboot command.
	AllowReboot bool

	Logger *slog.Logger
}

// NewCommander creates a SystemCommander.
func NewCommander(cfg CommanderConfig) *SystemCommander {
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	r := cfg.Runner
	if r == nil {
		r = ExecRunner
	}
	return &SystemCommander{
		table:       commandTables[goos],
		run:         r,
		allowReboot: cfg.AllowReboot,
		logger:      logging.Component(logging.OrNop(cfg.Logger), "commander"),
	}
}

// Run executes command. params is logged but not passed to the programs.
func (c *SystemCommander) Run(ctx context.Context, command, params string) error {
	if !knownCommand(command) {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	if command == protocol.CommandReboot && !c.allowReboot {
		return fmt.Errorf("%w: %s", ErrCommandDisabled, command)
	}
	steps, ok := c.table[command]
	if !ok {
		return fmt.Errorf("%w: %s on this platform", ErrUnsupported, command)
	}

	c.logger.Info("running system command", "command", command, "params", params)
	for _, s := range steps {
		if err := c.run(ctx, s.name, s.args...); err != nil {
			return fmt.Errorf("system command %s: %w", command, err)
		}
	}
	return nil
}

func knownCommand(command string) bool {
	switch command {
	case protocol.CommandStartMenu, protocol.CommandTaskManager, protocol.CommandPrompt,
		protocol.CommandCtrlAltDel, protocol.CommandExplorer, protocol.CommandShowDesktop,
		protocol.CommandReboot:
		return true
	}
	return false
}
