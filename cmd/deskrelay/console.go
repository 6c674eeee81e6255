package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/postalsys/deskrelay/internal/agent"
	"github.com/postalsys/deskrelay/internal/coords"
	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/prompt"
	"github.com/postalsys/deskrelay/internal/protocol"
)

const consoleHelp = `commands:
  list                          show bound sessions
  chat <client> <text>          send a chat line
  run <client> <command> [arg]  run a system command (cmd, explorer, reboot, ...)
  quality <client> <1-100>      change JPEG quality
  depth <client> <true|256|64>  change color depth
  monitor <client> <n>          stream another monitor
  move <client> <x> <y>         move the pointer to a point of the tile
  click <client> <x> <y> [right]
                                click at a point of the tile
  key <client> <code> [key]     press and release a key
  resize <width> <height>       resize the session surface
  code                          show the auth code
  help                          show this text`

// sessionCommands is the subset of the agent the console drives.
type sessionCommands interface {
	AuthCode() (string, int)
	SendChat(ctx context.Context, clientID, text string) error
	SendSettings(ctx context.Context, clientID string, set protocol.Settings) error
	SendSystemCommand(ctx context.Context, clientID, command, params string) error
	SendMouse(ctx context.Context, clientID, action string, p coords.Point, delta int) error
	SendKey(ctx context.Context, clientID, action string, keyCode int, key string, mods protocol.Modifiers) error
}

// runConsole reads commands from r until it is exhausted or ctx ends.
func runConsole(ctx context.Context, a *agent.Agent, r io.Reader, w io.Writer, logger *slog.Logger) {
	c := &console{
		cmds: a,
		list: func() string {
			return prompt.SessionTable(sessionRows(a.Sessions().Sessions()), a.Sessions().Max(), time.Now())
		},
		resolve: func(prefix string) (string, error) {
			var match string
			for _, s := range a.Sessions().Sessions() {
				if strings.HasPrefix(s.ID(), prefix) {
					if match != "" {
						return "", fmt.Errorf("client %q is ambiguous", prefix)
					}
					match = s.ID()
				}
			}
			if match == "" {
				return "", agent.ErrNoSession
			}
			return match, nil
		},
		resize: a.Sessions().Resize,
		out:    w,
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := c.exec(ctx, sc.Text()); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
	if err := sc.Err(); err != nil {
		logger.Debug("console input closed", logging.KeyError, err)
	}
}

type console struct {
	cmds    sessionCommands
	list    func() string
	resolve func(prefix string) (string, error)
	resize  func(width, height float64)
	out     io.Writer
}

var errUsage = errors.New("usage error, type help")

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
		return nil
	case "list", "ls":
		fmt.Fprint(c.out, c.list())
		return nil
	case "code":
		code, id := c.cmds.AuthCode()
		if code == "" {
			return agent.ErrNotRegistered
		}
		fmt.Fprintln(c.out, prompt.AuthCodeCard(code, id))
		return nil
	case "resize":
		if len(fields) != 3 {
			return errUsage
		}
		w, errW := strconv.ParseFloat(fields[1], 64)
		h, errH := strconv.ParseFloat(fields[2], 64)
		if errW != nil || errH != nil || w <= 0 || h <= 0 {
			return fmt.Errorf("invalid surface size %sx%s", fields[1], fields[2])
		}
		c.resize(w, h)
		return nil
	}

	if len(fields) < 3 {
		return errUsage
	}
	clientID, err := c.resolve(fields[1])
	if err != nil {
		return err
	}

	switch fields[0] {
	case "chat":
		text := strings.Join(fields[2:], " ")
		return c.cmds.SendChat(ctx, clientID, text)
	case "run":
		params := ""
		if len(fields) > 3 {
			params = strings.Join(fields[3:], " ")
		}
		return c.cmds.SendSystemCommand(ctx, clientID, fields[2], params)
	case "quality":
		q, err := strconv.Atoi(fields[2])
		if err != nil || q < 1 || q > 100 {
			return fmt.Errorf("quality must be 1-100, got %q", fields[2])
		}
		return c.cmds.SendSettings(ctx, clientID, protocol.Settings{Quality: q})
	case "depth":
		switch fields[2] {
		case protocol.ColorDepthTrue, protocol.ColorDepth256, protocol.ColorDepth64:
		default:
			return fmt.Errorf("unknown color depth %q", fields[2])
		}
		return c.cmds.SendSettings(ctx, clientID, protocol.Settings{ColorDepth: fields[2]})
	case "monitor":
		m, err := strconv.Atoi(fields[2])
		if err != nil || m < 0 {
			return fmt.Errorf("invalid monitor %q", fields[2])
		}
		return c.cmds.SendSettings(ctx, clientID, protocol.Settings{MonitorIndex: &m})
	case "move", "click":
		if len(fields) < 4 {
			return errUsage
		}
		p, err := parsePoint(fields[2], fields[3])
		if err != nil {
			return err
		}
		if fields[0] == "move" {
			return c.cmds.SendMouse(ctx, clientID, protocol.MouseMove, p, 0)
		}
		down, up := protocol.MouseLeftDown, protocol.MouseLeftUp
		if len(fields) > 4 {
			switch fields[4] {
			case "left":
			case "right":
				down, up = protocol.MouseRightDown, protocol.MouseRightUp
			default:
				return fmt.Errorf("unknown button %q", fields[4])
			}
		}
		if err := c.cmds.SendMouse(ctx, clientID, down, p, 0); err != nil {
			return err
		}
		return c.cmds.SendMouse(ctx, clientID, up, p, 0)
	case "key":
		code, err := strconv.Atoi(fields[2])
		if err != nil || code <= 0 {
			return fmt.Errorf("invalid key code %q", fields[2])
		}
		key := ""
		if len(fields) > 3 {
			key = fields[3]
		}
		return c.cmds.SendKey(ctx, clientID, protocol.KeyPress, code, key, protocol.Modifiers{})
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func parsePoint(xs, ys string) (coords.Point, error) {
	x, errX := strconv.Atoi(xs)
	y, errY := strconv.Atoi(ys)
	if errX != nil || errY != nil || x < 0 || y < 0 {
		return coords.Point{}, fmt.Errorf("invalid point %s,%s", xs, ys)
	}
	return coords.Point{X: x, Y: y}, nil
}
