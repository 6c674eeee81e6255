package input

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/postalsys/deskrelay/internal/protocol"
)

// Runner executes an external program.
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs the program with os/exec and includes its output in
// the error.
func ExecRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Xdotool injects events on X11 desktops through the xdotool binary.
type Xdotool struct {
	run Runner
}

// NewXdotool returns an injector using run, or ExecRunner when nil. It
// fails when xdotool is not installed and run is nil.
func NewXdotool(run Runner) (*Xdotool, error) {
	if run == nil {
		if _, err := exec.LookPath("xdotool"); err != nil {
			return nil, fmt.Errorf("xdotool not found: %w", err)
		}
		run = ExecRunner
	}
	return &Xdotool{run: run}, nil
}

// Mouse moves the pointer and then presses, releases or scrolls.
func (x *Xdotool) Mouse(ctx context.Context, ev protocol.MouseEvent) error {
	move := []string{"mousemove", strconv.Itoa(ev.X), strconv.Itoa(ev.Y)}

	var extra []string
	switch ev.Action {
	case protocol.MouseMove:
	case protocol.MouseLeftDown, protocol.MouseDown:
		extra = []string{"mousedown", "1"}
	case protocol.MouseLeftUp, protocol.MouseUp:
		extra = []string{"mouseup", "1"}
	case protocol.MouseRightDown:
		extra = []string{"mousedown", "3"}
	case protocol.MouseRightUp:
		extra = []string{"mouseup", "3"}
	case protocol.MouseClick:
		extra = []string{"click", "1"}
	case protocol.MouseWheel:
		if ev.Delta == 0 {
			return nil
		}
		// Button 4 scrolls up, 5 scrolls down. One notch is 120 units.
		button := "4"
		notches := ev.Delta / 120
		if ev.Delta < 0 {
			button = "5"
			notches = -notches
		}
		if notches < 1 {
			notches = 1
		}
		extra = []string{"click", "--repeat", strconv.Itoa(notches), button}
	default:
		return fmt.Errorf("%w: mouse action %q", ErrUnsupported, ev.Action)
	}

	return x.run(ctx, "xdotool", append(move, extra...)...)
}

// Key presses or releases a key. Key names follow the browser convention
// and are translated to X keysyms.
func (x *Xdotool) Key(ctx context.Context, ev protocol.KeyboardEvent) error {
	sym := keysym(ev)
	if sym == "" {
		return fmt.Errorf("%w: key code %d", ErrUnsupported, ev.KeyCode)
	}

	var cmd string
	switch ev.Action {
	case protocol.KeyDown:
		cmd = "keydown"
	case protocol.KeyUp:
		cmd = "keyup"
	case protocol.KeyPress, "":
		cmd = "key"
		sym = withModifiers(sym, ev.Modifiers)
	default:
		return fmt.Errorf("%w: key action %q", ErrUnsupported, ev.Action)
	}
	return x.run(ctx, "xdotool", cmd, sym)
}

var namedKeys = map[string]string{
	"Enter":      "Return",
	"Backspace":  "BackSpace",
	"Tab":        "Tab",
	"Escape":     "Escape",
	"Delete":     "Delete",
	"Home":       "Home",
	"End":        "End",
	"PageUp":     "Prior",
	"PageDown":   "Next",
	"ArrowUp":    "Up",
	"ArrowDown":  "Down",
	"ArrowLeft":  "Left",
	"ArrowRight": "Right",
	"Space":      "space",
	" ":          "space",
	"Control":    "Control_L",
	"Shift":      "Shift_L",
	"Alt":        "Alt_L",
	"Meta":       "Super_L",
}

// Virtual key codes for keys without a printable name.
var virtualKeys = map[int]string{
	8:  "BackSpace",
	9:  "Tab",
	13: "Return",
	16: "Shift_L",
	17: "Control_L",
	18: "Alt_L",
	27: "Escape",
	32: "space",
	33: "Prior",
	34: "Next",
	35: "End",
	36: "Home",
	37: "Left",
	38: "Up",
	39: "Right",
	40: "Down",
	46: "Delete",
	91: "Super_L",
}

func keysym(ev protocol.KeyboardEvent) string {
	if s, ok := namedKeys[ev.Key]; ok {
		return s
	}
	if len([]rune(ev.Key)) == 1 {
		return ev.Key
	}
	if strings.HasPrefix(ev.Key, "F") {
		if n, err := strconv.Atoi(ev.Key[1:]); err == nil && n >= 1 && n <= 12 {
			return ev.Key
		}
	}
	if s, ok := virtualKeys[ev.KeyCode]; ok {
		return s
	}
	switch {
	case ev.KeyCode >= '0' && ev.KeyCode <= '9':
		return string(rune(ev.KeyCode))
	case ev.KeyCode >= 'A' && ev.KeyCode <= 'Z':
		return strings.ToLower(string(rune(ev.KeyCode)))
	case ev.KeyCode >= 112 && ev.KeyCode <= 123:
		return "F" + strconv.Itoa(ev.KeyCode-111)
	}
	return ""
}

func withModifiers(sym string, m protocol.Modifiers) string {
	var parts []string
	if m.Ctrl {
		parts = append(parts, "ctrl")
	}
	if m.Alt {
		parts = append(parts, "alt")
	}
	if m.Shift {
		parts = append(parts, "shift")
	}
	if m.Win {
		parts = append(parts, "super")
	}
	return strings.Join(append(parts, sym), "+")
}
