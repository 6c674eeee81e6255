// Package sysinfo describes the local machine to the relay: host name,
// platform, screen resolution and monitor count.
package sysinfo

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/postalsys/deskrelay/internal/protocol"
)

var (
	// Version is set at build time via ldflags.
	// Example: go build -ldflags="-X github.com/postalsys/deskrelay/internal/sysinfo.Version=1.0.0"
	Version = "dev"

	// Commit and BuildDate are set at build time via ldflags.
	Commit    = ""
	BuildDate = ""

	startTime = time.Now()
)

func init() {
	if Version == "dev" {
		Version = enhanceDevVersion()
	}
}

// enhanceDevVersion appends the VCS revision recorded by the Go toolchain,
// or the start time when none is available.
func enhanceDevVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		var rev string
		dirty := false
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				rev = s.Value
			case "vcs.modified":
				dirty = s.Value == "true"
			}
		}
		if rev != "" {
			if len(rev) > 7 {
				rev = rev[:7]
			}
			if Commit == "" {
				Commit = rev
			}
			if dirty {
				return "dev-" + rev + "-dirty"
			}
			return "dev-" + rev
		}
	}
	return "dev-" + startTime.UTC().Format("20060102-150405")
}

// Collect describes this machine. width and height are the primary
// monitor's size; monitors is the number of active displays.
func Collect(name string, width, height, monitors int) protocol.ClientInfo {
	if name == "" {
		name = Hostname()
	}
	info := protocol.ClientInfo{
		Name:     name,
		OS:       runtime.GOOS + "/" + runtime.GOARCH,
		Monitors: monitors,
	}
	if width > 0 && height > 0 {
		info.Resolution = fmt.Sprintf("%dx%d", width, height)
	}
	info.Info = Describe(info)
	return info
}

// Hostname returns the host name, or "unknown".
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

// Describe renders the client_info string sent with register_client,
// for example "os=linux/amd64; resolution=1920x1080; monitors=2; version=dev-abc1234; platform=ubuntu 24.04; kernel=6.8.0".
func Describe(info protocol.ClientInfo) string {
	parts := []string{
		"os=" + info.OS,
		"resolution=" + info.Resolution,
		"monitors=" + strconv.Itoa(info.Monitors),
		"version=" + Version,
	}
	if p := Platform(); p != "" {
		parts = append(parts, "platform="+p)
	}
	if k := Kernel(); k != "" {
		parts = append(parts, "kernel="+k)
	}
	return strings.Join(parts, "; ")
}

// ParseDescription fills OS, Resolution and Monitors from a client_info
// string produced by Describe. Unknown keys and malformed parts are
// ignored; Info is set to the input.
func ParseDescription(s string) protocol.ClientInfo {
	info := protocol.ClientInfo{Info: s}
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "os":
			info.OS = v
		case "resolution":
			info.Resolution = v
		case "monitors":
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				info.Monitors = n
			}
		}
	}
	return info
}

// ParseResolution splits "WxH".
func ParseResolution(s string) (w, h int, ok bool) {
	ws, hs, found := strings.Cut(s, "x")
	if !found {
		return 0, 0, false
	}
	w, errW := strconv.Atoi(ws)
	h, errH := strconv.Atoi(hs)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// StartTime returns the process start time.
func StartTime() time.Time {
	return startTime
}

// Uptime returns the process uptime.
func Uptime() time.Duration {
	return time.Since(startTime)
}
