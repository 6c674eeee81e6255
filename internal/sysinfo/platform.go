package sysinfo

import (
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/host"
)

var platformOnce = sync.OnceValue(func() string {
	name, _, version, err := host.PlatformInformation()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(name + " " + version)
})

// Platform returns the operating system distribution and version, for
// example "ubuntu 24.04" or "Microsoft Windows 11 Pro 10.0.22631". The
// lookup runs once per process.
func Platform() string {
	return platformOnce()
}
