//go:build windows

package sysinfo

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// Kernel returns the Windows version as major.minor.build.
func Kernel() string {
	v := windows.RtlGetVersion()
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", v.MajorVersion, v.MinorVersion, v.BuildNumber)
}
