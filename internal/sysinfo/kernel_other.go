//go:build !unix && !windows

package sysinfo

// Kernel is not available on this platform.
func Kernel() string { return "" }
