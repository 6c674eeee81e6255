//go:build unix

package sysinfo

import "golang.org/x/sys/unix"

// Kernel returns the kernel release, for example "6.8.0-45-generic".
func Kernel() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return unix.ByteSliceToString(u.Release[:])
}
