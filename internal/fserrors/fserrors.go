// Package fserrors defines the error kinds surfaced across burstfs's
// client/proxy/daemon boundary (spec §7) and maps them to POSIX errno
// for the (out-of-scope) syscall interception layer.
package fserrors

import (
	"errors"
	"syscall"
)

// Kind is one of the error kinds a handler or forwarder may return.
// Kind values are sentinel errors; wrap them with fmt.Errorf("...: %w", Kind)
// to add context without losing errors.Is matchability.
type Kind error

var (
	// NotFound is returned for a missing path, or a chunk-absent-on-read
	// that must signal EOF to the caller.
	NotFound Kind = errors.New("not found")

	// Exists is returned on a create collision.
	Exists Kind = errors.New("exists")

	// NotEmpty is returned when removing a non-empty directory.
	NotEmpty Kind = errors.New("not empty")

	// Invalid is returned for a malformed path, an out-of-mount path, or
	// bad flags.
	Invalid Kind = errors.New("invalid argument")

	// IO is returned for any transport or storage failure not covered by
	// a more specific kind.
	IO Kind = errors.New("i/o error")

	// Busy is returned when RPC retries are exhausted or the peer is in
	// maintenance mode.
	Busy Kind = errors.New("busy")

	// NoSpace is returned when local storage is full.
	NoSpace Kind = errors.New("no space left on device")
)

// Errno maps an error kind to the POSIX errno an interception layer would
// set. Unrecognized errors map to EIO.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, NotFound):
		return syscall.ENOENT
	case errors.Is(err, Exists):
		return syscall.EEXIST
	case errors.Is(err, NotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, Invalid):
		return syscall.EINVAL
	case errors.Is(err, Busy):
		return syscall.EBUSY
	case errors.Is(err, NoSpace):
		return syscall.ENOSPC
	default:
		return syscall.EIO
	}
}
