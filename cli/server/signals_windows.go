//go:build windows

package server

import "syscall"

// Doesn't really matter, Windows can't do it.
const sighup = syscall.Signal(0x1)
