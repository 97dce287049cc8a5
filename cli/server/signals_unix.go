//go:build !windows

package server

import "syscall"

// sighup, received by the serve command, triggers a log-level reread from
// the environment without requiring a restart.
const sighup = syscall.SIGHUP
