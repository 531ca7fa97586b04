//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals stop the worker before its input ends.
// Process managers send SIGTERM; a terminal sends SIGINT.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
