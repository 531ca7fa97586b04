//go:build windows

package main

import (
	"os"
)

// terminationSignals stop the worker before its input ends. Only Ctrl+C is
// delivered on Windows.
var terminationSignals = []os.Signal{os.Interrupt}
