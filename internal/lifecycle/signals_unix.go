//go:build !windows

package lifecycle

import (
	"os"
	"syscall"
)

// TerminationSignals are the signals that stop the renderer.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
}
