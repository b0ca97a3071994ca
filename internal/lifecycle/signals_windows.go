//go:build windows

package lifecycle

import "os"

// TerminationSignals are the signals that stop the renderer.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
