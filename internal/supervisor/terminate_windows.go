//go:build windows

package supervisor

import "os"

// terminateGracefully has no POSIX-signal equivalent on Windows; os.Process
// only supports Kill, so graceful termination degrades to the same forced
// kill that the gracefulStopBudget fallback would use anyway.
func terminateGracefully(p *os.Process) error {
	return p.Kill()
}
