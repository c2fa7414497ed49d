//go:build windows

package subproc

import "os"

// signalFor on Windows always resolves to Kill: os.Process.Signal only
// supports os.Kill there, matching nin's subprocess_win32.go which
// terminates the job object outright instead of forwarding POSIX signals.
func signalFor(sig int) os.Signal {
	return os.Kill
}
