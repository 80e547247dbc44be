//go:build windows

package suspend

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	powrprof        = windows.NewLazySystemDLL("powrprof.dll")
	setSuspendState = powrprof.NewProc("SetSuspendState")
)

func detect() Capability {
	if err := setSuspendState.Find(); err != nil {
		return Unavailable()
	}
	return Available("powrprof.SetSuspendState", sleepWindows)
}

// sleepWindows requests sleep (not hibernate), unforced, with wake events
// left enabled. The process needs SeShutdownPrivilege.
func sleepWindows() error {
	r, _, callErr := setSuspendState.Call(0, 0, 0)
	if r == 0 {
		return fmt.Errorf("SetSuspendState returned 0: %w", callErr)
	}
	return nil
}
