// Package suspend exposes the local machine's ability to go to sleep as a
// capability chosen once at startup.
package suspend

import (
	"errors"
	"fmt"
)

// ErrUnavailable means the platform offers no way to suspend.
var ErrUnavailable = errors.New("suspend unavailable on this platform")

// Func suspends the local machine. It may return after the machine wakes.
type Func func() error

// Capability is either available, wrapping a Func, or unavailable.
type Capability struct {
	name    string
	suspend Func
}

// Available wraps fn under a descriptive name.
func Available(name string, fn Func) Capability {
	return Capability{name: name, suspend: fn}
}

// Unavailable is the capability of a platform that cannot suspend.
func Unavailable() Capability {
	return Capability{name: "unavailable"}
}

// Available reports whether Suspend will do anything.
func (c Capability) Available() bool { return c.suspend != nil }

// Name describes the mechanism, for logging.
func (c Capability) Name() string {
	if c.name == "" {
		return "unavailable"
	}
	return c.name
}

// Suspend invokes the capability, or returns ErrUnavailable.
func (c Capability) Suspend() error {
	if c.suspend == nil {
		return ErrUnavailable
	}
	if err := c.suspend(); err != nil {
		return fmt.Errorf("suspend via %s: %w", c.name, err)
	}
	return nil
}

// Detect selects the platform mechanism, or Unavailable when enabled is
// false or none exists.
func Detect(enabled bool) Capability {
	if !enabled {
		return Unavailable()
	}
	return detect()
}
