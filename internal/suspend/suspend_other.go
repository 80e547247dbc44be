//go:build !windows && !linux

package suspend

func detect() Capability { return Unavailable() }
