//go:build !unix && !windows

package udp

import "syscall"

func control(network, address string, c syscall.RawConn) error { return nil }
