// Package udp opens the broadcast-capable datagram socket shared by the
// agent and controller, and runs the receive loop over it.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

const (
	maxPacketSize = 4096

	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = time.Second
)

// Conn is the part of net.PacketConn the protocol loops need.
type Conn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	Close() error
}

// Listen binds 0.0.0.0:port with SO_REUSEADDR and SO_BROADCAST set, so an
// agent and a controller on the same host can share the port. A positive
// ttl is applied to outgoing datagrams.
func Listen(ctx context.Context, port, ttl int, log zerolog.Logger) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: control}

	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("listening on UDP port %d: %w", port, err)
	}
	conn := pc.(*net.UDPConn)

	if ttl > 0 {
		if err := ipv4.NewPacketConn(conn).SetTTL(ttl); err != nil {
			log.Warn().Err(err).Int("ttl", ttl).Msg("Failed to set TTL")
		}
	}
	if err := conn.SetReadBuffer(maxPacketSize * 10); err != nil {
		log.Warn().Err(err).Msg("Failed to set read buffer")
	}

	return conn, nil
}

// ResolveBroadcast resolves host:port for use as a send destination.
func ResolveBroadcast(host string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("resolving broadcast address %s: %w", host, err)
	}
	return addr, nil
}

// BroadcastIP returns the directed broadcast address of an IPv4 network.
func BroadcastIP(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	broadcastIP := make(net.IP, len(ip))
	for i := range ip {
		broadcastIP[i] = ip[i] | ^mask[i]
	}
	return broadcastIP
}

// Serve reads datagrams until ctx is cancelled, handing each one to handle
// on the calling goroutine. Datagrams are therefore handled one at a time.
// The connection is closed when ctx ends.
func Serve(ctx context.Context, conn Conn, handle func(payload []byte, src net.Addr), log zerolog.Logger) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, maxPacketSize)
	backoff := time.Duration(0)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextBackoff(backoff)
			log.Error().Err(err).Dur("retry_in", backoff).Msg("Error reading from UDP")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		packet := make([]byte, n)
		copy(packet, buf[:n])

		handle(packet, src)
	}
}

// nextBackoff doubles the wait after each consecutive read failure.
func nextBackoff(d time.Duration) time.Duration {
	if d < minReadBackoff {
		return minReadBackoff
	}
	return min(2*d, maxReadBackoff)
}
