package udp

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lullaby/internal/udp/udptest"
)

func TestBroadcastIP(t *testing.T) {
	tests := []struct {
		cidr string
		want string
	}{
		{"192.168.1.0/24", "192.168.1.255"},
		{"10.51.240.0/23", "10.51.241.255"},
		{"172.16.0.0/12", "172.31.255.255"},
	}
	for _, tt := range tests {
		_, n, err := net.ParseCIDR(tt.cidr)
		if err != nil {
			t.Fatalf("ParseCIDR(%s): %v", tt.cidr, err)
		}
		if got := BroadcastIP(n).String(); got != tt.want {
			t.Errorf("BroadcastIP(%s) = %s, want %s", tt.cidr, got, tt.want)
		}
	}
}

func TestResolveBroadcast(t *testing.T) {
	addr, err := ResolveBroadcast("192.168.1.255", 9999)
	if err != nil {
		t.Fatalf("ResolveBroadcast: %v", err)
	}
	if addr.String() != "192.168.1.255:9999" {
		t.Errorf("got %s", addr)
	}
}

func TestServe_DeliversAndStopsOnCancel(t *testing.T) {
	network := udptest.NewNetwork()
	conn := network.Listen(9999)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, conn, func(p []byte, _ net.Addr) { got <- string(p) }, zerolog.Nop())
	}()

	network.Inject(9999, []byte("AWAKE:AA:BB:CC:DD:EE:FF"))

	select {
	case s := <-got:
		if s != "AWAKE:AA:BB:CC:DD:EE:FF" {
			t.Errorf("payload: got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// failingConn fails every read with a non-closing error until closed.
type failingConn struct {
	reads  atomic.Int32
	closed atomic.Bool
}

func (c *failingConn) ReadFrom([]byte) (int, net.Addr, error) {
	c.reads.Add(1)
	if c.closed.Load() {
		return 0, nil, net.ErrClosed
	}
	return 0, nil, errors.New("connection refused")
}

func (c *failingConn) WriteTo(p []byte, _ net.Addr) (int, error) { return len(p), nil }

func (c *failingConn) Close() error {
	c.closed.Store(true)
	return nil
}

func TestServe_BacksOffOnPersistentReadErrors(t *testing.T) {
	conn := &failingConn{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := Serve(ctx, conn, func([]byte, net.Addr) {}, zerolog.Nop()); err != nil {
		t.Fatalf("Serve returned %v, want nil", err)
	}
	// 10+20+40+80 ms of waiting fits roughly five reads into 200ms.
	if n := conn.reads.Load(); n > 20 {
		t.Errorf("ReadFrom called %d times in 200ms, want a backed-off handful", n)
	}
}

func TestNextBackoff(t *testing.T) {
	d := time.Duration(0)
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	for _, w := range want {
		d = nextBackoff(d)
		if d != w {
			t.Fatalf("nextBackoff: got %v, want %v", d, w)
		}
	}
	if got := nextBackoff(800 * time.Millisecond); got != time.Second {
		t.Errorf("nextBackoff cap: got %v, want 1s", got)
	}
}

func TestListen_Loopback(t *testing.T) {
	conn, err := Listen(context.Background(), 0, 1, zerolog.Nop())
	if err != nil {
		t.Skipf("cannot bind UDP socket here: %v", err)
	}
	defer conn.Close()

	local := conn.LocalAddr().(*net.UDPAddr)
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: local.Port}
	if _, err := conn.WriteTo([]byte("ping"), dst); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("got %q, want ping", buf[:n])
	}
}
