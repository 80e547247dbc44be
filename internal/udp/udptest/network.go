// Package udptest provides an in-memory broadcast segment for exercising
// protocol loops without real sockets.
package udptest

import (
	"bytes"
	"net"
	"sync"
)

// Datagram is one payload written onto the segment.
type Datagram struct {
	Src     net.Addr
	Dst     *net.UDPAddr
	Payload []byte
}

// Network delivers every datagram written to port P to every Conn bound to
// P, including the sender, the way a broadcast on a LAN segment loops back.
type Network struct {
	mu    sync.Mutex
	conns map[int][]*Conn
	sent  []Datagram
	next  byte
}

// NewNetwork returns an empty segment.
func NewNetwork() *Network {
	return &Network{conns: make(map[int][]*Conn), next: 1}
}

// Listen binds a new Conn to port.
func (n *Network) Listen(port int) *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := &Conn{
		network: n,
		port:    port,
		local:   &net.UDPAddr{IP: net.IPv4(10, 0, 0, n.next), Port: port},
		inbox:   make(chan Datagram, 64),
		done:    make(chan struct{}),
	}
	n.next++
	n.conns[port] = append(n.conns[port], c)
	return c
}

// Inject delivers payload to port as if a foreign host had sent it.
func (n *Network) Inject(port int, payload []byte) {
	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 254), Port: port}
	n.deliver(Datagram{Src: src, Dst: &net.UDPAddr{IP: net.IPv4bcast, Port: port}, Payload: bytes.Clone(payload)})
}

// Sent returns every datagram written by any Conn so far.
func (n *Network) Sent() []Datagram {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Datagram(nil), n.sent...)
}

// SentTo returns the payloads written to the given port, oldest first.
func (n *Network) SentTo(port int) [][]byte {
	var out [][]byte
	for _, d := range n.Sent() {
		if d.Dst.Port == port {
			out = append(out, d.Payload)
		}
	}
	return out
}

func (n *Network) deliver(d Datagram) {
	n.mu.Lock()
	targets := append([]*Conn(nil), n.conns[d.Dst.Port]...)
	n.mu.Unlock()

	for _, c := range targets {
		select {
		case <-c.done:
		case c.inbox <- d:
		default:
			// Full inbox: dropped, as a real socket buffer would.
		}
	}
}

// Conn is an endpoint on a Network. It satisfies udp.Conn.
type Conn struct {
	network *Network
	port    int
	local   *net.UDPAddr
	inbox   chan Datagram
	done    chan struct{}

	mu        sync.Mutex
	closed    bool
	writeErr  error
	writeHook func(Datagram)
}

// ReadFrom blocks until a datagram arrives or the Conn is closed.
func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d := <-c.inbox:
		return copy(p, d.Payload), d.Src, nil
	case <-c.done:
		return 0, nil, net.ErrClosed
	}
}

// WriteTo records and delivers p to every Conn bound to addr's port.
func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	closed, writeErr, hook := c.closed, c.writeErr, c.writeHook
	c.mu.Unlock()

	if closed {
		return 0, net.ErrClosed
	}
	if writeErr != nil {
		return 0, writeErr
	}

	dst, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, &net.AddrError{Err: "not a UDP address", Addr: addr.String()}
	}

	d := Datagram{Src: c.local, Dst: dst, Payload: bytes.Clone(p)}
	c.network.mu.Lock()
	c.network.sent = append(c.network.sent, d)
	c.network.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	c.network.deliver(d)
	return len(p), nil
}

// Close unblocks pending reads. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// FailWrites makes every following WriteTo return err. Pass nil to heal.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// OnWrite registers a hook invoked synchronously for each successful write,
// before delivery.
func (c *Conn) OnWrite(hook func(Datagram)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeHook = hook
}

// LocalAddr returns the Conn's address on the segment.
func (c *Conn) LocalAddr() net.Addr { return c.local }
