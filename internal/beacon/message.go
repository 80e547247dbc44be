// Package beacon defines the text datagrams exchanged between agent and
// controller and the helper that broadcasts them.
package beacon

import (
	"errors"
	"fmt"
	"strings"

	"lullaby/internal/hwaddr"
)

// Kind identifies a datagram's meaning.
type Kind string

const (
	// KindAwake is the agent's periodic liveness beacon.
	KindAwake Kind = "AWAKE"
	// KindSleeping is the agent's acknowledgment just before it suspends.
	KindSleeping Kind = "SLEEPING"
	// KindLullaby is the controller's sleep command.
	KindLullaby Kind = "LULLABY"
)

var (
	// ErrMalformedMessage marks a datagram that is not "<KIND>:<address>".
	ErrMalformedMessage = errors.New("malformed message")
	// ErrForeignAddress marks a well-formed message for some other machine.
	ErrForeignAddress = errors.New("foreign address")
)

// Message is a decoded datagram.
type Message struct {
	Kind Kind
	Addr hwaddr.Addr
}

// Encode renders the wire form "<KIND>:<address>".
func (m Message) Encode() []byte {
	return []byte(string(m.Kind) + ":" + m.Addr.String())
}

func (m Message) String() string {
	return string(m.Encode())
}

// Parse decodes a datagram. Anything that is not one of the three known
// kinds followed by a colon-separated 6-octet address is
// ErrMalformedMessage.
func Parse(data []byte) (Message, error) {
	var m Message

	kind, addr, ok := strings.Cut(string(data), ":")
	if !ok {
		return m, ErrMalformedMessage
	}

	switch Kind(kind) {
	case KindAwake, KindSleeping, KindLullaby:
		m.Kind = Kind(kind)
	default:
		return m, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, kind)
	}

	a, err := hwaddr.ParseWire(addr)
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	m.Addr = a
	return m, nil
}

// ParseFor decodes a datagram and checks it is addressed to target.
func ParseFor(data []byte, target hwaddr.Addr) (Message, error) {
	m, err := Parse(data)
	if err != nil {
		return m, err
	}
	if m.Addr != target {
		return m, fmt.Errorf("%w: %s", ErrForeignAddress, m.Addr)
	}
	return m, nil
}
