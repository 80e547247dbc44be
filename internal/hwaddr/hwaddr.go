// Package hwaddr parses and compares the 6-octet hardware address that
// identifies the monitored machine.
package hwaddr

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Size is the number of octets in a hardware address.
const Size = 6

// ErrInvalidAddress is returned for any input that is not exactly 6 octets.
var ErrInvalidAddress = errors.New("invalid hardware address")

// Addr is a 6-octet hardware (MAC) address.
type Addr [Size]byte

// Parse decodes the colon- or dash-separated textual form, case-insensitively.
func Parse(s string) (Addr, error) {
	var a Addr

	s = strings.TrimSpace(s)
	// net.ParseMAC accepts 8 and 20 octet forms too, so pin the length
	// before handing it over.
	if len(s) != 17 {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	mac, err := net.ParseMAC(s)
	if err != nil {
		return a, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return FromBytes(mac)
}

// ParseWire accepts only the colon-separated form, exactly as it appears
// inside a datagram: no surrounding space and no dashes. Hex digits may be
// either case.
func ParseWire(s string) (Addr, error) {
	if len(s) != 17 {
		return Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	for i := 2; i < len(s); i += 3 {
		if s[i] != ':' {
			return Addr{}, fmt.Errorf("%w: %q: want colon separators", ErrInvalidAddress, s)
		}
	}
	return Parse(s)
}

// FromBytes copies a raw octet slice into an Addr.
func FromBytes(b []byte) (Addr, error) {
	var a Addr
	if len(b) != Size {
		return a, fmt.Errorf("%w: %d octets", ErrInvalidAddress, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// MustParse is Parse for constants in tests and defaults. It panics on error.
func MustParse(s string) Addr {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the canonical upper-case colon-separated form.
func (a Addr) String() string {
	return strings.ToUpper(net.HardwareAddr(a[:]).String())
}

// IsZero reports whether the address is all zeros (unset).
func (a Addr) IsZero() bool {
	return a == Addr{}
}
