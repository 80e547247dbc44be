// Package wol builds Wake-on-LAN magic packets.
package wol

import (
	"fmt"

	"lullaby/internal/hwaddr"
)

const (
	syncLen     = 6
	repetitions = 16

	// PacketSize is the length of a magic packet: the sync stream plus
	// sixteen copies of the target address.
	PacketSize = syncLen + repetitions*hwaddr.Size
)

// Build returns the magic packet for raw address octets. It fails with
// hwaddr.ErrInvalidAddress unless exactly 6 octets are given.
func Build(mac []byte) ([]byte, error) {
	addr, err := hwaddr.FromBytes(mac)
	if err != nil {
		return nil, fmt.Errorf("building wake packet: %w", err)
	}
	return MagicPacket(addr), nil
}

// MagicPacket lays out 6 bytes of 0xFF followed by the address repeated
// 16 times.
func MagicPacket(addr hwaddr.Addr) []byte {
	packet := make([]byte, 0, PacketSize)
	for i := 0; i < syncLen; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < repetitions; i++ {
		packet = append(packet, addr[:]...)
	}
	return packet
}
