package wol

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"lullaby/internal/hwaddr"
)

func TestMagicPacket_Layout(t *testing.T) {
	for _, s := range []string{
		"AA:BB:CC:DD:EE:FF",
		"00:11:22:33:44:55",
		"ff:ff:ff:ff:ff:ff",
		"00:00:00:00:00:00",
	} {
		addr := hwaddr.MustParse(s)
		packet := MagicPacket(addr)

		if len(packet) != PacketSize || PacketSize != 102 {
			t.Fatalf("%s: length %d, want 102", s, len(packet))
		}
		for i := 0; i < 6; i++ {
			if packet[i] != 0xFF {
				t.Fatalf("%s: sync byte %d = %#x", s, i, packet[i])
			}
		}
		for k := 0; k < 16; k++ {
			off := 6 + k*6
			if !bytes.Equal(packet[off:off+6], addr[:]) {
				t.Fatalf("%s: repetition %d = %x", s, k, packet[off:off+6])
			}
		}
	}
}

func TestMagicPacket_KnownVector(t *testing.T) {
	packet := MagicPacket(hwaddr.MustParse("00:11:22:33:44:55"))

	want, _ := hex.DecodeString("ffffffffffff" + strings.Repeat("001122334455", 16))
	if !bytes.Equal(packet, want) {
		t.Errorf("packet mismatch:\n got %x\nwant %x", packet, want)
	}
}

func TestBuild_InvalidAddress(t *testing.T) {
	for _, raw := range [][]byte{nil, {1, 2, 3, 4, 5}, {1, 2, 3, 4, 5, 6, 7}} {
		packet, err := Build(raw)
		if !errors.Is(err, hwaddr.ErrInvalidAddress) {
			t.Errorf("Build(%x): got %v, want ErrInvalidAddress", raw, err)
		}
		if packet != nil {
			t.Errorf("Build(%x): expected no partial output, got %d bytes", raw, len(packet))
		}
	}
}
