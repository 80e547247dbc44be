package beacon

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"lullaby/internal/udp"
)

// Send writes msg to addr. Failures are returned for the caller to log;
// nothing is retried.
func Send(conn udp.Conn, addr net.Addr, msg Message, log zerolog.Logger) error {
	return SendRaw(conn, addr, msg.Encode(), string(msg.Kind), log)
}

// SendRaw writes an arbitrary payload, labelled for logging.
func SendRaw(conn udp.Conn, addr net.Addr, payload []byte, label string, log zerolog.Logger) error {
	if _, err := conn.WriteTo(payload, addr); err != nil {
		return fmt.Errorf("writing %s to %s: %w", label, addr, err)
	}

	log.Debug().
		Str("target", addr.String()).
		Str("kind", label).
		Int("bytes", len(payload)).
		Msg("Datagram sent")

	return nil
}
