// Package agent runs on the monitored machine: it announces that the
// machine is awake and obeys sleep commands addressed to it.
package agent

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lullaby/internal/beacon"
	"lullaby/internal/clock"
	"lullaby/internal/hwaddr"
	"lullaby/internal/suspend"
	"lullaby/internal/udp"
)

// DefaultInterval is the AWAKE beacon period.
const DefaultInterval = 10 * time.Second

// Config wires an Agent.
type Config struct {
	// Addr is this machine's hardware address.
	Addr hwaddr.Addr
	// Broadcast is where beacons and acknowledgments are sent.
	Broadcast net.Addr
	// Interval defaults to DefaultInterval.
	Interval time.Duration
	// Clock defaults to clock.Real().
	Clock   clock.Clock
	Suspend suspend.Capability
}

// Agent is the beacon/command loop.
type Agent struct {
	conn      udp.Conn
	addr      hwaddr.Addr
	broadcast net.Addr
	interval  time.Duration
	clock     clock.Clock
	suspend   suspend.Capability
	log       zerolog.Logger

	// Serialises writes from the ticker and the command handler.
	sendMu sync.Mutex
}

// New returns an Agent that sends and receives on conn.
func New(conn udp.Conn, cfg Config, log zerolog.Logger) *Agent {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Agent{
		conn:      conn,
		addr:      cfg.Addr,
		broadcast: cfg.Broadcast,
		interval:  cfg.Interval,
		clock:     cfg.Clock,
		suspend:   cfg.Suspend,
		log:       log.With().Str("component", "agent").Logger(),
	}
}

// Run beacons and handles commands until ctx is cancelled. The
// connection is closed on return.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info().
		Str("mac", a.addr.String()).
		Str("broadcast", a.broadcast.String()).
		Dur("interval", a.interval).
		Str("suspend", a.suspend.Name()).
		Msg("Agent started")

	// The beacon loop also stops when the socket is closed underneath us.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.beaconLoop(ctx)
	}()

	err := udp.Serve(ctx, a.conn, a.HandleDatagram, a.log)
	cancel()
	wg.Wait()
	return err
}

func (a *Agent) beaconLoop(ctx context.Context) {
	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	a.announce(beacon.KindAwake)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			a.announce(beacon.KindAwake)
		}
	}
}

// announce broadcasts kind with our own address. A failed send is
// logged; the next tick proceeds regardless.
func (a *Agent) announce(kind beacon.Kind) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	msg := beacon.Message{Kind: kind, Addr: a.addr}
	if err := beacon.Send(a.conn, a.broadcast, msg, a.log); err != nil {
		a.log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to send beacon")
	}
}

// HandleDatagram reacts to a LULLABY for this machine by acknowledging
// with SLEEPING and then suspending. Everything else is ignored.
func (a *Agent) HandleDatagram(payload []byte, src net.Addr) {
	msg, err := beacon.ParseFor(payload, a.addr)
	if err != nil {
		if errors.Is(err, beacon.ErrForeignAddress) {
			a.log.Debug().Str("src", addrString(src)).Msg("Ignoring message for another machine")
		}
		return
	}
	if msg.Kind != beacon.KindLullaby {
		return
	}

	a.log.Info().Str("src", addrString(src)).Msg("Sleep command received")

	// The acknowledgment goes out first so the controller sees it before
	// the machine stops answering.
	a.announce(beacon.KindSleeping)

	if !a.suspend.Available() {
		a.log.Warn().Msg("Suspend unavailable on this platform, staying awake")
		return
	}
	if err := a.suspend.Suspend(); err != nil {
		a.log.Error().Err(err).Msg("Suspend failed")
		return
	}
	a.log.Info().Str("mechanism", a.suspend.Name()).Msg("Suspend requested")
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
