// Package controller composes the liveness tracker, the status hub and the
// wake-packet builder over the shared broadcast socket.
package controller

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"lullaby/internal/beacon"
	"lullaby/internal/clock"
	"lullaby/internal/hub"
	"lullaby/internal/hwaddr"
	"lullaby/internal/liveness"
	"lullaby/internal/udp"
	"lullaby/internal/wol"
)

// Config wires a Controller.
type Config struct {
	// Target is the one machine this controller tracks and commands.
	Target hwaddr.Addr
	// Broadcast receives LULLABY commands.
	Broadcast net.Addr
	// WakeBroadcast receives magic packets. Defaults to Broadcast.
	WakeBroadcast net.Addr
	Grace         time.Duration
	Clock         clock.Clock
	// OnTransition is called after every status change.
	OnTransition func(liveness.Transition)
}

// Controller is the controller-side protocol loop.
type Controller struct {
	conn          udp.Conn
	target        hwaddr.Addr
	broadcast     net.Addr
	wakeBroadcast net.Addr
	tracker       *liveness.Tracker
	hub           *hub.Hub
	log           zerolog.Logger
}

// New builds a Controller on conn. Nothing is armed until Run.
func New(conn udp.Conn, cfg Config, log zerolog.Logger) *Controller {
	if cfg.WakeBroadcast == nil {
		cfg.WakeBroadcast = cfg.Broadcast
	}
	log = log.With().Str("component", "controller").Logger()

	h := hub.New(log)
	return &Controller{
		conn:          conn,
		target:        cfg.Target,
		broadcast:     cfg.Broadcast,
		wakeBroadcast: cfg.WakeBroadcast,
		hub:           h,
		tracker: liveness.New(liveness.Config{
			Target:       cfg.Target,
			Grace:        cfg.Grace,
			Clock:        cfg.Clock,
			Sink:         h,
			OnTransition: cfg.OnTransition,
		}, log),
		log: log,
	}
}

// Run arms the startup deadman check and routes received beacons to the
// tracker until ctx is cancelled. On return the deadman is disarmed and
// every subscriber released.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info().
		Str("target", c.target.String()).
		Str("broadcast", c.broadcast.String()).
		Str("wake_broadcast", c.wakeBroadcast.String()).
		Msg("Controller started")

	c.tracker.Start()
	defer c.hub.Close()
	defer c.tracker.Stop()

	return udp.Serve(ctx, c.conn, c.HandleDatagram, c.log)
}

// HandleDatagram routes one datagram. Unparsable and foreign traffic is
// dropped without surfacing an error.
func (c *Controller) HandleDatagram(payload []byte, src net.Addr) {
	msg, err := beacon.ParseFor(payload, c.target)
	if err != nil {
		if errors.Is(err, beacon.ErrForeignAddress) {
			c.log.Debug().Str("src", addrString(src)).Str("message", msg.String()).Msg("Ignoring beacon for another machine")
		}
		return
	}
	c.tracker.OnBeacon(msg.Kind, msg.Addr)
}

// RequestWake broadcasts a magic packet for the target. It does not wait
// for the machine; a failed send is only logged.
func (c *Controller) RequestWake() {
	packet := wol.MagicPacket(c.target)
	if err := beacon.SendRaw(c.conn, c.wakeBroadcast, packet, "WAKE", c.log); err != nil {
		c.log.Error().Err(err).Msg("Failed to send wake packet")
		return
	}
	c.log.Info().Str("target", c.target.String()).Msg("Wake packet sent")
}

// RequestSleep broadcasts LULLABY for the target. Same fire-and-forget
// semantics as RequestWake.
func (c *Controller) RequestSleep() {
	msg := beacon.Message{Kind: beacon.KindLullaby, Addr: c.target}
	if err := beacon.Send(c.conn, c.broadcast, msg, c.log); err != nil {
		c.log.Error().Err(err).Msg("Failed to send sleep command")
		return
	}
	c.log.Info().Str("target", c.target.String()).Msg("Sleep command sent")
}

// StatusStream subscribes to status changes until ctx ends.
func (c *Controller) StatusStream(ctx context.Context) *hub.Subscription {
	return c.hub.Subscribe(ctx)
}

// Snapshot returns the tracker's current view.
func (c *Controller) Snapshot() liveness.Snapshot {
	return c.tracker.Snapshot()
}

// Target returns the tracked hardware address.
func (c *Controller) Target() hwaddr.Addr {
	return c.target
}

// Subscribers returns the number of open status streams.
func (c *Controller) Subscribers() int {
	return c.hub.Len()
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
