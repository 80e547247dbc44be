// Package liveness derives the awake/sleeping/pending verdict for the
// target machine from its beacons and a deadman timer.
package liveness

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lullaby/internal/beacon"
	"lullaby/internal/clock"
	"lullaby/internal/hwaddr"
)

// DefaultGraceWindow is how long silence is tolerated before the machine
// is presumed asleep.
const DefaultGraceWindow = 12 * time.Second

// Status is the tri-state liveness verdict.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAwake    Status = "awake"
	StatusSleeping Status = "sleeping"
)

// Reason records why a status was set.
type Reason string

const (
	ReasonBeacon  Reason = "beacon"
	ReasonDeadman Reason = "deadman"
)

// Transition describes a change of status.
type Transition struct {
	At     time.Time
	From   Status
	To     Status
	Reason Reason
}

// Sink receives every status assignment, changed or not.
type Sink interface {
	SetStatus(Status)
}

// Config wires a Tracker.
type Config struct {
	Target hwaddr.Addr
	// Grace defaults to DefaultGraceWindow.
	Grace time.Duration
	// Clock defaults to clock.Real().
	Clock clock.Clock
	Sink  Sink
	// OnTransition, if set, is called outside the tracker's lock after
	// each actual change.
	OnTransition func(Transition)
}

// Tracker owns the current status and the single deadman timer. The
// mutex covers exactly: match the source, compute the next status and
// rearm the timer.
type Tracker struct {
	target       hwaddr.Addr
	grace        time.Duration
	clock        clock.Clock
	sink         Sink
	onTransition func(Transition)
	log          zerolog.Logger

	mu         sync.Mutex
	current    Status
	changedAt  time.Time
	lastBeacon time.Time
	deadline   clock.Timer
	generation uint64
	stopped    bool
}

// New returns a Tracker in StatusPending. Call Start to arm the startup
// deadman check.
func New(cfg Config, log zerolog.Logger) *Tracker {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGraceWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Tracker{
		target:       cfg.Target,
		grace:        cfg.Grace,
		clock:        cfg.Clock,
		sink:         cfg.Sink,
		onTransition: cfg.OnTransition,
		log:          log.With().Str("component", "liveness").Logger(),
		current:      StatusPending,
		changedAt:    cfg.Clock.Now(),
	}
}

// Start arms the deadman timer so a machine that is never heard from
// still resolves to sleeping after the grace window.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deadline == nil && !t.stopped {
		t.rearmLocked()
	}
}

// Stop cancels the deadman timer. The tracker ignores beacons afterwards.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.deadline != nil {
		t.deadline.Stop()
		t.deadline = nil
	}
}

// OnBeacon applies a beacon. It reports whether the beacon qualified:
// only AWAKE or SLEEPING from the target address do. Everything else is
// background noise and changes nothing.
func (t *Tracker) OnBeacon(kind beacon.Kind, source hwaddr.Addr) bool {
	var next Status
	switch kind {
	case beacon.KindAwake:
		next = StatusAwake
	case beacon.KindSleeping:
		next = StatusSleeping
	default:
		return false
	}
	if source != t.target {
		return false
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return false
	}
	t.lastBeacon = t.clock.Now()
	tr := t.setStatusLocked(next, ReasonBeacon)
	t.rearmLocked()
	t.mu.Unlock()

	t.notify(tr)
	return true
}

// Status returns the current verdict.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Snapshot is a point-in-time view of the tracker.
type Snapshot struct {
	Status     Status
	ChangedAt  time.Time
	LastBeacon time.Time
}

// Snapshot returns the current status with its timestamps. LastBeacon is
// zero until a qualifying beacon has been seen.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Status: t.current, ChangedAt: t.changedAt, LastBeacon: t.lastBeacon}
}

func (t *Tracker) rearmLocked() {
	if t.deadline != nil {
		t.deadline.Stop()
	}
	// A callback already past Stop may still be waiting on the mutex;
	// the generation check makes it a no-op.
	t.generation++
	gen := t.generation
	t.deadline = t.clock.AfterFunc(t.grace, func() { t.expire(gen) })
}

func (t *Tracker) expire(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.deadline = nil

	t.log.Info().
		Dur("grace_window", t.grace).
		Str("target", t.target.String()).
		Msg("No beacon within grace window, assuming machine is sleeping")

	tr := t.setStatusLocked(StatusSleeping, ReasonDeadman)
	t.mu.Unlock()

	t.notify(tr)
}

// setStatusLocked always assigns and always forwards to the sink; the
// sink decides whether observers hear about it. It returns a Transition
// only when the value changed.
func (t *Tracker) setStatusLocked(next Status, reason Reason) *Transition {
	prev := t.current
	t.current = next
	if t.sink != nil {
		t.sink.SetStatus(next)
	}
	if prev == next {
		return nil
	}

	now := t.clock.Now()
	t.changedAt = now
	t.log.Info().
		Str("from", string(prev)).
		Str("to", string(next)).
		Str("reason", string(reason)).
		Msg("Status changed")

	return &Transition{At: now, From: prev, To: next, Reason: reason}
}

func (t *Tracker) notify(tr *Transition) {
	if tr != nil && t.onTransition != nil {
		t.onTransition(*tr)
	}
}
