package liveness

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lullaby/internal/beacon"
	"lullaby/internal/clock"
	"lullaby/internal/hwaddr"
)

var (
	epoch   = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	target  = hwaddr.MustParse("AA:BB:CC:DD:EE:FF")
	foreign = hwaddr.MustParse("11:22:33:44:55:66")
)

type recordingSink struct {
	mu  sync.Mutex
	set []Status
}

func (r *recordingSink) SetStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set = append(r.set, s)
}

func (r *recordingSink) values() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.set...)
}

func newTestTracker(t *testing.T) (*Tracker, *clock.FakeClock, *recordingSink, *[]Transition) {
	t.Helper()
	c := clock.Fake(epoch)
	sink := &recordingSink{}
	var transitions []Transition
	tr := New(Config{
		Target:       target,
		Clock:        c,
		Sink:         sink,
		OnTransition: func(x Transition) { transitions = append(transitions, x) },
	}, zerolog.Nop())
	t.Cleanup(tr.Stop)
	return tr, c, sink, &transitions
}

func TestTracker_StartsPending(t *testing.T) {
	tr, _, sink, _ := newTestTracker(t)
	assert.Equal(t, StatusPending, tr.Status())
	assert.Empty(t, sink.values())
}

func TestTracker_SilenceResolvesToSleeping(t *testing.T) {
	tr, c, _, transitions := newTestTracker(t)
	tr.Start()

	c.Advance(DefaultGraceWindow - time.Millisecond)
	assert.Equal(t, StatusPending, tr.Status())

	c.Advance(time.Millisecond)
	assert.Equal(t, StatusSleeping, tr.Status())

	require.Len(t, *transitions, 1)
	assert.Equal(t, Transition{At: epoch.Add(DefaultGraceWindow), From: StatusPending, To: StatusSleeping, Reason: ReasonDeadman}, (*transitions)[0])
}

func TestTracker_AwakeBeaconHoldsForGraceWindow(t *testing.T) {
	tr, c, _, _ := newTestTracker(t)
	tr.Start()

	c.Advance(5 * time.Second)
	require.True(t, tr.OnBeacon(beacon.KindAwake, target))
	assert.Equal(t, StatusAwake, tr.Status())

	// The startup check would have fired at 12s; the beacon at 5s moved
	// the deadline to 17s.
	c.Advance(11 * time.Second)
	assert.Equal(t, StatusAwake, tr.Status())

	c.Advance(time.Second)
	assert.Equal(t, StatusSleeping, tr.Status())
}

func TestTracker_EachBeaconRearmsFromItsOwnArrival(t *testing.T) {
	tr, c, _, _ := newTestTracker(t)
	tr.Start()

	for i := 0; i < 5; i++ {
		tr.OnBeacon(beacon.KindAwake, target)
		c.Advance(10 * time.Second)
		assert.Equal(t, StatusAwake, tr.Status(), "beacon %d", i)
	}

	c.Advance(2 * time.Second)
	assert.Equal(t, StatusSleeping, tr.Status())
	assert.Equal(t, 0, c.Pending(), "deadman must not be left armed twice")
}

func TestTracker_SleepingBeacon(t *testing.T) {
	tr, c, _, transitions := newTestTracker(t)
	tr.Start()

	tr.OnBeacon(beacon.KindAwake, target)
	c.Advance(3 * time.Second)
	tr.OnBeacon(beacon.KindSleeping, target)

	assert.Equal(t, StatusSleeping, tr.Status())
	require.Len(t, *transitions, 2)
	assert.Equal(t, ReasonBeacon, (*transitions)[1].Reason)

	// Deadman later re-asserts sleeping without a new transition.
	c.Advance(DefaultGraceWindow)
	assert.Equal(t, StatusSleeping, tr.Status())
	assert.Len(t, *transitions, 2)
}

func TestTracker_ForeignAddressChangesNothing(t *testing.T) {
	tr, c, sink, _ := newTestTracker(t)
	tr.Start()

	assert.False(t, tr.OnBeacon(beacon.KindAwake, foreign))
	assert.Equal(t, StatusPending, tr.Status())
	assert.Empty(t, sink.values())
	assert.True(t, tr.Snapshot().LastBeacon.IsZero())

	// Foreign beacons do not rearm: the startup check still fires at 12s.
	c.Advance(6 * time.Second)
	tr.OnBeacon(beacon.KindAwake, foreign)
	c.Advance(6 * time.Second)
	assert.Equal(t, StatusSleeping, tr.Status())
}

func TestTracker_LullabyIsNotABeacon(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)
	assert.False(t, tr.OnBeacon(beacon.KindLullaby, target))
	assert.Equal(t, StatusPending, tr.Status())
}

func TestTracker_DuplicateBeaconsForwardedButTransitionOnce(t *testing.T) {
	tr, _, sink, transitions := newTestTracker(t)

	tr.OnBeacon(beacon.KindAwake, target)
	tr.OnBeacon(beacon.KindAwake, target)

	assert.Equal(t, []Status{StatusAwake, StatusAwake}, sink.values())
	assert.Len(t, *transitions, 1)
}

func TestTracker_NeverReturnsToPending(t *testing.T) {
	tr, c, _, _ := newTestTracker(t)
	tr.Start()

	tr.OnBeacon(beacon.KindAwake, target)
	for i := 0; i < 10; i++ {
		c.Advance(DefaultGraceWindow)
		assert.NotEqual(t, StatusPending, tr.Status())
	}
}

func TestTracker_StopDisarms(t *testing.T) {
	tr, c, _, _ := newTestTracker(t)
	tr.Start()
	tr.Stop()

	c.Advance(time.Minute)
	assert.Equal(t, StatusPending, tr.Status())
	assert.False(t, tr.OnBeacon(beacon.KindAwake, target))
}

func TestTracker_Snapshot(t *testing.T) {
	tr, c, _, _ := newTestTracker(t)
	c.Advance(time.Second)
	tr.OnBeacon(beacon.KindAwake, target)

	snap := tr.Snapshot()
	assert.Equal(t, StatusAwake, snap.Status)
	assert.Equal(t, epoch.Add(time.Second), snap.ChangedAt)
	assert.Equal(t, epoch.Add(time.Second), snap.LastBeacon)
}

func TestTracker_CustomGrace(t *testing.T) {
	c := clock.Fake(epoch)
	tr := New(Config{Target: target, Grace: 30 * time.Second, Clock: c}, zerolog.Nop())
	defer tr.Stop()
	tr.Start()

	c.Advance(29 * time.Second)
	assert.Equal(t, StatusPending, tr.Status())
	c.Advance(time.Second)
	assert.Equal(t, StatusSleeping, tr.Status())
}
