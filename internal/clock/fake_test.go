package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AfterFuncFiresOnDeadline(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(10*time.Second, func() { fired++ })

	c.Advance(9 * time.Second)
	if fired != 0 {
		t.Fatalf("fired early")
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired %d times, want 1", fired)
	}
	c.Advance(time.Minute)
	if fired != 1 {
		t.Fatalf("one-shot fired again")
	}
}

func TestFake_StopPreventsFiring(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	c.Advance(time.Hour)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", c.Pending())
	}
}

func TestFake_TickerDeliversPerInterval(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(10 * time.Second)
	defer ticker.Stop()

	c.Advance(10 * time.Second)
	select {
	case at := <-ticker.C():
		if !at.Equal(epoch.Add(10 * time.Second)) {
			t.Errorf("tick at %v", at)
		}
	default:
		t.Fatal("no tick after one interval")
	}

	c.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("tick before interval elapsed")
	default:
	}
}

func TestFake_WaitForTimers(t *testing.T) {
	c := Fake(epoch)
	go c.AfterFunc(time.Second, func() {})
	c.WaitForTimers(1)
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}
}
