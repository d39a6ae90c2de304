package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	if c.Since(start) < 0 {
		t.Error("Since returned a negative duration")
	}

	timer := c.NewTimer(time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
}

func TestMockClock_TimerFiresOnAdvance(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	timer := c.NewTimer(2 * time.Second)
	if got := c.PendingTimers(); got != 1 {
		t.Fatalf("PendingTimers() = %d, want 1", got)
	}

	c.Advance(time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-timer.C():
		if !got.Equal(base.Add(2 * time.Second)) {
			t.Errorf("timer delivered %v, want %v", got, base.Add(2*time.Second))
		}
	default:
		t.Fatal("timer did not fire at deadline")
	}

	if got := c.PendingTimers(); got != 0 {
		t.Errorf("PendingTimers() after fire = %d, want 0", got)
	}
	if c.Since(base) != 2*time.Second {
		t.Errorf("Since(base) = %v, want 2s", c.Since(base))
	}
}

func TestMockClock_StoppedTimerDoesNotFire(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	timer := c.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop() on an active timer should return true")
	}
	if timer.Stop() {
		t.Error("second Stop() should return false")
	}

	c.Advance(5 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}
