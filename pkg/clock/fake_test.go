package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresDueTimersInOrder(t *testing.T) {
	start := time.Date(2025, 3, 22, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []int
	c.AfterFunc(2*time.Minute, func() { order = append(order, 2) })
	c.AfterFunc(time.Minute, func() { order = append(order, 1) })
	c.AfterFunc(time.Hour, func() { order = append(order, 3) })

	c.Advance(5 * time.Minute)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("Expected [1 2], got %v", order)
	}
	if c.Pending() != 1 {
		t.Errorf("Expected 1 pending timer, got %d", c.Pending())
	}
	if !c.Now().Equal(start.Add(5 * time.Minute)) {
		t.Errorf("Expected now to advance, got %v", c.Now())
	}
}

func TestFake_StoppedTimerDoesNotFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Expected Stop to report an armed timer")
	}
	if timer.Stop() {
		t.Error("Expected second Stop to return false")
	}

	c.Advance(time.Minute)
	if fired {
		t.Error("Stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Errorf("Expected no pending timers, got %d", c.Pending())
	}
}
