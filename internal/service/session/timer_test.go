package session

import (
	"sync"
	"testing"
	"time"
)

type tickRecorder struct {
	mu    sync.Mutex
	ticks []tick
}

type tick struct {
	seconds int
	ended   bool
}

func (r *tickRecorder) sink(seconds int, ended bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, tick{seconds, ended})
}

func (r *tickRecorder) snapshot() []tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tick, len(r.ticks))
	copy(out, r.ticks)
	return out
}

// fakeClock advances by step on every read.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func TestTimer_StartEmitsZero(t *testing.T) {
	rec := &tickRecorder{}
	timer := NewTimer(time.Hour, rec.sink)
	timer.Start()
	defer timer.Stop()

	ticks := rec.snapshot()
	if len(ticks) != 1 || ticks[0] != (tick{0, false}) {
		t.Errorf("expected initial (0, false) tick, got %v", ticks)
	}
	if timer.Elapsed() != 0 {
		t.Errorf("expected 0 elapsed, got %d", timer.Elapsed())
	}
}

func TestTimer_TicksFloorSeconds(t *testing.T) {
	rec := &tickRecorder{}
	clock := &fakeClock{t: time.Unix(0, 0), step: 1500 * time.Millisecond}

	timer := NewTimer(5*time.Millisecond, rec.sink)
	timer.now = clock.now
	timer.Start()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.snapshot()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	timer.Stop()

	ticks := rec.snapshot()
	if len(ticks) < 3 {
		t.Fatalf("expected at least 3 ticks, got %v", ticks)
	}
	// First read after start is 1.5s later, which floors to 1
	if ticks[1].seconds != 1 {
		t.Errorf("expected second tick to be 1, got %d", ticks[1].seconds)
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i].seconds < ticks[i-1].seconds {
			t.Errorf("elapsed went backwards: %v", ticks)
		}
	}
}

func TestTimer_StopEmitsEndedOnce(t *testing.T) {
	rec := &tickRecorder{}
	timer := NewTimer(time.Hour, rec.sink)
	timer.Start()

	timer.Stop()
	timer.Stop()

	ticks := rec.snapshot()
	ended := 0
	for _, tk := range ticks {
		if tk.ended {
			ended++
		}
	}
	if ended != 1 {
		t.Errorf("expected exactly one ended tick, got %v", ticks)
	}
	if last := ticks[len(ticks)-1]; last != (tick{0, true}) {
		t.Errorf("expected final (0, true) tick, got %v", last)
	}
}

func TestTimer_NoTicksAfterStop(t *testing.T) {
	rec := &tickRecorder{}
	timer := NewTimer(2*time.Millisecond, rec.sink)
	timer.Start()
	time.Sleep(10 * time.Millisecond)
	timer.Stop()

	n := len(rec.snapshot())
	time.Sleep(20 * time.Millisecond)
	if got := len(rec.snapshot()); got != n {
		t.Errorf("expected no ticks after stop, had %d now %d", n, got)
	}
}

func TestTimer_StopWithoutStart(t *testing.T) {
	rec := &tickRecorder{}
	timer := NewTimer(time.Second, rec.sink)
	timer.Stop()

	if len(rec.snapshot()) != 0 {
		t.Error("expected no ticks from a timer that never started")
	}
}

func TestTimer_NilSink(t *testing.T) {
	timer := NewTimer(time.Millisecond, nil)
	timer.Start()
	time.Sleep(5 * time.Millisecond)
	timer.Stop()
}

func TestFormatElapsed(t *testing.T) {
	if got := FormatElapsed(12, false); got != "12s" {
		t.Errorf("expected '12s', got %q", got)
	}
	if got := FormatElapsed(12, true); got != "12s (ended)" {
		t.Errorf("expected '12s (ended)', got %q", got)
	}
}
