package session

import (
	"fmt"
	"sync"
	"time"
)

// TickFunc receives elapsed whole seconds. ended is true exactly once, after Stop.
type TickFunc func(elapsedSeconds int, ended bool)

// Timer is a display-only elapsed-time ticker.
type Timer struct {
	period time.Duration
	now    func() time.Time
	sink   TickFunc

	mu      sync.Mutex
	start   time.Time
	elapsed int
	ended   bool
	stop    chan struct{}
	done    chan struct{}
}

// NewTimer creates a timer ticking every period. A nil sink is allowed.
func NewTimer(period time.Duration, sink TickFunc) *Timer {
	if period <= 0 {
		period = time.Second
	}
	return &Timer{
		period: period,
		now:    time.Now,
		sink:   sink,
	}
}

// Start records the start instant and begins ticking. Calling Start on a
// timer that was already started is a no-op.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return
	}
	t.start = t.now()
	t.elapsed = 0
	t.ended = false
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	stop, done := t.stop, t.done
	t.mu.Unlock()

	t.emit(0, false)
	go t.run(stop, done)
}

func (t *Timer) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Timer) tick() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.elapsed = int(t.now().Sub(t.start) / time.Second)
	elapsed := t.elapsed
	t.mu.Unlock()

	t.emit(elapsed, false)
}

// Stop cancels ticking and marks the last computed value as final.
// Idempotent; a timer that never started is left untouched.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stop == nil || t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	close(t.stop)
	done := t.done
	elapsed := t.elapsed
	t.mu.Unlock()

	<-done
	t.emit(elapsed, true)
}

// Elapsed returns the last computed elapsed seconds.
func (t *Timer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

func (t *Timer) emit(elapsed int, ended bool) {
	if t.sink != nil {
		t.sink(elapsed, ended)
	}
}

// FormatElapsed renders elapsed seconds, marking a stopped timer.
func FormatElapsed(seconds int, ended bool) string {
	s := fmt.Sprintf("%ds", seconds)
	if ended {
		s += " (ended)"
	}
	return s
}
