package session

import (
	"sync"
	"time"
)

// Timer accrues whole seconds of completion time while running. Each tick
// runs in its own goroutine; Stop and Close wait for it to exit.
type Timer struct {
	tick   time.Duration
	onTick func(seconds int)

	mu      sync.Mutex
	seconds int
	stop    chan struct{}
	done    chan struct{}
}

// NewTimer creates a stopped timer. onTick, if set, is called after every
// accrued second with the new total.
func NewTimer(tick time.Duration, onTick func(seconds int)) *Timer {
	if tick <= 0 {
		tick = time.Second
	}
	return &Timer{tick: tick, onTick: onTick}
}

// Start begins accruing. Starting a running timer does nothing.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.stop, t.done)
}

func (t *Timer) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			t.seconds++
			n := t.seconds
			t.mu.Unlock()
			if t.onTick != nil {
				t.onTick(n)
			}
		}
	}
}

// Stop halts accrual and returns the elapsed seconds.
func (t *Timer) Stop() int {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return t.Elapsed()
}

// Reset stops the timer and sets the elapsed seconds.
func (t *Timer) Reset(seconds int) {
	t.Stop()
	t.mu.Lock()
	t.seconds = seconds
	t.mu.Unlock()
}

// Elapsed returns the accrued seconds.
func (t *Timer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seconds
}

// Running reports whether the timer is accruing.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}
