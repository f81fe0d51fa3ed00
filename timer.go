package centrifuge

import (
	"sync"
	"time"
)

// clock abstracts time so tests can fast-forward timers.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) stopper
}

type stopper interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

type timerCallback func(seq uint64)

// callbackTimer owns at most one scheduled callback. Every Run or Stop bumps the sequence number
// handed to the callback, so work queued by a firing that lost the race against Stop can be told
// apart with current.
type callbackTimer struct {
	mu       sync.Mutex
	clock    clock
	callback timerCallback
	timer    stopper
	seq      uint64
}

func newCallbackTimer(clk clock, callback timerCallback) *callbackTimer {
	return &callbackTimer{
		clock:    clk,
		callback: callback,
	}
}

// Run schedules the callback after d, replacing any earlier schedule.
func (t *callbackTimer) Run(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	seq := t.seq
	t.timer = t.clock.AfterFunc(d, func() {
		t.callback(seq)
	})
}

func (t *callbackTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
}

func (t *callbackTimer) stopLocked() {
	t.seq++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// current reports whether seq belongs to the latest Run that has not been stopped since.
func (t *callbackTimer) current(seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.timer != nil && t.seq == seq
}
