package protocol

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// Timer is the protocol_timer base: schedules a periodic callback every
// interval, perpetual by default or one-shot, with an explicit reset.
// Backed by lightningnetwork/lnd/ticker.
type Timer struct {
	t         ticker.Ticker
	perpetual bool
	fire      func()

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTimer returns a Timer that fires every interval. perpetual=false
// makes it fire at most once before stopping itself.
func NewTimer(interval time.Duration, perpetual bool, fire func()) *Timer {
	return &Timer{
		t:         ticker.New(interval),
		perpetual: perpetual,
		fire:      fire,
		quit:      make(chan struct{}),
	}
}

// Start begins firing.
func (t *Timer) Start() {
	t.t.Resume()
	t.wg.Add(1)
	go t.loop()
}

func (t *Timer) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.t.Ticks():
			t.fire()
			if !t.perpetual {
				return
			}
		case <-t.quit:
			return
		}
	}
}

// Reset restarts the interval from now, e.g. on observed channel traffic.
func (t *Timer) Reset() {
	t.t.Pause()
	t.t.Resume()
}

// Stop halts the timer and waits for its goroutine to exit.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		close(t.quit)
		t.t.Stop()
	})
	t.wg.Wait()
}
