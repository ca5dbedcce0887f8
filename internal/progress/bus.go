// Package progress carries sync and image-job progress from background
// workers to observers. Intermediate updates are conflated so a slow reader
// only ever sees the latest snapshot; terminal outcomes are never dropped.
package progress

import "sync"

// Phase identifies the stage a background job is in.
type Phase string

const (
	PhaseInit       Phase = "INIT"
	PhaseCategories Phase = "CATEGORIES"
	PhaseProducts   Phase = "PRODUCTS"
	PhaseImages     Phase = "IMAGES"
	PhaseZombie     Phase = "ZOMBIE"
	PhaseCommit     Phase = "COMMIT"
)

// Outcome is the terminal state of a run. Empty while the run is in flight.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
)

// Update is one progress snapshot.
type Update struct {
	Phase   Phase
	Percent int
	Message string
	Outcome Outcome
	Err     string
}

// Terminal reports whether the update ends the run.
func (u Update) Terminal() bool {
	return u.Outcome != ""
}

// Bus is a conflating publisher. Publish never blocks the worker: a new
// intermediate update overwrites a pending intermediate one, while terminal
// updates queue behind whatever is pending so an outcome is never lost.
type Bus struct {
	mu    sync.Mutex
	queue []Update
	wake  chan struct{}
	last  Update
	seen  bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Publish records an update and wakes any blocked reader.
func (b *Bus) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last, b.seen = u, true
	if n := len(b.queue); n > 0 && !b.queue[n-1].Terminal() {
		b.queue[n-1] = u
	} else {
		b.queue = append(b.queue, u)
	}
	if b.wake != nil {
		close(b.wake)
		b.wake = nil
	}
}

// Next returns the oldest pending update, blocking until one is published or
// done is closed.
func (b *Bus) Next(done <-chan struct{}) (Update, bool) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			u := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return u, true
		}
		if b.wake == nil {
			b.wake = make(chan struct{})
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-done:
			return Update{}, false
		}
	}
}

// Latest returns the most recently published update without consuming it.
func (b *Bus) Latest() (Update, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.seen
}
