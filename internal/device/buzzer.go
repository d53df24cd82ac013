package device

import (
	"io"
	"sync"
	"time"
)

// Beep pattern of the buzzer.
const (
	BeepOn  = 200 * time.Millisecond
	BeepOff = 200 * time.Millisecond
)

// bell is the terminal bell character.
const bell = "\a"

// Beeper sounds the buzzer pattern by writing the terminal bell to w once
// per on/off cycle.
type Beeper struct {
	w io.Writer

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewBeeper writes bells to w.
func NewBeeper(w io.Writer) *Beeper {
	return &Beeper{w: w}
}

// Start begins beeping in the background.
func (b *Beeper) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stop != nil {
		return
	}

	b.stop = make(chan struct{})
	b.done = make(chan struct{})

	go b.loop(b.stop, b.done)
}

// Stop ends beeping and waits for the pattern to finish its cycle.
func (b *Beeper) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stop == nil {
		return
	}

	close(b.stop)
	<-b.done

	b.stop, b.done = nil, nil
}

// Beeping reports whether the pattern is running.
func (b *Beeper) Beeping() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.stop != nil
}

// loop repeats the on/off pattern until stop is closed.
func (b *Beeper) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		_, _ = io.WriteString(b.w, bell)

		for _, pause := range []time.Duration{BeepOn, BeepOff} {
			select {
			case <-stop:
				return
			case <-time.After(pause):
			}
		}
	}
}
