package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Frequency selects one of the two shared tick loops.
type Frequency int

const (
	Fast Frequency = iota
	Slow
)

func (f Frequency) String() string {
	if f == Fast {
		return "fast"
	}
	return "slow"
}

// Registration identifies a ticker callback so it can be removed later.
type Registration uint64

type tickCallback struct {
	id Registration
	fn func()
}

// Ticker multiplexes any number of periodic callbacks onto two shared
// interval loops instead of one timer per concern.
type Ticker struct {
	clock    clockwork.Clock
	fastRate time.Duration
	slowRate time.Duration

	mu        sync.Mutex
	nextID    Registration
	callbacks map[Frequency][]tickCallback
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewTicker creates a ticker with the given fast and slow periods.
func NewTicker(clock clockwork.Clock, fastRate, slowRate time.Duration) *Ticker {
	return &Ticker{
		clock:     clock,
		fastRate:  fastRate,
		slowRate:  slowRate,
		callbacks: make(map[Frequency][]tickCallback),
	}
}

// OnFastTick registers fn on the fast loop.
func (t *Ticker) OnFastTick(fn func()) Registration {
	return t.Register(Fast, fn)
}

// OnSlowTick registers fn on the slow loop.
func (t *Ticker) OnSlowTick(fn func()) Registration {
	return t.Register(Slow, fn)
}

// Register adds fn to the loop selected by freq.
func (t *Ticker) Register(freq Frequency, fn func()) Registration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.callbacks[freq] = append(t.callbacks[freq], tickCallback{id: id, fn: fn})
	return id
}

// Unregister removes a callback from whichever loop holds it.
func (t *Ticker) Unregister(id Registration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for freq, cbs := range t.callbacks {
		kept := cbs[:0]
		for _, cb := range cbs {
			if cb.id != id {
				kept = append(kept, cb)
			}
		}
		t.callbacks[freq] = kept
	}
}

// Start launches both loops. Calling Start on a running ticker is a no-op.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(2)
	go t.loop(ctx, Fast, t.fastRate)
	go t.loop(ctx, Slow, t.slowRate)

	log.Debug().
		Dur("fast", t.fastRate).
		Dur("slow", t.slowRate).
		Msg("ticker started")
}

// Stop halts both loops and waits for them to exit.
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	t.wg.Wait()
}

func (t *Ticker) loop(ctx context.Context, freq Frequency, rate time.Duration) {
	defer t.wg.Done()

	ticker := t.clock.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.tick(freq)
		}
	}
}

// tick runs every callback of freq; a panicking callback does not stop the others.
func (t *Ticker) tick(freq Frequency) {
	t.mu.Lock()
	cbs := make([]tickCallback, len(t.callbacks[freq]))
	copy(cbs, t.callbacks[freq])
	t.mu.Unlock()

	for _, cb := range cbs {
		runSafely(freq.String()+"_tick", cb.fn)
	}
}
