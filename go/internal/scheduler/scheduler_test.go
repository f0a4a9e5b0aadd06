package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = time.Second

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for emission")
		return ""
	}
}

func expectNone(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected emission %q", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebouncerCoalescesBurstIntoLastAction(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fired := make(chan string, 10)
	d := NewDebouncer("slow", clock, 400*time.Millisecond, func(a string) { fired <- a })

	for i, key := range []string{"key_left", "key_left", "key_left", "key_left", "key_right"} {
		if i > 0 {
			clock.Advance(50 * time.Millisecond)
		}
		d.Trigger(key)
	}

	clock.Advance(399 * time.Millisecond)
	expectNone(t, fired)

	clock.Advance(time.Millisecond)
	assert.Equal(t, "key_right", recv(t, fired), "last action wins")
	expectNone(t, fired)
}

func TestDebouncerFivePressesWithinWindowEmitOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fired := make(chan string, 10)
	d := NewDebouncer("slow", clock, 400*time.Millisecond, func(a string) { fired <- a })

	for i := 0; i < 5; i++ {
		d.Trigger("key_right")
		clock.Advance(60 * time.Millisecond)
	}
	clock.Advance(400 * time.Millisecond)

	assert.Equal(t, "key_right", recv(t, fired))
	expectNone(t, fired)
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fired := make(chan string, 1)
	d := NewDebouncer("fast", clock, 100*time.Millisecond, func(a string) { fired <- a })

	d.Trigger("click_mute")
	require.True(t, d.Pending())
	d.Stop()
	clock.Advance(time.Second)
	expectNone(t, fired)
}

func TestThrottlerLeadingEdge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired []string
	th := NewThrottler("skip", clock, 300*time.Millisecond, func(a string) { fired = append(fired, a) })

	require.True(t, th.Trigger("forward10"), "first trigger fires immediately")
	clock.Advance(100 * time.Millisecond)
	require.False(t, th.Trigger("forward10"), "double click inside the window is ignored")
	clock.Advance(200 * time.Millisecond)
	require.True(t, th.Trigger("back10"), "trigger after the window fires")

	assert.Equal(t, []string{"forward10", "back10"}, fired)
}

func TestTickerRunsCallbacksDespitePanics(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	clock := clockwork.NewFakeClock()
	tk := NewTicker(clock, 300*time.Millisecond, 2*time.Second)
	fast := make(chan string, 10)
	slow := make(chan string, 10)

	tk.OnFastTick(func() { panic("boom") })
	tk.OnFastTick(func() { fast <- "fast" })
	tk.OnSlowTick(func() { slow <- "slow" })

	tk.Start(ctx)
	defer tk.Stop()

	require.NoError(t, clock.BlockUntilContext(ctx, 2), "tickers not registered")

	clock.Advance(300 * time.Millisecond)
	recv(t, fast)
	expectNone(t, slow)

	clock.Advance(1700 * time.Millisecond)
	recv(t, slow)
}

func TestTickerUnregister(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	clock := clockwork.NewFakeClock()
	tk := NewTicker(clock, 300*time.Millisecond, 2*time.Second)
	fast := make(chan string, 10)

	id := tk.OnFastTick(func() { fast <- "removed" })
	tk.OnFastTick(func() { fast <- "kept" })
	tk.Unregister(id)

	tk.Start(ctx)
	defer tk.Stop()
	require.NoError(t, clock.BlockUntilContext(ctx, 2), "tickers not registered")

	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, "kept", recv(t, fast))
	expectNone(t, fast)
}
