package rat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ratstreams/errors"
)

func TestPauseResume_NoLossNoDuplication(t *testing.T) {
	f := newFixture(t)
	in := newChanInput(Unknown)
	out := newRecordingOutput(Unknown)
	r := f.newRat(t, Config{Input: in, Output: out})

	require.NoError(t, r.Start(context.Background()))
	defer stopRat(t, r)

	in.feed <- 1
	require.Eventually(t, func() bool { return len(out.Items()) == 1 }, 2*time.Second, 5*time.Millisecond)

	r.Pause()
	assert.Equal(t, StatePaused, r.State())
	assert.True(t, r.IsPaused())
	assert.True(t, r.IsActive())
	time.Sleep(50 * time.Millisecond)

	in.feed <- 2
	in.feed <- 3
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []any{1}, out.Items())

	r.Resume()
	assert.Equal(t, StateRunning, r.State())
	require.Eventually(t, func() bool { return len(out.Items()) == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []any{1, 2, 3}, out.Items())
}

func TestInitialPaused(t *testing.T) {
	f := newFixture(t)
	in := newChanInput(Unknown)
	out := newRecordingOutput(Unknown)
	r := f.newRat(t, Config{Input: in, Output: out, InitialState: InitialPaused})

	require.NoError(t, r.Start(context.Background()))
	defer stopRat(t, r)
	assert.Equal(t, StatePaused, r.State())

	in.feed <- "held"
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, out.Items())
	assert.Equal(t, int32(0), in.receives.Load())

	r.Resume()
	require.Eventually(t, func() bool { return len(out.Items()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestManualMode_SinglePass(t *testing.T) {
	f := newFixture(t)
	in := newChanInput(Unknown)
	out := newRecordingOutput(Unknown)
	r := f.newRat(t, Config{Input: in, Output: out, Mode: ModeManual})

	in.feed <- "a"
	in.feed <- "b"
	require.NoError(t, r.Start(context.Background()))

	require.Eventually(t, func() bool { return r.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"a", "b"}, out.Items())
	assert.Equal(t, int32(1), in.receives.Load())

	in.feed <- "c"
	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return len(out.Items()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return r.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
}

func TestRunOnce(t *testing.T) {
	f := newFixture(t)
	in := newChanInput(Unknown)
	out := newRecordingOutput(Unknown)
	r := f.newRat(t, Config{Input: in, Output: out})

	in.feed <- 7
	require.NoError(t, r.RunOnce(context.Background()))
	assert.Equal(t, []any{7}, out.Items())
	assert.Equal(t, StateIdle, r.State())

	require.NoError(t, r.Start(context.Background()))
	defer stopRat(t, r)
	err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestStateListeners(t *testing.T) {
	f := newFixture(t)
	r := f.newRat(t, Config{Input: newChanInput(Unknown), Output: newRecordingOutput(Unknown)})

	var (
		mu     sync.Mutex
		states []State
	)
	r.OnStateChange(func(ev StateEvent) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "rat", ev.Rat)
		states = append(states, ev.To)
	})

	require.NoError(t, r.Start(context.Background()))
	r.Pause()
	r.Resume()
	require.NoError(t, r.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateRunning, StatePaused, StateRunning, StateStopping, StateStopped}, states)
}

func TestStop_IdempotentAndRestart(t *testing.T) {
	f := newFixture(t)
	in := newChanInput(Unknown)
	out := newRecordingOutput(Unknown)
	r := f.newRat(t, Config{Input: in, Output: out})

	assert.NoError(t, r.Stop(time.Second), "stopping a rat that never ran")

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()), "start while running is a no-op")
	require.NoError(t, r.Stop(time.Second))
	require.NoError(t, r.Stop(time.Second))
	assert.Equal(t, StateStopped, r.State())
	assert.True(t, in.IsStopped())
	assert.True(t, out.IsStopped())

	select {
	case <-r.Done():
	default:
		t.Fatal("worker still running after Stop")
	}

	require.NoError(t, r.Start(context.Background()))
	defer stopRat(t, r)
	assert.Equal(t, StateRunning, r.State())
	assert.False(t, in.IsStopped())

	in.feed <- "again"
	require.Eventually(t, func() bool { return len(out.Items()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestParentContextCancel(t *testing.T) {
	f := newFixture(t)
	r := f.newRat(t, Config{Input: newChanInput(Unknown), Output: newRecordingOutput(Unknown)})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return r.State() == StateStopped }, 2*time.Second, 5*time.Millisecond)
}

func TestPollingInput(t *testing.T) {
	in := newChanInput(Unknown)
	p := NewPolling(in, 0)
	assert.Equal(t, DefaultPollInterval, p.PollInterval())
	assert.Same(t, in, p.Base())

	f := newFixture(t)
	out := newRecordingOutput(Unknown)
	r := f.newRat(t, Config{Input: NewPolling(in, 10*time.Millisecond), Output: out})
	require.NoError(t, r.Start(context.Background()))
	defer stopRat(t, r)

	in.feed <- "polled"
	require.Eventually(t, func() bool { return len(out.Items()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestBufferedInput_DeliversSourceItems(t *testing.T) {
	f := newFixture(t)
	src := &blockingSource{items: make(chan any)}
	in := NewBuffered(src, 4, WithPollTimeout(10*time.Millisecond))
	out := newRecordingOutput(Unknown)
	r := f.newRat(t, Config{Input: in, Output: out})

	require.NoError(t, r.Start(context.Background()))
	for i := 0; i < 10; i++ {
		src.items <- i
	}
	require.Eventually(t, func() bool { return len(out.Items()) == 10 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, out.Items())

	require.NoError(t, r.Stop(time.Second))
	require.Eventually(t, func() bool { return src.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), src.opened.Load())
}

func TestBufferedInput_StopIsBounded(t *testing.T) {
	f := newFixture(t)
	src := &blockingSource{items: make(chan any)}
	r := f.newRat(t, Config{Input: NewBuffered(src, 0), Output: newRecordingOutput(Unknown)})

	require.NoError(t, r.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	require.NoError(t, r.Stop(2*time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, StateStopped, r.State())
}

func TestBufferedInput_RunErrorReported(t *testing.T) {
	f := newFixture(t)
	src := &blockingSource{runErr: errBoom}
	r := f.newRat(t, Config{Name: "buf", Input: NewBuffered(src, 2, WithPollTimeout(10*time.Millisecond)), Output: newRecordingOutput(Unknown)})

	require.NoError(t, r.Start(context.Background()))
	defer stopRat(t, r)

	require.Eventually(t, func() bool { return f.flow.Size() >= 1 }, 2*time.Second, 5*time.Millisecond)
	item, _ := f.flow.Poll()
	c := item.(*ErrorContainer)
	assert.Equal(t, "buf#flow", c.Source)
	assert.Contains(t, c.Message, "boom")
	assert.True(t, r.IsActive())
}

func TestBufferedInput_SourcePanicReported(t *testing.T) {
	f := newFixture(t)
	src := &blockingSource{panics: "feed exploded"}
	r := f.newRat(t, Config{Name: "buf", Input: NewBuffered(src, 2, WithPollTimeout(10*time.Millisecond)), Output: newRecordingOutput(Unknown)})

	require.NoError(t, r.Start(context.Background()))
	defer stopRat(t, r)

	require.Eventually(t, func() bool { return f.flow.Size() >= 1 }, 2*time.Second, 5*time.Millisecond)
	item, _ := f.flow.Poll()
	c := item.(*ErrorContainer)
	assert.Contains(t, c.Message, "panic in source: feed exploded")
	assert.True(t, r.IsActive())
}

func TestOutputBase_Deliver(t *testing.T) {
	out := newRecordingOutput(Unknown)
	require.NoError(t, out.SetUp(&StaticOwner{OwnerName: "o"}))

	err := out.Transmit(context.Background())
	assert.ErrorIs(t, err, errors.ErrSlotEmpty)

	out.failOn = func(any) error { return errBoom }
	out.Input("x")
	assert.False(t, out.CanInput())
	held, ok := out.Held()
	assert.True(t, ok)
	assert.Equal(t, "x", held)

	assert.ErrorIs(t, out.Transmit(context.Background()), errBoom)
	assert.True(t, out.CanInput())
	assert.Equal(t, "o", out.Owner().Name())
}

func TestInputBase(t *testing.T) {
	in := newChanInput(Unknown)
	require.NoError(t, in.InputBase.SetUp(&StaticOwner{OwnerName: "i"}))

	assert.Nil(t, in.Output())
	assert.False(t, in.HasPendingOutput())

	in.Emit(1, 2)
	assert.Equal(t, 2, in.PendingCount())
	assert.Equal(t, 1, in.Output())
	assert.Equal(t, 2, in.Output())
	assert.Nil(t, in.Output())

	assert.True(t, in.Wait(context.Background(), time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)
		in.StopExecution()
	}()
	start := time.Now()
	assert.False(t, in.Wait(context.Background(), 5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, in.CanReceive(context.Background()))

	require.NoError(t, in.InputBase.SetUp(&StaticOwner{OwnerName: "i"}))
	assert.True(t, in.CanReceive(context.Background()))
	in.InterruptReception()
	assert.True(t, in.ReceptionInterrupted())
	assert.False(t, in.CanReceive(context.Background()))
	in.BeginReceive()
	assert.True(t, in.ReceptionRunning())
	assert.False(t, in.ReceptionInterrupted())
	in.EndReceive()
	assert.False(t, in.ReceptionRunning())
}
