package redisin

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

// fakeList answers BLPOP from a channel, returning redis.Nil when the
// timeout elapses.
type fakeList struct {
	mu       sync.Mutex
	elements chan string
	err      error
	timeouts []time.Duration
	closed   bool
}

func newFakeList() *fakeList {
	return &fakeList{elements: make(chan string, 8)}
}

func (f *fakeList) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	f.mu.Lock()
	f.timeouts = append(f.timeouts, timeout)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return redis.NewStringSliceResult(nil, err)
	}

	select {
	case v := <-f.elements:
		return redis.NewStringSliceResult([]string{keys[0], v}, nil)
	case <-time.After(20 * time.Millisecond):
		return redis.NewStringSliceResult(nil, redis.Nil)
	case <-ctx.Done():
		return redis.NewStringSliceResult(nil, ctx.Err())
	}
}

func (f *fakeList) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func newInput(t *testing.T, cfg Config, list *fakeList) *Input {
	t.Helper()
	require.NoError(t, cfg.Validate())
	in := New(cfg, func(Config) Client { return list }, nil)
	require.NoError(t, in.SetUp(&rat.StaticOwner{OwnerName: "redis"}))
	return in
}

func TestInput_PopsOneElementPerReception(t *testing.T) {
	list := newFakeList()
	in := newInput(t, Config{Addr: "localhost:6379", Key: "jobs", Format: "string"}, list)
	defer in.StopExecution()

	list.elements <- "first"
	list.elements <- "second"

	ctx := context.Background()
	require.NoError(t, in.Receive(ctx))
	assert.Equal(t, "first", in.Output())
	assert.False(t, in.HasPendingOutput())

	require.NoError(t, in.Receive(ctx))
	assert.Equal(t, "second", in.Output())
	assert.Equal(t, DefaultBlockTimeout, list.timeouts[0])
}

func TestInput_WaitsAcrossEmptyPolls(t *testing.T) {
	list := newFakeList()
	in := newInput(t, Config{Addr: "a:1", Key: "k", Format: "json"}, list)
	defer in.StopExecution()

	go func() {
		time.Sleep(70 * time.Millisecond)
		list.elements <- `{"id":7}`
	}()

	require.NoError(t, in.Receive(context.Background()))
	assert.Equal(t, map[string]any{"id": float64(7)}, in.Output())
}

func TestInput_InterruptAndStop(t *testing.T) {
	list := newFakeList()
	in := newInput(t, Config{Addr: "a:1", Key: "k"}, list)

	done := make(chan error, 1)
	go func() { done <- in.Receive(context.Background()) }()
	time.Sleep(30 * time.Millisecond)
	in.InterruptReception()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Receive not interrupted")
	}
	assert.False(t, in.HasPendingOutput())

	in.StopExecution()
	list.mu.Lock()
	assert.True(t, list.closed)
	list.mu.Unlock()

	// SetUp after a stop dials a fresh client.
	require.NoError(t, in.SetUp(&rat.StaticOwner{OwnerName: "redis"}))
	list.elements <- "again"
	require.NoError(t, in.Receive(context.Background()))
	assert.Equal(t, []byte("again"), in.Output())
}

func TestInput_Failures(t *testing.T) {
	list := newFakeList()
	list.err = redis.ErrClosed
	in := newInput(t, Config{Addr: "a:1", Key: "k"}, list)

	err := in.Receive(context.Background())
	assert.ErrorIs(t, err, redis.ErrClosed)
	assert.True(t, errors.IsTransient(err))

	list.err = nil
	in2 := newInput(t, Config{Addr: "a:1", Key: "k", Format: "json"}, list)
	list.elements <- "{"
	err = in2.Receive(context.Background())
	assert.ErrorIs(t, err, errors.ErrParsingFailed)

	var unset Input
	assert.Error(t, unset.Receive(context.Background()))
}

func TestNewInput(t *testing.T) {
	in, err := NewInput(json.RawMessage(`{"addr":"localhost:6379","key":"k","block_timeout":"2s"}`),
		component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, in.(*Input).blockTimeout)

	_, err = NewInput(json.RawMessage(`{"addr":"localhost:6379"}`), component.Dependencies{})
	assert.True(t, errors.IsInvalid(err))

	client := Dial(Config{Addr: "localhost:6379"})
	assert.NoError(t, client.Close())
}
