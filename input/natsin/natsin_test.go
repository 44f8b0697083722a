package natsin

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/natsclient"
	"github.com/c360/ratstreams/rat"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	handler  func(context.Context, []byte)
	subject  string
	err      error
	subCount int
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subject string, handler func(context.Context, []byte)) (*natsclient.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCount++
	if f.err != nil {
		return nil, f.err
	}
	f.subject = subject
	f.handler = handler
	return &natsclient.Subscription{}, nil
}

func (f *fakeSubscriber) deliver(data string) bool {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(context.Background(), []byte(data))
	return true
}

func (f *fakeSubscriber) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subCount
}

func receiveAll(t *testing.T, in *rat.Buffered, n int) []any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var items []any
	for len(items) < n {
		require.NoError(t, ctx.Err())
		require.NoError(t, in.Receive(ctx))
		for in.HasPendingOutput() {
			items = append(items, in.Output())
		}
	}
	return items
}

func TestSource_EmitsPayloads(t *testing.T) {
	sub := &fakeSubscriber{}
	in := rat.NewBuffered(NewSource(sub, Config{Subject: "sensors.>", Format: "string"}, nil), 8,
		rat.WithPollTimeout(10*time.Millisecond))
	require.NoError(t, in.SetUp(&rat.StaticOwner{OwnerName: "nats"}))
	defer in.StopExecution()

	assert.Equal(t, rat.TypeOf[string](), in.Generates())

	go func() {
		for !sub.deliver("a") {
			time.Sleep(5 * time.Millisecond)
		}
		sub.deliver("b")
	}()

	assert.Equal(t, []any{"a", "b"}, receiveAll(t, in, 2))
	assert.Equal(t, "sensors.>", sub.subject)
}

func TestSource_SubscribeFailureIsReported(t *testing.T) {
	sub := &fakeSubscriber{err: natsclient.ErrNotConnected}
	in := rat.NewBuffered(NewSource(sub, Config{Subject: "x"}, nil), 8,
		rat.WithPollTimeout(10*time.Millisecond))
	require.NoError(t, in.SetUp(&rat.StaticOwner{OwnerName: "nats"}))
	defer in.StopExecution()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := in.Receive(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, natsclient.ErrNotConnected)
	assert.True(t, errors.IsTransient(err))

	// The next reception starts the source again.
	_ = in.Receive(ctx)
	assert.Equal(t, 2, sub.subscriptions())
}

func TestSource_RequiresClient(t *testing.T) {
	in := rat.NewBuffered(NewSource(nil, Config{Subject: "x"}, nil), 0)
	err := in.SetUp(&rat.StaticOwner{OwnerName: "nats"})
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestNewInput(t *testing.T) {
	_, err := NewInput(json.RawMessage(`{"subject":"a"}`), component.Dependencies{})
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	_, err = NewInput(json.RawMessage(`{"subject":""}`), component.Dependencies{})
	assert.True(t, errors.IsInvalid(err))

	_, err = NewInput(json.RawMessage(`{"subject":"a","format":"xml"}`), component.Dependencies{})
	assert.True(t, errors.IsInvalid(err))

	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)
	in, err := NewInput(json.RawMessage(`{"subject":"a"}`), component.Dependencies{NATSClient: client})
	require.NoError(t, err)
	assert.Equal(t, rat.TypeOf[[]byte](), in.(*rat.Buffered).Generates())
}
