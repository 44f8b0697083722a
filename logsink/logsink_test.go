package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ratstreams/component"
	cerrors "github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/natsclient"
	"github.com/c360/ratstreams/storage"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (r *recordingSink) Log(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

var _ Publisher = (*natsclient.Client)(nil)

func TestNewEntry(t *testing.T) {
	e := NewEntry("group.rat", "receive", "item-1", "boom")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "group.rat", e.Source)
	assert.Equal(t, "receive", e.Type)
	assert.Equal(t, StatusNew, e.Status)
	assert.Equal(t, "boom", e.Message[KeyErrors])
	assert.Equal(t, "item-1", e.Message[KeyID])
	assert.WithinDuration(t, time.Now(), e.Timestamp, time.Second)
}

func TestEmit_NoSinkWritesProcessLog(t *testing.T) {
	logger, buf := bufferLogger()

	Emit(context.Background(), nil, logger, NewEntry("r1", "send", "42", "refused"))

	assert.Contains(t, buf.String(), "LOG: 42 - refused")
}

func TestEmit_SinkFailureFallsBack(t *testing.T) {
	logger, buf := bufferLogger()
	sink := &recordingSink{err: errors.New("disk gone")}

	Emit(context.Background(), sink, logger, NewEntry("r1", "send", "42", "refused"))

	assert.Len(t, sink.entries, 1)
	assert.Contains(t, buf.String(), "disk gone")
	assert.Contains(t, buf.String(), "refused")
}

func TestEmit_SinkSuccessSkipsProcessLog(t *testing.T) {
	logger, buf := bufferLogger()
	sink := &recordingSink{}

	Emit(context.Background(), sink, logger, NewEntry("r1", "receive", "", "x"))

	assert.Len(t, sink.entries, 1)
	assert.Empty(t, buf.String())
}

// slowSink fails the test if two calls overlap.
type slowSink struct {
	t      *testing.T
	mu     sync.Mutex
	inside bool
	calls  int
}

func (s *slowSink) Log(context.Context, Entry) error {
	s.mu.Lock()
	if s.inside {
		s.t.Error("concurrent Log call")
	}
	s.inside = true
	s.calls++
	s.mu.Unlock()

	time.Sleep(time.Millisecond)

	s.mu.Lock()
	s.inside = false
	s.mu.Unlock()
	return nil
}

func TestSerialized(t *testing.T) {
	inner := &slowSink{t: t}
	sink := Serialized(inner)
	assert.Same(t, sink, Serialized(sink))
	assert.Nil(t, Serialized(nil))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_ = sink.Log(context.Background(), NewEntry("r", "send", "", "m"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 40, inner.calls)
}

func TestMulti(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("b failed")}
	c := &recordingSink{}

	err := Multi(a, b, c).Log(context.Background(), NewEntry("r", "send", "", "m"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
	assert.Len(t, a.entries, 1)
	assert.Len(t, c.entries, 1)
}

func TestSlogSink(t *testing.T) {
	logger, buf := bufferLogger()
	require.NoError(t, Slog{Logger: logger}.Log(context.Background(), NewEntry("r9", "transform/transmit", "7", "bad json")))

	out := buf.String()
	assert.Contains(t, out, "bad json")
	assert.Contains(t, out, "source=r9")
	assert.Contains(t, out, "type=transform/transmit")
}

func TestQueueSink(t *testing.T) {
	s := storage.New("g", storage.Deps{})
	q, err := s.CreateQueue("log")
	require.NoError(t, err)

	e := NewEntry("r", "send", "1", "m")
	require.NoError(t, Queue{Queue: q}.Log(context.Background(), e))

	got, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, e, got)

	assert.Error(t, Queue{}.Log(context.Background(), e))
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func TestNATSSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATS(pub, "plant")

	e := NewEntry("plant-a", "send", "1", "timeout")
	require.NoError(t, sink.Log(context.Background(), e))
	assert.Equal(t, "logs.plant.plant-a", pub.subject)

	var decoded Entry
	require.NoError(t, json.Unmarshal(pub.data, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, "timeout", decoded.Message[KeyErrors])

	pub.err = errors.New("no responders")
	assert.Error(t, sink.Log(context.Background(), e))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Log(ctx, e), context.Canceled)
}

func TestRegister_BuildsSinks(t *testing.T) {
	reg := component.NewRegistry()
	require.NoError(t, Register(reg))
	for _, name := range []string{"slog", "queue", "nats"} {
		assert.True(t, reg.Has(component.KindSink, name), name)
	}

	store := storage.New("g", storage.Deps{})
	s, err := component.Create[Sink](reg, component.KindSink,
		component.Spec{Type: "queue", Config: json.RawMessage(`{"queue":"errors_log"}`)},
		component.Dependencies{Storage: store})
	require.NoError(t, err)

	require.NoError(t, s.Log(context.Background(), NewEntry("g.r", "receive", "1", "boom")))
	q, ok := store.Queue("errors_log")
	require.True(t, ok)
	assert.Equal(t, 1, q.Size())

	_, err = component.Create[Sink](reg, component.KindSink,
		component.Spec{Type: "queue", Config: json.RawMessage(`{"queue":"x"}`)}, component.Dependencies{})
	assert.Error(t, err)
	_, err = component.Create[Sink](reg, component.KindSink, component.Spec{Type: "queue"}, component.Dependencies{Storage: store})
	assert.Error(t, err)

	_, err = component.Create[Sink](reg, component.KindSink, component.Spec{Type: "nats"}, component.Dependencies{})
	assert.ErrorIs(t, err, cerrors.ErrNoConnection)

	s, err = component.Create[Sink](reg, component.KindSink, component.Spec{Type: "slog"}, component.Dependencies{})
	require.NoError(t, err)
	assert.IsType(t, Slog{}, s)
}
