package socket

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/metric"
	"github.com/c360/ratstreams/rat"
)

func newTestInput(t *testing.T, cfg Config) (*rat.Buffered, *Source) {
	t.Helper()
	src := NewSource(cfg, SourceDeps{MetricsRegistry: metric.NewMetricsRegistry()})
	in := rat.NewBuffered(src, 16, rat.WithPollTimeout(10*time.Millisecond))
	require.NoError(t, in.SetUp(&rat.StaticOwner{OwnerName: "socket-test"}))
	t.Cleanup(in.StopExecution)
	return in, src
}

func send(t *testing.T, addr net.Addr, payload string) {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func receive(t *testing.T, in *rat.Buffered, n int) []any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var items []any
	for len(items) < n {
		require.NoError(t, ctx.Err(), "timed out after %d items", len(items))
		require.NoError(t, in.Receive(ctx))
		for in.HasPendingOutput() {
			items = append(items, in.Output())
		}
	}
	return items
}

func TestSource_OneItemPerConnection(t *testing.T) {
	in, src := newTestInput(t, Config{Address: "127.0.0.1:0"})
	assert.Equal(t, rat.TypeOf[[]byte](), in.Generates())

	// The listener is bound at SetUp, before the first reception.
	addr := src.Addr()
	require.NotNil(t, addr)

	send(t, addr, "first payload")
	items := receive(t, in, 1)
	assert.Equal(t, []byte("first payload"), items[0])

	send(t, addr, "second")
	items = receive(t, in, 1)
	assert.Equal(t, []byte("second"), items[0])
}

func TestSource_StringFormat(t *testing.T) {
	in, src := newTestInput(t, Config{Address: "127.0.0.1:0", Format: FormatString})
	assert.Equal(t, rat.TypeOf[string](), in.Generates())

	send(t, src.Addr(), "hello")
	assert.Equal(t, []any{"hello"}, receive(t, in, 1))
}

func TestSource_OversizedPayloadDropped(t *testing.T) {
	in, src := newTestInput(t, Config{Address: "127.0.0.1:0", MaxSize: 4})

	send(t, src.Addr(), "too large")
	send(t, src.Addr(), "ok")

	assert.Equal(t, []any{[]byte("ok")}, receive(t, in, 1))
}

func TestSource_StopClosesListener(t *testing.T) {
	in, src := newTestInput(t, Config{Address: "127.0.0.1:0"})
	addr := src.Addr()

	done := make(chan error, 1)
	go func() { done <- in.Receive(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	in.StopExecution()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after stop")
	}

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr.String(), 100*time.Millisecond)
		if err != nil {
			return true
		}
		conn.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Address: ":9000"}, false},
		{"missing address", Config{}, true},
		{"bad address", Config{Address: "nope"}, true},
		{"bad format", Config{Address: ":1", Format: "xml"}, true},
		{"negative size", Config{Address: ":1", MaxSize: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewInput(t *testing.T) {
	raw := json.RawMessage(`{"address":"127.0.0.1:0","read_timeout":"1s","buffer_capacity":8}`)
	in, err := NewInput(raw, component.Dependencies{})
	require.NoError(t, err)

	buffered, ok := in.(*rat.Buffered)
	require.True(t, ok)
	src := buffered.Source().(*Source)
	assert.Equal(t, time.Second, src.readTimeout)
	assert.Equal(t, DefaultAcceptTimeout, src.acceptTimeout)

	_, err = NewInput(json.RawMessage(`{"address":"127.0.0.1:0","read_timeout":"soon"}`), component.Dependencies{})
	assert.True(t, errors.IsInvalid(err))

	registry := component.NewRegistry()
	require.NoError(t, Register(registry))
	assert.True(t, registry.Has(component.KindInput, "socket"))
}
