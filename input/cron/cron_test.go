package cron

import (
	"context"
	"encoding/json"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/input/dummy"
	"github.com/c360/ratstreams/rat"
)

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

// tickInput emits one "tick" per reception.
type tickInput struct {
	rat.InputBase
	receives atomic.Int32
	err      error
}

func (i *tickInput) Generates() reflect.Type { return rat.TypeOf[string]() }

func (i *tickInput) Receive(context.Context) error {
	i.receives.Add(1)
	if i.err != nil {
		return i.err
	}
	i.Emit("tick")
	return nil
}

func setUp(t *testing.T, in *Input) {
	t.Helper()
	require.NoError(t, in.SetUp(&rat.StaticOwner{OwnerName: "cron-test"}))
	t.Cleanup(in.StopExecution)
}

func TestInput_FiresOnSchedule(t *testing.T) {
	base := &tickInput{}
	in := New(base, every(40*time.Millisecond))
	setUp(t, in)
	assert.Equal(t, rat.TypeOf[string](), in.Generates())

	start := time.Now()
	require.NoError(t, in.Receive(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, int32(1), base.receives.Load())
	require.True(t, in.HasPendingOutput())
	assert.Equal(t, "tick", in.Output())
	assert.False(t, base.HasPendingOutput())

	require.NoError(t, in.Receive(context.Background()))
	assert.Equal(t, int32(2), base.receives.Load())
}

func TestInput_InterruptKeepsTrigger(t *testing.T) {
	base := &tickInput{}
	in := New(base, every(time.Hour))
	setUp(t, in)
	next := in.Next()

	go func() {
		time.Sleep(20 * time.Millisecond)
		in.InterruptReception()
	}()

	start := time.Now()
	require.NoError(t, in.Receive(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, in.HasPendingOutput())
	assert.Zero(t, base.receives.Load())
	assert.Equal(t, next, in.Next())
	assert.True(t, base.ReceptionInterrupted())
}

func TestInput_StopEndsWait(t *testing.T) {
	base := &tickInput{}
	in := New(base, every(time.Hour))
	setUp(t, in)

	go func() {
		time.Sleep(20 * time.Millisecond)
		in.StopExecution()
	}()
	require.NoError(t, in.Receive(context.Background()))
	assert.Zero(t, base.receives.Load())
	assert.True(t, base.IsStopped())
}

func TestInput_BaseErrorWrapped(t *testing.T) {
	base := &tickInput{err: errors.New("command failed")}
	in := New(base, every(time.Millisecond))
	setUp(t, in)

	err := in.Receive(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command failed")
	assert.False(t, in.HasPendingOutput())
}

func TestParse(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 */5 * * * *", false},
		{"*/5 * * * *", false},
		{"@every 10s", false},
		{"@hourly", false},
		{"not a schedule", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Parse(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewInput(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, dummy.Register(registry))
	require.NoError(t, Register(registry))

	in, err := component.Create[rat.Input](registry, component.KindInput, component.Spec{
		Type:   "cron",
		Config: json.RawMessage(`{"schedule":"@every 1s","input":{"type":"dummy"}}`),
	}, component.Dependencies{})
	require.NoError(t, err)
	c, ok := in.(*Input)
	require.True(t, ok)
	assert.IsType(t, &dummy.Input{}, c.Base())

	for _, raw := range []string{
		`{"input":{"type":"dummy"}}`,
		`{"schedule":"bogus","input":{"type":"dummy"}}`,
		`{"schedule":"@every 1s"}`,
		`{"schedule":"@every 1s","input":{"type":"missing"}}`,
	} {
		_, err := component.Create[rat.Input](registry, component.KindInput,
			component.Spec{Type: "cron", Config: json.RawMessage(raw)}, component.Dependencies{})
		assert.Error(t, err, raw)
	}

	_, err = NewInput(json.RawMessage(`{"schedule":"@every 1s","input":{"type":"dummy"}}`), component.Dependencies{})
	assert.True(t, errors.IsFatal(err))
}
