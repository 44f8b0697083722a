package switcher_test

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/output/dummy"
	outqueue "github.com/c360/ratstreams/output/queue"
	"github.com/c360/ratstreams/output/switcher"
	"github.com/c360/ratstreams/rat"
	"github.com/c360/ratstreams/storage"
)

type capture struct {
	rat.OutputBase
	items   []any
	err     error
	setUp   error
	accepts []reflect.Type
}

func (c *capture) Accepts() []reflect.Type {
	if c.accepts != nil {
		return c.accepts
	}
	return rat.Types(rat.Unknown)
}

type textInput struct {
	rat.InputBase
}

func (i *textInput) Generates() reflect.Type { return rat.TypeOf[string]() }

func (i *textInput) Receive(context.Context) error { return nil }

func (c *capture) SetUp(o rat.Owner) error {
	if c.setUp != nil {
		return c.setUp
	}
	return c.OutputBase.SetUp(o)
}

func (c *capture) Transmit(context.Context) error {
	return c.Deliver(func(item any) error {
		if c.err != nil {
			return c.err
		}
		c.items = append(c.items, item)
		return nil
	})
}

func owner() rat.Owner {
	return &rat.StaticOwner{OwnerName: "r", OwnerStorage: storage.New("g", storage.Deps{})}
}

func TestSwitch_FirstMatchWins(t *testing.T) {
	digits, err := switcher.Regex(`^\d+$`)
	require.NoError(t, err)
	a, b, c := &capture{}, &capture{}, &capture{}

	sw := switcher.New([]switcher.Condition{digits, digits, switcher.Always()}, []rat.Output{a, b, c})
	require.NoError(t, sw.SetUp(owner()))

	for _, item := range []any{"12", "abc", []byte("7")} {
		sw.Input(item)
		require.NoError(t, sw.Transmit(context.Background()))
		assert.True(t, sw.CanInput())
	}

	assert.Equal(t, []any{"12", []byte("7")}, a.items)
	assert.Empty(t, b.items)
	assert.Equal(t, []any{"abc"}, c.items)
}

func TestSwitch_NoMatch(t *testing.T) {
	never := switcher.ConditionFunc(func(any) bool { return false })
	a := &capture{}

	sw := switcher.New([]switcher.Condition{never}, []rat.Output{a})
	require.NoError(t, sw.SetUp(owner()))
	sw.Input(1)
	assert.NoError(t, sw.Transmit(context.Background()))
	assert.Empty(t, a.items)

	sw.RequireMatch(true)
	sw.Input(1)
	assert.ErrorIs(t, sw.Transmit(context.Background()), errors.ErrNoCaseMatch)
}

func TestSwitch_CaseErrorIsPrefixed(t *testing.T) {
	a := &capture{err: errors.New("disk full")}
	sw := switcher.New([]switcher.Condition{switcher.Always()}, []rat.Output{a})
	require.NoError(t, sw.SetUp(owner()))

	sw.Input("x")
	err := sw.Transmit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case #1 failed with transmitting: disk full")
	assert.True(t, a.CanInput())
}

func TestSwitch_SetUp(t *testing.T) {
	sw := switcher.New([]switcher.Condition{switcher.Always()}, nil)
	err := sw.SetUp(owner())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "number of conditions and cases differ: 1 != 0")

	bad := &capture{setUp: errors.New("nope")}
	sw = switcher.New([]switcher.Condition{switcher.Always()}, []rat.Output{bad})
	err = sw.SetUp(owner())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set up case #1")
}

func TestSwitch_AcceptsWhatEveryCaseAccepts(t *testing.T) {
	bytesType := rat.TypeOf[[]byte]()
	stringType := rat.TypeOf[string]()
	two := []switcher.Condition{switcher.Always(), switcher.Always()}

	tests := []struct {
		name  string
		cases []rat.Output
		want  []reflect.Type
	}{
		{"all unknown", []rat.Output{&capture{}, &capture{}}, rat.Types(rat.Unknown)},
		{"one narrows", []rat.Output{&capture{}, &capture{accepts: rat.Types(bytesType)}}, rat.Types(bytesType)},
		{"intersection", []rat.Output{
			&capture{accepts: rat.Types(bytesType, stringType)},
			&capture{accepts: rat.Types(stringType)},
		}, rat.Types(stringType)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, switcher.New(two, tt.cases).Accepts())
		})
	}
}

func TestSwitch_IncompatibleCaseFailsSetUp(t *testing.T) {
	sw := switcher.New(
		[]switcher.Condition{switcher.Always(), switcher.Always()},
		[]rat.Output{&capture{}, &capture{accepts: rat.Types(rat.TypeOf[[]byte]())}},
	)
	r, err := rat.New(rat.Config{Name: "r", Input: &textInput{}, Output: sw}, rat.Deps{})
	require.NoError(t, err)

	err = r.Initialize()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrIncompatibleTypes)

	disjoint := switcher.New(
		[]switcher.Condition{switcher.Always(), switcher.Always()},
		[]rat.Output{
			&capture{accepts: rat.Types(rat.TypeOf[string]())},
			&capture{accepts: rat.Types(rat.TypeOf[int]())},
		},
	)
	r, err = rat.New(rat.Config{Name: "r", Input: &textInput{}, Output: disjoint}, rat.Deps{})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Initialize(), errors.ErrIncompatibleTypes)
}

func TestSwitch_StopExecutionStopsCases(t *testing.T) {
	a := &capture{}
	sw := switcher.New([]switcher.Condition{switcher.Always()}, []rat.Output{a})
	require.NoError(t, sw.SetUp(owner()))
	sw.StopExecution()
	assert.True(t, a.IsStopped())
	assert.True(t, sw.IsStopped())
}

func TestConditions(t *testing.T) {
	field := switcher.FieldEquals("level", 3)
	assert.True(t, field.Match(map[string]any{"level": 3.0}))
	assert.False(t, field.Match(map[string]any{"level": 4}))
	assert.False(t, field.Match("level"))

	number, err := switcher.Kind("number")
	require.NoError(t, err)
	assert.True(t, number.Match(uint8(1)))
	assert.True(t, number.Match(2.5))
	assert.False(t, number.Match("2"))

	bytesKind, err := switcher.Kind("bytes")
	require.NoError(t, err)
	assert.True(t, bytesKind.Match([]byte("x")))

	_, err = switcher.Kind("tensor")
	assert.True(t, errors.IsInvalid(err))

	_, err = switcher.ConditionConfig{Type: "field"}.Build()
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
	_, err = switcher.ConditionConfig{Type: "nope"}.Build()
	assert.ErrorIs(t, err, errors.ErrUnknownComponent)
}

func TestNewOutput_BuildsCasesThroughRegistry(t *testing.T) {
	reg := component.NewRegistry()
	require.NoError(t, switcher.Register(reg))
	require.NoError(t, dummy.Register(reg))
	require.NoError(t, outqueue.Register(reg))

	raw := json.RawMessage(`{
		"conditions": [{"type":"kind","kind":"string"}, {"type":"always"}],
		"cases": [{"type":"queue","config":{"queue":"strings"}}, {"type":"dummy"}]
	}`)
	out, err := component.Create[rat.Output](reg, component.KindOutput,
		component.Spec{Type: "switch", Config: raw}, component.Dependencies{})
	require.NoError(t, err)

	store := storage.New("g", storage.Deps{})
	strs, err := store.CreateQueue("strings")
	require.NoError(t, err)
	require.NoError(t, out.SetUp(&rat.StaticOwner{OwnerName: "r", OwnerStorage: store}))

	for _, item := range []any{"a", 1, "b"} {
		out.Input(item)
		require.NoError(t, out.Transmit(context.Background()))
	}
	assert.Equal(t, []any{"a", "b"}, strs.Drain())

	_, err = component.Create[rat.Output](reg, component.KindOutput, component.Spec{
		Type:   "switch",
		Config: json.RawMessage(`{"conditions":[{"type":"always"}],"cases":[{"type":"missing"}]}`),
	}, component.Dependencies{})
	assert.ErrorIs(t, err, errors.ErrUnknownComponent)
}
