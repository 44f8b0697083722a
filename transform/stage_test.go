package transform

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

func split(sep string) *Func {
	return &Func{
		StepName: "split",
		In:       rat.Types(rat.TypeOf[string]()),
		Out:      rat.Types(rat.TypeOf[string]()),
		Transform: func(_ context.Context, item any) ([]any, error) {
			var out []any
			for _, part := range strings.Split(item.(string), sep) {
				if part != "" {
					out = append(out, part)
				}
			}
			return out, nil
		},
	}
}

func TestStage_ProcessOrderAndFanOut(t *testing.T) {
	s := New(BytesToString(), split(","), Trim(), Upper())
	require.NoError(t, s.SetUp())
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, rat.Types(rat.TypeOf[[]byte]()), s.Accepts())
	assert.Equal(t, rat.Types(rat.TypeOf[string]()), s.Generates())

	out, err := s.Process(context.Background(), []byte(" a, b ,c"))
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "B", "C"}, out)
}

func TestStage_FilterStopsPipeline(t *testing.T) {
	filter, err := NewRegexFilter("^keep", false)
	require.NoError(t, err)

	calls := 0
	counter := NewFunc("count", func(s string) (string, error) {
		calls++
		return s, nil
	})

	s := New(filter, counter)
	require.NoError(t, s.SetUp())

	out, err := s.Process(context.Background(), "drop me")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, calls)

	out, err = s.Process(context.Background(), "keep me")
	require.NoError(t, err)
	assert.Equal(t, []any{"keep me"}, out)
	assert.Equal(t, 1, calls)
}

func TestStage_SetUpRejectsIncompatibleSteps(t *testing.T) {
	s := New(StringToBytes(), Upper())
	err := s.SetUp()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrIncompatibleTypes)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "step string-to-bytes not compatible with step upper")
}

func TestStage_ErrorNamesStep(t *testing.T) {
	s := New(JSONDecode())
	require.NoError(t, s.SetUp())

	_, err := s.Process(context.Background(), "{not json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step json-decode")
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
}

func TestStage_StopExecutionAndClone(t *testing.T) {
	s := New(Upper())
	require.NoError(t, s.SetUp())
	s.StopExecution()

	_, err := s.Process(context.Background(), "x")
	assert.ErrorIs(t, err, errors.ErrShuttingDown)

	c := s.Clone()
	out, err := c.Process(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []any{"X"}, out)
	assert.Same(t, s.Steps()[0], c.(*Stage).Steps()[0])

	require.NoError(t, s.SetUp())
	_, err = s.Process(context.Background(), "x")
	assert.NoError(t, err)
}

func TestStage_Empty(t *testing.T) {
	s := New()
	require.NoError(t, s.SetUp())
	assert.Zero(t, s.Len())
	assert.Nil(t, s.Accepts())
	assert.Nil(t, s.Generates())
}

func TestFunc_WrongInputType(t *testing.T) {
	_, err := Lower().Process(context.Background(), 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
	assert.True(t, errors.IsInvalid(err))
}

func TestJSONRoundTripSteps(t *testing.T) {
	s := New(JSONDecode(), JSONEncode())
	require.NoError(t, s.SetUp())

	out, err := s.Process(context.Background(), []byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(out[0].([]byte)))
}

func TestRegexFilter_Invert(t *testing.T) {
	f, err := NewRegexFilter(`\d+`, true)
	require.NoError(t, err)

	out, err := f.Process(context.Background(), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []any{[]byte("abc")}, out)

	out, err = f.Process(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = NewRegexFilter("(", false)
	assert.True(t, errors.IsInvalid(err))
}

func TestBuiltin(t *testing.T) {
	for _, name := range BuiltinNames() {
		raw := json.RawMessage(nil)
		if name == "regex-filter" {
			raw = json.RawMessage(`{"pattern":"x"}`)
		}
		step, err := Builtin(name, raw)
		require.NoError(t, err, name)
		assert.Equal(t, name, step.Name())
	}

	_, err := Builtin("regex-filter", nil)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = Builtin("nope", nil)
	assert.ErrorIs(t, err, errors.ErrUnknownComponent)
}
