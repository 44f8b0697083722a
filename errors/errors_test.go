package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"storage full", ErrStorageFull, true},
		{"context canceled", context.Canceled, true},
		{"deadline", context.DeadlineExceeded, true},
		{"message pattern", fmt.Errorf("read timeout on socket"), true},
		{"incompatible", ErrIncompatibleTypes, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"incompatible types", ErrIncompatibleTypes, true},
		{"setup failed", ErrSetupFailed, true},
		{"wrapped incompatible", fmt.Errorf("rat x: %w", ErrIncompatibleTypes), true},
		{"queue not found", ErrQueueNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrInvalidData))
	assert.True(t, IsInvalid(ErrUnknownComponent))
	assert.True(t, IsInvalid(WrapInvalid(fmt.Errorf("bad"), "Rat", "SetUp", "validate")))
	assert.False(t, IsInvalid(ErrConnectionLost))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(nil))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	assert.Equal(t, ErrorFatal, Classify(ErrIncompatibleTypes))
	assert.Equal(t, ErrorInvalid, Classify(ErrParsingFailed))
	assert.Equal(t, ErrorTransient, Classify(fmt.Errorf("something odd")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "Rat", "Start", "spawn worker"))

	err := Wrap(ErrQueueNotFound, "EnQueue", "Transmit", "push item")
	require.Error(t, err)
	assert.Equal(t, "EnQueue.Transmit: push item failed: queue not available", err.Error())
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestWrapClassified(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, tt.wrap(nil, "c", "m", "a"))

			err := tt.wrap(ErrInvalidConfig, "Group", "SetUp", "expand template")
			var ce *ClassifiedError
			require.True(t, As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "Group", ce.Component)
			assert.Equal(t, "SetUp", ce.Operation)
			assert.Equal(t, "Group.SetUp: expand template failed: invalid configuration", err.Error())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
