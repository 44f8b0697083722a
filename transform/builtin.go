package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

var (
	bytesType  = rat.TypeOf[[]byte]()
	stringType = rat.TypeOf[string]()
	textTypes  = rat.Types(bytesType, stringType)
)

// BytesToString converts []byte items to string.
func BytesToString() Step {
	return NewFunc("bytes-to-string", func(b []byte) (string, error) {
		return string(b), nil
	})
}

// StringToBytes converts string items to []byte.
func StringToBytes() Step {
	return NewFunc("string-to-bytes", func(s string) ([]byte, error) {
		return []byte(s), nil
	})
}

// Trim removes leading and trailing white space.
func Trim() Step {
	return NewFunc("trim", func(s string) (string, error) {
		return strings.TrimSpace(s), nil
	})
}

// Upper converts to upper case.
func Upper() Step {
	return NewFunc("upper", func(s string) (string, error) {
		return strings.ToUpper(s), nil
	})
}

// Lower converts to lower case.
func Lower() Step {
	return NewFunc("lower", func(s string) (string, error) {
		return strings.ToLower(s), nil
	})
}

func text(item any) ([]byte, bool) {
	switch v := item.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}

// JSONDecode parses []byte or string items into generic JSON values.
func JSONDecode() Step {
	return &Func{
		StepName: "json-decode",
		In:       textTypes,
		Out:      rat.Types(rat.Unknown),
		Transform: func(_ context.Context, item any) ([]any, error) {
			data, ok := text(item)
			if !ok {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: got %T", errors.ErrInvalidData, item), "JSONDecode", "Process", "read item")
			}
			var v any
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "JSONDecode", "Process", "unmarshal item")
			}
			return []any{v}, nil
		},
	}
}

// JSONEncode marshals any item to []byte.
func JSONEncode() Step {
	return &Func{
		StepName: "json-encode",
		In:       rat.Types(rat.Unknown),
		Out:      rat.Types(bytesType),
		Transform: func(_ context.Context, item any) ([]any, error) {
			data, err := json.Marshal(item)
			if err != nil {
				return nil, errors.WrapInvalid(err, "JSONEncode", "Process", "marshal item")
			}
			return []any{data}, nil
		},
	}
}

// RegexFilter passes text items matching pattern, or not matching it when
// invert is set. Items keep their type.
type RegexFilter struct {
	re     *regexp.Regexp
	invert bool
}

var _ Step = (*RegexFilter)(nil)

// NewRegexFilter compiles pattern.
func NewRegexFilter(pattern string, invert bool) (*RegexFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.WrapInvalid(err, "RegexFilter", "New", "compile pattern")
	}
	return &RegexFilter{re: re, invert: invert}, nil
}

func (f *RegexFilter) Name() string { return "regex-filter" }

func (f *RegexFilter) Accepts() []reflect.Type { return textTypes }

func (f *RegexFilter) Generates() []reflect.Type { return textTypes }

func (f *RegexFilter) Process(_ context.Context, item any) ([]any, error) {
	data, ok := text(item)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: got %T", errors.ErrInvalidData, item), "RegexFilter", "Process", "read item")
	}
	if f.re.Match(data) != f.invert {
		return []any{item}, nil
	}
	return nil, nil
}

// RegexFilterConfig configures the regex-filter step.
type RegexFilterConfig struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Invert  bool   `json:"invert" yaml:"invert"`
}

// Builtin builds the named built-in step from raw JSON options.
func Builtin(name string, raw json.RawMessage) (Step, error) {
	switch name {
	case "bytes-to-string":
		return BytesToString(), nil
	case "string-to-bytes":
		return StringToBytes(), nil
	case "trim":
		return Trim(), nil
	case "upper":
		return Upper(), nil
	case "lower":
		return Lower(), nil
	case "json-decode":
		return JSONDecode(), nil
	case "json-encode":
		return JSONEncode(), nil
	case "regex-filter":
		var cfg RegexFilterConfig
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return nil, errors.WrapInvalid(err, "transform", "Builtin", "unmarshal regex-filter config")
			}
		}
		if cfg.Pattern == "" {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "transform", "Builtin", "regex-filter needs a pattern")
		}
		return NewRegexFilter(cfg.Pattern, cfg.Invert)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: step %q", errors.ErrUnknownComponent, name), "transform", "Builtin", "look up step")
	}
}

// BuiltinNames lists the steps Builtin knows.
func BuiltinNames() []string {
	return []string{
		"bytes-to-string", "string-to-bytes", "trim", "upper", "lower",
		"json-decode", "json-encode", "regex-filter",
	}
}
