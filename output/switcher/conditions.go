package switcher

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"

	"github.com/c360/ratstreams/errors"
)

// Condition selects the case an item is sent to.
type Condition interface {
	Match(item any) bool
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc func(item any) bool

// Match calls f.
func (f ConditionFunc) Match(item any) bool { return f(item) }

// Always matches everything. Use it last as the default case.
func Always() Condition {
	return ConditionFunc(func(any) bool { return true })
}

// Regex matches string and []byte items against pattern.
func Regex(pattern string) (Condition, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Switch", "Regex", "compile pattern")
	}
	return ConditionFunc(func(item any) bool {
		switch v := item.(type) {
		case string:
			return re.MatchString(v)
		case []byte:
			return re.Match(v)
		default:
			return false
		}
	}), nil
}

// FieldEquals matches map items whose field equals value after JSON
// normalization, so 1 and 1.0 compare equal.
func FieldEquals(field string, value any) Condition {
	want := normalize(value)
	return ConditionFunc(func(item any) bool {
		m, ok := item.(map[string]any)
		if !ok {
			return false
		}
		got, ok := m[field]
		return ok && reflect.DeepEqual(normalize(got), want)
	})
}

func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// Kind matches items by broad kind: string, bytes, map, number or bool.
func Kind(kind string) (Condition, error) {
	switch kind {
	case "string", "bytes", "map", "number", "bool":
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown kind %q", errors.ErrInvalidConfig, kind), "Switch", "Kind", "parse kind")
	}
	return ConditionFunc(func(item any) bool {
		return kindOf(item) == kind
	}), nil
}

func kindOf(item any) string {
	switch item.(type) {
	case string:
		return "string"
	case []byte:
		return "bytes"
	case map[string]any:
		return "map"
	case bool:
		return "bool"
	}
	switch reflect.ValueOf(item).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	default:
		return ""
	}
}

// ConditionConfig is the configuration form of a condition.
type ConditionConfig struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern,omitempty"`
	Field   string `json:"field,omitempty"`
	Equals  any    `json:"equals,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Build turns the configuration into a Condition.
func (c ConditionConfig) Build() (Condition, error) {
	switch c.Type {
	case "always", "":
		return Always(), nil
	case "regex":
		return Regex(c.Pattern)
	case "field":
		if c.Field == "" {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Switch", "Build", "field condition needs a field")
		}
		return FieldEquals(c.Field, c.Equals), nil
	case "kind":
		return Kind(c.Kind)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: condition %q", errors.ErrUnknownComponent, c.Type), "Switch", "Build", "look up condition")
	}
}
