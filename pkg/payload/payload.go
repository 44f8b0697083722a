// Package payload converts pipeline items to and from message bodies for the
// message oriented adapters.
package payload

import (
	"encoding/json"

	"github.com/c360/ratstreams/errors"
)

// Format names used in adapter configuration
const (
	FormatBytes  = "bytes"
	FormatString = "string"
	FormatJSON   = "json"
)

// ValidFormat reports whether f names a decoding format. Empty means bytes.
func ValidFormat(f string) bool {
	switch f {
	case "", FormatBytes, FormatString, FormatJSON:
		return true
	}
	return false
}

// Encode returns text items verbatim and marshals anything else as JSON.
func Encode(item any) ([]byte, error) {
	switch v := item.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, errors.WrapInvalid(err, "payload", "Encode", "marshal item")
	}
	return data, nil
}

// Decode turns a message body into an item of the given format.
func Decode(data []byte, format string) (any, error) {
	switch format {
	case FormatString:
		return string(data), nil
	case FormatJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.WrapInvalid(errors.ErrParsingFailed, "payload", "Decode", err.Error())
		}
		return v, nil
	default:
		return data, nil
	}
}
