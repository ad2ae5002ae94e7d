// Package codec is the value encoding memoized function results pass
// through before they enter the cache, and decode back out of when a hit
// is replayed to the caller. Restricted to the JSON structured-document
// model deliberately: arbitrary language-level object graphs (closures,
// channels, live handles) are rejected rather than serialized, since
// nothing downstream of the cache can reconstruct them anyway.
package codec

import (
	"encoding/json"
	"fmt"
)

// Encode renders v as its structured-document encoding. It fails loudly
// for values that have no document form (functions, channels, complex
// numbers). Unexported struct fields are left out of the encoding
// without an error, as encoding/json does.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: value is not a structured document: %w", err)
	}
	return data, nil
}

// Decode reconstructs a value of out's type from data previously produced
// by Encode. out must be a pointer, per encoding/json convention.
func Decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("codec: stored value does not match requested type: %w", err)
	}
	return nil
}
