package state

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// Fingerprint returns the hex SHA-256 of v's canonical JSON encoding. Map keys
// are sorted by the encoder, so equal documents hash equally regardless of how
// they were built. Values JSON cannot encode fall back to their YAML form.
func Fingerprint(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data, err = yaml.Marshal(v)
		if err != nil {
			data = []byte(fmt.Sprintf("%#v", v))
		}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Decode converts a generic document (maps, slices, scalars) into out, which is
// usually a pointer to a backend's typed payload struct. Unknown fields are
// rejected so typos in the desired-state document surface as errors.
func Decode(value any, out any) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Encode converts a typed value into the generic document representation.
func Encode(v any) (any, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

// Clone deep-copies the generic document containers. Scalars and typed values
// are returned as-is.
func Clone(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[k] = Clone(val)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(typed))
		for k, val := range typed {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = Clone(val)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
