package retell

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON renders v as canonical JSON: object keys sorted, compact
// separators, numbers kept as written. Equal values always produce equal
// bytes, which is what the trace hashes and plan ids rely on.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("retell: canonical: %w", err)
	}
	node, err := decodeCanonical(raw)
	if err != nil {
		return nil, fmt.Errorf("retell: canonical: %w", err)
	}
	return appendCanonical(nil, node)
}

// CanonicalString is CanonicalJSON as a string.
func CanonicalString(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CanonicalRaw re-encodes already-serialized JSON into canonical form.
func CanonicalRaw(data []byte) ([]byte, error) {
	node, err := decodeCanonical(data)
	if err != nil {
		return nil, fmt.Errorf("retell: canonical raw: %w", err)
	}
	return appendCanonical(nil, node)
}

// decodeCanonical parses JSON preserving number literals via json.Number.
func decodeCanonical(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var node any
	if err := dec.Decode(&node); err != nil {
		return nil, err
	}
	return node, nil
}

func appendCanonical(buf []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if x {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case json.Number:
		return append(buf, string(x)...), nil
	case string:
		return appendJSONString(buf, x)
	case []any:
		buf = append(buf, '[')
		for i, el := range x {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendCanonical(buf, el)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendJSONString(buf, k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ':')
			buf, err = appendCanonical(buf, x[k])
			if err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	default:
		return nil, fmt.Errorf("unexpected canonical node %T", v)
	}
}

// appendJSONString writes s as a JSON string without HTML escaping, so SSML
// markup survives readable on the wire.
func appendJSONString(buf []byte, s string) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	out := b.Bytes()
	// Encode appends a newline.
	out = bytes.TrimRight(out, "\n")
	return append(buf, out...), nil
}
