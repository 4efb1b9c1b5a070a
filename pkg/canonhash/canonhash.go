// Package canonhash produces the deterministic serialization used as a
// document manifest: object keys sorted at every depth, no insignificant
// whitespace, and no HTML escaping of <, > or &.
package canonhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Stringify returns the canonical form of v. Struct values are first passed
// through encoding/json so their tags decide the key names.
func Stringify(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func Canonicalize(v any) ([]byte, error) {
	raw, err := marshalNoEscape(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if err := encodeCanonical(buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SumObject hashes the canonical form of v.
func SumObject(v any) (string, []byte, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), b, nil
}

func encodeCanonical(w io.Writer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = w.Write([]byte("{"))
		for i, k := range keys {
			if i > 0 {
				_, _ = w.Write([]byte(","))
			}
			kb, err := marshalNoEscape(k)
			if err != nil {
				return err
			}
			_, _ = w.Write(kb)
			_, _ = w.Write([]byte(":"))
			if err := encodeCanonical(w, t[k]); err != nil {
				return err
			}
		}
		_, _ = w.Write([]byte("}"))
		return nil
	case []any:
		_, _ = w.Write([]byte("["))
		for i, vv := range t {
			if i > 0 {
				_, _ = w.Write([]byte(","))
			}
			if err := encodeCanonical(w, vv); err != nil {
				return err
			}
		}
		_, _ = w.Write([]byte("]"))
		return nil
	case json.Number:
		_, _ = w.Write([]byte(t.String()))
		return nil
	case string, bool, nil:
		b, err := marshalNoEscape(t)
		if err != nil {
			return err
		}
		_, _ = w.Write(b)
		return nil
	default:
		return fmt.Errorf("canonhash: unsupported value %T", v)
	}
}

func marshalNoEscape(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
