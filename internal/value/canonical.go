package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces the canonical JSON encoding of v. Signing and
// verification both go through this function, so its output for a given
// Value must never change.
//
// Differences from encoding/json:
//  1. Object keys are sorted by UTF-16 code units.
//  2. No HTML escaping; U+2028 and U+2029 are written literally.
//  3. Strings and object keys are NFC normalized. Keys are ordered by
//     their normalized form, and keys that normalize to the same string
//     are rejected with ErrKeyCollision.
//  4. Floats use the shortest round-trip form; NaN and Inf are rejected.
func MarshalCanonical(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return marshalCanonicalString(string(val))
	case Int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case Float:
		return marshalFloat(float64(val))
	case Bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case Array:
		return marshalCanonicalArray(val)
	case Object:
		return marshalCanonicalObject(val)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func marshalFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", f)
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return strconv.AppendInt(nil, int64(f), 10), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return unescapeLineSeparators(out), nil
}

// unescapeLineSeparators rewrites the \u2028 and \u2029 escapes that
// encoding/json emits back into literal characters. An escaped backslash
// followed by the text "u2028" is left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' || i+1 >= len(data) {
			out = append(out, data[i])
			continue
		}
		if data[i+1] == 'u' && i+6 <= len(data) && string(data[i+2:i+5]) == "202" {
			switch data[i+5] {
			case '8':
				out = append(out, "\u2028"...)
				i += 5
				continue
			case '9':
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}
		// Any other escape: copy both bytes so an escaped backslash is
		// never mistaken for the start of a new sequence.
		out = append(out, data[i], data[i+1])
		i++
	}
	return out
}

func marshalCanonicalArray(arr Array) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// ErrKeyCollision is returned for an object holding two keys that are
// equal after NFC normalization. Such an object cannot survive a round
// trip through its canonical form.
var ErrKeyCollision = errors.New("object keys collide after NFC normalization")

type canonicalKey struct {
	raw, nfc string
}

// canonicalKeys normalizes keys and orders them by their normalized form,
// which is the form a decoder sees.
func canonicalKeys(obj Object) ([]canonicalKey, error) {
	keys := make([]canonicalKey, 0, len(obj))
	for k := range obj {
		keys = append(keys, canonicalKey{raw: k, nfc: norm.NFC.String(k)})
	}
	slices.SortFunc(keys, func(a, b canonicalKey) int {
		if c := compareUTF16(a.nfc, b.nfc); c != 0 {
			return c
		}
		return compareUTF16(a.raw, b.raw)
	})
	for i := 1; i < len(keys); i++ {
		if keys[i].nfc == keys[i-1].nfc {
			return nil, fmt.Errorf("%w: %q and %q", ErrKeyCollision, keys[i-1].raw, keys[i].raw)
		}
	}
	return keys, nil
}

func marshalCanonicalObject(obj Object) ([]byte, error) {
	keys, err := canonicalKeys(obj)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalCanonicalString(k.nfc)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k.raw, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')

		vb, err := MarshalCanonical(obj[k.raw])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k.raw, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
