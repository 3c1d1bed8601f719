package ir

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON.
// It is the only encoding used for state hashes, query keys, and persisted
// journal payloads, so two equal values always produce identical bytes.
//
// Differences from encoding/json:
//   - object keys sorted by UTF-16 code units
//   - no HTML escaping and no escaping of U+2028/U+2029
//   - strings NFC normalized
//   - floats rejected
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshalCanonical is like MarshalCanonical but panics on error.
// An IRValue fails to encode only when one of its objects holds two keys
// that are equal after NFC normalization.
func MustMarshalCanonical(v IRValue) []byte {
	b, err := MarshalCanonical(v)
	if err != nil {
		panic(err)
	}
	return b
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil, IRNull:
		buf.WriteString("null")
	case IRString:
		writeCanonicalString(buf, string(val))
	case string:
		writeCanonicalString(buf, val)
	case IRInt:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case IRBool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case IRArray:
		return writeCanonicalArray(buf, val)
	case IRObject:
		return writeCanonicalObject(buf, val)
	case []any, map[string]any:
		iv, err := FromAny(val)
		if err != nil {
			return err
		}
		return writeCanonical(buf, iv)
	case float64, float32:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// writeCanonicalString escapes only quote, backslash and control characters.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				buf.WriteString(`�`)
			} else {
				buf.WriteString(s[i : i+size])
			}
			i += size
			continue
		}
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, c)
			} else {
				buf.WriteByte(c)
			}
		}
		i++
	}
	buf.WriteByte('"')
}

func writeCanonicalArray(buf *bytes.Buffer, arr IRArray) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, elem); err != nil {
			return fmt.Errorf("array[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

// writeCanonicalObject orders entries by their NFC-normalized keys, the
// form they are written in. Two keys that normalize to the same string
// cannot both be represented and are an error.
func writeCanonicalObject(buf *bytes.Buffer, obj IRObject) error {
	type entry struct{ norm, raw string }
	entries := make([]entry, 0, len(obj))
	for k := range obj {
		entries = append(entries, entry{norm: norm.NFC.String(k), raw: k})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return compareKeysRFC8785(a.norm, b.norm)
	})

	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			if entries[i-1].norm == e.norm {
				return fmt.Errorf("keys %q and %q are equal after NFC normalization", entries[i-1].raw, e.raw)
			}
			buf.WriteByte(',')
		}
		writeCanonicalString(buf, e.norm)
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[e.raw]); err != nil {
			return fmt.Errorf("value for key %q: %w", e.raw, err)
		}
	}
	buf.WriteByte('}')
	return nil
}
