package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize renders v as canonical JSON: object keys sorted, minimal
// string escapes, numbers in canonical ECMAScript form. Signer and
// verifier both run their payloads through this so they never disagree on
// byte layout.
func Canonicalize(v any) ([]byte, error) {
	switch value := v.(type) {
	case nil, bool, string, json.Number, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		map[string]any, []any:
		buf := &bytes.Buffer{}
		if err := encodeValue(buf, value); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case json.RawMessage:
		return CanonicalizeJSON([]byte(value))
	case []byte:
		return CanonicalizeJSON(value)
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return CanonicalizeJSON(raw)
	}
}

// CanonicalizeJSON re-encodes already-serialized JSON canonically.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := decoderAtEOF(dec); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if err := encodeValue(buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decoderAtEOF(dec *json.Decoder) error {
	var extra any
	if err := dec.Decode(&extra); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return errors.New("invalid JSON: trailing data")
}

func encodeValue(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		encodeString(buf, v)
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return fmt.Errorf("invalid JSON number: %w", err)
		}
		num, err := canonicalNumber(f)
		if err != nil {
			return err
		}
		buf.WriteString(num)
	case float64:
		num, err := canonicalNumber(v)
		if err != nil {
			return err
		}
		buf.WriteString(num)
	case float32:
		return encodeValue(buf, float64(v))
	case int:
		return encodeValue(buf, float64(v))
	case int8:
		return encodeValue(buf, float64(v))
	case int16:
		return encodeValue(buf, float64(v))
	case int32:
		return encodeValue(buf, float64(v))
	case int64:
		return encodeValue(buf, float64(v))
	case uint:
		return encodeValue(buf, float64(v))
	case uint8:
		return encodeValue(buf, float64(v))
	case uint16:
		return encodeValue(buf, float64(v))
	case uint32:
		return encodeValue(buf, float64(v))
	case uint64:
		return encodeValue(buf, float64(v))
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encodeValue(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unsupported JSON type %T", value)
	}
	return nil
}

var hexLower = []byte("0123456789abcdef")

func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
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
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// canonicalNumber mirrors ECMAScript number-to-string: plain decimal for
// exponents in (-7, 21), scientific notation outside that range.
func canonicalNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errors.New("invalid JSON number")
	}
	if f == 0 {
		return "0", nil
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = math.Abs(f)
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	parts := strings.SplitN(sci, "e", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid float format: %q", sci)
	}
	exp, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid float exponent: %w", err)
	}
	digits := strings.ReplaceAll(parts[0], ".", "")

	if exp <= -7 || exp >= 21 {
		if len(digits) == 1 {
			return sign + digits + "e" + strconv.Itoa(exp), nil
		}
		return sign + digits[:1] + "." + digits[1:] + "e" + strconv.Itoa(exp), nil
	}

	point := exp + 1
	if point >= len(digits) {
		return sign + digits + strings.Repeat("0", point-len(digits)), nil
	}
	if point <= 0 {
		return sign + "0." + strings.Repeat("0", -point) + digits, nil
	}
	return sign + digits[:point] + "." + digits[point:], nil
}
