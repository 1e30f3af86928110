// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package canon implements the JSON-c14n-v1 canonical encoding and BLAKE3
// hashing used for every cross-node identifier in the system: block ids,
// model ids, vote hashes, and audit digests.
package canon

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"
)

// ErrNonDeterministicEncoding is returned whenever a value cannot be encoded
// deterministically: floats, NaN-bearing types, or malformed UTF-8.
var ErrNonDeterministicEncoding = errors.New("canon: non-deterministic encoding")

// Encode renders v as JSON-c14n-v1 bytes: object keys sorted lexicographically
// by UTF-8 codepoint, arrays preserve order, no whitespace, integers without
// leading zeros, strings NFC-normalized. Floats whose JSON form has a
// fraction or exponent are rejected; a float with an integral value (e.g.
// 2.0) marshals as an integer and is not detected.
func Encode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	var generic interface{}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: decode: %w", err)
	}
	var buf strings.Builder
	if err := encodeValue(&buf, generic); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// Hash returns the BLAKE3-256 digest of the c14n-v1 encoding of v.
func Hash(v interface{}) ([32]byte, error) {
	b, err := Encode(v)
	if err != nil {
		return [32]byte{}, err
	}
	return HashBytes(b), nil
}

// HashBytes returns the BLAKE3-256 digest of raw bytes (already canonical).
func HashBytes(b []byte) [32]byte {
	return blake3.Sum256(b)
}

// MustEncode panics if Encode fails; for use with values known to be valid.
func MustEncode(v interface{}) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

func encodeValue(buf *strings.Builder, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return encodeNumber(buf, t)
	case string:
		return encodeString(buf, t)
	case []interface{}:
		return encodeArray(buf, t)
	case map[string]interface{}:
		return encodeObject(buf, t)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrNonDeterministicEncoding, v)
	}
}

func encodeNumber(buf *strings.Builder, n json.Number) error {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		return fmt.Errorf("%w: floating-point value %q", ErrNonDeterministicEncoding, s)
	}
	i := new(big.Int)
	if _, ok := i.SetString(s, 10); !ok {
		return fmt.Errorf("%w: malformed integer %q", ErrNonDeterministicEncoding, s)
	}
	buf.WriteString(i.String())
	return nil
}

func encodeString(buf *strings.Builder, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: invalid UTF-8 string", ErrNonDeterministicEncoding)
	}
	normalized := norm.NFC.String(s)
	out, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("canon: string: %w", err)
	}
	buf.Write(out)
	return nil
}

func encodeArray(buf *strings.Builder, arr []interface{}) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *strings.Builder, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return codepointLess(keys[i], keys[j])
	})
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// codepointLess compares two strings by UTF-8 codepoint (i.e. by rune value,
// which for valid UTF-8 coincides with unsigned byte-wise comparison).
func codepointLess(a, b string) bool {
	ra := []rune(a)
	rb := []rune(b)
	for i := 0; i < len(ra) && i < len(rb); i++ {
		if ra[i] != rb[i] {
			return ra[i] < rb[i]
		}
	}
	return len(ra) < len(rb)
}

// LE64 encodes n as 8 little-endian bytes, the integer wire encoding used
// throughout the HashTimer and selection-entropy preimages.
func LE64(n uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(n >> (8 * i))
	}
	return b
}

// Varint encodes n using the unsigned LEB128 varint scheme of the canonical
// binary block encoding.
func Varint(n uint64) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			break
		}
	}
	return out
}

// FormatUint is a small helper kept for callers that need a canonical,
// leading-zero-free decimal string outside of JSON encoding (e.g. log
// fields, error messages).
func FormatUint(n uint64) string {
	return strconv.FormatUint(n, 10)
}
