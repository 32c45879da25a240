// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mutf8 implements the modified UTF-8 encoding used by CONSTANT_Utf8
// entries of JVM class files.
//
// Modified UTF-8 differs from standard UTF-8 in two ways: the NUL character
// is encoded as the two bytes 0xC0 0x80, and characters outside the Basic
// Multilingual Plane are encoded as a UTF-16 surrogate pair, each half taking
// three bytes.
//
// See https://docs.oracle.com/javase/specs/jvms/se17/html/jvms-4.html#jvms-4.4.7
package mutf8

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// SyntaxError reports a malformed byte sequence.
type SyntaxError struct {
	// Offset is the position of the first byte of the bad sequence.
	Offset int
	msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("mutf8: %s at offset %d", e.msg, e.Offset)
}

// Decode decodes b into a standard Go (UTF-8) string.
func Decode(b []byte) (string, error) {
	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); {
		r, n, err := decodeChar(b, i)
		if err != nil {
			return "", err
		}
		if utf16.IsSurrogate(r) {
			if r >= 0xdc00 {
				return "", &SyntaxError{i, "unpaired low surrogate"}
			}
			lo, m, err := decodeChar(b, i+n)
			if err != nil || lo < 0xdc00 || lo > 0xdfff {
				return "", &SyntaxError{i, "unpaired high surrogate"}
			}
			r = utf16.DecodeRune(r, lo)
			n += m
		}
		sb.WriteRune(r)
		i += n
	}
	return sb.String(), nil
}

// decodeChar decodes the one, two or three byte sequence at b[i:]. Surrogate
// halves are returned as is.
func decodeChar(b []byte, i int) (rune, int, error) {
	if i >= len(b) {
		return 0, 0, &SyntaxError{i, "truncated sequence"}
	}
	c := b[i]
	switch {
	case c == 0:
		return 0, 0, &SyntaxError{i, "raw NUL byte"}
	case c < 0x80:
		return rune(c), 1, nil
	case c&0xe0 == 0xc0:
		if i+1 >= len(b) {
			return 0, 0, &SyntaxError{i, "truncated sequence"}
		}
		if !continuation(b[i+1]) {
			return 0, 0, &SyntaxError{i, "invalid continuation byte"}
		}
		r := rune(c&0x1f)<<6 | rune(b[i+1]&0x3f)
		if r != 0 && r < 0x80 {
			return 0, 0, &SyntaxError{i, "overlong encoding"}
		}
		return r, 2, nil
	case c&0xf0 == 0xe0:
		if i+2 >= len(b) {
			return 0, 0, &SyntaxError{i, "truncated sequence"}
		}
		if !continuation(b[i+1]) || !continuation(b[i+2]) {
			return 0, 0, &SyntaxError{i, "invalid continuation byte"}
		}
		r := rune(c&0x0f)<<12 | rune(b[i+1]&0x3f)<<6 | rune(b[i+2]&0x3f)
		if r < 0x800 {
			return 0, 0, &SyntaxError{i, "overlong encoding"}
		}
		return r, 3, nil
	}
	return 0, 0, &SyntaxError{i, fmt.Sprintf("invalid leading byte %#x", c)}
}

func continuation(c byte) bool {
	return c&0xc0 == 0x80
}

// Encode returns the modified UTF-8 encoding of s.
func Encode(s string) []byte {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			b = appendChar(b, hi)
			b = appendChar(b, lo)
			continue
		}
		b = appendChar(b, r)
	}
	return b
}

func appendChar(b []byte, r rune) []byte {
	switch {
	case r != 0 && r < 0x80:
		return append(b, byte(r))
	case r < 0x800:
		return append(b, 0xc0|byte(r>>6), 0x80|byte(r&0x3f))
	default:
		return append(b, 0xe0|byte(r>>12), 0x80|byte(r>>6&0x3f), 0x80|byte(r&0x3f))
	}
}
