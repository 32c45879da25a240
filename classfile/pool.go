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

package classfile

import (
	"fmt"

	"github.com/jarfix/jarfix/internal/mutf8"
)

// Constant pool tags.
//
// See https://docs.oracle.com/javase/specs/jvms/se17/html/jvms-4.html#jvms-4.4
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// Kind classifies a constant by what the fixer needs from it.
type Kind uint8

const (
	// KindOpaque is any constant whose content is never looked at.
	KindOpaque Kind = iota
	// KindText is a CONSTANT_Utf8.
	KindText
	// KindMemberRef is a CONSTANT_Fieldref, CONSTANT_Methodref or
	// CONSTANT_InterfaceMethodref.
	KindMemberRef
	// KindNameAndType is a CONSTANT_NameAndType.
	KindNameAndType
	// KindWideFiller occupies the unusable slot after a CONSTANT_Long or
	// CONSTANT_Double.
	KindWideFiller
)

var kindNames = [...]string{
	KindOpaque:      "opaque",
	KindText:        "Utf8",
	KindMemberRef:   "member reference",
	KindNameAndType: "NameAndType",
	KindWideFiller:  "wide slot filler",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Constant is one decoded constant pool entry.
type Constant struct {
	Kind Kind
	// Tag is the tag byte read from the class file. It is zero for
	// KindWideFiller.
	Tag uint8
	// Text is the decoded value of a KindText constant.
	Text string
	// Off and Len locate the raw bytes of a KindText constant in the class
	// file, excluding the tag and length prefix.
	Off, Len int
	// Index is the NameAndType index of a KindMemberRef and the name index
	// of a KindNameAndType.
	Index uint16

	pos int // offset of the tag byte
}

// Pool is a constant pool. As in the class file, it is indexed from 1; the
// zero entry is never populated.
type Pool []Constant

// lookup returns the constant at index i, which must be of kind k.
func (p Pool) lookup(i uint16, k Kind) (*Constant, error) {
	if i == 0 || int(i) >= len(p) {
		return nil, fmt.Errorf("%w: no constant #%d in pool of %d", ErrUnexpectedConstant, i, len(p))
	}
	c := &p[i]
	if c.Kind != k {
		return nil, fmt.Errorf("%w: constant #%d is %v, want %v", ErrUnexpectedConstant, i, c.Kind, k)
	}
	return c, nil
}

// Text returns the CONSTANT_Utf8 at index i.
func (p Pool) Text(i uint16) (*Constant, error) {
	return p.lookup(i, KindText)
}

// NameAndType returns the CONSTANT_NameAndType at index i.
func (p Pool) NameAndType(i uint16) (*Constant, error) {
	return p.lookup(i, KindNameAndType)
}

// readPool reads the count-1 entries of a constant pool.
func readPool(r *reader, count uint16) (Pool, error) {
	if count == 0 {
		return nil, formatError(r.off, ErrMalformedConstant, "constant pool count")
	}
	p := make(Pool, count)
	for i := 1; i < int(count); i++ {
		start := r.off
		c, err := readConstant(r)
		if err != nil {
			return nil, formatError(start, err, "constant #%d", i)
		}
		c.pos = start
		p[i] = c
		if c.Tag == tagLong || c.Tag == tagDouble {
			i++
			if i >= int(count) {
				return nil, formatError(start, ErrMalformedConstant, "constant #%d: wide constant in last pool slot", i-1)
			}
			p[i] = Constant{Kind: KindWideFiller}
		}
	}
	return p, nil
}

func readConstant(r *reader) (Constant, error) {
	tag, err := r.u8()
	if err != nil {
		return Constant{}, fmt.Errorf("%w: reading tag: %v", ErrMalformedConstant, err)
	}
	c := Constant{Tag: tag}
	switch tag {
	case tagUtf8:
		n, err := r.u16()
		if err != nil {
			return c, fmt.Errorf("%w: reading Utf8 length: %v", ErrMalformedConstant, err)
		}
		off := r.off
		raw, err := r.bytes(int(n))
		if err != nil {
			return c, fmt.Errorf("%w: reading %d Utf8 bytes: %v", ErrMalformedConstant, n, err)
		}
		s, err := mutf8.Decode(raw)
		if err != nil {
			return c, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
		}
		c.Kind, c.Text, c.Off, c.Len = KindText, s, off, int(n)
	case tagFieldref, tagMethodref, tagInterfaceMethodref:
		if err := r.skip(2); err != nil { // class_index
			return c, fmt.Errorf("%w: reading class index: %v", ErrMalformedConstant, err)
		}
		if c.Index, err = r.u16(); err != nil {
			return c, fmt.Errorf("%w: reading NameAndType index: %v", ErrMalformedConstant, err)
		}
		c.Kind = KindMemberRef
	case tagNameAndType:
		if c.Index, err = r.u16(); err != nil {
			return c, fmt.Errorf("%w: reading name index: %v", ErrMalformedConstant, err)
		}
		if err := r.skip(2); err != nil { // descriptor_index
			return c, fmt.Errorf("%w: reading descriptor index: %v", ErrMalformedConstant, err)
		}
		c.Kind = KindNameAndType
	default:
		n, ok := opaqueSizes[tag]
		if !ok {
			return c, fmt.Errorf("%w: unknown tag %d", ErrMalformedConstant, tag)
		}
		if err := r.skip(n); err != nil {
			return c, fmt.Errorf("%w: reading tag %d: %v", ErrMalformedConstant, tag, err)
		}
	}
	return c, nil
}

// opaqueSizes is the payload size of every constant whose content is ignored.
var opaqueSizes = map[uint8]int{
	tagClass:         2,
	tagString:        2,
	tagMethodType:    2,
	tagModule:        2,
	tagPackage:       2,
	tagMethodHandle:  3,
	tagInteger:       4,
	tagFloat:         4,
	tagDynamic:       4,
	tagInvokeDynamic: 4,
	tagLong:          8,
	tagDouble:        8,
}
