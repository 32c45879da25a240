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

// Package classtest builds small class files for tests.
package classtest

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/jarfix/jarfix/internal/mutf8"
)

// Constant pool tags.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// headerSize is the size of magic, minor_version, major_version and
// constant_pool_count.
const headerSize = 10

// Attribute is an opaque attribute of a field or method.
type Attribute struct {
	Name string
	Data []byte
}

type member struct {
	access     uint16
	name, desc uint16
	attrs      []Attribute
}

// Builder assembles a class file. Utf8, Class and NameAndType constants are
// deduplicated the way javac does it, so a declaration and a reference to the
// same name share one constant.
type Builder struct {
	// This and Super are the class names. Defaults are "Test" and
	// "java/lang/Object".
	This, Super string

	pool  bytes.Buffer
	next  uint16
	utf8  map[string]uint16
	class map[string]uint16
	nat   map[[2]string]uint16
	// offs maps Utf8 indices to their content offset within pool.
	offs map[uint16]int

	fields, methods []member
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{
		next:  1,
		utf8:  map[string]uint16{},
		class: map[string]uint16{},
		nat:   map[[2]string]uint16{},
		offs:  map[uint16]int{},
	}
}

func (b *Builder) u8(v uint8)   { b.pool.WriteByte(v) }
func (b *Builder) u16(v uint16) { binary.Write(&b.pool, binary.BigEndian, v) }
func (b *Builder) u32(v uint32) { binary.Write(&b.pool, binary.BigEndian, v) }

func (b *Builder) add(width uint16) uint16 {
	i := b.next
	b.next += width
	return i
}

// Utf8 returns the index of a CONSTANT_Utf8 holding s.
func (b *Builder) Utf8(s string) uint16 {
	if i, ok := b.utf8[s]; ok {
		return i
	}
	i := b.RawUtf8(mutf8.Encode(s))
	b.utf8[s] = i
	return i
}

// RawUtf8 adds a CONSTANT_Utf8 with the given content bytes, which need not
// be valid.
func (b *Builder) RawUtf8(raw []byte) uint16 {
	b.u8(TagUtf8)
	b.u16(uint16(len(raw)))
	i := b.add(1)
	b.offs[i] = b.pool.Len()
	b.pool.Write(raw)
	return i
}

// Offset returns the offset, within the built class file, of the content of
// the CONSTANT_Utf8 at index i.
func (b *Builder) Offset(i uint16) int {
	return headerSize + b.offs[i]
}

// Class returns the index of a CONSTANT_Class naming name.
func (b *Builder) Class(name string) uint16 {
	if i, ok := b.class[name]; ok {
		return i
	}
	n := b.Utf8(name)
	b.u8(TagClass)
	b.u16(n)
	i := b.add(1)
	b.class[name] = i
	return i
}

// String adds a CONSTANT_String.
func (b *Builder) String(s string) uint16 {
	n := b.Utf8(s)
	b.u8(TagString)
	b.u16(n)
	return b.add(1)
}

// Integer adds a CONSTANT_Integer.
func (b *Builder) Integer(v int32) uint16 {
	b.u8(TagInteger)
	b.u32(uint32(v))
	return b.add(1)
}

// Float adds a CONSTANT_Float.
func (b *Builder) Float(v float32) uint16 {
	b.u8(TagFloat)
	b.u32(math.Float32bits(v))
	return b.add(1)
}

// Long adds a CONSTANT_Long, which takes two pool slots.
func (b *Builder) Long(v int64) uint16 {
	b.u8(TagLong)
	b.u32(uint32(uint64(v) >> 32))
	b.u32(uint32(v))
	return b.add(2)
}

// Double adds a CONSTANT_Double, which takes two pool slots.
func (b *Builder) Double(v float64) uint16 {
	bits := math.Float64bits(v)
	b.u8(TagDouble)
	b.u32(uint32(bits >> 32))
	b.u32(uint32(bits))
	return b.add(2)
}

// NameAndType returns the index of a CONSTANT_NameAndType.
func (b *Builder) NameAndType(name, desc string) uint16 {
	k := [2]string{name, desc}
	if i, ok := b.nat[k]; ok {
		return i
	}
	n, d := b.Utf8(name), b.Utf8(desc)
	b.u8(TagNameAndType)
	b.u16(n)
	b.u16(d)
	i := b.add(1)
	b.nat[k] = i
	return i
}

func (b *Builder) ref(tag uint8, class, name, desc string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, desc)
	b.u8(tag)
	b.u16(c)
	b.u16(nt)
	return b.add(1)
}

// Fieldref adds a CONSTANT_Fieldref.
func (b *Builder) Fieldref(class, name, desc string) uint16 {
	return b.ref(TagFieldref, class, name, desc)
}

// Methodref adds a CONSTANT_Methodref.
func (b *Builder) Methodref(class, name, desc string) uint16 {
	return b.ref(TagMethodref, class, name, desc)
}

// InterfaceMethodref adds a CONSTANT_InterfaceMethodref.
func (b *Builder) InterfaceMethodref(class, name, desc string) uint16 {
	return b.ref(TagInterfaceMethodref, class, name, desc)
}

// MethodHandle adds a CONSTANT_MethodHandle.
func (b *Builder) MethodHandle(kind uint8, ref uint16) uint16 {
	b.u8(TagMethodHandle)
	b.u8(kind)
	b.u16(ref)
	return b.add(1)
}

// MethodType adds a CONSTANT_MethodType.
func (b *Builder) MethodType(desc string) uint16 {
	d := b.Utf8(desc)
	b.u8(TagMethodType)
	b.u16(d)
	return b.add(1)
}

// InvokeDynamic adds a CONSTANT_InvokeDynamic. Its NameAndType is not a member
// name and must be left alone by fixers.
func (b *Builder) InvokeDynamic(bootstrap uint16, name, desc string) uint16 {
	nt := b.NameAndType(name, desc)
	b.u8(TagInvokeDynamic)
	b.u16(bootstrap)
	b.u16(nt)
	return b.add(1)
}

// Dynamic adds a CONSTANT_Dynamic.
func (b *Builder) Dynamic(bootstrap uint16, name, desc string) uint16 {
	nt := b.NameAndType(name, desc)
	b.u8(TagDynamic)
	b.u16(bootstrap)
	b.u16(nt)
	return b.add(1)
}

// Module adds a CONSTANT_Module.
func (b *Builder) Module(name string) uint16 {
	n := b.Utf8(name)
	b.u8(TagModule)
	b.u16(n)
	return b.add(1)
}

// Package adds a CONSTANT_Package.
func (b *Builder) Package(name string) uint16 {
	n := b.Utf8(name)
	b.u8(TagPackage)
	b.u16(n)
	return b.add(1)
}

// Raw adds a constant with an arbitrary tag and payload.
func (b *Builder) Raw(tag uint8, payload ...byte) uint16 {
	b.u8(tag)
	b.pool.Write(payload)
	return b.add(1)
}

// Field declares a field.
func (b *Builder) Field(access uint16, name, desc string, attrs ...Attribute) {
	b.fields = append(b.fields, b.member(access, b.Utf8(name), desc, attrs))
}

// FieldIndex declares a field whose name_index is i, which need not refer to
// a CONSTANT_Utf8.
func (b *Builder) FieldIndex(access uint16, i uint16, desc string) {
	b.fields = append(b.fields, b.member(access, i, desc, nil))
}

// Method declares a method.
func (b *Builder) Method(access uint16, name, desc string, attrs ...Attribute) {
	b.methods = append(b.methods, b.member(access, b.Utf8(name), desc, attrs))
}

func (b *Builder) member(access, name uint16, desc string, attrs []Attribute) member {
	m := member{access: access, name: name, desc: b.Utf8(desc), attrs: attrs}
	for _, a := range attrs {
		b.Utf8(a.Name)
	}
	return m
}

// Bytes returns the class file.
func (b *Builder) Bytes() []byte {
	this, super := b.This, b.Super
	if this == "" {
		this = "Test"
	}
	if super == "" {
		super = "java/lang/Object"
	}
	thisIdx, superIdx := b.Class(this), b.Class(super)

	var w bytes.Buffer
	put := func(v interface{}) { binary.Write(&w, binary.BigEndian, v) }
	put(uint32(0xCAFEBABE))
	put(uint16(0))  // minor_version
	put(uint16(52)) // major_version
	put(b.next)
	w.Write(b.pool.Bytes())
	put(uint16(0x0021)) // ACC_PUBLIC | ACC_SUPER
	put(thisIdx)
	put(superIdx)
	put(uint16(0)) // interfaces_count
	for _, ms := range [][]member{b.fields, b.methods} {
		put(uint16(len(ms)))
		for _, m := range ms {
			put(m.access)
			put(m.name)
			put(m.desc)
			put(uint16(len(m.attrs)))
			for _, a := range m.attrs {
				put(b.utf8[a.Name])
				put(uint32(len(a.Data)))
				w.Write(a.Data)
			}
		}
	}
	put(uint16(0)) // attributes_count
	return w.Bytes()
}
