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

// Package classfile repairs JVM class files whose field or method names
// contain a '.'.
//
// Older Oracle VMs accept such names even though the JVM specification forbids
// them, and some obfuscators emit them. Stricter VMs such as OpenJDK refuse to
// load the resulting classes. Fix rewrites the first '.' of every such name to
// '_' directly in the class file bytes, so that constant pool layout,
// attribute lengths and code are left exactly as they were.
package classfile

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	// Magic is the first four bytes of every class file.
	Magic = 0xCAFEBABE

	// Separator is the character not allowed in member names.
	Separator = '.'
	// Replacement is what Separator is rewritten to.
	Replacement = '_'
)

// Rename describes a corrected member name.
type Rename struct {
	// Index is the constant pool index of the CONSTANT_Utf8 holding the name.
	Index uint16
	// Old and New are the name before and after the fix.
	Old, New string
}

// Fixer repairs member names in class files. The zero value is ready to use.
type Fixer struct {
	// Name identifies the class file in diagnostics. Default is "".
	Name string
	// Logf, if provided, is called once for every name that is fixed.
	Logf func(format string, v ...interface{})
	// HandleRename, if provided, is called once for every name that is fixed,
	// in the order the fixes are made.
	HandleRename func(r Rename)
}

// Fix returns a copy of class file b with every bad member name fixed, or nil
// if no name needed fixing. b is never modified.
//
// Member names are found through the field and method tables and through
// every field, method and interface method reference in the constant pool,
// so that names of members declared in other classes are fixed too. Only
// the first '.' of a name is replaced: "a.b.c" becomes "a_b.c".
func Fix(b []byte) ([]byte, error) {
	f := &Fixer{}
	return f.Fix(b)
}

// Fix is like the package-level Fix, reporting to the Fixer's hooks.
func (f *Fixer) Fix(b []byte) ([]byte, error) {
	c, err := parse(b)
	if err != nil {
		return nil, err
	}

	var out []byte
	for _, s := range c.names {
		t, err := c.pool.Text(s.index)
		if err != nil {
			return nil, formatError(s.off, err, "%s name", s.site)
		}
		// The separator is a single byte that never occurs inside a
		// multi-byte sequence, so the raw bytes can be searched directly.
		i := bytes.IndexByte(b[t.Off:t.Off+t.Len], Separator)
		if i < 0 {
			continue
		}
		if out == nil {
			out = append([]byte(nil), b...)
		}
		// Already fixed through another declaration or reference.
		if out[t.Off+i] != Separator {
			continue
		}
		out[t.Off+i] = Replacement
		r := Rename{
			Index: s.index,
			Old:   t.Text,
			New:   strings.Replace(t.Text, string(Separator), string(Replacement), 1),
		}
		f.logf("Fixing bad name %q in %s", r.Old, f.Name)
		if f.HandleRename != nil {
			f.HandleRename(r)
		}
	}
	return out, nil
}

func (f *Fixer) logf(format string, v ...interface{}) {
	if f.Logf != nil {
		f.Logf(format, v...)
	}
}

// nameSite is a place a member name index was read from.
type nameSite struct {
	index uint16
	// off and site locate the index for error messages.
	off  int
	site string
}

type classFile struct {
	pool Pool
	// names lists declared member names in field then method order, followed
	// by the names of referenced members in pool order.
	names []nameSite
}

func parse(b []byte) (*classFile, error) {
	r := &reader{b: b}
	magic, err := r.u32()
	if err != nil {
		return nil, formatError(0, ErrTruncated, "header")
	}
	if magic != Magic {
		return nil, formatError(0, ErrBadMagic, "header: %#x", magic)
	}
	if err := r.skip(4); err != nil { // minor_version, major_version
		return nil, formatError(r.off, ErrTruncated, "version")
	}
	count, err := r.u16()
	if err != nil {
		return nil, formatError(r.off, ErrTruncated, "constant pool count")
	}
	pool, err := readPool(r, count)
	if err != nil {
		return nil, err
	}

	// access_flags, this_class, super_class
	if err := r.skip(6); err != nil {
		return nil, formatError(r.off, ErrTruncated, "class header")
	}
	start := r.off
	n, err := r.u16()
	if err == nil {
		err = r.skip(2 * int(n))
	}
	if err != nil {
		return nil, formatError(start, ErrTruncated, "interfaces")
	}

	c := &classFile{pool: pool}
	if err := c.readMembers(r, "field"); err != nil {
		return nil, err
	}
	if err := c.readMembers(r, "method"); err != nil {
		return nil, err
	}

	for i := range pool {
		ref := &pool[i]
		if ref.Kind != KindMemberRef {
			continue
		}
		nt, err := pool.NameAndType(ref.Index)
		if err != nil {
			return nil, formatError(ref.pos, err, "constant #%d", i)
		}
		c.names = append(c.names, nameSite{index: nt.Index, off: ref.pos, site: fmt.Sprintf("constant #%d", i)})
	}
	return c, nil
}

// readMembers reads a fields or methods table, recording member name indices.
// Attributes are skipped without being looked at.
func (c *classFile) readMembers(r *reader, member string) error {
	start := r.off
	count, err := r.u16()
	if err != nil {
		return formatError(start, ErrTruncated, "%s count", member)
	}
	for i := 0; i < int(count); i++ {
		start := r.off
		if err := r.skip(2); err != nil { // access_flags
			return formatError(start, ErrTruncated, "%s %d", member, i)
		}
		nameOff := r.off
		name, err := r.u16()
		if err != nil {
			return formatError(start, ErrTruncated, "%s %d", member, i)
		}
		c.names = append(c.names, nameSite{index: name, off: nameOff, site: fmt.Sprintf("%s %d", member, i)})
		if err := r.skip(2); err != nil { // descriptor_index
			return formatError(start, ErrTruncated, "%s %d", member, i)
		}
		attrs, err := r.u16()
		if err != nil {
			return formatError(start, ErrTruncated, "%s %d", member, i)
		}
		for j := 0; j < int(attrs); j++ {
			start := r.off
			if err := r.skip(2); err != nil { // attribute_name_index
				return formatError(start, ErrTruncated, "%s %d attribute %d", member, i, j)
			}
			n, err := r.u32()
			if err == nil {
				err = r.skip(int(n))
			}
			if err != nil {
				return formatError(start, ErrTruncated, "%s %d attribute %d", member, i, j)
			}
		}
	}
	return nil
}
