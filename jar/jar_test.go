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

package jar

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jarfix/jarfix/classfile"
	"github.com/jarfix/jarfix/internal/classtest"
)

// file is an entry of a test archive. Names ending in "/" are directories.
type file struct {
	name   string
	body   []byte
	method uint16
}

var modified = time.Date(2021, time.December, 10, 12, 0, 0, 0, time.UTC)

// newJAR returns a ZIP archive holding files, with an optional comment.
func newJAR(t testing.TB, comment string, files ...file) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		fh := &zip.FileHeader{
			Name:     f.name,
			Method:   f.method,
			Modified: modified,
		}
		fh.SetMode(0644)
		if f.name[len(f.name)-1] == '/' {
			fh.SetMode(os.ModeDir | 0755)
		}
		w, err := zw.CreateHeader(fh)
		if err != nil {
			t.Fatalf("creating %s: %v", f.name, err)
		}
		if _, err := w.Write(f.body); err != nil {
			t.Fatalf("writing %s: %v", f.name, err)
		}
	}
	if comment != "" {
		if err := zw.SetComment(comment); err != nil {
			t.Fatalf("setting comment: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing archive: %v", err)
	}
	return buf.Bytes()
}

// badClass returns a class declaring and calling a method with a bad name.
func badClass(name string) []byte {
	b := classtest.New()
	b.This = name
	b.Method(0x0009, "a.b", "()V")
	b.Methodref(name, "a.b", "()V")
	b.Field(0x0002, "fine", "I")
	return b.Bytes()
}

// goodClass returns a class without bad names.
func goodClass(name string) []byte {
	b := classtest.New()
	b.This = name
	b.Method(0x0001, "run", "()V")
	b.String("dots.are.fine.in.strings")
	return b.Bytes()
}

func newReader(t testing.TB, b []byte) *zip.Reader {
	t.Helper()
	zr, _, err := NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("NewReader() failed: %v", err)
	}
	return zr
}

var manifest = file{
	name:   "META-INF/MANIFEST.MF",
	body:   []byte("Manifest-Version: 1.0\r\nMain-Class: com.example.Main\r\n\r\n"),
	method: zip.Deflate,
}

// Test archives shared by the tests of this package.
var (
	goodJAR = func(t testing.TB) []byte {
		return newJAR(t, "",
			file{name: "META-INF/"},
			manifest,
			file{name: "com/example/Main.class", body: goodClass("com/example/Main"), method: zip.Deflate},
		)
	}
	badJAR = func(t testing.TB) []byte {
		return newJAR(t, "",
			file{name: "META-INF/"},
			manifest,
			file{name: "com/"},
			file{name: "com/example/"},
			file{name: "com/example/Main.class", body: goodClass("com/example/Main"), method: zip.Deflate},
			file{name: "com/example/Bad.class", body: badClass("com/example/Bad"), method: zip.Deflate},
			file{name: "com/example/Stored.class", body: badClass("com/example/Stored"), method: zip.Store},
			file{name: "README.txt", body: []byte("a.b is a bad name"), method: zip.Deflate},
		)
	}
	badJARInJAR = func(t testing.TB) []byte {
		return newJAR(t, "",
			manifest,
			file{name: "lib/good.jar", body: goodJAR(t), method: zip.Store},
			file{name: "lib/bad.jar", body: badJAR(t), method: zip.Store},
			file{name: "lib/notarealjar.jar", body: []byte("not a zip file"), method: zip.Deflate},
		)
	}
	badJARInJARInJAR = func(t testing.TB) []byte {
		return newJAR(t, "",
			manifest,
			file{name: "BOOT-INF/lib/outer.jar", body: badJARInJAR(t), method: zip.Deflate},
		)
	}
)

var ignoreIndex = cmpopts.IgnoreFields(classfile.Rename{}, "Index")

var badRenames = []classfile.Rename{
	{Old: "a.b", New: "a_b"},
}

func TestParse(t *testing.T) {
	testCases := []struct {
		name string
		jar  func(testing.TB) []byte
		want []*Class
	}{
		{"good", goodJAR, nil},
		{"bad", badJAR, []*Class{
			{Name: "com/example/Bad.class", Renames: badRenames},
			{Name: "com/example/Stored.class", Renames: badRenames},
		}},
		{"bad_jar_in_jar", badJARInJAR, []*Class{
			{Name: "lib/bad.jar/com/example/Bad.class", Renames: badRenames},
			{Name: "lib/bad.jar/com/example/Stored.class", Renames: badRenames},
		}},
		{"bad_jar_in_jar_in_jar", badJARInJARInJAR, []*Class{
			{Name: "BOOT-INF/lib/outer.jar/lib/bad.jar/com/example/Bad.class", Renames: badRenames},
			{Name: "BOOT-INF/lib/outer.jar/lib/bad.jar/com/example/Stored.class", Renames: badRenames},
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			zr := newReader(t, tc.jar(t))
			report, err := Parse(zr)
			if err != nil {
				t.Fatalf("Parse() returned an unexpected error, got %v, want nil", err)
			}
			if diff := cmp.Diff(tc.want, report.Classes, ignoreIndex); diff != "" {
				t.Errorf("Parse() returned unexpected classes (-want, +got): %s", diff)
			}
			if got, want := report.NeedsFix(), tc.want != nil; got != want {
				t.Errorf("NeedsFix() returned unexpected value, got=%t, want=%t", got, want)
			}
		})
	}
}

func TestParseRenameIndex(t *testing.T) {
	b := classtest.New()
	i := b.Utf8("x.y")
	b.Field(0x0002, "x.y", "I")
	zr := newReader(t, newJAR(t, "", file{name: "A.class", body: b.Bytes()}))

	report, err := Parse(zr)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	want := []*Class{{
		Name:    "A.class",
		Renames: []classfile.Rename{{Index: i, Old: "x.y", New: "x_y"}},
	}}
	if diff := cmp.Diff(want, report.Classes); diff != "" {
		t.Errorf("Parse() returned unexpected classes (-want, +got): %s", diff)
	}
}

func TestParseMaxDepth(t *testing.T) {
	zr := newReader(t, badJARInJARInJAR(t))
	rw := &Rewriter{MaxDepth: 1}
	if _, err := rw.Parse(zr); err == nil {
		t.Errorf("Parse() with MaxDepth=1 on doubly nested archive succeeded, want error")
	}
	rw = &Rewriter{MaxDepth: 2}
	report, err := rw.Parse(zr)
	if err != nil {
		t.Fatalf("Parse() with MaxDepth=2 failed: %v", err)
	}
	if !report.NeedsFix() {
		t.Errorf("Parse() with MaxDepth=2 found nothing to fix")
	}
}

func TestParseMaxBytes(t *testing.T) {
	zr := newReader(t, badJAR(t))
	rw := &Rewriter{MaxBytes: 16}
	if _, err := rw.Parse(zr); err == nil {
		t.Errorf("Parse() with MaxBytes=16 succeeded, want error")
	}
}

func TestParseMalformedClass(t *testing.T) {
	jar := newJAR(t, "",
		file{name: "Broken.class", body: []byte("not a class"), method: zip.Deflate},
		file{name: "Bad.class", body: badClass("Bad"), method: zip.Deflate},
	)

	if _, err := Parse(newReader(t, jar)); !errors.Is(err, classfile.ErrBadMagic) {
		t.Errorf("Parse() returned unexpected error, got %v, want %v", err, classfile.ErrBadMagic)
	}

	var paths []string
	rw := &Rewriter{
		FileError: func(path string, err error) error {
			paths = append(paths, path)
			return nil
		},
	}
	report, err := rw.Parse(newReader(t, jar))
	if err != nil {
		t.Fatalf("Parse() with FileError failed: %v", err)
	}
	if diff := cmp.Diff([]string{"Broken.class"}, paths); diff != "" {
		t.Errorf("FileError called with unexpected paths (-want, +got): %s", diff)
	}
	want := []*Class{{Name: "Bad.class", Renames: badRenames}}
	if diff := cmp.Diff(want, report.Classes, ignoreIndex); diff != "" {
		t.Errorf("Parse() returned unexpected classes (-want, +got): %s", diff)
	}
}

func TestParseLogf(t *testing.T) {
	var got []string
	rw := &Rewriter{
		Logf: func(format string, v ...interface{}) {
			got = append(got, format)
		},
	}
	if _, err := rw.Parse(newReader(t, badJAR(t))); err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	// Bad.class and Stored.class each have one bad name.
	if len(got) != 2 {
		t.Errorf("Logf called %d times, want 2: %q", len(got), got)
	}
}

func BenchmarkParse(b *testing.B) {
	zr := newReader(b, badJARInJAR(b))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, err := Parse(zr)
		if err != nil {
			b.Errorf("Parse() returned an unexpected error, got %v, want nil", err)
		}
	}
}

func TestIsJAR(t *testing.T) {
	testCases := []struct {
		name  string
		files []file
		want  bool
	}{
		{"manifest dir", []file{{name: "META-INF/"}}, true},
		{"web app", []file{{name: "WEB-INF/"}}, true},
		{"class", []file{{name: "A.class", body: goodClass("A")}}, true},
		{"jar", []file{{name: "lib/a.jar", body: goodJAR(t)}}, true},
		{"plain zip", []file{{name: "docs/"}, {name: "docs/README.txt", body: []byte("hi")}}, false},
		{"empty", nil, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			zr := newReader(t, newJAR(t, "", tc.files...))
			if got := IsJAR(zr); got != tc.want {
				t.Errorf("IsJAR() returned unexpected value, got=%t, want=%t", got, tc.want)
			}
		})
	}
}

func TestNewReaderOffset(t *testing.T) {
	const prefix = "#!/bin/sh\nexec java -jar \"$0\" \"$@\"\n"
	testCases := []struct {
		name    string
		prefix  string
		comment string
	}{
		{"plain", "", ""},
		{"executable", prefix, ""},
		{"comment", "", "built by hand"},
		{"executable with comment", prefix, "a comment"},
		{"comment with signature", prefix, "PK\x05\x06 looks like a record"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := append([]byte(tc.prefix), newJAR(t, tc.comment, file{name: "A.class", body: goodClass("A")})...)
			zr, offset, err := NewReader(bytes.NewReader(b), int64(len(b)))
			if err != nil {
				t.Fatalf("NewReader() failed: %v", err)
			}
			if offset != int64(len(tc.prefix)) {
				t.Errorf("NewReader() returned unexpected offset, got=%d, want=%d", offset, len(tc.prefix))
			}
			if len(zr.File) != 1 || zr.File[0].Name != "A.class" {
				t.Fatalf("NewReader() returned unexpected files: %v", zr.File)
			}
			if zr.Comment != tc.comment {
				t.Errorf("NewReader() returned unexpected comment, got=%q, want=%q", zr.Comment, tc.comment)
			}
			f, err := zr.File[0].Open()
			if err != nil {
				t.Fatalf("opening A.class: %v", err)
			}
			f.Close()
		})
	}
}

func TestNewReaderNotZIP(t *testing.T) {
	for _, b := range [][]byte{
		nil,
		[]byte("PK"),
		bytes.Repeat([]byte("not a zip file"), 100),
	} {
		if _, _, err := NewReader(bytes.NewReader(b), int64(len(b))); !errors.Is(err, zip.ErrFormat) {
			t.Errorf("NewReader(%.20q) returned unexpected error, got %v, want %v", b, err, zip.ErrFormat)
		}
	}
}

func TestOpenReader(t *testing.T) {
	p := filepath.Join(t.TempDir(), "app")
	b := append([]byte("#!/bin/sh\n"), badJAR(t)...)
	if err := os.WriteFile(p, b, 0755); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	zr, offset, err := OpenReader(p)
	if err != nil {
		t.Fatalf("OpenReader(%s) failed: %v", p, err)
	}
	defer zr.Close()
	if offset != int64(len("#!/bin/sh\n")) {
		t.Errorf("OpenReader(%s) returned unexpected offset %d", p, offset)
	}
	report, err := Parse(&zr.Reader)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(report.Classes) != 2 {
		t.Errorf("Parse() found %d classes to fix, want 2", len(report.Classes))
	}
}
