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

// Package jar fixes class files with bad member names inside JAR archives.
package jar

import (
	"archive/zip"
	"fmt"
	"io"
	"os"

	"github.com/jarfix/jarfix/classfile"
	"github.com/jarfix/jarfix/pool"
)

var exts = map[string]bool{
	".jar":  true,
	".war":  true,
	".ear":  true,
	".zip":  true,
	".jmod": true,
}

// Rewriter allows tuning parameters of a JAR fix. The zero value provides
// reasonable defaults.
type Rewriter struct {
	// MaxDepth is the maximum depth of recursive archives below
	// the top level that will be unpacked.  Default is 16.
	MaxDepth int
	// MaxBytes is the maximum size of files that will be
	// read into memory during scanning.  Default is 4GiB.
	MaxBytes int64
	// StripSignatures drops JAR signature files (META-INF/*.SF, *.RSA, *.DSA
	// and *.EC) from rewritten archives. A signed JAR whose classes were
	// changed no longer verifies.
	StripSignatures bool
	// FileError can be used to handle errors for a file in the JAR. When
	// fixing a file returns an error, FileError will be called with the
	// offending path and error.  If FileError returns nil, the file is kept
	// unchanged and processing continues.  Otherwise, processing aborts.
	// Default is to abort whenever err != nil.
	FileError func(path string, err error) error
	// Logf, if provided, receives a line for every fixed name and every
	// dropped signature file.
	Logf func(format string, v ...interface{})
}

const (
	defaultMaxZipDepth = 16
	defaultMaxZipBytes = 4 << 30 // 4GiB
)

func (rw *Rewriter) maxDepth() int {
	if rw.MaxDepth == 0 {
		return defaultMaxZipDepth
	}
	return rw.MaxDepth
}

func (rw *Rewriter) maxBytes() int64 {
	if rw.MaxBytes == 0 {
		return defaultMaxZipBytes
	}
	return rw.MaxBytes
}

func (rw *Rewriter) fileError(path string, err error) error {
	if rw.FileError != nil {
		return rw.FileError(path, err)
	}
	return err
}

func (rw *Rewriter) logf(format string, v ...interface{}) {
	if rw.Logf != nil {
		rw.Logf(format, v...)
	}
}

// Report contains information about a processed JAR.
type Report struct {
	// Classes lists the class files with bad member names, in archive order.
	Classes []*Class
}

// NeedsFix reports whether any class in the JAR had a bad member name.
func (r *Report) NeedsFix() bool {
	return len(r.Classes) > 0
}

// Class reports the fixes of a single class file.
type Class struct {
	// Name is the path of the class file within the JAR. Classes of nested
	// archives are prefixed by the archive's path, as in
	// "lib/inner.jar/com/example/A.class".
	Name string
	// Renames lists the member names that were fixed.
	Renames []classfile.Rename
}

// Parse traverses a JAR file and reports the classes that need fixing,
// without writing anything.
func (rw *Rewriter) Parse(zr *zip.Reader) (*Report, error) {
	r := rewriter{Rewriter: rw, report: &Report{}, dryRun: true}
	if _, err := r.rewrite(nil, zr, 0, 0, ""); err != nil {
		return nil, fmt.Errorf("failed to check JAR: %w", err)
	}
	return r.report, nil
}

// Parse traverses a JAR file and reports the classes that need fixing.
func Parse(zr *zip.Reader) (*Report, error) {
	rw := &Rewriter{}
	return rw.Parse(zr)
}

// ReadCloser mirrors zip.ReadCloser.
type ReadCloser struct {
	zip.Reader

	f *os.File
}

// Close closes the underlying file.
func (r *ReadCloser) Close() error {
	return r.f.Close()
}

// OpenReader mirrors zip.OpenReader, loading a JAR from a file, but supports
// self-executable JARs. See NewReader() for details.
func OpenReader(path string) (r *ReadCloser, offset int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return
	}
	zr, offset, err := NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return
	}
	return &ReadCloser{*zr, f}, offset, nil
}

// NewReader is a wrapper around zip.NewReader that supports self-executable
// JARs. JAR files with prefixed data, such as a bash script to allow them to
// run directly.
//
// If the ZIP contains a prefix, the returned offset indicates the size of the
// prefix.
//
// See:
// - https://kevinboone.me/execjava.html
// - https://github.com/golang/go/issues/10464
func NewReader(ra io.ReaderAt, size int64) (zr *zip.Reader, offset int64, err error) {
	offset, err = readZIPOffset(ra, size)
	if err != nil {
		return nil, 0, err
	}
	if offset > 0 {
		ra = io.NewSectionReader(ra, offset, size-offset)
		size -= offset
	}
	zr, err = zip.NewReader(ra, size)
	return zr, offset, err
}

const bufSize = 4 << 10 // 4 KiB

var bufPool = pool.Buffers{MinSize: bufSize}

// readFull reads size bytes into a buffer from bufPool. The buffer should be
// returned with bufPool.Put, even on error.
func readFull(r io.Reader, size int64) ([]byte, error) {
	buf := bufPool.Get(int(size))
	n, err := io.ReadFull(r, buf)
	return buf[:n], err
}
