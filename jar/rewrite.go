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
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/jarfix/jarfix/classfile"
)

var signatureSuffixes = [...]string{
	// Signature files.
	".SF",
	// Signature block files.
	".RSA",
	".DSA",
	".EC",
}

// isSignature reports whether name is a JAR signature file.
func isSignature(name string) bool {
	dir, file := path.Split(name)
	if dir != "META-INF/" {
		return false
	}
	for _, suffix := range signatureSuffixes {
		if strings.HasSuffix(file, suffix) {
			return true
		}
	}
	return false
}

// RewriteJAR is like Rewrite but accounts for self-executable JARs, copying
// any prefixed data that may be included in the JAR.
func (rw *Rewriter) RewriteJAR(dest io.Writer, src io.ReaderAt, size int64) (*Report, error) {
	zr, offset, err := NewReader(src, size)
	if err != nil {
		return nil, err
	}

	if offset > 0 {
		src := io.NewSectionReader(src, 0, offset)
		if _, err := io.CopyN(dest, src, offset); err != nil {
			return nil, err
		}
	}
	return rw.Rewrite(dest, zr)
}

// RewriteJAR is like Rewrite but accounts for self-executable JARs, copying
// any prefixed data that may be included in the JAR.
func RewriteJAR(dest io.Writer, src io.ReaderAt, size int64) (*Report, error) {
	rw := &Rewriter{}
	return rw.RewriteJAR(dest, src, size)
}

// Rewrite writes a copy of a JAR with bad member names fixed in all its
// classes, including those of nested archives.
//
// Entries keep their order. Entries that don't change are copied without
// being recompressed. Fixed classes keep the name, compression method,
// modification time and mode of the original entry.
//
// Rewrite does not account for self-executable JARs and does not preserve the
// file prefix. This must be explicitly handled, or use RewriteJAR() to do so
// automatically.
//
//	zr, offset, err := jar.NewReader(ra, size)
//	if err != nil {
//		// ...
//	}
//	dest, err := os.CreateTemp("", "")
//	if err != nil {
//		// ...
//	}
//	defer dest.Close()
//
//	if offset > 0 {
//		// Rewrite prefix.
//		src := io.NewSectionReader(ra, 0, offset)
//		if _, err := io.CopyN(dest, src, offset); err != nil {
//			// ...
//		}
//	}
//	if _, err := jar.Rewrite(dest, zr); err != nil {
//		// ...
//	}
func (rw *Rewriter) Rewrite(w io.Writer, zr *zip.Reader) (*Report, error) {
	r := rewriter{Rewriter: rw, report: &Report{}}
	if _, err := r.rewrite(w, zr, 0, 0, ""); err != nil {
		return nil, err
	}
	return r.report, nil
}

// Rewrite writes a copy of a JAR with bad member names fixed. See
// Rewriter.Rewrite for details.
func Rewrite(w io.Writer, zr *zip.Reader) (*Report, error) {
	rw := &Rewriter{}
	return rw.Rewrite(w, zr)
}

type rewriter struct {
	*Rewriter

	report *Report
	// dryRun is set when only a report is wanted.
	dryRun bool
}

// rewrite processes the entries of zr, writing the new archive to w unless
// this is a dry run. It reports whether any class was fixed.
func (r *rewriter) rewrite(w io.Writer, zr *zip.Reader, depth int, size int64, jar string) (bool, error) {
	if depth > r.maxDepth() {
		return false, fmt.Errorf("reached max zip depth of %d", r.maxDepth())
	}

	var zw *zip.Writer
	if !r.dryRun {
		zw = zip.NewWriter(w)
	}
	changed := false
	for _, zf := range zr.File {
		p := path.Join(jar, zf.Name)
		if zw != nil && r.StripSignatures && isSignature(zf.Name) {
			r.logf("Dropping signature file %s", p)
			continue
		}

		b, err := r.fixFile(zf, depth, size, p)
		if err != nil {
			if e := r.fileError(p, err); e != nil {
				return false, e
			}
			b = nil
		}
		if b != nil {
			changed = true
		}
		if zw == nil {
			continue
		}
		if err := writeFile(zw, zf, b); err != nil {
			return false, err
		}
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return false, fmt.Errorf("finalize writer: %v", err)
		}
	}
	return changed, nil
}

// fixFile returns the new content of a class file or nested archive, or nil
// if it doesn't change.
func (r *rewriter) fixFile(zf *zip.File, depth int, size int64, p string) ([]byte, error) {
	info := zf.FileInfo()
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	isClass := strings.HasSuffix(zf.Name, ".class")
	if !isClass && !exts[path.Ext(zf.Name)] {
		return nil, nil
	}

	// Note that this only applies to embedded files. The outer ZIP/JAR can
	// still be larger than the limit.
	if fsize := info.Size(); size+fsize > r.maxBytes() {
		return nil, fmt.Errorf("reading %s would exceed memory limit", zf.Name)
	}
	f, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %v", zf.Name, err)
	}
	buf, err := readFull(f, info.Size())
	f.Close() // Recycle the flate buffer earlier, we might recurse.
	defer bufPool.Put(buf)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %v", zf.Name, err)
	}

	if isClass {
		return r.fixClass(buf, p)
	}
	return r.fixArchive(buf, depth, size+info.Size(), p)
}

func (r *rewriter) fixClass(b []byte, p string) ([]byte, error) {
	c := &Class{Name: p}
	f := classfile.Fixer{
		Name: p,
		Logf: r.Logf,
		HandleRename: func(rn classfile.Rename) {
			c.Renames = append(c.Renames, rn)
		},
	}
	fixed, err := f.Fix(b)
	if err != nil {
		return nil, fmt.Errorf("fixing class %s: %w", p, err)
	}
	if fixed != nil {
		r.report.Classes = append(r.report.Classes, c)
	}
	return fixed, nil
}

func (r *rewriter) fixArchive(b []byte, depth int, size int64, p string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		if err == zip.ErrFormat {
			// Not a zip file.
			return nil, nil
		}
		return nil, fmt.Errorf("parsing file %s: %v", p, err)
	}

	var out bytes.Buffer
	changed, err := r.rewrite(&out, zr, depth+1, size, p)
	if err != nil {
		return nil, fmt.Errorf("checking sub jar %s: %w", p, err)
	}
	if !changed || r.dryRun {
		return nil, nil
	}
	return out.Bytes(), nil
}

// writeFile adds zf to zw with new content b, or copies it unchanged if b is
// nil.
func writeFile(zw *zip.Writer, zf *zip.File, b []byte) error {
	if b == nil && !zf.Mode().IsDir() {
		if err := zw.Copy(zf); err != nil {
			return fmt.Errorf("failed to copy zip file %s: %v", zf.Name, err)
		}
		return nil
	}

	fh := zf.FileHeader
	// Reset the Extra field which holds the OS-specific metadata that encodes
	// the last modified time. zw.CreateHeader assumes that Extra is empty and
	// always appends the modified time to the end of Extra.
	fh.Extra = nil
	fw, err := zw.CreateHeader(&fh)
	if err != nil {
		return fmt.Errorf("failed to create zip file %s: %v", zf.Name, err)
	}
	if _, err := fw.Write(b); err != nil {
		return fmt.Errorf("failed to write zip file %s: %v", zf.Name, err)
	}
	return nil
}
