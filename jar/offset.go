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
	"encoding/binary"
	"io"

	"rsc.io/binaryregexp"
)

const (
	directoryEndLen = 22 // end of central directory record, without comment
	maxCommentLen   = 1<<16 - 1
)

// directoryEndPattern matches an end of central directory record.
var directoryEndPattern = binaryregexp.MustCompile(`PK\x05\x06[\x00-\xff]{18}`)

// readZIPOffset returns the number of bytes preceding the ZIP archive in ra,
// such as the launcher script of a self-executable JAR.
//
// The central directory is located right before the end of central directory
// record, which also holds the offset the archive expects it at. The
// difference is the size of the prefix.
func readZIPOffset(ra io.ReaderAt, size int64) (int64, error) {
	if size < directoryEndLen {
		return 0, zip.ErrFormat
	}
	n := int64(directoryEndLen + maxCommentLen)
	if n > size {
		n = size
	}
	tail := make([]byte, n)
	if _, err := ra.ReadAt(tail, size-n); err != nil && err != io.EOF {
		return 0, err
	}

	// The comment may itself contain the signature. Like archive/zip, take
	// the last record whose comment fits in the file.
	end := -1
	for i := 0; i < len(tail); {
		m := directoryEndPattern.FindIndex(tail[i:])
		if m == nil {
			break
		}
		p := i + m[0]
		commentLen := int(binary.LittleEndian.Uint16(tail[p+20:]))
		if p+directoryEndLen+commentLen <= len(tail) {
			end = p
		}
		i = p + 1
	}
	if end < 0 {
		return 0, zip.ErrFormat
	}

	rec := tail[end:]
	dirSize := int64(binary.LittleEndian.Uint32(rec[12:]))
	dirOffset := int64(binary.LittleEndian.Uint32(rec[16:]))
	if dirOffset == 0xffffffff || dirSize == 0xffffffff {
		// ZIP64. The real values are in the zip64 end of central directory
		// record, which archive/zip reads on its own.
		return 0, nil
	}
	offset := size - n + int64(end) - dirSize - dirOffset
	if offset < 0 {
		return 0, zip.ErrFormat
	}
	return offset, nil
}
