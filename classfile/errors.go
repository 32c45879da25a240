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
	"errors"
	"fmt"
)

// Kinds of failure. Errors returned by this package wrap exactly one of these
// and can be matched with errors.Is.
var (
	ErrBadMagic           = errors.New("classfile: bad magic number")
	ErrMalformedConstant  = errors.New("classfile: malformed constant pool entry")
	ErrInvalidEncoding    = errors.New("classfile: invalid modified UTF-8")
	ErrUnexpectedConstant = errors.New("classfile: unexpected constant kind")
	ErrTruncated          = errors.New("classfile: truncated structure")
)

// FormatError is returned when the data does not have the layout of a class
// file, or not one this package can fix.
type FormatError struct {
	// Off is the byte offset at which the failing structure starts.
	Off int64
	// Msg names the structure being read, e.g. "constant #12" or
	// "method 3 attribute 1".
	Msg string
	// Err wraps one of the Err* kinds above.
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s in record at byte %#x: %v", e.Msg, e.Off, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatError(off int, kind error, format string, v ...interface{}) *FormatError {
	return &FormatError{Off: int64(off), Msg: fmt.Sprintf(format, v...), Err: kind}
}
