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

//go:build linux || darwin

package jar

import (
	"fmt"
	"io/fs"
	"syscall"
)

// fileOwner returns the user and group owning the file described by fi.
func fileOwner(fi fs.FileInfo) (uid, gid uint32, ok bool, err error) {
	switch s := fi.Sys().(type) {
	case *syscall.Stat_t:
		return s.Uid, s.Gid, true, nil
	case nil:
		return 0, 0, false, fmt.Errorf("no system-specific stat info for %s", fi.Name())
	default:
		return 0, 0, false, fmt.Errorf("system-specific stat info for %s: expected *syscall.Stat_t, got %T", fi.Name(), s)
	}
}
