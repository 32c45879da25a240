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
	"fmt"
	"io"
	"os"
)

// BackupSuffix is appended to the name of a JAR to name its backup.
const BackupSuffix = ".bak"

// Backup copies the file at path next to it, with BackupSuffix appended to
// its name and the same permissions. An existing backup is overwritten. It
// returns the path of the backup.
func Backup(path string) (string, error) {
	dst := path + BackupSuffix
	if _, err := copyFile(path, dst); err != nil {
		return "", fmt.Errorf("backing up %s: %v", path, err)
	}
	return dst, nil
}

func copyFile(src, dst string) (int64, error) {
	sourceFileStat, err := os.Stat(src)
	if err != nil {
		return 0, err
	}

	if !sourceFileStat.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", src)
	}

	source, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer source.Close()

	perm := sourceFileStat.Mode().Perm()
	destination, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}
	nBytes, err := io.Copy(destination, source)
	if err != nil {
		destination.Close()
		return nBytes, err
	}
	// The umask may have dropped some bits on creation, and an existing
	// backup keeps its old mode.
	if err := destination.Chmod(perm); err != nil {
		destination.Close()
		return nBytes, err
	}
	return nBytes, destination.Close()
}
