// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/getsops/sops/v3/decrypt"
)

var ErrInsecureFileMode = errors.New("insecure file permissions")

// maxSeedFileSize guards against accidentally pointing at a large file.
// Valid seed files are well under this size.
const maxSeedFileSize = 1 << 20

// LoadSeedFile reads master seed material from a file. The seed may be
// stored as raw bytes, as a hex string, or as a sops-encrypted document
// (detected by the sops metadata marker and decrypted in place).
//
// The file is opened first and permissions are checked on the open handle
// to avoid a TOCTOU race between the permission check and the read.
func LoadSeedFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file %q: %w", path, err)
	}
	defer f.Close()
	if err := checkOpenFilePermissions(f); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(f, maxSeedFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %q: %w", path, err)
	}
	if isSopsEncrypted(data) {
		data, err = decrypt.Data(data, "binary")
		if err != nil {
			return nil, fmt.Errorf(
				"failed to decrypt seed file %q: %w",
				path,
				err,
			)
		}
	}
	seed := normalizeSeed(data)
	if len(seed) < MinSeedLen {
		return nil, ErrMalformedSeed
	}
	return seed, nil
}

func checkOpenFilePermissions(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat seed file %q: %w", f.Name(), err)
	}
	if fi.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf(
			"seed file %q has mode %04o, group/other access not permitted: %w",
			f.Name(),
			fi.Mode().Perm(),
			ErrInsecureFileMode,
		)
	}
	return nil
}

// isSopsEncrypted reports whether the file contents look like a sops
// document
func isSopsEncrypted(data []byte) bool {
	return bytes.Contains(data, []byte(`"sops"`)) &&
		bytes.Contains(data, []byte(`"mac"`))
}

// normalizeSeed accepts hex-encoded seed material (with optional trailing
// newline) and falls back to the raw bytes
func normalizeSeed(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if decoded, err := hex.DecodeString(string(trimmed)); err == nil {
		return decoded
	}
	return trimmed
}
