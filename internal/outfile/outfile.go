// Package outfile writes generated files by atomic replacement and compares
// them against what is already on disk.
package outfile

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/zeebo/blake3"
)

// Digest returns the hex blake3 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// State is the relation between a file on disk and its expected content.
type State string

const (
	StateSame    State = "same"
	StateDiffers State = "differs"
	StateMissing State = "missing"
)

// Compare reports whether filename already holds data.
func Compare(filename string, data []byte) (State, error) {
	cur, err := os.ReadFile(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return StateMissing, nil
	}
	if err != nil {
		return "", err
	}
	if bytes.Equal(cur, data) {
		return StateSame, nil
	}
	return StateDiffers, nil
}

// Write replaces filename with data via a temp file + rename in the same
// directory, creating parent directories as needed. Readers never observe a
// missing or partially written file. A file that already holds data is left
// untouched and changed is false.
func Write(filename string, data []byte, perm os.FileMode) (changed bool, err error) {
	if st, err := Compare(filename, data); err == nil && st == StateSame {
		return false, nil
	}
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".tmp.*")
	if err != nil {
		return false, err
	}
	tmp := f.Name()
	ok := false
	defer func() {
		_ = f.Close()
		if !ok {
			_ = os.Remove(tmp)
		}
	}()

	if runtime.GOOS != "windows" {
		if err := f.Chmod(perm); err != nil {
			return false, err
		}
	}
	if _, err := f.Write(data); err != nil {
		return false, err
	}
	if err := f.Sync(); err != nil {
		return false, err
	}
	if err := f.Close(); err != nil {
		return false, err
	}
	// os.Rename does not overwrite on Windows.
	if runtime.GOOS == "windows" {
		_ = os.Remove(filename)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return false, err
	}
	ok = true
	return true, nil
}
