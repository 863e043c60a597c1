package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TempSuffix marks in-flight files. Anything ending in it is never treated as
// a finished artifact, text or corpus.
const TempSuffix = ".part"

// TempPath returns the in-flight path for a final path.
func TempPath(final string) string {
	return final + TempSuffix
}

// IsTemp reports whether path names an in-flight file.
func IsTemp(path string) bool {
	return strings.HasSuffix(path, TempSuffix)
}

// CreateExclusive opens path for writing only if it does not exist yet.
// The returned error satisfies errors.Is(err, fs.ErrExist) when another
// writer already holds the path.
func CreateExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

// CommitTemp flushes and closes f, then renames it onto final. On any
// failure the temp file is removed and final is left untouched.
func CommitTemp(f *os.File, final string) error {
	tmp := f.Name()
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Abort closes f and removes it. Errors are ignored; callers use it on paths
// that are already failing.
func Abort(f *os.File) {
	if f == nil {
		return
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
}

// WriteFileAtomic writes data to a sibling temp file, fsyncs it and renames
// it onto path. Readers observe either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	f, err := CreateExclusive(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		Abort(f)
		return fmt.Errorf("write temp file: %w", err)
	}
	return CommitTemp(f, path)
}

// RemoveIfExists deletes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether path exists. Stat errors other than not-exist are
// returned so callers do not mistake a permission problem for absence.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// SHA256File returns the hex digest of the file at path.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ListWithExt returns the non-temp regular files in dir whose extension
// matches ext, sorted by name. A missing dir yields no files.
func ListWithExt(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if IsTemp(name) || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}
