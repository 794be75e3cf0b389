// Package runlock keeps two transcode runs from writing the same output tree.
package runlock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("another flac2mp3 run is writing this output directory")

// Lock is a held advisory lock on an output tree.
type Lock struct {
	path   string
	target string
	lock   *flock.Flock
}

// PathFor returns the lock file used for outputDir inside lockDir.
func PathFor(lockDir, outputDir string) string {
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		abs = filepath.Clean(outputDir)
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(lockDir, hex.EncodeToString(sum[:])[:16]+".lock")
}

// Acquire takes the lock for outputDir without blocking.
func Acquire(lockDir, outputDir string) (*Lock, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := PathFor(lockDir, outputDir)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, outputDir)
	}
	return &Lock{path: path, target: outputDir, lock: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks. It is safe to call on a nil Lock and more than once.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
