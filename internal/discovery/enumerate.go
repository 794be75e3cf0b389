package discovery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"flac2mp3/internal/logging"
)

// Options selects the inputs to enumerate.
type Options struct {
	Paths []string
	// List supplies additional paths, one per line, read after Paths.
	List        io.Reader
	FollowLinks bool
	// Logger receives warnings for directories that cannot be read.
	Logger *slog.Logger
}

// ErrStop may be returned by a yield function to end enumeration early
// without an error.
var ErrStop = errors.New("stop enumeration")

// Enumerate calls yield for every file reachable from opts, in order. List
// lines are consumed as they arrive, so a pipe on stdin starts producing work
// before it is closed.
func Enumerate(ctx context.Context, opts Options, yield func(path string) error) error {
	e := &enumerator{
		follow:  opts.FollowLinks,
		seen:    make(map[string]struct{}),
		visited: make(map[string]struct{}),
		yield:   yield,
		logger:  opts.Logger,
	}
	err := e.paths(ctx, opts.Paths)
	if err == nil && opts.List != nil {
		err = ReadLines(opts.List, func(line string) error {
			return e.path(ctx, line)
		})
	}
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

// Collect enumerates opts into a slice.
func Collect(ctx context.Context, opts Options) ([]string, error) {
	var files []string
	err := Enumerate(ctx, opts, func(path string) error {
		files = append(files, path)
		return nil
	})
	return files, err
}

// ReadLines calls fn for each non-blank line of r with surrounding whitespace
// removed.
func ReadLines(r io.Reader, fn func(line string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input list: %w", err)
	}
	return nil
}

type enumerator struct {
	follow  bool
	seen    map[string]struct{}
	visited map[string]struct{}
	yield   func(string) error
	logger  *slog.Logger
}

func (e *enumerator) paths(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := e.path(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (e *enumerator) path(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", p, err)
	}
	info, err := os.Stat(abs)
	if err == nil && info.IsDir() {
		return e.walk(ctx, abs)
	}
	// Missing or unreadable files are still yielded; classification reports them.
	return e.emit(abs)
}

func (e *enumerator) emit(abs string) error {
	if _, ok := e.seen[abs]; ok {
		return nil
	}
	e.seen[abs] = struct{}{}
	return e.yield(abs)
}

func (e *enumerator) walk(ctx context.Context, dir string) error {
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		if _, ok := e.visited[real]; ok {
			return nil
		}
		e.visited[real] = struct{}{}
	}
	root := dir
	if info, err := os.Lstat(dir); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		// WalkDir does not descend into a symlinked root unless it ends in a separator.
		root = dir + string(filepath.Separator)
	}
	return walkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable or vanished directories are skipped; the rest of the tree is still walked.
			logging.WarnWithContext(e.logger, "skipping unreadable directory", "walk_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "files below this directory are not transcoded"),
				logging.String(logging.FieldErrorHint, "check permissions on the directory"),
			)
			if d == nil || d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, statErr := os.Stat(path)
			if statErr == nil && target.IsDir() {
				if e.follow {
					return e.walk(ctx, path)
				}
				return nil
			}
		}
		return e.emit(path)
	})
}
