package discovery

import (
	"io/fs"
	"path/filepath"
)

var walkDir = filepath.WalkDir

// SetWalkDirForTests swaps the directory walker used by Enumerate and returns
// a restore func.
func SetWalkDirForTests(fn func(root string, fn fs.WalkDirFunc) error) func() {
	prev := walkDir
	if fn == nil {
		walkDir = filepath.WalkDir
	} else {
		walkDir = fn
	}
	return func() {
		walkDir = prev
	}
}
