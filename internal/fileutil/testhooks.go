package fileutil

import "os"

var rename = os.Rename

// SetRenameForTests swaps the rename used by Commit and returns a restore func.
func SetRenameForTests(fn func(oldpath, newpath string) error) func() {
	prev := rename
	if fn == nil {
		rename = os.Rename
	} else {
		rename = fn
	}
	return func() {
		rename = prev
	}
}
