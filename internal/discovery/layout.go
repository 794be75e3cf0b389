package discovery

import (
	"path/filepath"
	"strings"
)

// CommonDir returns the deepest directory containing every path, compared by
// path component. It returns "" for no paths.
func CommonDir(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	common := splitPath(filepath.Dir(paths[0]))
	for _, p := range paths[1:] {
		parts := splitPath(filepath.Dir(p))
		n := 0
		for n < len(common) && n < len(parts) && common[n] == parts[n] {
			n++
		}
		common = common[:n]
	}
	if len(common) == 0 {
		return string(filepath.Separator)
	}
	return string(filepath.Separator) + filepath.Join(common...)
}

func splitPath(dir string) []string {
	dir = filepath.Clean(dir)
	trimmed := strings.Trim(dir, string(filepath.Separator))
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, string(filepath.Separator))
}

// Layout maps inputs under Root to the same relative place under OutputDir.
type Layout struct {
	OutputDir string
	Root      string
}

// Enabled reports whether outputs go to a separate tree.
func (l Layout) Enabled() bool {
	return l.OutputDir != ""
}

// OutputPath returns the mirrored path of input under OutputDir, keeping the
// input's file name. It returns "" when no output directory is set. Inputs
// outside Root are placed by their full path below OutputDir.
func (l Layout) OutputPath(input string) string {
	if !l.Enabled() {
		return ""
	}
	return filepath.Join(l.OutputDir, l.relative(input))
}

func (l Layout) relative(input string) string {
	input = filepath.Clean(input)
	if l.Root != "" {
		rel, err := filepath.Rel(filepath.Clean(l.Root), input)
		if err == nil && rel != "." && filepath.IsLocal(rel) {
			return rel
		}
	}
	return strings.TrimLeft(input, string(filepath.Separator))
}
