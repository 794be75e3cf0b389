package encoding

import (
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// OutputExt is the extension given to derived destination names.
const OutputExt = ".mp3"

// EncoderOptions derives lame quality flags. A preset wins; otherwise a set
// VBR quality yields "-q0 -V<n>"; otherwise the highest quality "-q0 -V0".
func EncoderOptions(preset string, vbrQuality int, vbrSet bool) []string {
	if preset = strings.TrimSpace(preset); preset != "" {
		return []string{"--preset", preset}
	}
	if vbrSet {
		return []string{"-q0", "-V" + strconv.Itoa(vbrQuality)}
	}
	return []string{"-q0", "-V0"}
}

// ChangeExt replaces the extension of path with ext.
func ChangeExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// ResolveOutputPath returns the destination for job: its explicit output or
// the input with an .mp3 extension, with bad characters removed from the file
// name and, when requested, the name normalized to Unicode NFC.
func ResolveOutputPath(job Job) string {
	out := job.Output
	if strings.TrimSpace(out) == "" {
		out = ChangeExt(job.Input, OutputExt)
	}
	dir, name := filepath.Split(out)
	name = stripChars(name, job.BadChars)
	if job.NormalizeNames {
		name = norm.NFC.String(name)
	}
	return dir + name
}

func stripChars(s, bad string) string {
	if bad == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(bad, r) {
			return -1
		}
		return r
	}, s)
}
