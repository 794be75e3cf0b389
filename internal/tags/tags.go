// Package tags extracts Vorbis comments from FLAC files via metaflac and
// normalizes them into the fixed set of ID3 fields the encoder receives.
package tags

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"unicode/utf8"

	"flac2mp3/internal/logging"
	"flac2mp3/internal/services"
)

// Fixed tag keys forwarded to the encoder.
const (
	KeyTitle       = "TITLE"
	KeyArtist      = "ARTIST"
	KeyAlbum       = "ALBUM"
	KeyDate        = "DATE"
	KeyComment     = "COMMENT"
	KeyTrackNumber = "TRACKNUMBER"
	KeyTrackTotal  = "TRACKTOTAL"
	KeyGenre       = "GENRE"
)

var defaults = map[string]string{
	KeyTitle:       "NONE",
	KeyArtist:      "NONE",
	KeyAlbum:       "NONE",
	KeyDate:        "1",
	KeyComment:     "",
	KeyTrackNumber: "00",
	KeyTrackTotal:  "00",
	KeyGenre:       "NONE",
}

// commentLine matches "comment[<n>]: KEY=VALUE" anywhere in a listing. KEY
// stops at the first '='; an empty VALUE leaves the default in place.
var commentLine = regexp.MustCompile(`(?m)^[ \t]*comment\[\d+\]:[ \t]*([^=\r\n]+)=([^\r\n]+)`)

// TagSet is an immutable mapping of upper-cased tag keys to values. Every
// fixed key is always present.
type TagSet struct {
	values map[string]string
}

// Defaults returns a TagSet holding only the default values.
func Defaults() TagSet {
	return Parse("")
}

// Parse extracts comment lines from a metaflac listing and overlays them on
// the defaults. Later occurrences of a key win.
func Parse(listing string) TagSet {
	values := make(map[string]string, len(defaults))
	for k, v := range defaults {
		values[k] = v
	}
	for _, m := range commentLine.FindAllStringSubmatch(listing, -1) {
		values[strings.ToUpper(m[1])] = m[2]
	}
	return TagSet{values: values}
}

// Get returns the value for key (case-insensitive) and whether it is set.
func (t TagSet) Get(key string) (string, bool) {
	v, ok := t.values[strings.ToUpper(key)]
	return v, ok
}

// Value returns the value for key, or "" when absent.
func (t TagSet) Value(key string) string {
	v, _ := t.Get(key)
	return v
}

// Track formats the track field as "<TRACKNUMBER>/<TRACKTOTAL>".
func (t TagSet) Track() string {
	return t.Value(KeyTrackNumber) + "/" + t.Value(KeyTrackTotal)
}

// Len reports how many keys the set holds, including non-standard ones.
func (t TagSet) Len() int {
	return len(t.values)
}

// Reader runs metaflac to list a file's Vorbis comments.
type Reader struct {
	Binary string
	// Logger receives metaflac diagnostics. Nil discards them.
	Logger *slog.Logger
}

// NewReader returns a Reader using the given metaflac binary.
func NewReader(binary string) *Reader {
	if strings.TrimSpace(binary) == "" {
		binary = "metaflac"
	}
	return &Reader{Binary: binary}
}

// Read lists the comments of path. Missing tags are not an error and neither
// is a non-zero exit: whatever metaflac printed is parsed. Only a launch
// failure or output that is not valid UTF-8 is.
func (r *Reader) Read(ctx context.Context, path string) (TagSet, error) {
	cmd := exec.CommandContext(ctx, r.Binary, "--list", "--block-type=VORBIS_COMMENT", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = err.Error()
			}
			return TagSet{}, services.Wrap(services.ErrExternalTool, "tags", "metaflac", detail, err)
		}
		if r.Logger != nil {
			r.Logger.Debug("metaflac exited non-zero",
				logging.String("input", path),
				logging.Int("exit_code", exitErr.ExitCode()),
				logging.String("stderr", strings.TrimSpace(stderr.String())),
			)
		}
	}
	if !utf8.Valid(out) {
		return TagSet{}, services.Wrap(services.ErrExternalTool, "tags", "metaflac",
			fmt.Sprintf("listing for %s is not valid UTF-8", path), nil)
	}
	return Parse(string(out)), nil
}
