// Package filetype classifies input files by MIME type using file(1).
package filetype

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"flac2mp3/internal/services"
)

// FLAC MIME types reported by different libmagic versions.
const (
	MIMEFLAC       = "audio/flac"
	MIMEFLACLegacy = "audio/x-flac"
)

// Classifier runs the file binary.
type Classifier struct {
	Binary string
}

// NewClassifier returns a Classifier for binary, defaulting to "file".
func NewClassifier(binary string) *Classifier {
	if strings.TrimSpace(binary) == "" {
		binary = "file"
	}
	return &Classifier{Binary: binary}
}

// MIMEType returns the MIME type of path without parameters.
func (c *Classifier) MIMEType(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, c.Binary, "-b", "--mime-type", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = path
		}
		return "", services.Wrap(services.ErrExternalTool, "classify", c.Binary, detail, err)
	}
	return parseMIME(stdout.String()), nil
}

// IsFLAC reports whether path is a FLAC stream.
func (c *Classifier) IsFLAC(ctx context.Context, path string) (bool, error) {
	mime, err := c.MIMEType(ctx, path)
	if err != nil {
		return false, err
	}
	return IsFLAC(mime), nil
}

// IsFLAC reports whether mime names a FLAC stream.
func IsFLAC(mime string) bool {
	switch parseMIME(mime) {
	case MIMEFLAC, MIMEFLACLegacy:
		return true
	default:
		return false
	}
}

func parseMIME(output string) string {
	output = strings.TrimSpace(output)
	if idx := strings.IndexByte(output, ';'); idx >= 0 {
		output = output[:idx]
	}
	return strings.ToLower(strings.TrimSpace(output))
}
