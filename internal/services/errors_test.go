package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"flac2mp3/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "encoding", "lame", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"encoding", "lame", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("wait: %w", context.Canceled), false},
		{"external tool", services.Wrap(services.ErrExternalTool, "encoding", "flac", "exit 1", nil), true},
		{"filesystem", services.Wrap(services.ErrFilesystem, "encoding", "rename", "", errors.New("EXDEV")), true},
		{"timeout", services.Wrap(services.ErrTimeout, "pool", "deadline", "", nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.IsFatal(tt.err); got != tt.want {
				t.Fatalf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMarker(t *testing.T) {
	if got := services.Marker(services.Wrap(services.ErrFilesystem, "x", "y", "z", nil)); got != "filesystem" {
		t.Fatalf("unexpected marker %q", got)
	}
	if got := services.Marker(errors.New("plain")); got != "unknown" {
		t.Fatalf("unexpected marker %q", got)
	}
	if got := services.Marker(nil); got != "" {
		t.Fatalf("expected empty marker for nil, got %q", got)
	}
}
