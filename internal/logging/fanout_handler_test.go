package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestNewFanoutHandlerNilHandlers(t *testing.T) {
	h := newFanoutHandler(nil, nil)
	if _, ok := h.(NoopHandler); !ok {
		t.Errorf("expected NoopHandler for all nil handlers, got %T", h)
	}
}

func TestNewFanoutHandlerFiltersNil(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)

	if h := newFanoutHandler(nil, inner, nil); h != inner {
		t.Error("expected single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutHandlerHandleRespectsLevel(t *testing.T) {
	var infoBuf, warnBuf bytes.Buffer
	h := newFanoutHandler(
		slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected fanout to be enabled for info")
	}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout to reject debug")
	}

	slog.New(h).Info("info message")

	if infoBuf.Len() == 0 {
		t.Error("expected output in info handler")
	}
	if warnBuf.Len() != 0 {
		t.Error("expected no output in warn handler")
	}
}

func TestFanoutHandlerWithAttrs(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h := newFanoutHandler(slog.NewJSONHandler(&buf1, nil), slog.NewJSONHandler(&buf2, nil))

	slog.New(h.WithAttrs([]slog.Attr{slog.String("job_id", "abc")})).Info("test", slog.String("attr", "value"))

	for i, buf := range []*bytes.Buffer{&buf1, &buf2} {
		if !bytes.Contains(buf.Bytes(), []byte(`"job_id"`)) || !bytes.Contains(buf.Bytes(), []byte(`"attr"`)) {
			t.Errorf("handler %d missing attributes: %s", i, buf.String())
		}
	}
}
