package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"info", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tc := range tests {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestWithRequestID(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), "")
	if id == "" {
		t.Fatal("expected generated request ID")
	}
	if got := RequestID(ctx); got != id {
		t.Fatalf("RequestID = %q, want %q", got, id)
	}

	ctx, id = WithRequestID(context.Background(), "  abc-123  ")
	if id != "abc-123" {
		t.Fatalf("expected trimmed incoming ID, got %q", id)
	}
	if got := RequestID(ctx); got != "abc-123" {
		t.Fatalf("RequestID = %q", got)
	}

	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("expected empty ID on bare context, got %q", got)
	}
}

func TestRollingFileWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strato.log")

	w, err := newRollingFileWriter(path, 1)
	if err != nil {
		t.Fatalf("newRollingFileWriter: %v", err)
	}
	defer w.Close()

	// Force rotation by pretending the limit is tiny.
	w.maxBytes = 64

	line := []byte(strings.Repeat("x", 48) + "\n")
	for i := 0; i < 3; i++ {
		if _, err := w.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected active plus rotated log files, found %d entries", len(entries))
	}
}
