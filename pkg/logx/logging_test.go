package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// must not panic
	l.Info("hello", String("k", "v"))
}

func TestWithFieldsAreApplied(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := New(zerolog.New(&buf)).With(String("comp", "wheel"))
	l.Warn("bucket queued", Int64("expiration", 42), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if m["comp"] != "wheel" {
		t.Fatalf("comp = %v, want wheel", m["comp"])
	}
	if m["expiration"] != float64(42) {
		t.Fatalf("expiration = %v, want 42", m["expiration"])
	}
	if m["message"] != "bucket queued" {
		t.Fatalf("message = %v", m["message"])
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
