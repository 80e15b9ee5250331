// File: log/log_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(WithWriter(&buf), WithLevel(LevelWarn))

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("visible %d", 3)
	l.Error("visible %d", 4)
	l.Fatal("visible %d", 5)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("filtered levels leaked: %q", out)
	}
	for _, want := range []string{"WARN visible 3", "ERROR visible 4", "FATAL visible 5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestFatalDoesNotAbort(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(WithWriter(&buf), WithLevel(LevelFatal))
	l.Fatal("advisory")
	if !strings.Contains(buf.String(), "advisory") {
		t.Fatal("fatal line not written")
	}
}

func TestPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(WithWriter(&buf), WithPrefix("[svc]"))
	l.Info("up")
	if !strings.Contains(buf.String(), "[svc] up") {
		t.Fatalf("prefix missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"Warn":  LevelWarn,
		"error": LevelError,
		"FATAL": LevelFatal,
	}
	for name, want := range cases {
		got, ok := ParseLevel(name)
		if !ok || got != want {
			t.Errorf("ParseLevel(%q) = (%v, %v)", name, got, ok)
		}
	}
	if _, ok := ParseLevel("chatty"); ok {
		t.Error("ParseLevel accepted an unknown level")
	}
}

func TestDefaultSwap(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	var buf bytes.Buffer
	SetDefault(NewStdLogger(WithWriter(&buf), WithLevel(LevelDebug)))
	Debug("through default")
	if !strings.Contains(buf.String(), "through default") {
		t.Fatal("package-level helper missed the swapped default")
	}
}

func TestNopDiscards(t *testing.T) {
	// Must simply not panic.
	Nop().Error("dropped %v", struct{}{})
}
