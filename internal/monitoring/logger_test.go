package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRedirects(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("frames=%d", 12)
	if got != "frames=12" {
		t.Errorf("redirected logger saw %q", got)
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)
	Logf("should be dropped")
	if called {
		t.Error("nil logger still forwarded a message")
	}
}

func TestDebugfGatedByFlag(t *testing.T) {
	origLogf, origDebugf := Logf, Debugf
	defer func() { Logf, Debugf = origLogf, origDebugf }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	Debugf("dropped while disabled")
	if len(lines) != 0 {
		t.Fatalf("debug output before SetDebug(true): %v", lines)
	}

	SetDebug(true)
	Debugf("batch of %d", 3)
	if len(lines) != 1 || lines[0] != "debug: batch of 3" {
		t.Errorf("debug line = %v", lines)
	}

	SetDebug(false)
	Debugf("dropped again")
	if len(lines) != 1 {
		t.Errorf("SetDebug(false) did not mute: %v", lines)
	}
}
