package cli

import (
	"bytes"
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("storage.backend", "must be sqlite or memory")
	want := "config error in storage.backend: must be sqlite or memory"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	bare := NewConfigError("", "file not found")
	if bare.Error() != "config error: file not found" {
		t.Errorf("got %q", bare.Error())
	}
}

func TestCommandError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewCommandError("run", cause)
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestWaitForShutdown_DeliversSIGTERM(t *testing.T) {
	ch := WaitForShutdown()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	select {
	case sig := <-ch:
		if sig != syscall.SIGTERM {
			t.Errorf("received %v, want SIGTERM", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SIGTERM not delivered to shutdown channel")
	}
}

func TestFormatters(t *testing.T) {
	var buf bytes.Buffer

	f, err := NewFormatter(FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.FormatTo(&buf, map[string]int{"count": 2}); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "{\n  \"count\": 2\n}\n" {
		t.Errorf("unexpected JSON output: %q", got)
	}

	if _, err := NewFormatter("yaml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
