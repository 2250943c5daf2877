package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ytget/livecap/errs"
)

// writeStub creates an executable shell script standing in for tshark.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "tshark")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTshark_Args(t *testing.T) {
	ts := NewTshark("WLAN")
	got := ts.Args("out/a.pcap", 65*time.Second)
	want := []string{"-q", "-a", "duration:65", "-w", "out/a.pcap", "-i", "WLAN"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}

	if got := ts.Args("x", 1500*time.Millisecond)[2]; got != "duration:2" {
		t.Errorf("partial seconds should round up, got %s", got)
	}
	if got := ts.Args("x", 0)[2]; got != "duration:1" {
		t.Errorf("zero duration should clamp to 1s, got %s", got)
	}
}

func TestTshark_NaturalExit(t *testing.T) {
	// Writes the -w argument ($5) like tshark would.
	stub := writeStub(t, `echo "$@" > "$5"`)
	ts := NewTshark("any").WithBinary(stub)

	path := filepath.Join(t.TempDir(), "caps", "cat_pending_1.pcap")
	rec, err := ts.Start(context.Background(), path, 3*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Finish(5 * time.Second); err != nil {
		t.Fatalf("Finish() = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "-q -a duration:3 -w "+path+" -i any" {
		t.Errorf("stub saw %q", data)
	}
}

func TestTshark_Interrupted(t *testing.T) {
	stub := writeStub(t, `trap 'exit 0' INT TERM
sleep 30 >/dev/null 2>&1 &
wait`)
	ts := NewTshark("any").WithBinary(stub)
	ts.KillWait = 3 * time.Second

	rec, err := ts.Start(context.Background(), filepath.Join(t.TempDir(), "x.pcap"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if err := rec.Finish(20 * time.Millisecond); err != nil {
		t.Fatalf("interrupted capture should finish cleanly, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("interrupt was not honoured")
	}
	if err := rec.Finish(0); err != nil {
		t.Error("second Finish must return the first result")
	}
}

func TestTshark_Killed(t *testing.T) {
	stub := writeStub(t, `trap '' INT
sleep 30 >/dev/null 2>&1 &
wait`)
	ts := NewTshark("any").WithBinary(stub)
	ts.KillWait = 50 * time.Millisecond

	rec, err := ts.Start(context.Background(), filepath.Join(t.TempDir(), "x.pcap"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	err = rec.Finish(10 * time.Millisecond)
	if !errors.Is(err, errs.ErrCaptureFailed) {
		t.Fatalf("expected ErrCaptureFailed, got %v", err)
	}
}

func TestTshark_FailedExit(t *testing.T) {
	stub := writeStub(t, `echo "tshark: There is no device named \"WLAN\"." >&2
exit 1`)
	ts := NewTshark("WLAN").WithBinary(stub)

	rec, err := ts.Start(context.Background(), filepath.Join(t.TempDir(), "x.pcap"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	err = rec.Finish(5 * time.Second)
	if !errors.Is(err, errs.ErrCaptureFailed) {
		t.Fatalf("expected ErrCaptureFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), `no device named "WLAN"`) {
		t.Errorf("stderr missing from error: %v", err)
	}
}

func TestTshark_MissingBinary(t *testing.T) {
	ts := NewTshark("any").WithBinary(filepath.Join(t.TempDir(), "nope"))
	_, err := ts.Start(context.Background(), filepath.Join(t.TempDir(), "x.pcap"), time.Second)
	if !errors.Is(err, errs.ErrCaptureFailed) {
		t.Fatalf("expected ErrCaptureFailed, got %v", err)
	}
}

func TestTshark_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewTshark("any").Start(ctx, "x.pcap", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFinalize(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "星秀_pending_20240101000000.pcap")
	final := filepath.Join(dir, "星秀_原画_20240101000000.pcap")
	if err := os.WriteFile(pending, []byte("pcap"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Finalize(pending, final)
	if err != nil {
		t.Fatal(err)
	}
	if got != final {
		t.Errorf("Finalize() = %s, want %s", got, final)
	}
	if _, err := os.Stat(pending); !os.IsNotExist(err) {
		t.Error("pending file should be gone")
	}
}

func TestFinalize_Collision(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "a_pending_1.pcap")
	final := filepath.Join(dir, "a_高清_1.pcap")
	for _, p := range []string{pending, final} {
		if err := os.WriteFile(p, []byte(p), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := Finalize(pending, final)
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`a_高清_1_\d{4}\.pcap$`).MatchString(got) {
		t.Errorf("unexpected collision name %s", got)
	}
	data, _ := os.ReadFile(final)
	if string(data) != final {
		t.Error("existing capture must not be overwritten")
	}
}

func TestFinalize_MissingPending(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "gone.pcap")
	got, err := Finalize(pending, filepath.Join(dir, "final.pcap"))
	if err == nil {
		t.Fatal("expected error")
	}
	if got != pending {
		t.Errorf("failure should report the pending path, got %s", got)
	}
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 5}
	b.Write([]byte("abc"))
	b.Write([]byte("defg"))
	if b.String() != "cdefg" {
		t.Errorf("tail = %q", b.String())
	}
}
