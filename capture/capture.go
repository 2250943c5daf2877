// Package capture runs tshark for the lifetime of one room session and
// moves the resulting file to its final name.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/internal/logger"
	"github.com/ytget/livecap/internal/sanitize"
)

const (
	// DefaultBinary is looked up in PATH.
	DefaultBinary = "tshark"
	// DefaultKillWait is how long an interrupted tshark gets to flush.
	DefaultKillWait = 5 * time.Second
	stderrTail      = 4 << 10
)

var log = logger.WithComponent(logger.ComponentCapture)

// Recorder starts a capture that writes to path for duration.
type Recorder interface {
	Start(ctx context.Context, path string, duration time.Duration) (Recording, error)
}

// Recording is a running capture.
type Recording interface {
	// Path is the file the capture writes to.
	Path() string
	// Finish waits up to grace for a natural exit, then interrupts the
	// process and finally kills it.
	Finish(grace time.Duration) error
}

// Tshark records packets with the tshark command line tool.
type Tshark struct {
	Binary    string
	Interface string
	KillWait  time.Duration
}

// NewTshark returns a Tshark for iface using the default binary.
func NewTshark(iface string) *Tshark {
	return &Tshark{Binary: DefaultBinary, Interface: iface, KillWait: DefaultKillWait}
}

// WithBinary sets the tshark executable.
func (t *Tshark) WithBinary(path string) *Tshark {
	if strings.TrimSpace(path) != "" {
		t.Binary = path
	}
	return t
}

// Args returns the tshark arguments for one capture. tshark stops itself
// once duration has elapsed.
func (t *Tshark) Args(path string, duration time.Duration) []string {
	secs := int((duration + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return []string{
		"-q",
		"-a", "duration:" + strconv.Itoa(secs),
		"-w", path,
		"-i", t.Interface,
	}
}

// Start launches tshark. The process is not bound to ctx: teardown must be
// able to stop it gracefully after ctx is cancelled.
func (t *Tshark) Start(ctx context.Context, path string, duration time.Duration) (Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bin := t.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", errs.ErrCaptureFailed, err)
	}

	kill := t.KillWait
	if kill <= 0 {
		kill = DefaultKillWait
	}

	args := t.Args(path, duration)
	cmd := exec.Command(bin, args...)
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stdout = nil
	cmd.Stderr = stderr
	// Children that inherit stderr must not keep Wait blocked forever.
	cmd.WaitDelay = kill

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", errs.ErrCaptureFailed, bin, err)
	}
	log.Info("tshark started", logger.Fields{
		"pid":      cmd.Process.Pid,
		"iface":    t.Interface,
		"file":     path,
		"duration": duration.String(),
	})

	p := &Process{
		cmd:     cmd,
		path:    path,
		stderr:  stderr,
		kill:    kill,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Process is a running tshark.
type Process struct {
	cmd     *exec.Cmd
	path    string
	stderr  *tailBuffer
	kill    time.Duration
	started time.Time

	done chan struct{}
	err  error

	once      sync.Once
	finishErr error
}

// Path implements Recording.
func (p *Process) Path() string { return p.path }

// Finish implements Recording. It is safe to call more than once.
func (p *Process) Finish(grace time.Duration) error {
	p.once.Do(func() { p.finishErr = p.finish(grace) })
	return p.finishErr
}

func (p *Process) finish(grace time.Duration) error {
	if waitDone(p.done, grace) {
		return p.exitError()
	}

	log.Warn("tshark still running, interrupting", logger.Fields{"pid": p.cmd.Process.Pid, "grace": grace.String()})
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		// Windows has no SIGINT for child processes.
		_ = p.cmd.Process.Kill()
	}
	if waitDone(p.done, p.kill) {
		log.Info("tshark stopped", logger.Fields{"pid": p.cmd.Process.Pid, "elapsed": time.Since(p.started).Round(time.Millisecond).String()})
		return nil
	}

	log.Error("tshark ignored interrupt, killing", logger.Fields{"pid": p.cmd.Process.Pid})
	_ = p.cmd.Process.Kill()
	<-p.done
	return fmt.Errorf("%w: tshark killed after %s", errs.ErrCaptureFailed, p.kill)
}

func (p *Process) exitError() error {
	if p.err == nil {
		log.Info("tshark finished", logger.Fields{"file": p.path, "elapsed": time.Since(p.started).Round(time.Millisecond).String()})
		return nil
	}
	msg := strings.TrimSpace(p.stderr.String())
	if msg == "" {
		return fmt.Errorf("%w: tshark: %v", errs.ErrCaptureFailed, p.err)
	}
	return fmt.Errorf("%w: tshark: %v: %s", errs.ErrCaptureFailed, p.err, msg)
}

func waitDone(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// Finalize renames pending to final. If final exists a random
// "_1000".."_9999" suffix is added. On failure the pending path is returned
// with the error so the capture is never lost.
func Finalize(pending, final string) (string, error) {
	if _, err := os.Stat(pending); err != nil {
		return pending, fmt.Errorf("%w: capture file missing: %v", errs.ErrCaptureFailed, err)
	}
	target := final
	for i := 0; exists(target); i++ {
		if i >= 20 {
			return pending, fmt.Errorf("%w: no free name for %s", errs.ErrCaptureFailed, final)
		}
		target = sanitize.WithSuffix(final, 1000+rand.Intn(9000))
	}
	if err := os.Rename(pending, target); err != nil {
		return pending, fmt.Errorf("rename capture: %w", err)
	}
	return target, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
