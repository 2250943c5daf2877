package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/profile"
)

// devtools answers the DevTools calls chromedp makes while attaching to
// the first tab, evaluates every expression to 42, and kills the fake
// browser process when asked to close.
type devtools struct {
	t       *testing.T
	srv     *httptest.Server
	pidFile string

	mu      sync.Mutex
	methods []string
}

func newDevtools(t *testing.T, pidFile string) *devtools {
	d := &devtools{t: t, pidFile: pidFile}
	d.srv = httptest.NewServer(http.HandlerFunc(d.serve))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *devtools) wsURL() string {
	return "ws://" + strings.TrimPrefix(d.srv.URL, "http://") + "/devtools/browser/fake"
}

func (d *devtools) called(method string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.methods {
		if m == method {
			return true
		}
	}
	return false
}

func (d *devtools) serve(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	defer conn.Close()

	send := func(v any) {
		b, _ := json.Marshal(v)
		wsutil.WriteServerMessage(conn, ws.OpText, b)
	}
	for {
		data, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		var msg struct {
			ID        int64  `json:"id"`
			SessionID string `json:"sessionId"`
			Method    string `json:"method"`
			Params    struct {
				Expression string `json:"expression"`
			} `json:"params"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		d.mu.Lock()
		d.methods = append(d.methods, msg.Method)
		d.mu.Unlock()

		result := map[string]any{}
		switch msg.Method {
		case "Target.attachToTarget":
			result["sessionId"] = "S1"
		case "Runtime.evaluate":
			if msg.Params.Expression == "self" {
				result["result"] = map[string]any{"type": "object", "className": "Window"}
			} else {
				result["result"] = map[string]any{"type": "number", "value": 42, "description": "42"}
			}
		}
		reply := map[string]any{"id": msg.ID, "result": result}
		if msg.SessionID != "" {
			reply["sessionId"] = msg.SessionID
		}
		send(reply)

		switch {
		case msg.Method == "Target.setDiscoverTargets" && msg.SessionID == "":
			send(map[string]any{
				"method": "Target.targetCreated",
				"params": map[string]any{"targetInfo": map[string]any{
					"targetId": "T1", "type": "page", "title": "", "url": "about:blank",
					"attached": false, "canAccessOpener": false,
				}},
			})
		case msg.Method == "Browser.close":
			if p := d.process(); p != nil {
				p.Signal(syscall.SIGTERM)
			}
		}
	}
}

func (d *devtools) process() *os.Process {
	b, err := os.ReadFile(d.pidFile)
	if err != nil {
		d.t.Errorf("read pid: %v", err)
		return nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		d.t.Errorf("parse pid: %v", err)
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p
}

func alive(p *os.Process) bool {
	return p.Signal(syscall.Signal(0)) == nil
}

// fakeChrome writes a shell script standing in for the browser binary.
func fakeChrome(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "chrome")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestChrome_LaunchKeepsBrowserRunning(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "chrome.pid")
	d := newDevtools(t, pidFile)
	exe := fakeChrome(t, fmt.Sprintf("echo $$ > '%s'\necho 'DevTools listening on %s'\nexec sleep 30", pidFile, d.wsURL()))

	c := NewChrome(Options{ExecPath: exe, UserDataDir: t.TempDir(), PageLoadTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b, err := c.Launch(ctx)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	p := d.process()
	if p == nil {
		t.Fatal("no browser process")
	}
	time.Sleep(200 * time.Millisecond)
	if !alive(p) {
		b.Close()
		t.Fatal("browser process died after Launch returned")
	}

	var n int
	if err := b.Evaluate(ctx, "6 * 7", &n); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if n != 42 {
		t.Errorf("Evaluate = %d, want 42", n)
	}
	if err := b.Click(ctx, 10, 20); err != nil {
		t.Errorf("Click: %v", err)
	}
	if !d.called("Input.dispatchMouseEvent") {
		t.Error("Click sent no mouse events")
	}

	done := make(chan struct{})
	go func() {
		b.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}
	if !d.called("Browser.close") {
		t.Error("Close did not ask the browser to quit")
	}
	if alive(p) {
		t.Error("browser process still running after Close")
	}
}

func TestChrome_LaunchExistingSessionIsBusy(t *testing.T) {
	exe := fakeChrome(t, "echo 'Opening in existing browser session.'\nexit 0")

	c := NewChrome(Options{ExecPath: exe, UserDataDir: t.TempDir(), PageLoadTimeout: 5 * time.Second})
	_, err := c.Launch(context.Background())
	if !errors.Is(err, errs.ErrBrowserStart) {
		t.Fatalf("expected ErrBrowserStart, got %v", err)
	}
	if !profile.IsBusyError(err) {
		t.Errorf("handoff to a running browser should count as busy: %v", err)
	}
}

func TestChrome_LaunchTimeout(t *testing.T) {
	exe := fakeChrome(t, "exec sleep 30")

	c := NewChrome(Options{ExecPath: exe, UserDataDir: t.TempDir(), PageLoadTimeout: 300 * time.Millisecond})
	start := time.Now()
	_, err := c.Launch(context.Background())
	if !errors.Is(err, errs.ErrBrowserStart) {
		t.Fatalf("expected ErrBrowserStart, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Launch took %s to give up", time.Since(start))
	}
}
