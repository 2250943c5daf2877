package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/internal/pagetest"
)

func TestOptions_Flags(t *testing.T) {
	f := Options{ProfileDir: "Profile 2", Headless: true, Proxy: "http://127.0.0.1:8080"}.Flags()

	want := map[string]any{
		"start-maximized":           true,
		"no-sandbox":                true,
		"disable-application-cache": true,
		"disk-cache-size":           "0",
		"dns-prefetch-disable":      true,
		"headless":                  "new",
		"profile-directory":         "Profile 2",
		"proxy-server":              "http://127.0.0.1:8080",
	}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("flag %s = %v, want %v", k, f[k], v)
		}
	}
	if _, ok := f["use-mock-keychain"]; ok {
		t.Error("mock keychain would hide stored logins")
	}

	plain := Options{}.Flags()
	if _, ok := plain["headless"]; ok {
		t.Error("headless must be opt-in")
	}
	if _, ok := plain["profile-directory"]; ok {
		t.Error("profile-directory must be omitted when empty")
	}
	if _, ok := plain["proxy-server"]; ok {
		t.Error("proxy-server must be omitted when empty")
	}
}

func TestNewChrome_Defaults(t *testing.T) {
	c := NewChrome(Options{})
	if c.Options().PageLoadTimeout != DefaultPageLoadTimeout {
		t.Errorf("page load timeout = %s", c.Options().PageLoadTimeout)
	}
}

func TestCallExpr(t *testing.T) {
	got, err := CallExpr("function (a, b) { return a; }", "x\"y", []string{"li", "div"})
	if err != nil {
		t.Fatal(err)
	}
	want := `(function (a, b) { return a; })("x\"y", ["li","div"])`
	if got != want {
		t.Errorf("CallExpr() = %s\nwant %s", got, want)
	}

	if _, err := CallExpr("function () {}", make(chan int)); !errors.Is(err, errs.ErrScript) {
		t.Errorf("unencodable argument should fail with ErrScript, got %v", err)
	}
}

func TestPoll(t *testing.T) {
	n := 0
	err := Poll(context.Background(), time.Second, time.Millisecond, func(context.Context) (bool, error) {
		n++
		if n < 3 {
			return false, errors.New("not yet")
		}
		return true, nil
	})
	if err != nil || n != 3 {
		t.Fatalf("Poll() = %v after %d calls", err, n)
	}

	err = Poll(context.Background(), 20*time.Millisecond, 5*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, errs.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Poll(ctx, time.Second, time.Millisecond, func(context.Context) (bool, error) { return false, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitReadyState(t *testing.T) {
	p := pagetest.New()
	states := []string{"loading", "interactive", "complete"}
	p.On(readyStateJS, func([]json.RawMessage) (any, error) {
		s := states[0]
		if len(states) > 1 {
			states = states[1:]
		}
		return s, nil
	})
	if err := WaitReadyState(context.Background(), p, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if p.Calls(readyStateJS) != 3 {
		t.Errorf("readyState polled %d times", p.Calls(readyStateJS))
	}
}

func TestAnchors(t *testing.T) {
	p := pagetest.New().Return(anchorsJS, []Anchor{
		{Href: "https://www.douyu.com/123", Text: "room"},
		{Href: "https://www.douyu.com/g_LOL", Text: "英雄联盟"},
	})
	got, err := Anchors(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Text != "英雄联盟" {
		t.Errorf("Anchors() = %+v", got)
	}
}

func TestClickElement(t *testing.T) {
	p := pagetest.New()
	var gotSelectors []string
	p.On(elementCenterJS, func(args []json.RawMessage) (any, error) {
		gotSelectors = pagetest.Strings(args[0])
		return Point{Found: true, X: 10, Y: 20, Selector: gotSelectors[0]}, nil
	})

	ok, err := ClickElement(context.Background(), p, `[class*="autoPlayImg"]`)
	if err != nil || !ok {
		t.Fatalf("ClickElement() = %v, %v", ok, err)
	}
	if len(p.Clicks) != 1 || p.Clicks[0] != (pagetest.Point{X: 10, Y: 20}) {
		t.Errorf("clicks = %+v", p.Clicks)
	}
	if len(gotSelectors) != 1 || gotSelectors[0] != `[class*="autoPlayImg"]` {
		t.Errorf("selectors = %v", gotSelectors)
	}

	missing := pagetest.New().Return(elementCenterJS, Point{})
	ok, err = Hover(context.Background(), missing, "video")
	if err != nil || ok {
		t.Errorf("Hover() on missing element = %v, %v", ok, err)
	}
	if len(missing.Moves) != 0 {
		t.Error("no mouse movement expected")
	}
}

func TestKeepalive(t *testing.T) {
	p := pagetest.New()
	var args []json.RawMessage
	p.On(startKeepaliveJS, func(a []json.RawMessage) (any, error) {
		args = a
		return true, nil
	})
	p.Return(stopKeepaliveJS, true)

	k := Keepalive{Name: "__huyaKeepAlive", Selectors: []string{".player-videotype-cur"}, Interval: 200 * time.Millisecond}
	if err := k.Start(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if pagetest.String(args[0]) != "__huyaKeepAlive" || string(args[3]) != "200" {
		t.Errorf("keepalive args = %s", args)
	}
	k.Stop(context.Background(), p)
	if p.Calls(stopKeepaliveJS) != 1 {
		t.Error("stop script not evaluated")
	}
}

func TestScrollUntilVideo(t *testing.T) {
	p := pagetest.New()
	visible := 0
	p.On(videoVisibleJS, func([]json.RawMessage) (any, error) {
		visible++
		return visible >= 3, nil
	})
	p.Return(scrollPxJS, 900)

	if !ScrollUntilVideo(context.Background(), p, 5*time.Second, 900) {
		t.Fatal("expected video to appear")
	}
	if p.Calls(scrollPxJS) != 2 {
		t.Errorf("scrolled %d times", p.Calls(scrollPxJS))
	}
}

type fakeLauncher struct {
	errs  []error
	calls int
	onTry func(int)
}

func (f *fakeLauncher) Launch(ctx context.Context) (Browser, error) {
	i := f.calls
	f.calls++
	if f.onTry != nil {
		f.onTry(i)
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return pagetest.New(), nil
}

func fastPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Backoff = time.Millisecond
	p.ProfileWait = 10 * time.Millisecond
	p.PollInterval = time.Millisecond
	return p
}

func TestStartWithRetry_BusyThenOK(t *testing.T) {
	dir := t.TempDir()
	busy := errors.New("user data directory is already in use")
	lock := filepath.Join(dir, "SingletonLock")

	var lockSeen []bool
	l := &fakeLauncher{errs: []error{busy, busy, nil}}
	l.onTry = func(i int) {
		_, err := os.Lstat(lock)
		lockSeen = append(lockSeen, err == nil)
		// A crashed browser leaves its lock behind.
		os.WriteFile(lock, nil, 0o644)
	}

	b, err := StartWithRetry(context.Background(), l, dir, fastPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || l.calls != 3 {
		t.Fatalf("expected success on third launch, calls=%d", l.calls)
	}
	// Locks survive the first failure and are cleaned after the second.
	if want := []bool{false, true, false}; len(lockSeen) != 3 || lockSeen[1] != want[1] || lockSeen[2] != want[2] {
		t.Errorf("lock present at launch = %v, want %v", lockSeen, want)
	}
}

func TestStartWithRetry_ExistingBrowserSession(t *testing.T) {
	// Output of a chromedp launch whose profile is held by a running Chrome.
	handoff := fmt.Errorf("%w: chrome failed to start:\nOpening in existing browser session.\n", errs.ErrBrowserStart)
	l := &fakeLauncher{errs: []error{handoff, handoff, nil}}

	b, err := StartWithRetry(context.Background(), l, t.TempDir(), fastPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || l.calls != 3 {
		t.Errorf("expected success on third launch, calls=%d", l.calls)
	}
}

func TestStartWithRetry_StartFailureWhileLocked(t *testing.T) {
	exited := fmt.Errorf("%w: chrome failed to start:\n", errs.ErrBrowserStart)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "SingletonLock"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	l := &fakeLauncher{errs: []error{exited, exited, nil}}
	if _, err := StartWithRetry(context.Background(), l, dir, fastPolicy()); err != nil {
		t.Fatalf("locked profile should be retried: %v", err)
	}
	if l.calls != 3 {
		t.Errorf("launch attempts = %d, want 3", l.calls)
	}

	unlocked := &fakeLauncher{errs: []error{exited}}
	if _, err := StartWithRetry(context.Background(), unlocked, t.TempDir(), fastPolicy()); !errors.Is(err, errs.ErrBrowserStart) {
		t.Fatalf("expected ErrBrowserStart, got %v", err)
	}
	if unlocked.calls != 1 {
		t.Errorf("start failure without locks must not be retried, calls=%d", unlocked.calls)
	}
}

func TestStartWithRetry_Exhausted(t *testing.T) {
	busy := errors.New("The profile appears to be in use by another Chrome process")
	l := &fakeLauncher{errs: []error{busy, busy, busy, busy, busy}}

	_, err := StartWithRetry(context.Background(), l, "", fastPolicy())
	if !errors.Is(err, errs.ErrProfileBusy) {
		t.Fatalf("expected ErrProfileBusy, got %v", err)
	}
	if l.calls != 4 {
		t.Errorf("launch attempts = %d, want 4", l.calls)
	}
}

func TestStartWithRetry_OtherError(t *testing.T) {
	boom := errors.New("exec: \"google-chrome\": executable file not found in $PATH")
	l := &fakeLauncher{errs: []error{boom}}

	_, err := StartWithRetry(context.Background(), l, "", fastPolicy())
	if !errors.Is(err, boom) {
		t.Fatalf("expected launch error, got %v", err)
	}
	if l.calls != 1 {
		t.Errorf("non-busy errors must not be retried, calls=%d", l.calls)
	}
}

func TestStartWithRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := &fakeLauncher{}
	if _, err := StartWithRetry(ctx, l, "", fastPolicy()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if l.calls != 0 {
		t.Error("no launch after cancellation")
	}
}
