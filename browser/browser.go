// Package browser drives Chrome over the DevTools protocol.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/internal/logger"
)

// DefaultPageLoadTimeout bounds a single navigation.
const DefaultPageLoadTimeout = 60 * time.Second

var log = logger.WithComponent(logger.ComponentBrowser)

// Page is the part of a browser tab the site logic needs.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Evaluate runs expr and stores its JSON result in out. A nil out
	// discards the result.
	Evaluate(ctx context.Context, expr string, out any) error
	// MouseMove and Click dispatch trusted mouse events at viewport
	// coordinates.
	MouseMove(ctx context.Context, x, y float64) error
	Click(ctx context.Context, x, y float64) error
}

// Browser is a Page that owns a browser process.
type Browser interface {
	Page
	// Close quits the browser and waits for the process to exit.
	Close() error
}

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Options configures a Chrome launch.
type Options struct {
	ExecPath        string
	UserDataDir     string
	ProfileDir      string
	Headless        bool
	Proxy           string
	PageLoadTimeout time.Duration
}

// Flags returns the Chrome command line switches for o, without the
// user data directory, which chromedp passes itself.
func (o Options) Flags() map[string]any {
	flags := map[string]any{
		"no-first-run":              true,
		"no-default-browser-check":  true,
		"start-maximized":           true,
		"no-sandbox":                true,
		"disable-application-cache": true,
		"disk-cache-size":           "0",
		"dns-prefetch-disable":      true,
		"autoplay-policy":           "no-user-gesture-required",
	}
	if o.Headless {
		flags["headless"] = "new"
	}
	if o.ProfileDir != "" {
		flags["profile-directory"] = o.ProfileDir
	}
	if o.Proxy != "" {
		flags["proxy-server"] = o.Proxy
	}
	return flags
}

// Chrome launches local Chrome processes.
type Chrome struct {
	opts Options
}

// NewChrome returns a Launcher for opts.
func NewChrome(opts Options) *Chrome {
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = DefaultPageLoadTimeout
	}
	return &Chrome{opts: opts}
}

// Options returns the launch options.
func (c *Chrome) Options() Options { return c.opts }

// Launch starts Chrome and opens one tab. Chrome's own output is included
// in the error so that a busy profile can be recognised.
func (c *Chrome) Launch(ctx context.Context) (Browser, error) {
	// chromedp's defaults include switches such as use-mock-keychain that
	// would break the logins stored in a reused profile, so start empty.
	var opts []chromedp.ExecAllocatorOption
	for name, value := range c.opts.Flags() {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}
	if c.opts.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(c.opts.UserDataDir))
	}
	output := &syncBuffer{}
	opts = append(opts, chromedp.CombinedOutput(output))

	// The browser must outlive ctx so that teardown can still quit it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			log.Trace(fmt.Sprintf(format, args...))
		}),
	)

	s := &Session{
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      cancel,
		loadTimeout: c.opts.PageLoadTimeout,
	}
	// An empty Run starts the process and attaches to the first tab. The
	// process lives on tabCtx, so startup is bounded by tearing the
	// allocator down instead of by a derived timeout context.
	if err := c.start(ctx, tabCtx, allocCancel); err != nil {
		cancel()
		allocCancel()
		if out := strings.TrimSpace(output.String()); out != "" {
			return nil, fmt.Errorf("%w: %v: %s", errs.ErrBrowserStart, err, out)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrBrowserStart, err)
	}
	log.Info("browser started", logger.Fields{"user_data_dir": c.opts.UserDataDir, "headless": c.opts.Headless})
	return s, nil
}

func (c *Chrome) start(ctx, tabCtx context.Context, abort context.CancelFunc) error {
	timer := time.AfterFunc(c.opts.PageLoadTimeout, abort)
	stop := context.AfterFunc(ctx, abort)
	err := chromedp.Run(tabCtx)
	timerStopped := timer.Stop()
	ctxStopped := stop()
	switch {
	case !ctxStopped:
		return ctx.Err()
	case !timerStopped:
		return fmt.Errorf("no devtools session after %s", c.opts.PageLoadTimeout)
	}
	return err
}

// Session is one running Chrome with a single tab.
type Session struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	loadTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// run executes actions on the tab. They are aborted when ctx is done or
// timeout elapses, without affecting the browser itself.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx := s.ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate implements Page.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, s.loadTimeout, chromedp.Navigate(url))
}

// Evaluate implements Page.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	return s.run(ctx, 0, chromedp.Evaluate(expr, out))
}

// MouseMove implements Page.
func (s *Session) MouseMove(ctx context.Context, x, y float64) error {
	return s.run(ctx, 0, chromedp.MouseEvent(input.MouseMoved, x, y))
}

// Click implements Page.
func (s *Session) Click(ctx context.Context, x, y float64) error {
	return s.run(ctx, 0,
		chromedp.MouseEvent(input.MouseMoved, x, y),
		chromedp.MouseClickXY(x, y),
	)
}

// Close implements Browser. It asks Chrome to quit and then waits for the
// process to exit, at which point the profile locks are released.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = chromedp.Cancel(s.ctx)
		s.cancel()
		s.allocCancel()
		log.Info("browser closed")
	})
	return s.closeErr
}

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() > 16<<10 {
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
