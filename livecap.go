package livecap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/livecap/browser"
	"github.com/ytget/livecap/capture"
	"github.com/ytget/livecap/client"
	"github.com/ytget/livecap/config"
	"github.com/ytget/livecap/discovery"
	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/internal/logger"
	"github.com/ytget/livecap/internal/sanitize"
	"github.com/ytget/livecap/profile"
	"github.com/ytget/livecap/sites"
	"github.com/ytget/livecap/types"
)

// SessionIDPrefix starts every session ID.
const SessionIDPrefix = "cap_"

var log = logger.WithComponent(logger.ComponentApp)

// Observer is told about the progress of a run. Calls come from the
// goroutine running the Capturer.
type Observer interface {
	RoundStarted(round int, site string, cat types.Category)
	RoomsFound(rooms []types.Room)
	SessionStarted(sessionID string, room types.Room)
	SessionFinished(res types.SessionResult)
	RoundFinished(round int, err error)
}

type nopObserver struct{}

func (nopObserver) RoundStarted(int, string, types.Category) {}
func (nopObserver) RoomsFound([]types.Room)                  {}
func (nopObserver) SessionStarted(string, types.Room)        {}
func (nopObserver) SessionFinished(types.SessionResult)      {}
func (nopObserver) RoundFinished(int, error)                 {}

// Capturer runs capture rounds for one site.
//
// Use chainable setters to replace the collaborators built from the
// configuration.
type Capturer struct {
	cfg         config.Config
	site        sites.Site
	userDataDir string
	recorder    capture.Recorder
	launcher    browser.Launcher
	finder      *discovery.Finder
	observer    Observer
	retry       browser.RetryPolicy
	rooms       []string
	newID       func() string
}

// New returns a Capturer for site that records with tshark, browses with
// Chrome and discovers rooms over HTTP first, all configured from cfg.
func New(cfg config.Config, site sites.Site) *Capturer {
	userDataDir := profile.ParseUserDataArg(cfg.UserDataDir)

	tshark := capture.NewTshark(cfg.Interface).WithBinary(cfg.Tshark)
	if cfg.CaptureKill > 0 {
		tshark.KillWait = cfg.CaptureKill.Std()
	}

	mode, err := discovery.ParseMode(cfg.Discovery)
	if err != nil {
		log.Warn("bad discovery mode, using auto", logger.Fields{"mode": cfg.Discovery})
		mode = discovery.ModeAuto
	}
	httpc := client.NewWith(client.Config{Timeout: cfg.HTTPTimeout.Std(), ProxyURL: cfg.Proxy})
	finder := discovery.New(site, httpc).WithMode(mode)
	if cfg.PageLoadTimeout > 0 {
		finder.WithReadyTimeout(cfg.PageLoadTimeout.Std())
	}

	retry := browser.DefaultRetryPolicy()
	if cfg.Retries > 0 {
		retry.Attempts = cfg.Retries
	}
	if cfg.Backoff > 0 {
		retry.Backoff = cfg.Backoff.Std()
	}
	if cfg.ProfileWait > 0 {
		retry.ProfileWait = cfg.ProfileWait.Std()
	}
	if cfg.PollInterval > 0 {
		retry.PollInterval = cfg.PollInterval.Std()
	}

	return &Capturer{
		cfg:         cfg,
		site:        site,
		userDataDir: userDataDir,
		recorder:    tshark,
		launcher: browser.NewChrome(browser.Options{
			ExecPath:        cfg.ChromePath,
			UserDataDir:     userDataDir,
			ProfileDir:      cfg.ProfileDir,
			Headless:        cfg.Headless,
			Proxy:           cfg.Proxy,
			PageLoadTimeout: cfg.PageLoadTimeout.Std(),
		}),
		finder:   finder,
		observer: nopObserver{},
		retry:    retry,
		newID:    newSessionID,
	}
}

// WithRecorder replaces the packet recorder.
func (c *Capturer) WithRecorder(r capture.Recorder) *Capturer {
	c.recorder = r
	return c
}

// WithLauncher replaces the browser launcher.
func (c *Capturer) WithLauncher(l browser.Launcher) *Capturer {
	c.launcher = l
	return c
}

// WithFinder replaces room discovery.
func (c *Capturer) WithFinder(f *discovery.Finder) *Capturer {
	c.finder = f
	return c
}

// WithObserver registers o for progress events. Nil removes it.
func (c *Capturer) WithObserver(o Observer) *Capturer {
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
	return c
}

// WithRetryPolicy replaces the browser start policy.
func (c *Capturer) WithRetryPolicy(p browser.RetryPolicy) *Capturer {
	c.retry = p
	return c
}

// WithRooms fixes the rooms to capture, skipping discovery. Use ParseRooms
// to check them first.
func (c *Capturer) WithRooms(urls []string) *Capturer {
	c.rooms = urls
	return c
}

// ParseRooms canonicalizes room URLs of site. A bare room number is
// accepted where the site allows it.
func ParseRooms(site sites.Site, urls []string) ([]string, error) {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		room, ok := site.NormalizeRoomURL(u)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a %s room", errs.ErrInvalidRoomURL, u, site.Name())
		}
		out = append(out, room)
	}
	return out, nil
}

// Site returns the site being captured.
func (c *Capturer) Site() sites.Site { return c.site }

// Finder returns the room discovery in use.
func (c *Capturer) Finder() *discovery.Finder { return c.finder }

// qualities returns the configured preference order, or the site default.
func (c *Capturer) qualities() []string {
	if len(c.cfg.Qualities) > 0 {
		return c.cfg.Qualities
	}
	return c.site.DefaultQualities()
}

// Run captures cat round after round until the configured number of rounds
// is done or ctx is cancelled. Zero rounds means no limit. A failed round
// is logged and the next one starts after the round pause.
func (c *Capturer) Run(ctx context.Context, cat types.Category) error {
	for round := 1; c.cfg.Rounds <= 0 || round <= c.cfg.Rounds; round++ {
		log.Info("round started", logger.Fields{"round": round, "site": c.site.Name(), "category": cat.FileLabel()})
		results, err := c.RunRound(ctx, round, cat)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Error("round failed", logger.Fields{"round": round, "err": err})
		} else {
			log.Info("round finished", logger.Fields{"round": round, "sessions": len(results), "failed": failed(results)})
		}
		if round == c.cfg.Rounds {
			break
		}
		if err := browser.Sleep(ctx, c.cfg.RoundPause.Std()); err != nil {
			return err
		}
	}
	return nil
}

// RunRound discovers the rooms of cat and captures each of them in turn.
// A failed room is logged and the next one starts after the room pause.
func (c *Capturer) RunRound(ctx context.Context, round int, cat types.Category) ([]types.SessionResult, error) {
	c.observer.RoundStarted(round, c.site.Name(), cat)

	rooms, err := c.Discover(ctx, cat)
	if err != nil {
		c.observer.RoundFinished(round, err)
		return nil, err
	}
	c.observer.RoomsFound(rooms)
	log.Info("rooms found", logger.Fields{"category": cat.FileLabel(), "rooms": len(rooms)})

	results := make([]types.SessionResult, 0, len(rooms))
	for _, room := range rooms {
		if err := ctx.Err(); err != nil {
			break
		}
		log.Info("session started", logger.Fields{"room": room.URL, "index": room.Index, "of": len(rooms)})
		res := c.CaptureRoom(ctx, room)
		results = append(results, res)
		if res.Err == nil {
			continue
		}
		log.Error("session failed, skipping room", logger.Fields{"room": room.URL, "err": res.Err})
		if err := browser.Sleep(ctx, c.cfg.RoomPause.Std()); err != nil {
			break
		}
	}
	c.observer.RoundFinished(round, ctx.Err())
	return results, ctx.Err()
}

// Discover lists up to the configured number of rooms in cat. A listing
// browser is only opened when needed, and it is quit and its profile
// released before Discover returns.
func (c *Capturer) Discover(ctx context.Context, cat types.Category) ([]types.Room, error) {
	if len(c.rooms) > 0 {
		return roomsOf(c.rooms, cat), nil
	}
	var listing browser.Browser
	open := func(ctx context.Context) (browser.Page, error) {
		if listing != nil {
			return listing, nil
		}
		b, err := browser.StartWithRetry(ctx, c.launcher, c.userDataDir, c.retry)
		if err != nil {
			return nil, err
		}
		listing = b
		return b, nil
	}
	defer func() {
		if listing == nil {
			return
		}
		c.closeBrowser(ctx, listing)
	}()

	urls, err := c.finder.Rooms(ctx, open, cat.URL, c.cfg.Rooms)
	if err != nil {
		return nil, err
	}
	return roomsOf(urls, cat), nil
}

func roomsOf(urls []string, cat types.Category) []types.Room {
	rooms := make([]types.Room, len(urls))
	for i, u := range urls {
		rooms[i] = types.Room{URL: u, Category: cat, Index: i + 1}
	}
	return rooms
}

// Categories lists the categories of the site, opening a browser only if
// the home page cannot be read over HTTP.
func (c *Capturer) Categories(ctx context.Context) ([]types.Category, error) {
	var b browser.Browser
	open := func(ctx context.Context) (browser.Page, error) {
		var err error
		b, err = browser.StartWithRetry(ctx, c.launcher, c.userDataDir, c.retry)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	defer func() {
		if b != nil {
			c.closeBrowser(ctx, b)
		}
	}()
	return c.finder.Categories(ctx, open)
}

// CaptureRoom runs one capture session. Teardown always runs in the same
// order: quit the browser, wait for the profile lock, stop tshark, then
// rename the capture after the picked quality.
func (c *Capturer) CaptureRoom(ctx context.Context, room types.Room) (res types.SessionResult) {
	res = types.SessionResult{
		SessionID: c.newID(),
		Room:      room,
		StartedAt: time.Now(),
	}
	c.observer.SessionStarted(res.SessionID, room)
	defer func() {
		res.FinishedAt = time.Now()
		c.observer.SessionFinished(res)
	}()

	if err := os.MkdirAll(c.cfg.OutDir, 0o755); err != nil {
		res.Err = fmt.Errorf("create output dir: %w", err)
		return res
	}
	ts := sanitize.Timestamp(res.StartedAt)
	label := room.Category.FileLabel()
	res.PendingPath = filepath.Join(c.cfg.OutDir, sanitize.PendingCaptureName(label, ts))

	rec, err := c.recorder.Start(ctx, res.PendingPath, c.cfg.CaptureDuration())
	if err != nil {
		res.Err = err
		return res
	}
	log.Info("capture started", logger.Fields{"session": res.SessionID, "file": filepath.Base(res.PendingPath)})

	var b browser.Browser
	defer func() {
		if b != nil {
			c.closeBrowser(ctx, b)
		}
		grace := c.cfg.CaptureGrace.Std()
		if ctx.Err() != nil {
			grace = 0
		}
		if err := rec.Finish(grace); err != nil {
			log.Warn("capture did not finish cleanly", logger.Fields{"session": res.SessionID, "err": err})
			res.Err = errors.Join(res.Err, err)
		}
		quality := res.Quality
		if quality == "" {
			quality = sanitize.DefaultLabel
		}
		final := filepath.Join(c.cfg.OutDir, sanitize.FinalCaptureName(label, quality, ts))
		path, err := capture.Finalize(res.PendingPath, final)
		if err != nil {
			log.Warn("rename failed, keeping pending file", logger.Fields{"file": path, "err": err})
			res.Err = errors.Join(res.Err, err)
		}
		res.CapturePath = path
		log.Info("capture saved", logger.Fields{"session": res.SessionID, "file": path})
	}()

	b, err = browser.StartWithRetry(ctx, c.launcher, c.userDataDir, c.retry)
	if err != nil {
		res.Err = err
		return res
	}
	res.Quality, res.Err = c.visit(ctx, b, room.URL)
	return res
}

// visit opens the room, selects the quality and dwells. It returns the
// quality that took effect, "" when none did.
func (c *Capturer) visit(ctx context.Context, p browser.Page, roomURL string) (string, error) {
	t := c.site.Timing()
	if err := p.Navigate(ctx, roomURL); err != nil {
		if ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("open room: %w", err)
		}
		log.Warn("room load timed out, continuing", logger.Fields{"room": roomURL})
	}
	if err := browser.Sleep(ctx, t.Settle); err != nil {
		return "", err
	}
	if err := c.site.Prepare(ctx, p); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn("prepare failed", logger.Fields{"room": roomURL, "err": err})
	}

	picked, err := c.site.SelectQuality(ctx, p, c.qualities())
	switch {
	case ctx.Err() != nil:
		return picked, ctx.Err()
	case err != nil:
		log.Warn("quality selection failed", logger.Fields{"room": roomURL, "err": err})
	case picked == "":
		log.Warn("no preferred quality available", logger.Fields{"room": roomURL})
	default:
		log.Info("quality selected", logger.Fields{"room": roomURL, "quality": picked})
	}

	log.Info("dwelling", logger.Fields{"room": roomURL, "dwell": c.cfg.Dwell.String()})
	return picked, c.dwell(ctx, p, t.Tick)
}

// dwell stays on the page for the dwell period, running the site tick.
func (c *Capturer) dwell(ctx context.Context, p browser.Page, tick time.Duration) error {
	if tick <= 0 {
		tick = time.Second
	}
	end := time.Now().Add(c.cfg.Dwell.Std())
	for {
		if err := c.site.Tick(ctx, p); err != nil && ctx.Err() == nil {
			log.Debug("dwell tick failed", logger.Fields{"err": err})
		}
		left := time.Until(end)
		if left <= 0 {
			return nil
		}
		if err := browser.Sleep(ctx, min(tick, left)); err != nil {
			return err
		}
	}
}

// closeBrowser quits b and waits for its profile lock to go away. A lock
// that outlives the wait is left to the next StartWithRetry.
func (c *Capturer) closeBrowser(ctx context.Context, b browser.Browser) {
	if err := b.Close(); err != nil {
		log.Warn("browser close failed", logger.Fields{"err": err})
	}
	wait := c.cfg.ReleaseWait.Std()
	if !profile.WaitReleased(context.WithoutCancel(ctx), c.userDataDir, wait, c.retry.PollInterval) {
		log.Warn("profile lock not released", logger.Fields{"dir": c.userDataDir, "wait": wait.String()})
	}
}

func failed(results []types.SessionResult) int {
	n := 0
	for _, r := range results {
		if !r.OK() {
			n++
		}
	}
	return n
}

// newSessionID returns a time ordered session ID.
func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf(SessionIDPrefix+"%d", time.Now().UnixNano())
	}
	return SessionIDPrefix + id.String()
}
