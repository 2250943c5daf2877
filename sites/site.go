// Package sites holds the per-site knowledge needed to capture a live room:
// room URL rules, category tables and the player quality menu.
package sites

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ytget/livecap/browser"
	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/internal/logger"
	"github.com/ytget/livecap/types"
)

var log = logger.WithComponent(logger.ComponentSite)

// ManualLabel labels a category URL that is not in the site table.
const ManualLabel = "manual"

// Timing holds the waits a site uses while driving a page.
type Timing struct {
	Settle       time.Duration // after navigating to a room
	ListSettle   time.Duration // after a listing page reports complete
	ScrollRounds int           // listing scroll rounds during room discovery
	ScrollPause  time.Duration
	Tick         time.Duration // dwell tick interval
	Open         time.Duration // quality menu open timeout
	Verify       time.Duration // quality change confirm timeout
	Poll         time.Duration
	Video        time.Duration // scroll-until-video timeout, zero disables
	Guard        time.Duration // autoplay guard length, zero disables
	GuardEvery   time.Duration
	ClickPause   time.Duration
	Keepalive    time.Duration
}

// Site is one streaming site.
type Site interface {
	Name() string
	// Home is the page category links are collected from.
	Home() string
	Timing() Timing
	DefaultQualities() []string
	// NormalizeRoomURL returns the canonical room URL for href, or false
	// when href is not a room page.
	NormalizeRoomURL(href string) (string, bool)
	// Categories is the built-in category table.
	Categories() []types.Category
	// CategoryLabel returns the file label for a category URL, or "" when
	// the URL is not in the table.
	CategoryLabel(categoryURL string) string
	// CategoriesFrom picks category links out of the anchors of Home.
	CategoriesFrom(anchors []browser.Anchor) []types.Category
	// Prepare runs after the room page settled and before quality selection.
	Prepare(ctx context.Context, p browser.Page) error
	// SelectQuality tries the preferred labels in order and returns the
	// one that took effect, or "" when none did.
	SelectQuality(ctx context.Context, p browser.Page, preferred []string) (string, error)
	// Tick is called repeatedly while dwelling on a room.
	Tick(ctx context.Context, p browser.Page) error
	// Scripts returns the page scripts the site injects, keyed by name.
	Scripts() map[string]string
}

// Resolve turns a category selector into a category. sel may be a 1-based
// index into list (the built-in table when list is empty), a category name,
// label or key, or a URL.
func Resolve(s Site, sel string, list []types.Category) (types.Category, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return types.Category{}, fmt.Errorf("%w: empty selector", errs.ErrUnknownCategory)
	}
	if len(list) == 0 {
		list = s.Categories()
	}
	if n, err := strconv.Atoi(sel); err == nil {
		if n < 1 || n > len(list) {
			return types.Category{}, fmt.Errorf("%w: index %d out of 1..%d", errs.ErrUnknownCategory, n, len(list))
		}
		return list[n-1], nil
	}
	if strings.HasPrefix(sel, "http://") || strings.HasPrefix(sel, "https://") {
		for _, c := range list {
			if c.URL == sel {
				return c, nil
			}
		}
		label := s.CategoryLabel(sel)
		if label == "" {
			label = ManualLabel
		}
		return types.Category{URL: sel, Name: label, Label: label}, nil
	}
	all := append(append([]types.Category{}, list...), s.Categories()...)
	for _, c := range all {
		if strings.EqualFold(c.Name, sel) || strings.EqualFold(c.Label, sel) || strings.EqualFold(lastSegment(c.URL), sel) {
			return c, nil
		}
	}
	return types.Category{}, fmt.Errorf("%w: %q on %s", errs.ErrUnknownCategory, sel, s.Name())
}

// collectCategories keeps anchors with short non-empty text whose href
// passes match, first occurrence wins.
func collectCategories(anchors []browser.Anchor, maxRunes int, match func(href string) bool, clean func(href string) string) []types.Category {
	seen := map[string]bool{}
	var out []types.Category
	for _, a := range anchors {
		href := strings.TrimSpace(a.Href)
		text := strings.TrimSpace(a.Text)
		if href == "" || text == "" || !match(href) {
			continue
		}
		if utf8.RuneCountInString(text) > maxRunes {
			continue
		}
		if clean != nil {
			href = clean(href)
		}
		if seen[href] {
			continue
		}
		seen[href] = true
		out = append(out, types.Category{URL: href, Name: text})
	}
	return out
}

func lastSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.Trim(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// absolute resolves protocol-relative and root-relative hrefs against
// origin, which has no trailing slash.
func absolute(href, origin string) string {
	switch {
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/"):
		return origin + href
	}
	return href
}

func stripQuery(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		return href[:i]
	}
	return href
}

// quality drives a hover menu: open it, click an entry, then confirm the
// player label changed. Each preferred label gets attempts tries.
type quality struct {
	keepalive browser.Keepalive
	attempts  int
	timing    Timing
	// before runs at the start of every attempt.
	before func(ctx context.Context, p browser.Page)
	open   func(ctx context.Context, p browser.Page) (bool, error)
	click  func(ctx context.Context, p browser.Page, want string) (bool, error)
	// current reads the label the player shows.
	current func(ctx context.Context, p browser.Page) (string, error)
	// normalize is applied to both sides before comparing.
	normalize func(string) string
	// reportCurrent returns the player label instead of the preference.
	reportCurrent bool
}

func (q quality) pick(ctx context.Context, p browser.Page, site string, preferred []string) (string, error) {
	if err := q.keepalive.Start(ctx, p); err != nil {
		log.Debug("keepalive not installed", logger.Fields{"site": site, "err": err})
	}
	defer q.keepalive.Stop(context.WithoutCancel(ctx), p)

	attempts := q.attempts
	if attempts <= 0 {
		attempts = 2
	}
	for _, want := range preferred {
		for i := 0; i < attempts; i++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			if q.before != nil {
				q.before(ctx, p)
			}
			opened, err := q.open(ctx, p)
			if err != nil || !opened {
				log.Trace("quality menu not open", logger.Fields{"site": site, "want": want, "attempt": i + 1, "err": err})
				continue
			}
			clicked, err := q.click(ctx, p, want)
			if err != nil || !clicked {
				log.Trace("quality entry not clicked", logger.Fields{"site": site, "want": want, "attempt": i + 1, "err": err})
				continue
			}
			got, ok := q.confirm(ctx, p, want)
			if !ok {
				continue
			}
			if q.reportCurrent && got != "" {
				return got, nil
			}
			return want, nil
		}
	}
	return "", ctx.Err()
}

func (q quality) confirm(ctx context.Context, p browser.Page, want string) (string, bool) {
	norm := q.normalize
	if norm == nil {
		norm = strings.TrimSpace
	}
	var last string
	err := browser.Poll(ctx, q.timing.Verify, q.timing.Poll, func(ctx context.Context) (bool, error) {
		cur, err := q.current(ctx, p)
		if err != nil {
			return false, err
		}
		last = strings.TrimSpace(cur)
		return strings.Contains(norm(cur), norm(want)), nil
	})
	return last, err == nil
}

// panelOpen polls a boolean script until it reports true.
func panelOpen(ctx context.Context, p browser.Page, t Timing, script string, args ...any) (bool, error) {
	err := browser.Poll(ctx, t.Open, t.Poll, func(ctx context.Context) (bool, error) {
		var ok bool
		err := browser.Call(ctx, p, script, &ok, args...)
		return ok, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

// dwellTick is the default Tick.
func dwellTick(context.Context, browser.Page) error { return nil }

// scrollToVideo brings a lazily mounted player into view.
func scrollToVideo(ctx context.Context, p browser.Page, site string, t Timing) error {
	if t.Video <= 0 {
		return nil
	}
	if !browser.ScrollUntilVideo(ctx, p, t.Video, 900) {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Warn("no video after scrolling", logger.Fields{"site": site, "timeout": t.Video.String()})
	}
	return nil
}

func mergeScripts(ms ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
