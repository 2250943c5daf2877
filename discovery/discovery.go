// Package discovery finds the rooms of a category and the categories of a
// site. Listing pages are fetched over plain HTTP first; a browser is only
// opened when that comes up short.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ytget/livecap/browser"
	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/internal/logger"
	"github.com/ytget/livecap/sites"
	"github.com/ytget/livecap/types"
)

var log = logger.WithComponent(logger.ComponentDiscovery)

// DefaultReadyTimeout bounds the wait for a listing page to load.
const DefaultReadyTimeout = 20 * time.Second

// Mode selects how listing pages are read.
type Mode string

const (
	// ModeAuto tries HTTP and tops up from the browser.
	ModeAuto Mode = "auto"
	// ModeHTTP never opens a browser.
	ModeHTTP Mode = "http"
	// ModeBrowser skips the HTTP fetch.
	ModeBrowser Mode = "browser"
)

// ParseMode parses a mode name; empty means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeHTTP, ModeBrowser:
		return m, nil
	}
	return "", fmt.Errorf("unknown discovery mode %q (want auto, http or browser)", s)
}

// Fetcher returns the decoded body of a page. *client.Client implements it.
type Fetcher interface {
	GetBody(ctx context.Context, url string) ([]byte, error)
}

// PageFunc opens a browser page when discovery needs one.
type PageFunc func(ctx context.Context) (browser.Page, error)

// Finder discovers rooms and categories for one site.
type Finder struct {
	site  sites.Site
	fetch Fetcher
	mode  Mode
	ready time.Duration
}

// New returns a Finder in ModeAuto. fetch may be nil, which disables the
// HTTP path.
func New(site sites.Site, fetch Fetcher) *Finder {
	return &Finder{site: site, fetch: fetch, mode: ModeAuto, ready: DefaultReadyTimeout}
}

// WithMode sets the discovery mode.
func (f *Finder) WithMode(m Mode) *Finder {
	f.mode = m
	return f
}

// WithReadyTimeout sets how long to wait for a listing page to load.
func (f *Finder) WithReadyTimeout(d time.Duration) *Finder {
	f.ready = d
	return f
}

// Mode returns the configured mode.
func (f *Finder) Mode() Mode { return f.mode }

// Rooms returns up to limit room URLs of the category in page order.
// limit <= 0 means no limit.
func (f *Finder) Rooms(ctx context.Context, open PageFunc, categoryURL string, limit int) ([]string, error) {
	var rooms []string
	useHTTP := f.mode != ModeBrowser && f.fetch != nil
	if useHTTP {
		r, err := f.RoomsHTTP(ctx, categoryURL, limit)
		switch {
		case err != nil && f.mode == ModeHTTP:
			return nil, err
		case err != nil:
			log.Warn("http discovery failed, using browser", logger.Fields{"url": categoryURL, "err": err})
		default:
			log.Debug("http discovery", logger.Fields{"url": categoryURL, "rooms": len(r)})
		}
		rooms = r
		if f.mode == ModeHTTP || full(rooms, limit) {
			return f.done(rooms, categoryURL)
		}
	}
	if open == nil {
		return f.done(rooms, categoryURL)
	}
	p, err := open(ctx)
	if err != nil {
		if len(rooms) > 0 {
			log.Warn("browser unavailable, keeping http rooms", logger.Fields{"rooms": len(rooms), "err": err})
			return rooms, nil
		}
		return nil, err
	}
	found, err := f.RoomsBrowser(ctx, p, categoryURL, limit)
	rooms = merge(limit, rooms, found)
	if err != nil && len(rooms) == 0 {
		return nil, err
	}
	return f.done(rooms, categoryURL)
}

func (f *Finder) done(rooms []string, categoryURL string) ([]string, error) {
	if len(rooms) == 0 {
		return nil, fmt.Errorf("%w: %s", errs.ErrNoRooms, categoryURL)
	}
	return rooms, nil
}

// RoomsHTTP reads room links from the raw category page.
func (f *Finder) RoomsHTTP(ctx context.Context, categoryURL string, limit int) ([]string, error) {
	if f.fetch == nil {
		return nil, errors.New("no http fetcher")
	}
	body, err := f.fetch.GetBody(ctx, categoryURL)
	if err != nil {
		return nil, err
	}
	var found []string
	for _, a := range ExtractAnchors(body, categoryURL) {
		if room, ok := f.site.NormalizeRoomURL(a.Href); ok {
			found = append(found, room)
		}
	}
	return merge(limit, nil, found), nil
}

// RoomsBrowser loads the category page and collects room links while
// scrolling, since listings load more rooms as they scroll.
func (f *Finder) RoomsBrowser(ctx context.Context, p browser.Page, categoryURL string, limit int) ([]string, error) {
	if err := f.load(ctx, p, categoryURL); err != nil {
		return nil, err
	}
	t := f.site.Timing()
	rounds := t.ScrollRounds
	if rounds <= 0 {
		rounds = 1
	}
	var rooms []string
	for i := 0; i < rounds; i++ {
		anchors, err := browser.Anchors(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return rooms, ctx.Err()
			}
			log.Debug("reading anchors failed", logger.Fields{"round": i + 1, "err": err})
		}
		var found []string
		for _, a := range anchors {
			if room, ok := f.site.NormalizeRoomURL(a.Href); ok {
				found = append(found, room)
			}
		}
		rooms = merge(limit, rooms, found)
		if full(rooms, limit) {
			break
		}
		if err := browser.ScrollBy(ctx, p, 0.9); err != nil && ctx.Err() == nil {
			log.Debug("scroll failed", logger.Fields{"err": err})
		}
		if err := browser.Sleep(ctx, t.ScrollPause); err != nil {
			return rooms, err
		}
	}
	return rooms, nil
}

// Categories lists the categories linked from the site home. An empty
// result is not an error; callers fall back to the built-in table.
func (f *Finder) Categories(ctx context.Context, open PageFunc) ([]types.Category, error) {
	home := f.site.Home()
	if f.mode != ModeBrowser && f.fetch != nil {
		body, err := f.fetch.GetBody(ctx, home)
		if err == nil {
			cats := f.site.CategoriesFrom(ExtractAnchors(body, home))
			if len(cats) > 0 || f.mode == ModeHTTP {
				return cats, nil
			}
		} else if f.mode == ModeHTTP {
			return nil, err
		} else {
			log.Warn("http category fetch failed", logger.Fields{"url": home, "err": err})
		}
	}
	if open == nil {
		return nil, nil
	}
	p, err := open(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.load(ctx, p, home); err != nil {
		return nil, err
	}
	anchors, err := browser.Anchors(ctx, p)
	if err != nil {
		return nil, err
	}
	return f.site.CategoriesFrom(anchors), nil
}

// load navigates to url, waits for it to finish loading and settles. A
// slow page is logged and used as far as it got.
func (f *Finder) load(ctx context.Context, p browser.Page, url string) error {
	if err := p.Navigate(ctx, url); err != nil {
		if ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("open %s: %w", url, err)
		}
		log.Warn("page load timed out, continuing", logger.Fields{"url": url})
	}
	if err := browser.WaitReadyState(ctx, p, f.ready); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("page not complete", logger.Fields{"url": url, "err": err})
	}
	return browser.Sleep(ctx, f.site.Timing().ListSettle)
}

func full(rooms []string, limit int) bool {
	return limit > 0 && len(rooms) >= limit
}

// merge appends the unseen entries of each list to dst, stopping at limit.
func merge(limit int, dst []string, lists ...[]string) []string {
	seen := make(map[string]bool, len(dst))
	for _, r := range dst {
		seen[r] = true
	}
	for _, l := range lists {
		for _, r := range l {
			if full(dst, limit) {
				return dst
			}
			if seen[r] {
				continue
			}
			seen[r] = true
			dst = append(dst, r)
		}
	}
	return dst
}
