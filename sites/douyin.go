package sites

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/ytget/livecap/browser"
	"github.com/ytget/livecap/internal/logger"
	"github.com/ytget/livecap/types"
)

var douyinRoomRe = regexp.MustCompile(`^https?://live\.douyin\.com/\d+`)

var (
	douyinButton = `[data-e2e="quality"]`
	douyinPanel  = `[data-e2e="quality-selector"]`
)

// douyinItemJS clicks the entry labelled exactly label inside the quality
// selector. The click goes to the nearest handler-bearing ancestor of the
// text node's element.
const douyinItemJS = `function (label) {
  var panel = document.querySelector('[data-e2e="quality-selector"]');
  if (!panel || panel.offsetParent === null) return false;
  function own(el) {
    var s = "";
    for (var i = 0; i < el.childNodes.length; i++) {
      if (el.childNodes[i].nodeType === 3) s += el.childNodes[i].nodeValue;
    }
    return s.replace(/\s+/g, " ").trim();
  }
  var all = [panel].concat(Array.prototype.slice.call(panel.querySelectorAll("*")));
  function find(pred) {
    for (var i = 0; i < all.length; i++) {
      if (pred(own(all[i]))) return all[i];
    }
    return null;
  }
  var node = find(function (t) { return t === label; });
  if (!node && label === "自动") node = find(function (t) { return t.indexOf("自动") === 0; });
  if (!node) return false;
  var el = node.closest("[onclick]") || node.closest('[role="menuitem"],[role="button"]') || node.closest("div");
  if (!el || el.offsetParent === null) return false;
  el.click();
  return true;
}`

// Douyin is live.douyin.com. Its quality menu offers fixed labels, so a
// click is taken as the result without reading the label back.
type Douyin struct {
	timing Timing
}

// NewDouyin returns Douyin with its default timing.
func NewDouyin() *Douyin {
	return &Douyin{timing: Timing{
		Settle:       5 * time.Second,
		ListSettle:   2 * time.Second,
		ScrollRounds: 10,
		ScrollPause:  800 * time.Millisecond,
		Tick:         1500 * time.Millisecond,
		Open:         6 * time.Second,
		Poll:         100 * time.Millisecond,
		ClickPause:   200 * time.Millisecond,
		Keepalive:    300 * time.Millisecond,
	}}
}

func (d *Douyin) Name() string   { return "douyin" }
func (d *Douyin) Home() string   { return "https://live.douyin.com/" }
func (d *Douyin) Timing() Timing { return d.timing }

func (d *Douyin) DefaultQualities() []string {
	return []string{"原画", "高清", "标清", "自动"}
}

func (d *Douyin) NormalizeRoomURL(href string) (string, bool) {
	s := strings.TrimSpace(href)
	if s == "" {
		return "", false
	}
	s = absolute(s, "https://live.douyin.com")
	if !douyinRoomRe.MatchString(s) {
		return "", false
	}
	return stripQuery(s), true
}

// Categories is empty: Douyin categories are only known from the homepage.
func (d *Douyin) Categories() []types.Category { return nil }

func (d *Douyin) CategoryLabel(string) string { return "" }

func (d *Douyin) CategoriesFrom(anchors []browser.Anchor) []types.Category {
	return collectCategories(anchors, 10, liveCategoryLink("live.douyin.com"), nil)
}

func (d *Douyin) Prepare(context.Context, browser.Page) error { return nil }

// SelectQuality opens the menu once and clicks the first preferred label
// present.
func (d *Douyin) SelectQuality(ctx context.Context, p browser.Page, preferred []string) (string, error) {
	ka := browser.Keepalive{
		Name:      "__qKeepAlive",
		Selectors: []string{douyinPanel, douyinButton},
		Interval:  d.timing.Keepalive,
	}
	if err := ka.Start(ctx, p); err != nil {
		log.Debug("keepalive not installed", logger.Fields{"site": d.Name(), "err": err})
	}
	defer ka.Stop(context.WithoutCancel(ctx), p)

	clicked, err := panelOpen(ctx, p, d.timing, clickFirstJS, []string{douyinButton})
	if err != nil || !clicked {
		return "", err
	}
	open, err := panelOpen(ctx, p, d.timing, shownJS, []string{douyinPanel})
	if err != nil || !open {
		return "", err
	}
	for _, want := range preferred {
		var ok bool
		if err := browser.Call(ctx, p, douyinItemJS, &ok, want); err != nil {
			log.Trace("quality entry lookup failed", logger.Fields{"want": want, "err": err})
			continue
		}
		if ok {
			return want, browser.Sleep(ctx, d.timing.ClickPause)
		}
	}
	return "", nil
}

func (d *Douyin) Tick(ctx context.Context, p browser.Page) error { return dwellTick(ctx, p) }

func (d *Douyin) Scripts() map[string]string {
	return mergeScripts(sharedScripts(), map[string]string{"douyinItem": douyinItemJS})
}
