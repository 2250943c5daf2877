package sites

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ytget/livecap/browser"
	"github.com/ytget/livecap/types"
)

var biliRoomRe = regexp.MustCompile(`^https?://live\.bilibili\.com/\d+`)

const biliAreaTags = "https://live.bilibili.com/p/eden/area-tags"

var biliCategories = []types.Category{
	{URL: biliAreaTags + "?parentAreaId=14&areaId=0", Name: "聊天室", Label: "聊天室"},
	{URL: biliAreaTags + "?parentAreaId=1&areaId=0", Name: "娱乐", Label: "娱乐"},
	{URL: biliAreaTags + "?parentAreaId=2&areaId=0", Name: "网游", Label: "网游"},
	{URL: biliAreaTags + "?parentAreaId=3&areaId=0", Name: "手游", Label: "手游"},
	{URL: biliAreaTags + "?parentAreaId=6&areaId=0", Name: "单机游戏", Label: "单机游戏"},
}

var (
	biliPlayer  = []string{".bpx-player-container", ".bpx-player", "video"}
	biliPanel   = "div.quality-wrap div.panel"
	biliCurrent = "div.quality-wrap .text.selected-qn"
	biliToggle  = []string{biliCurrent, ".bpx-player-ctrl-btn.bpx-player-ctrl-quality", ".bpx-player-ctrl-quality"}
)

// biliItemJS clicks the panel entry containing kw. The automatic entry is
// labelled 跟随 on some players.
const biliItemJS = `function (kw) {
  var panel = document.querySelector("div.quality-wrap div.panel");
  if (!panel || !panel.offsetParent) return false;
  var items = panel.querySelectorAll("div.list-it");
  var cands = [];
  for (var i = 0; i < items.length; i++) {
    var t = items[i].innerText || "";
    if (t && t.indexOf("画质增强") < 0) cands.push(items[i]);
  }
  function find(s) {
    for (var j = 0; j < cands.length; j++) {
      if (cands[j].innerText.indexOf(s) >= 0) return cands[j];
    }
    return null;
  }
  var target = find(kw);
  if (!target && kw === "自动") target = find("跟随");
  if (!target) return false;
  target.click();
  return true;
}`

// Bilibili is live.bilibili.com.
type Bilibili struct {
	timing Timing
}

// NewBilibili returns Bilibili with its default timing.
func NewBilibili() *Bilibili {
	return &Bilibili{timing: Timing{
		Settle:       5 * time.Second,
		ListSettle:   2 * time.Second,
		ScrollRounds: 10,
		ScrollPause:  800 * time.Millisecond,
		Tick:         1500 * time.Millisecond,
		Open:         2 * time.Second,
		Verify:       2500 * time.Millisecond,
		Poll:         80 * time.Millisecond,
		Video:        20 * time.Second,
		Keepalive:    200 * time.Millisecond,
	}}
}

func (b *Bilibili) Name() string   { return "bilibili" }
func (b *Bilibili) Home() string   { return "https://live.bilibili.com/" }
func (b *Bilibili) Timing() Timing { return b.timing }

func (b *Bilibili) DefaultQualities() []string {
	return []string{"原画", "高清", "标清", "自动"}
}

func (b *Bilibili) NormalizeRoomURL(href string) (string, bool) {
	s := strings.TrimSpace(href)
	if s == "" {
		return "", false
	}
	s = absolute(s, "https://live.bilibili.com")
	if !biliRoomRe.MatchString(s) {
		return "", false
	}
	return stripQuery(s), true
}

func (b *Bilibili) Categories() []types.Category {
	return append([]types.Category(nil), biliCategories...)
}

// CategoryLabel matches on the parentAreaId query parameter.
func (b *Bilibili) CategoryLabel(categoryURL string) string {
	id := biliParentArea(categoryURL)
	if id == "" {
		return ""
	}
	for _, c := range biliCategories {
		if biliParentArea(c.URL) == id {
			return c.Label
		}
	}
	return ""
}

func (b *Bilibili) CategoriesFrom(anchors []browser.Anchor) []types.Category {
	return collectCategories(anchors, 10, liveCategoryLink("live.bilibili.com"), nil)
}

// Prepare scrolls the lazily mounted player into the viewport.
func (b *Bilibili) Prepare(ctx context.Context, p browser.Page) error {
	return scrollToVideo(ctx, p, b.Name(), b.timing)
}

func (b *Bilibili) SelectQuality(ctx context.Context, p browser.Page, preferred []string) (string, error) {
	q := quality{
		keepalive: browser.Keepalive{
			Name:      "__biliKeepAlive",
			Selectors: []string{biliPanel, biliCurrent, ".bpx-player-ctrl-btn.bpx-player-ctrl-quality", ".bpx-player"},
			Interval:  b.timing.Keepalive,
		},
		timing: b.timing,
		open:   b.openMenu,
		click: func(ctx context.Context, p browser.Page, want string) (bool, error) {
			var ok bool
			err := browser.Call(ctx, p, biliItemJS, &ok, want)
			return ok, err
		},
		current: func(ctx context.Context, p browser.Page) (string, error) {
			return firstText(ctx, p, biliCurrent)
		},
	}
	return q.pick(ctx, p, b.Name(), preferred)
}

func (b *Bilibili) Tick(ctx context.Context, p browser.Page) error { return dwellTick(ctx, p) }

func (b *Bilibili) Scripts() map[string]string {
	return mergeScripts(sharedScripts(), map[string]string{"biliItem": biliItemJS})
}

func (b *Bilibili) openMenu(ctx context.Context, p browser.Page) (bool, error) {
	if _, err := browser.Hover(ctx, p, biliPlayer...); err != nil {
		return false, err
	}
	if ok, err := shown(ctx, p, biliPanel); err == nil && ok {
		return true, nil
	}
	if _, err := panelOpen(ctx, p, b.timing, clickFirstJS, biliToggle); err != nil {
		return false, err
	}
	return panelOpen(ctx, p, b.timing, shownJS, []string{biliPanel})
}

func biliParentArea(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("parentAreaId")
}

// liveCategoryLink matches category links on the live homepages of
// Bilibili and Douyin.
func liveCategoryLink(host string) func(string) bool {
	return func(href string) bool {
		if !strings.Contains(href, host) {
			return false
		}
		return strings.Contains(href, "category") || strings.Contains(href, "activity_name")
	}
}
