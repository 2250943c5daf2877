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

// HuyaLiveHome lists every live room regardless of category.
const HuyaLiveHome = "https://www.huya.com/l"

// Room slugs are numbers or short names such as /qitux.
var huyaRoomRe = regexp.MustCompile(`^https?://(www\.)?huya\.com/([A-Za-z0-9_]+)$`)

var huyaCategories = []types.Category{
	{URL: "https://www.huya.com/g/2168", Name: "颜值", Label: "娱乐1"},
	{URL: "https://www.huya.com/g/xingxiu", Name: "星秀", Label: "娱乐2"},
	{URL: "https://www.huya.com/g/100022", Name: "娱乐天地", Label: "娱乐3"},
	{URL: "https://www.huya.com/g/4079", Name: "交友", Label: "娱乐4"},
	{URL: "https://www.huya.com/g/5367", Name: "聊天", Label: "聊天"},
	{URL: "https://www.huya.com/g/100023", Name: "网游", Label: "网游"},
	{URL: "https://www.huya.com/g/100004", Name: "手游", Label: "手游"},
	{URL: "https://www.huya.com/g/100002", Name: "单机游戏", Label: "单机游戏"},
}

var (
	huyaPlayer  = []string{"video", "#player", ".player-wrap", ".player-box", ".player-main"}
	huyaPanel   = ".player-menu-panel.player-menu-panel-common"
	huyaToggle  = []string{".player-videotype-cur", ".player-videotype-txt"}
	huyaCurrent = []string{".player-videotype-cur", ".player-videotype-list li.on span", ".player-videotype-list li.on"}
)

// huyaPanelJS reports whether the quality list is shown, either on its own
// or inside the common menu panel.
const huyaPanelJS = `function () {
  var ul = document.querySelector(".player-videotype-list");
  if (!ul) return false;
  var panel = document.querySelector(".player-menu-panel.player-menu-panel-common");
  return !!((panel && panel.offsetParent) || ul.offsetParent);
}`

// huyaItemJS clicks the list entry whose normalised text contains kw.
// Entries that need a QR scan or a paid upgrade are skipped.
const huyaItemJS = `function (kw) {
  var ul = document.querySelector(".player-videotype-list");
  if (!ul) return false;
  function norm(s) { return (s || "").replace(/\s+/g, "").replace(/　/g, "").replace(/m/g, "M"); }
  var items = ul.querySelectorAll("li");
  var cands = [];
  for (var i = 0; i < items.length; i++) {
    var txt = items[i].innerText || "";
    if (txt.indexOf("扫码") >= 0) continue;
    if (items[i].querySelector(".common-enjoy-btn")) continue;
    cands.push(items[i]);
  }
  if (!cands.length) return false;
  var target = null;
  for (var j = 0; j < cands.length && !target; j++) {
    if (norm(cands[j].innerText).indexOf(kw) >= 0) target = cands[j];
  }
  if (!target && kw === "蓝光") {
    for (var k = 0; k < cands.length && !target; k++) {
      if ((cands[k].innerText || "").indexOf("蓝光") >= 0) target = cands[k];
    }
  }
  if (!target) return false;
  (target.querySelector("span") || target).click();
  return true;
}`

// Huya is www.huya.com.
type Huya struct {
	timing Timing
}

// NewHuya returns Huya with its default timing.
func NewHuya() *Huya {
	return &Huya{timing: Timing{
		Settle:       5 * time.Second,
		ListSettle:   1500 * time.Millisecond,
		ScrollRounds: 10,
		ScrollPause:  800 * time.Millisecond,
		Tick:         1500 * time.Millisecond,
		Open:         2 * time.Second,
		Verify:       2500 * time.Millisecond,
		Poll:         80 * time.Millisecond,
		Video:        12 * time.Second,
		Keepalive:    200 * time.Millisecond,
	}}
}

func (h *Huya) Name() string   { return "huya" }
func (h *Huya) Home() string   { return "https://www.huya.com/g" }
func (h *Huya) Timing() Timing { return h.timing }

func (h *Huya) DefaultQualities() []string {
	return []string{"蓝光20M", "蓝光10M", "蓝光8M", "蓝光6M", "蓝光4M", "蓝光2M", "蓝光", "超清", "流畅"}
}

// NormalizeRoomURL rejects the listing pages that share the one-segment
// URL shape with rooms.
func (h *Huya) NormalizeRoomURL(href string) (string, bool) {
	s := strings.TrimSpace(href)
	if s == "" {
		return "", false
	}
	s = stripQuery(absolute(s, "https://www.huya.com"))
	if !huyaRoomRe.MatchString(s) {
		return "", false
	}
	switch lastSegment(s) {
	case "g", "l":
		return "", false
	}
	return s, true
}

func (h *Huya) Categories() []types.Category {
	return append([]types.Category(nil), huyaCategories...)
}

func (h *Huya) CategoryLabel(categoryURL string) string {
	if strings.TrimRight(stripQuery(categoryURL), "/") == HuyaLiveHome {
		return "全部直播"
	}
	u, err := url.Parse(categoryURL)
	if err != nil {
		return ""
	}
	key := strings.TrimPrefix(strings.Trim(u.Path, "/"), "g/")
	for _, c := range huyaCategories {
		if lastSegment(c.URL) == key {
			return c.Label
		}
	}
	return ""
}

// CategoriesFrom always offers the all-rooms listing as well.
func (h *Huya) CategoriesFrom(anchors []browser.Anchor) []types.Category {
	out := collectCategories(anchors, 12, func(href string) bool {
		return strings.Contains(href, "huya.com/g/")
	}, nil)
	for _, c := range out {
		if c.URL == HuyaLiveHome {
			return out
		}
	}
	return append(out, types.Category{URL: HuyaLiveHome, Name: "全部直播", Label: "全部直播"})
}

// Prepare scrolls the lazily mounted player into the viewport.
func (h *Huya) Prepare(ctx context.Context, p browser.Page) error {
	return scrollToVideo(ctx, p, h.Name(), h.timing)
}

func (h *Huya) SelectQuality(ctx context.Context, p browser.Page, preferred []string) (string, error) {
	q := quality{
		keepalive: browser.Keepalive{
			Name:      "__huyaKeepAlive",
			Selectors: []string{huyaPanel, ".player-videotype-cur", ".player-videotype-txt", "#player", "video"},
			Interval:  h.timing.Keepalive,
		},
		timing: h.timing,
		open:   h.openMenu,
		click: func(ctx context.Context, p browser.Page, want string) (bool, error) {
			var ok bool
			err := browser.Call(ctx, p, huyaItemJS, &ok, HuyaQualityKey(want))
			return ok, err
		},
		current: func(ctx context.Context, p browser.Page) (string, error) {
			return firstText(ctx, p, huyaCurrent...)
		},
		normalize: HuyaQualityKey,
	}
	return q.pick(ctx, p, h.Name(), preferred)
}

func (h *Huya) Tick(ctx context.Context, p browser.Page) error { return dwellTick(ctx, p) }

func (h *Huya) Scripts() map[string]string {
	return mergeScripts(sharedScripts(), map[string]string{
		"huyaPanel": huyaPanelJS,
		"huyaItem":  huyaItemJS,
	})
}

func (h *Huya) openMenu(ctx context.Context, p browser.Page) (bool, error) {
	if _, err := browser.Hover(ctx, p, huyaPlayer...); err != nil {
		return false, err
	}
	var open bool
	if err := browser.Call(ctx, p, huyaPanelJS, &open); err == nil && open {
		return true, nil
	}
	if _, err := panelOpen(ctx, p, h.timing, clickFirstJS, huyaToggle); err != nil {
		return false, err
	}
	return panelOpen(ctx, p, h.timing, huyaPanelJS)
}

// HuyaQualityKey normalises a quality label for comparison: blanks are
// dropped and bitrates are upper-cased, so "蓝光 8m" matches "蓝光8M".
func HuyaQualityKey(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "", "　", "", "m", "M").Replace(s)
	return s
}
