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

var (
	douyuRoomRe  = regexp.MustCompile(`^https?://www\.douyu\.com/\d+$`)
	douyuDigitRe = regexp.MustCompile(`^\d+$`)
)

var douyuCategories = []types.Category{
	{URL: "https://www.douyu.com/g_rmyx", Name: "热门游戏", Label: "热门游戏"},
	{URL: "https://www.douyu.com/g_HW", Name: "户外", Label: "户外"},
	{URL: "https://www.douyu.com/g_xingxiu", Name: "星秀", Label: "星秀"},
	{URL: "https://www.douyu.com/g_ecy", Name: "二次元", Label: "二次元"},
	{URL: "https://www.douyu.com/g_xdpd", Name: "聊天", Label: "聊天"},
	{URL: "https://www.douyu.com/g_paidui", Name: "派对", Label: "派对"},
	{URL: "https://www.douyu.com/g_OG", Name: "单机游戏", Label: "单机游戏"},
}

var (
	douyuPlayer   = []string{"video", "#room-html5-player", "#__h5player", "#douyu_room_normal_player_proxy_box"}
	douyuAutoplay = []string{`[class*="autoPlayImg"]`, `[class*="autoplay"]`}
	douyuLabel    = `[class*="rate-"] [class*="textLabel"]`
	douyuRate     = `[class*="rate-"]`
)

// douyuPanelJS reports whether the quality tip under the rate control is
// shown. The tip is recognised by an input whose value starts with 画质.
const douyuPanelJS = `function () {
  function shown(el) {
    if (!el) return false;
    var st = window.getComputedStyle(el);
    if (!st || st.display === "none" || st.visibility === "hidden") return false;
    return el.offsetParent !== null;
  }
  var rates = document.querySelectorAll('[class*="rate-"]');
  var rate = null;
  for (var i = 0; i < rates.length; i++) {
    if (rates[i].querySelector('[class*="textLabel"]')) { rate = rates[i]; break; }
  }
  if (!rate) return false;
  var tips = rate.querySelectorAll('[class*="tip"]');
  for (var j = 0; j < tips.length; j++) {
    var inputs = tips[j].querySelectorAll("input");
    for (var k = 0; k < inputs.length; k++) {
      if ((inputs[k].value || "").trim().indexOf("画质") === 0 && shown(tips[j])) return true;
    }
  }
  return false;
}`

// douyuItemJS locates the quality entry containing kw in the open tip and
// returns its centre for a real mouse click.
const douyuItemJS = `function (kw) {
  var none = { found: false, x: 0, y: 0, selector: "" };
  function shown(el) {
    if (!el) return false;
    var st = window.getComputedStyle(el);
    if (!st || st.display === "none" || st.visibility === "hidden") return false;
    return el.offsetParent !== null;
  }
  function isQuality(el) {
    var inputs = el.querySelectorAll("input");
    for (var i = 0; i < inputs.length; i++) {
      if ((inputs[i].value || "").trim().indexOf("画质") === 0) return true;
    }
    return false;
  }
  var rates = document.querySelectorAll('[class*="rate-"]');
  var rate = null;
  for (var i = 0; i < rates.length; i++) {
    if (rates[i].querySelector('[class*="textLabel"]')) { rate = rates[i]; break; }
  }
  if (!rate) return none;
  var tip = null;
  var tips = rate.querySelectorAll('[class*="tip"]');
  for (var j = 0; j < tips.length; j++) {
    if (isQuality(tips[j]) && shown(tips[j])) { tip = tips[j]; break; }
  }
  if (!tip) return none;
  var item = null;
  var items = tip.querySelectorAll('[class*="tipItem"]');
  for (var k = 0; k < items.length; k++) {
    var inp = items[k].querySelector("input");
    if (inp && (inp.value || "").trim().indexOf("画质") === 0) { item = items[k]; break; }
  }
  if (!item) return none;
  var lis = item.querySelectorAll("ul li");
  for (var m = 0; m < lis.length; m++) {
    var txt = (lis[m].innerText || "").trim();
    if (!txt || txt.indexOf("画质增强") >= 0) continue;
    if (txt.indexOf(kw) < 0) continue;
    if (!shown(lis[m])) return none;
    try { lis[m].scrollIntoView({ block: "center", inline: "center" }); } catch (e) {}
    var r = lis[m].getBoundingClientRect();
    return { found: true, x: r.left + r.width / 2, y: r.top + r.height / 2, selector: "li" };
  }
  return none;
}`

// Douyu is www.douyu.com. Its player covers itself with an autoplay
// overlay that has to be clicked away with real mouse input.
type Douyu struct {
	timing Timing
}

// NewDouyu returns Douyu with its default timing.
func NewDouyu() *Douyu {
	return &Douyu{timing: Timing{
		Settle:       time.Second,
		ListSettle:   2 * time.Second,
		ScrollRounds: 14,
		ScrollPause:  800 * time.Millisecond,
		Tick:         600 * time.Millisecond,
		Open:         3 * time.Second,
		Verify:       3 * time.Second,
		Poll:         100 * time.Millisecond,
		Guard:        8 * time.Second,
		GuardEvery:   250 * time.Millisecond,
		ClickPause:   350 * time.Millisecond,
		Keepalive:    220 * time.Millisecond,
	}}
}

func (d *Douyu) Name() string   { return "douyu" }
func (d *Douyu) Home() string   { return "https://www.douyu.com/" }
func (d *Douyu) Timing() Timing { return d.timing }

func (d *Douyu) DefaultQualities() []string {
	return []string{"原画", "蓝光", "超清", "高清"}
}

// NormalizeRoomURL accepts a bare room number too.
func (d *Douyu) NormalizeRoomURL(href string) (string, bool) {
	s := strings.TrimSpace(href)
	if s == "" {
		return "", false
	}
	if douyuDigitRe.MatchString(s) {
		return "https://www.douyu.com/" + s, true
	}
	s = strings.TrimRight(stripQuery(absolute(s, "https://www.douyu.com")), "/")
	if douyuRoomRe.MatchString(s) {
		return s, true
	}
	return "", false
}

func (d *Douyu) Categories() []types.Category {
	return append([]types.Category(nil), douyuCategories...)
}

func (d *Douyu) CategoryLabel(categoryURL string) string {
	key := lastSegment(categoryURL)
	for _, c := range douyuCategories {
		if lastSegment(c.URL) == key {
			return c.Label
		}
	}
	return ""
}

func (d *Douyu) CategoriesFrom(anchors []browser.Anchor) []types.Category {
	return collectCategories(anchors, 10, func(href string) bool {
		return strings.Contains(href, "douyu.com/g_")
	}, stripQuery)
}

// Prepare keeps clicking the autoplay overlay for the guard period, since
// it tends to reappear while the stream starts.
func (d *Douyu) Prepare(ctx context.Context, p browser.Page) error {
	if d.timing.Guard <= 0 {
		return nil
	}
	deadline := time.Now().Add(d.timing.Guard)
	clicks := 0
	for time.Now().Before(deadline) {
		wait := d.timing.GuardEvery
		if d.clickAutoplay(ctx, p) {
			clicks++
			wait = d.timing.ClickPause
		}
		if err := browser.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	log.Debug("autoplay guard done", logger.Fields{"site": d.Name(), "clicks": clicks})
	return nil
}

func (d *Douyu) SelectQuality(ctx context.Context, p browser.Page, preferred []string) (string, error) {
	q := quality{
		keepalive: browser.Keepalive{
			Name:      "__douyuKeepAlive",
			Selectors: []string{douyuLabel, "#room-html5-player", "#__h5player", "video"},
			Closest:   douyuRate,
			Interval:  d.timing.Keepalive,
		},
		timing: d.timing,
		before: func(ctx context.Context, p browser.Page) { d.clickAutoplay(ctx, p) },
		open:   d.openPanel,
		click: func(ctx context.Context, p browser.Page, want string) (bool, error) {
			var pt browser.Point
			if err := browser.Call(ctx, p, douyuItemJS, &pt, want); err != nil || !pt.Found {
				return false, err
			}
			if err := p.MouseMove(ctx, pt.X, pt.Y); err != nil {
				return false, err
			}
			return true, p.Click(ctx, pt.X, pt.Y)
		},
		current: func(ctx context.Context, p browser.Page) (string, error) {
			return firstText(ctx, p, douyuLabel)
		},
		reportCurrent: true,
	}
	return q.pick(ctx, p, d.Name(), preferred)
}

// Tick clears the autoplay overlay if it came back.
func (d *Douyu) Tick(ctx context.Context, p browser.Page) error {
	d.clickAutoplay(ctx, p)
	return nil
}

func (d *Douyu) Scripts() map[string]string {
	return mergeScripts(sharedScripts(), map[string]string{
		"douyuPanel": douyuPanelJS,
		"douyuItem":  douyuItemJS,
	})
}

func (d *Douyu) clickAutoplay(ctx context.Context, p browser.Page) bool {
	if _, err := browser.Hover(ctx, p, douyuPlayer...); err != nil {
		log.Trace("hover player failed", logger.Fields{"err": err})
	}
	ok, err := browser.ClickElement(ctx, p, douyuAutoplay...)
	if err != nil {
		log.Trace("autoplay click failed", logger.Fields{"err": err})
		return false
	}
	return ok
}

func (d *Douyu) openPanel(ctx context.Context, p browser.Page) (bool, error) {
	if _, err := browser.Hover(ctx, p, douyuPlayer...); err != nil {
		return false, err
	}
	pt, err := browser.ElementCenter(ctx, p, []string{douyuLabel}, douyuRate)
	if err != nil || !pt.Found {
		return false, err
	}
	if err := p.MouseMove(ctx, pt.X, pt.Y); err != nil {
		return false, err
	}
	return panelOpen(ctx, p, d.timing, douyuPanelJS)
}
