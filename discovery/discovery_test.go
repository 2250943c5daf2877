package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/ytget/livecap/browser"
	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/internal/pagetest"
	"github.com/ytget/livecap/sites"
)

type fakeFetcher struct {
	pages map[string]string
	err   error
	hits  int
}

func (f *fakeFetcher) GetBody(ctx context.Context, url string) ([]byte, error) {
	f.hits++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.pages[url]), nil
}

const douyuListing = `<html><body>
<a href="/288016?from=list"><span>主播</span> A</a>
<a href="https://www.douyu.com/9999">B</a>
<a href="/288016">dup</a>
<a href="https://www.douyu.com/g_xingxiu">星秀</a>
<a href="javascript:void(0)">x</a>
<a href="/topic/abc">topic</a>
<a href="//www.douyu.com/12345">C</a>
</body></html>`

func TestExtractAnchors(t *testing.T) {
	got := ExtractAnchors([]byte(`<div><a href="/g/1?a=1&amp;b=2"> 网游 <b>热</b> </a><a href="#top">top</a><a href="x">unclosed`), "https://www.huya.com/g")
	want := []browser.Anchor{
		{Href: "https://www.huya.com/g/1?a=1&b=2", Text: "网游 热"},
		{Href: "https://www.huya.com/x", Text: "unclosed"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractAnchors() = %+v\nwant %+v", got, want)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "AUTO": ModeAuto, " http ": ModeHTTP, "browser": ModeBrowser} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("ftp"); err == nil {
		t.Error("expected error")
	}
}

func TestRooms_HTTPEnough(t *testing.T) {
	cat := "https://www.douyu.com/g_xingxiu"
	f := &fakeFetcher{pages: map[string]string{cat: douyuListing}}
	opened := false
	open := func(context.Context) (browser.Page, error) {
		opened = true
		return nil, errors.New("unexpected")
	}

	got, err := New(sites.NewDouyu(), f).Rooms(context.Background(), open, cat, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"https://www.douyu.com/288016", "https://www.douyu.com/9999"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rooms() = %v, want %v", got, want)
	}
	if opened {
		t.Error("browser opened although http found enough rooms")
	}
}

func TestRooms_HTTPModeNeverOpensBrowser(t *testing.T) {
	cat := "https://www.douyu.com/g_xingxiu"
	f := &fakeFetcher{pages: map[string]string{cat: douyuListing}}
	open := func(context.Context) (browser.Page, error) {
		t.Fatal("browser opened in http mode")
		return nil, nil
	}
	got, err := New(sites.NewDouyu(), f).WithMode(ModeHTTP).Rooms(context.Background(), open, cat, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("Rooms() = %v", got)
	}

	empty := &fakeFetcher{pages: map[string]string{}}
	_, err = New(sites.NewDouyu(), empty).WithMode(ModeHTTP).Rooms(context.Background(), open, cat, 10)
	if !errors.Is(err, errs.ErrNoRooms) {
		t.Errorf("err = %v, want ErrNoRooms", err)
	}
}

// listingPage serves a listing that reveals more rooms after each scroll.
func listingPage(batches ...[]string) *pagetest.Page {
	bs := browser.Scripts()
	scrolls := 0
	return pagetest.New().
		Return(bs["readyState"], "complete").
		On(bs["scrollBy"], func([]json.RawMessage) (any, error) {
			scrolls++
			return scrolls * 800, nil
		}).
		On(bs["anchors"], func([]json.RawMessage) (any, error) {
			var out []browser.Anchor
			for i := 0; i <= scrolls && i < len(batches); i++ {
				for _, h := range batches[i] {
					out = append(out, browser.Anchor{Href: h, Text: "room"})
				}
			}
			return out, nil
		})
}

func fastHuya() sites.Site {
	return fastSite{sites.NewHuya()}
}

// fastSite shortens the listing waits.
type fastSite struct{ sites.Site }

func (s fastSite) Timing() sites.Timing {
	t := s.Site.Timing()
	t.ListSettle = 0
	t.ScrollPause = 0
	t.ScrollRounds = 4
	return t
}

func TestRooms_AutoTopsUpFromBrowser(t *testing.T) {
	cat := "https://www.huya.com/g/2168"
	f := &fakeFetcher{pages: map[string]string{cat: `<a href="/aaa">a</a>`}}
	p := listingPage(
		[]string{"https://www.huya.com/aaa", "https://www.huya.com/bbb"},
		[]string{"https://www.huya.com/g", "https://www.huya.com/ccc"},
		[]string{"https://www.huya.com/ddd"},
	)
	opens := 0
	open := func(context.Context) (browser.Page, error) {
		opens++
		return p, nil
	}

	got, err := New(fastHuya(), f).Rooms(context.Background(), open, cat, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"https://www.huya.com/aaa", "https://www.huya.com/bbb", "https://www.huya.com/ccc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rooms() = %v, want %v", got, want)
	}
	if opens != 1 || len(p.Navigated) != 1 || p.Navigated[0] != cat {
		t.Errorf("opens = %d, navigated = %v", opens, p.Navigated)
	}
}

func TestRooms_HTTPFailureFallsBack(t *testing.T) {
	cat := "https://www.huya.com/g/2168"
	f := &fakeFetcher{err: errors.New("connection reset")}
	p := listingPage([]string{"https://www.huya.com/zzz"})
	got, err := New(fastHuya(), f).Rooms(context.Background(), func(context.Context) (browser.Page, error) { return p, nil }, cat, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"https://www.huya.com/zzz"}) {
		t.Errorf("Rooms() = %v", got)
	}
}

func TestRooms_BrowserModeSkipsHTTP(t *testing.T) {
	f := &fakeFetcher{}
	p := listingPage([]string{"https://www.huya.com/zzz"})
	_, err := New(fastHuya(), f).WithMode(ModeBrowser).Rooms(context.Background(), func(context.Context) (browser.Page, error) { return p, nil }, "https://www.huya.com/l", 5)
	if err != nil {
		t.Fatal(err)
	}
	if f.hits != 0 {
		t.Errorf("fetcher used %d times in browser mode", f.hits)
	}
}

func TestRooms_BrowserUnavailableKeepsHTTPRooms(t *testing.T) {
	cat := "https://www.huya.com/g/2168"
	f := &fakeFetcher{pages: map[string]string{cat: `<a href="/aaa">a</a>`}}
	got, err := New(fastHuya(), f).Rooms(context.Background(), func(context.Context) (browser.Page, error) {
		return nil, errs.ErrProfileBusy
	}, cat, 5)
	if err != nil || len(got) != 1 {
		t.Fatalf("Rooms() = %v, %v", got, err)
	}

	_, err = New(fastHuya(), &fakeFetcher{}).Rooms(context.Background(), func(context.Context) (browser.Page, error) {
		return nil, errs.ErrProfileBusy
	}, cat, 5)
	if !errors.Is(err, errs.ErrProfileBusy) {
		t.Errorf("err = %v, want the browser error", err)
	}
}

func TestCategories(t *testing.T) {
	home := "https://www.huya.com/g"
	f := &fakeFetcher{pages: map[string]string{home: `<a href="/g/2168">颜值</a><a href="/g/100023">网游</a>`}}
	got, err := New(sites.NewHuya(), f).Categories(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].URL != "https://www.huya.com/g/2168" || got[2].URL != sites.HuyaLiveHome {
		t.Errorf("Categories() = %+v", got)
	}

	bs := browser.Scripts()
	p := pagetest.New().
		Return(bs["readyState"], "complete").
		Return(bs["anchors"], []browser.Anchor{{Href: "https://www.douyu.com/g_OG", Text: "单机"}})
	d := fastSite{sites.NewDouyu()}
	cats, err := New(d, &fakeFetcher{pages: map[string]string{}}).Categories(context.Background(), func(context.Context) (browser.Page, error) { return p, nil })
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 1 || cats[0].Name != "单机" {
		t.Errorf("browser categories = %+v", cats)
	}
}
