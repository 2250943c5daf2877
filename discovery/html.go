package discovery

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/ytget/livecap/browser"
)

// ExtractAnchors returns the links of an HTML document with their visible
// text. Relative hrefs are resolved against base.
func ExtractAnchors(body []byte, base string) []browser.Anchor {
	baseURL, _ := url.Parse(base)
	z := html.NewTokenizer(bytes.NewReader(body))

	var out []browser.Anchor
	var cur *browser.Anchor
	var text strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			if cur != nil {
				cur.Text = collapse(text.String())
				out = append(out, *cur)
			}
			return out
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" {
				continue
			}
			if cur != nil {
				// Anchors do not nest; an unclosed one ends here.
				cur.Text = collapse(text.String())
				out = append(out, *cur)
				cur = nil
			}
			href := ""
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				if string(k) == "href" {
					href = strings.TrimSpace(string(v))
				}
			}
			if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
				continue
			}
			cur = &browser.Anchor{Href: resolve(baseURL, href)}
			text.Reset()
		case html.EndTagToken:
			name, _ := z.TagName()
			if cur != nil && string(name) == "a" {
				cur.Text = collapse(text.String())
				out = append(out, *cur)
				cur = nil
			}
		case html.TextToken:
			if cur != nil {
				text.Write(z.Text())
				text.WriteByte(' ')
			}
		}
	}
}

func resolve(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(u).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
