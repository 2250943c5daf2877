package sites

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ytget/livecap/browser"
	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/internal/jscheck"
)

var aliases = map[string]string{
	"douyu":    "douyu",
	"斗鱼":       "douyu",
	"huya":     "huya",
	"虎牙":       "huya",
	"bilibili": "bilibili",
	"bili":     "bilibili",
	"b站":       "bilibili",
	"douyin":   "douyin",
	"抖音":       "douyin",
}

// All returns a fresh instance of every site.
func All() []Site {
	return []Site{NewDouyu(), NewHuya(), NewBilibili(), NewDouyin()}
}

// Names lists the canonical site names.
func Names() []string {
	var out []string
	for _, s := range All() {
		out = append(out, s.Name())
	}
	sort.Strings(out)
	return out
}

// Lookup returns the site called name. Chinese names and short forms are
// accepted.
func Lookup(name string) (Site, error) {
	key, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", errs.ErrUnknownSite, name, strings.Join(Names(), ", "))
	}
	for _, s := range All() {
		if s.Name() == key {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", errs.ErrUnknownSite, name)
}

// Validate compiles the page scripts s and the browser package inject.
func Validate(s Site) error {
	scripts := mergeScripts(browser.Scripts(), s.Scripts())
	return errors.Join(jscheck.Functions(scripts)...)
}
