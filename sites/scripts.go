package sites

import (
	"context"

	"github.com/ytget/livecap/browser"
)

// Shared page scripts. Like the browser package scripts these are function
// expressions called through browser.Call.

// firstTextJS returns the trimmed text of the first match that has any.
const firstTextJS = `function (selectors) {
  for (var i = 0; i < selectors.length; i++) {
    var list = document.querySelectorAll(selectors[i]);
    for (var j = 0; j < list.length; j++) {
      var t = (list[j].innerText || list[j].textContent || "").trim();
      if (t) return t;
    }
  }
  return "";
}`

// clickFirstJS clicks the first element matching one of the selectors
// through the DOM, which works on controls hidden until hover.
const clickFirstJS = `function (selectors) {
  for (var i = 0; i < selectors.length; i++) {
    var el = document.querySelector(selectors[i]);
    if (el) { el.click(); return true; }
  }
  return false;
}`

// shownJS reports whether any element matching one of the selectors is
// rendered.
const shownJS = `function (selectors) {
  for (var i = 0; i < selectors.length; i++) {
    var list = document.querySelectorAll(selectors[i]);
    for (var j = 0; j < list.length; j++) {
      if (list[j].offsetParent !== null) return true;
    }
  }
  return false;
}`

func sharedScripts() map[string]string {
	return map[string]string{
		"firstText":  firstTextJS,
		"clickFirst": clickFirstJS,
		"shown":      shownJS,
	}
}

func firstText(ctx context.Context, p browser.Page, selectors ...string) (string, error) {
	var s string
	err := browser.Call(ctx, p, firstTextJS, &s, selectors)
	return s, err
}

func shown(ctx context.Context, p browser.Page, selectors ...string) (bool, error) {
	var ok bool
	err := browser.Call(ctx, p, shownJS, &ok, selectors)
	return ok, err
}
