package browser

// Page scripts are function expressions. They are invoked through Call,
// which appends the JSON encoded arguments, and always return a value
// because DevTools reports undefined as an error.

const readyStateJS = `function () {
  return document.readyState || "";
}`

const scrollByJS = `function (fraction) {
  var h = window.innerHeight || document.documentElement.clientHeight || 800;
  window.scrollBy(0, Math.floor(h * fraction));
  return window.scrollY || window.pageYOffset || 0;
}`

const scrollPxJS = `function (px) {
  window.scrollBy(0, px);
  return window.scrollY || window.pageYOffset || 0;
}`

const anchorsJS = `function () {
  var out = [];
  var list = document.querySelectorAll("a[href]");
  for (var i = 0; i < list.length; i++) {
    var a = list[i];
    out.push({ href: a.href || a.getAttribute("href") || "", text: (a.innerText || a.textContent || "").trim() });
  }
  return out;
}`

// elementCenterJS finds the first visible element matching one of the
// selectors, optionally widened to its closest ancestor matching closest,
// scrolls it into view and returns its centre.
const elementCenterJS = `function (selectors, closest) {
  function visible(el) {
    if (!el) return false;
    var r = el.getBoundingClientRect();
    if (r.width <= 0 || r.height <= 0) return false;
    var cs = window.getComputedStyle(el);
    return cs.display !== "none" && cs.visibility !== "hidden";
  }
  for (var i = 0; i < selectors.length; i++) {
    var list = document.querySelectorAll(selectors[i]);
    for (var j = 0; j < list.length; j++) {
      var el = list[j];
      if (closest) {
        el = el.closest(closest) || el;
      }
      if (!visible(el)) continue;
      try { el.scrollIntoView({ block: "center", inline: "center" }); } catch (e) {}
      var r = el.getBoundingClientRect();
      return { found: true, x: r.left + r.width / 2, y: r.top + r.height / 2, selector: selectors[i] };
    }
  }
  return { found: false, x: 0, y: 0, selector: "" };
}`

// startKeepaliveJS keeps a hover menu open by replaying hover events on
// the first rendered match, or the first match at all, from a page interval.
const startKeepaliveJS = `function (name, selectors, closest, intervalMs) {
  if (window[name]) { clearInterval(window[name]); }
  function target() {
    var first = null;
    for (var i = 0; i < selectors.length; i++) {
      var el = document.querySelector(selectors[i]);
      if (!el) continue;
      if (closest) { el = el.closest(closest) || el; }
      if (el.offsetParent !== null) return el;
      first = first || el;
    }
    return first;
  }
  window[name] = setInterval(function () {
    var el = target();
    if (!el) return;
    var r = el.getBoundingClientRect();
    var opts = { bubbles: true, cancelable: true, view: window, clientX: r.left + r.width / 2, clientY: r.top + r.height / 2 };
    ["mousemove", "mouseover", "mouseenter"].forEach(function (t) {
      try { el.dispatchEvent(new MouseEvent(t, opts)); } catch (e) {}
    });
  }, intervalMs);
  return true;
}`

const stopKeepaliveJS = `function (name) {
  if (window[name]) { clearInterval(window[name]); window[name] = null; return true; }
  return false;
}`

// videoVisibleJS reports whether a playing-size video element is on screen,
// looking into same-origin iframes too.
const videoVisibleJS = `function () {
  function check(doc) {
    var vs = doc.querySelectorAll("video");
    for (var i = 0; i < vs.length; i++) {
      var r = vs[i].getBoundingClientRect();
      if (r.width > 50 && r.height > 50) return true;
    }
    var frames = doc.querySelectorAll("iframe");
    for (var j = 0; j < frames.length; j++) {
      try {
        if (frames[j].contentDocument && check(frames[j].contentDocument)) return true;
      } catch (e) {}
    }
    return false;
  }
  return check(document);
}`

// Scripts returns the page scripts of this package keyed by name.
func Scripts() map[string]string {
	return map[string]string{
		"readyState":     readyStateJS,
		"scrollBy":       scrollByJS,
		"scrollPx":       scrollPxJS,
		"anchors":        anchorsJS,
		"elementCenter":  elementCenterJS,
		"startKeepalive": startKeepaliveJS,
		"stopKeepalive":  stopKeepaliveJS,
		"videoVisible":   videoVisibleJS,
	}
}
