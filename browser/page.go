package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/internal/logger"
)

// Anchor is a link found on a page.
type Anchor struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Point is a position in viewport coordinates.
type Point struct {
	Found    bool    `json:"found"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Selector string  `json:"selector"`
}

// CallExpr returns the expression that applies the function expression fn
// to args.
func CallExpr(fn string, args ...any) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("%w: encode argument %d: %v", errs.ErrScript, i, err)
		}
		parts[i] = string(b)
	}
	return "(" + fn + ")(" + strings.Join(parts, ", ") + ")", nil
}

// Call evaluates fn(args...) on p and decodes the result into out.
func Call(ctx context.Context, p Page, fn string, out any, args ...any) error {
	expr, err := CallExpr(fn, args...)
	if err != nil {
		return err
	}
	return p.Evaluate(ctx, expr, out)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poll calls cond every interval until it returns true, timeout elapses
// or ctx is done. Errors from cond count as "not yet".
func Poll(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	var last error
	for {
		ok, err := cond(ctx)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			last = err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !time.Now().Before(deadline) {
			if last != nil {
				return fmt.Errorf("%w after %s: %v", errs.ErrTimeout, timeout, last)
			}
			return fmt.Errorf("%w after %s", errs.ErrTimeout, timeout)
		}
		if err := Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// WaitReadyState waits for document.readyState to become "complete".
func WaitReadyState(ctx context.Context, p Page, timeout time.Duration) error {
	return Poll(ctx, timeout, 250*time.Millisecond, func(ctx context.Context) (bool, error) {
		var state string
		if err := Call(ctx, p, readyStateJS, &state); err != nil {
			return false, err
		}
		return state == "complete", nil
	})
}

// ScrollBy scrolls the window by fraction of the viewport height.
func ScrollBy(ctx context.Context, p Page, fraction float64) error {
	var y float64
	return Call(ctx, p, scrollByJS, &y, fraction)
}

// Anchors returns every link on the current page.
func Anchors(ctx context.Context, p Page) ([]Anchor, error) {
	var out []Anchor
	if err := Call(ctx, p, anchorsJS, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ElementCenter scrolls the first visible match into view and returns its
// centre. closest may be empty.
func ElementCenter(ctx context.Context, p Page, selectors []string, closest string) (Point, error) {
	var pt Point
	err := Call(ctx, p, elementCenterJS, &pt, selectors, closest)
	return pt, err
}

// Hover moves the mouse over the first visible match.
func Hover(ctx context.Context, p Page, selectors ...string) (bool, error) {
	pt, err := ElementCenter(ctx, p, selectors, "")
	if err != nil || !pt.Found {
		return false, err
	}
	return true, p.MouseMove(ctx, pt.X, pt.Y)
}

// ClickElement clicks the first visible match with real mouse events.
func ClickElement(ctx context.Context, p Page, selectors ...string) (bool, error) {
	pt, err := ElementCenter(ctx, p, selectors, "")
	if err != nil || !pt.Found {
		return false, err
	}
	if err := p.MouseMove(ctx, pt.X, pt.Y); err != nil {
		return false, err
	}
	return true, p.Click(ctx, pt.X, pt.Y)
}

// Keepalive replays hover events on an element so that menus that close
// on mouseleave stay open while they are driven.
type Keepalive struct {
	Name      string
	Selectors []string
	Closest   string
	Interval  time.Duration
}

// Start installs the keepalive interval on the page.
func (k Keepalive) Start(ctx context.Context, p Page) error {
	ms := k.Interval.Milliseconds()
	if ms <= 0 {
		ms = 250
	}
	var ok bool
	return Call(ctx, p, startKeepaliveJS, &ok, k.Name, k.Selectors, k.Closest, ms)
}

// Stop removes the keepalive interval. Errors are logged only, since the
// page may already be gone.
func (k Keepalive) Stop(ctx context.Context, p Page) {
	var ok bool
	if err := Call(ctx, p, stopKeepaliveJS, &ok, k.Name); err != nil {
		log.Debug("stop keepalive failed", logger.Fields{"name": k.Name, "err": err})
	}
}

// VideoVisible reports whether a video element is rendered on screen.
func VideoVisible(ctx context.Context, p Page) (bool, error) {
	var ok bool
	err := Call(ctx, p, videoVisibleJS, &ok)
	return ok, err
}

// ScrollUntilVideo scrolls down by step pixels until a video is visible or
// timeout elapses. Lazy players only mount once they are near the viewport.
func ScrollUntilVideo(ctx context.Context, p Page, timeout time.Duration, step float64) bool {
	err := Poll(ctx, timeout, 300*time.Millisecond, func(ctx context.Context) (bool, error) {
		ok, err := VideoVisible(ctx, p)
		if err != nil || ok {
			return ok, err
		}
		if step > 0 {
			var y float64
			return false, Call(ctx, p, scrollPxJS, &y, step)
		}
		return false, ScrollBy(ctx, p, 0.9)
	})
	return err == nil
}
