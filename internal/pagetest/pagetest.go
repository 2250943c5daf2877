// Package pagetest provides a scripted browser.Page for tests.
package pagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Handler answers one page script. args are the JSON arguments the
// script was called with.
type Handler func(args []json.RawMessage) (any, error)

// Point is a recorded mouse position.
type Point struct{ X, Y float64 }

// Page records navigation and mouse input and answers scripts registered
// with On. It also implements browser.Browser.
type Page struct {
	mu       sync.Mutex
	handlers []entry
	calls    map[string]int

	NavigateErr error
	Navigated   []string
	Moves       []Point
	Clicks      []Point
	Closed      int
	// Fallback answers scripts without a handler. Nil makes them fail.
	Fallback Handler
}

type entry struct {
	src string
	h   Handler
}

// New returns an empty Page.
func New() *Page {
	return &Page{calls: map[string]int{}}
}

// On registers h for the function expression src.
func (p *Page) On(src string, h Handler) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, entry{src: src, h: h})
	return p
}

// Return registers a handler that always returns v.
func (p *Page) Return(src string, v any) *Page {
	return p.On(src, func([]json.RawMessage) (any, error) { return v, nil })
}

// Calls returns how many times src was evaluated.
func (p *Page) Calls(src string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[src]
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigated = append(p.Navigated, url)
	return p.NavigateErr
}

// Evaluate implements browser.Page.
func (p *Page) Evaluate(ctx context.Context, expr string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, args, err := p.lookup(expr)
	if err != nil {
		return err
	}
	v, err := h(args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (p *Page) lookup(expr string) (Handler, []json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.handlers) - 1; i >= 0; i-- {
		e := p.handlers[i]
		prefix := "(" + e.src + ")("
		if !strings.HasPrefix(expr, prefix) {
			continue
		}
		p.calls[e.src]++
		raw := strings.TrimSuffix(strings.TrimPrefix(expr, prefix), ")")
		var args []json.RawMessage
		if err := json.Unmarshal([]byte("["+raw+"]"), &args); err != nil {
			return nil, nil, fmt.Errorf("pagetest: bad arguments %q: %v", raw, err)
		}
		return e.h, args, nil
	}
	if p.Fallback != nil {
		return p.Fallback, nil, nil
	}
	n := len(expr)
	if n > 60 {
		n = 60
	}
	return nil, nil, fmt.Errorf("pagetest: unhandled script %q", expr[:n])
}

// MouseMove implements browser.Page.
func (p *Page) MouseMove(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Moves = append(p.Moves, Point{x, y})
	return nil
}

// Click implements browser.Page.
func (p *Page) Click(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Clicks = append(p.Clicks, Point{x, y})
	return nil
}

// Close implements browser.Browser.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed++
	return nil
}

// String decodes a string argument.
func String(raw json.RawMessage) string {
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

// Strings decodes a string array argument.
func Strings(raw json.RawMessage) []string {
	var s []string
	_ = json.Unmarshal(raw, &s)
	return s
}
