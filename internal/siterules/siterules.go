// Package siterules lets a user script override how a site recognises room
// URLs and labels categories, so a front-end change does not need a new
// build.
//
// The script is plain ES5 and may define either of
//
//	function normalizeRoom(href)   // canonical room URL, or null when href is not a room
//	function categoryLabel(url)    // file label, or null to use the built-in table
//
// Functions the script leaves out keep the built-in behaviour.
package siterules

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/internal/jscheck"
	"github.com/ytget/livecap/internal/logger"
	"github.com/ytget/livecap/sites"
)

const (
	normalizeFuncName = "normalizeRoom"
	labelFuncName     = "categoryLabel"

	// DefaultCallTimeout stops a rule that does not return.
	DefaultCallTimeout = time.Second
)

var log = logger.WithComponent(logger.ComponentSite)

var errHalt = errors.New("rule timed out")

// Rules is a site with script overrides. It is safe for concurrent use.
type Rules struct {
	sites.Site

	name      string
	timeout   time.Duration
	mu        sync.Mutex
	vm        *otto.Otto
	normalize bool
	label     bool
}

// Load reads the rules file at path and applies it to site.
func Load(site sites.Site, path string) (*Rules, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return New(site, path, string(src))
}

// New applies the rules script src to site. name is used in errors.
func New(site sites.Site, name, src string) (*Rules, error) {
	r := &Rules{Site: site, name: name, timeout: DefaultCallTimeout}
	if err := r.load(src); err != nil {
		return nil, err
	}
	return r, nil
}

// load compiles src into a fresh VM and swaps it in. On error the current
// rules stay in place.
func (r *Rules) load(src string) error {
	if err := jscheck.Program(r.name, src); err != nil {
		return err
	}
	vm := otto.New()
	_ = vm.Set("console", map[string]any{
		"log": func(call otto.FunctionCall) otto.Value {
			args := make([]string, len(call.ArgumentList))
			for i, a := range call.ArgumentList {
				args[i] = a.String()
			}
			log.Debug("rules console", logger.Fields{"script": r.name, "args": args})
			return otto.UndefinedValue()
		},
	})
	_ = vm.Set("siteName", r.Site.Name())
	if _, err := vm.Run(src); err != nil {
		return fmt.Errorf("%w: run %s: %v", errs.ErrScript, r.name, err)
	}
	normalize := isFunction(vm, normalizeFuncName)
	label := isFunction(vm, labelFuncName)
	if !normalize && !label {
		return fmt.Errorf("%w: %s defines neither %s nor %s", errs.ErrScript, r.name, normalizeFuncName, labelFuncName)
	}

	r.mu.Lock()
	r.vm, r.normalize, r.label = vm, normalize, label
	r.mu.Unlock()
	log.Info("site rules loaded", logger.Fields{
		"site":          r.Site.Name(),
		"script":        r.name,
		"normalizeRoom": normalize,
		"categoryLabel": label,
	})
	return nil
}

// WithTimeout sets the per-call time limit.
func (r *Rules) WithTimeout(d time.Duration) *Rules {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
	return r
}

// NormalizeRoomURL implements sites.Site. A script error falls back to the
// built-in rule.
func (r *Rules) NormalizeRoomURL(href string) (string, bool) {
	v, defined, err := r.call(normalizeFuncName, href)
	if !defined {
		return r.Site.NormalizeRoomURL(href)
	}
	if err != nil {
		log.Warn("normalizeRoom failed, using built-in", logger.Fields{"href": href, "err": err})
		return r.Site.NormalizeRoomURL(href)
	}
	if v.IsNull() || v.IsUndefined() {
		return "", false
	}
	s, err := v.ToString()
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

// CategoryLabel implements sites.Site. null, an empty string or a script
// error use the built-in table.
func (r *Rules) CategoryLabel(categoryURL string) string {
	v, defined, err := r.call(labelFuncName, categoryURL)
	if !defined {
		return r.Site.CategoryLabel(categoryURL)
	}
	if err != nil {
		log.Warn("categoryLabel failed, using built-in", logger.Fields{"url": categoryURL, "err": err})
		return r.Site.CategoryLabel(categoryURL)
	}
	if v.IsNull() || v.IsUndefined() {
		return r.Site.CategoryLabel(categoryURL)
	}
	s, err := v.ToString()
	if err != nil || s == "" {
		return r.Site.CategoryLabel(categoryURL)
	}
	return s
}

// call runs fn under the lock with the interrupt armed. defined is false
// when the loaded script has no such function.
func (r *Rules) call(fn string, arg string) (v otto.Value, defined bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch fn {
	case normalizeFuncName:
		defined = r.normalize
	case labelFuncName:
		defined = r.label
	}
	if !defined {
		return otto.UndefinedValue(), false, nil
	}

	interrupt := make(chan func(), 1)
	r.vm.Interrupt = interrupt
	timer := time.AfterFunc(r.timeout, func() {
		interrupt <- func() { panic(errHalt) }
	})
	defer func() {
		timer.Stop()
		if caught := recover(); caught != nil {
			if caught == errHalt {
				v, err = otto.UndefinedValue(), fmt.Errorf("%w: %s after %s", errs.ErrTimeout, fn, r.timeout)
				return
			}
			panic(caught)
		}
	}()
	v, err = r.vm.Call(fn, nil, arg)
	if err != nil {
		return otto.UndefinedValue(), true, fmt.Errorf("%w: %s: %v", errs.ErrScript, fn, err)
	}
	return v, true, nil
}

func isFunction(vm *otto.Otto, name string) bool {
	v, err := vm.Get(name)
	return err == nil && v.IsFunction()
}
