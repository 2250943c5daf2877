// Package jscheck compiles page scripts ahead of time so a broken script
// is reported at startup instead of inside a running browser.
package jscheck

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dop251/goja"

	"github.com/ytget/livecap/errs"
)

// Error describes a script that does not compile.
type Error struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("script %s: %s", e.Name, e.Message)
}

// Unwrap makes errors.Is(err, errs.ErrScript) hold.
func (e *Error) Unwrap() error { return errs.ErrScript }

// MarshalJSON implements json.Marshaler
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal(&struct {
		*Alias
		Error string `json:"error"`
	}{
		Alias: (*Alias)(e),
		Error: e.Error(),
	})
}

// Function compiles src as a function expression, the form page scripts
// are invoked in.
func Function(name, src string) error {
	if _, err := goja.Compile(name, "("+src+")", false); err != nil {
		return &Error{Name: name, Message: err.Error()}
	}
	return nil
}

// Program compiles src as a whole script.
func Program(name, src string) error {
	if _, err := goja.Compile(name, src, false); err != nil {
		return &Error{Name: name, Message: err.Error()}
	}
	return nil
}

// Functions compiles every script in scripts and returns the failures
// sorted by name.
func Functions(scripts map[string]string) []error {
	names := make([]string, 0, len(scripts))
	for n := range scripts {
		names = append(names, n)
	}
	sort.Strings(names)
	var out []error
	for _, n := range names {
		if err := Function(n, scripts[n]); err != nil {
			out = append(out, err)
		}
	}
	return out
}
