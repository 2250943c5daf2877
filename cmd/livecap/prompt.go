package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ytget/livecap/errs"
	"github.com/ytget/livecap/sites"
	"github.com/ytget/livecap/types"
)

func printCategories(w io.Writer, site sites.Site, list []types.Category) {
	if len(list) == 0 {
		fmt.Fprintf(w, "No categories known for %s; paste a category URL.\n", site.Name())
		return
	}
	for i, c := range list {
		fmt.Fprintf(w, "%d. %s  |  %s\n", i+1, c.Name, c.URL)
	}
}

// promptCategory shows list and reads one selection: an index, a name or a
// pasted URL.
func promptCategory(in io.Reader, out io.Writer, site sites.Site, list []types.Category) (types.Category, error) {
	printCategories(out, site, list)
	fmt.Fprintln(out, "\nEnter a number to pick a category, or paste a category URL:")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return types.Category{}, err
	}
	choice := strings.TrimSpace(line)
	if choice == "" {
		return types.Category{}, fmt.Errorf("%w: nothing entered", errs.ErrUnknownCategory)
	}
	cat, err := sites.Resolve(site, choice, list)
	if err != nil {
		return cat, err
	}
	fmt.Fprintf(out, "Category set: %s\n", cat.FileLabel())
	return cat, nil
}
