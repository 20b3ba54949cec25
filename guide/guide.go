// Package guide provides access to embedded help pages used by the CLI's
// guide command and the get_guide tool.
package guide

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
)

//go:embed *.md
var files embed.FS

// ErrUnknownTopic is returned by Get for topics with no page.
var ErrUnknownTopic = errors.New("unknown guide topic")

// Get returns the content of a guide page by name. If `name` is empty
// the default "guide" page is returned.
func Get(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "guide"
	}
	if strings.ContainsAny(name, `/\.`) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTopic, name)
	}
	data, err := files.ReadFile(name + ".md")
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownTopic, name)
	}
	return string(data), nil
}

// List returns the available guide page names (without the .md suffix).
func List() ([]string, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if name != "guide.md" {
			names = append(names, strings.TrimSuffix(name, ".md"))
		}
	}
	sort.Strings(names)
	return names, nil
}
