// Package format renders resources, history and events for the CLI.
//
// Commands decide what to show; this package decides how it lines up.
// JSON output never comes through here.
package format

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jpl-au/collab/internal/diff"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/store"
)

const timeLayout = "2006-01-02 15:04"

// humanSize formats a byte count as human-readable (e.g., "1.2K", "3.4M").
func humanSize(bytes int64) string {
	const (
		_        = iota
		KB int64 = 1 << (10 * iota)
		MB
		GB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1fG", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1fM", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1fK", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

// Paths prints one path per line.
func Paths(w io.Writer, entries []engine.Entry) {
	for _, e := range entries {
		fmt.Fprintln(w, e.Path)
	}
}

// Long prints entries with kind, size and modification time. Fixed-width
// columns come first; the path goes last so long paths do not push the
// others out of line.
func Long(w io.Writer, entries []engine.Entry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "%-8s  %6s  %-16s  %s\n", "KIND", "SIZE", "MODIFIED", "PATH")
	for _, e := range entries {
		fmt.Fprintf(w, "%-8s  %6s  %-16s  %s\n", e.Kind, humanSize(e.Size), e.Modified.Local().Format(timeLayout), e.Path)
	}
}

// Tree prints entries as a directory tree.
func Tree(w io.Writer, entries []engine.Entry) {
	type node struct {
		children map[string]*node
		leaf     bool
	}
	root := &node{children: map[string]*node{}}
	for _, e := range entries {
		cur := root
		parts := strings.Split(e.Path, "/")
		for i, part := range parts {
			next := cur.children[part]
			if next == nil {
				next = &node{children: map[string]*node{}}
				cur.children[part] = next
			}
			cur = next
			if i == len(parts)-1 {
				cur.leaf = true
			}
		}
	}

	var walk func(n *node, prefix string)
	walk = func(n *node, prefix string) {
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for i, name := range names {
			child := n.children[name]
			connector, indent := "├── ", "│   "
			if i == len(names)-1 {
				connector, indent = "└── ", "    "
			}
			suffix := ""
			if !child.leaf {
				suffix = "/"
			}
			fmt.Fprintf(w, "%s%s%s%s\n", prefix, connector, name, suffix)
			walk(child, prefix+indent)
		}
	}
	walk(root, "")
}

// History prints versions newest first, one per line.
func History(w io.Writer, versions []store.Version) {
	for _, v := range versions {
		summary := "-"
		if v.Summary != "" {
			summary = fmt.Sprintf("%q", v.Summary)
		}
		fmt.Fprintf(w, "%s  v%-3d  %s  %-16s  %s\n", v.Key, v.Seq, v.Time().Local().Format(timeLayout), v.Author, summary)
	}
}

// HistoryDiff prints each version with the diff from the one before it.
// versions are newest first, as the store returns them.
func HistoryDiff(w io.Writer, versions []store.Version, colour bool) {
	for i := 0; i < len(versions)-1; i++ {
		newer, older := versions[i], versions[i+1]
		fmt.Fprintf(w, "=== v%d -> v%d (%s by %s) ===\n", older.Seq, newer.Seq, newer.Time().Local().Format(timeLayout), newer.Author)
		if newer.Summary != "" {
			fmt.Fprintf(w, "Summary: %s\n", newer.Summary)
		}
		r := diff.Compute(older.Content, newer.Content, fmt.Sprintf("v%d", older.Seq), fmt.Sprintf("v%d", newer.Seq))
		fmt.Fprint(w, r.Format(colour))
		fmt.Fprintln(w)
	}
}

// Event prints one event as a single line: time, stream, type, payload.
func Event(w io.Writer, e events.Event) {
	fmt.Fprintf(w, "%s  %s  %-20s  %-24s  %s\n", e.Time.Local().Format("15:04:05.000"), e.ID, e.Stream, e.Type, e.Payload)
}
