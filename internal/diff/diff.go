// Package diff computes differences between resource contents: readable
// unified-style output for version comparisons, and positional hunks for
// fork synchronisation and merge.
package diff

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is the number of unchanged lines shown before/after changes.
// When equal sections exceed 2*contextLines, they're collapsed with "...".
const contextLines = 3

// Result holds diff output.
type Result struct {
	Old       string `json:"from"` // old label
	New       string `json:"to"`   // new label
	Diff      string `json:"diff"` // plain diff text
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Compute returns a diff between old and new content.
func Compute(oldContent, newContent, oldLabel, newLabel string) Result {
	dmp := diffmatchpatch.New()
	d := dmp.DiffMain(oldContent, newContent, false)
	d = dmp.DiffCleanupSemantic(d)

	r := Result{Old: oldLabel, New: newLabel, Diff: format(d)}
	for _, line := range strings.Split(r.Diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+ "):
			r.Additions++
		case strings.HasPrefix(line, "- "):
			r.Deletions++
		}
	}
	return r
}

// format converts diffs to unified-style text.
func format(diffs []diffmatchpatch.Diff) string {
	var b strings.Builder
	for _, d := range diffs {
		// Trim trailing newline to avoid artefact empty string from Split
		text := strings.TrimSuffix(d.Text, "\n")
		if text == "" {
			continue
		}
		lines := strings.Split(text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			for _, l := range lines {
				b.WriteString("- " + l + "\n")
			}
		case diffmatchpatch.DiffInsert:
			for _, l := range lines {
				b.WriteString("+ " + l + "\n")
			}
		case diffmatchpatch.DiffEqual:
			if len(lines) > 2*contextLines {
				for i := range contextLines {
					b.WriteString("  " + lines[i] + "\n")
				}
				b.WriteString("  ...\n")
				for i := len(lines) - contextLines; i < len(lines); i++ {
					b.WriteString("  " + lines[i] + "\n")
				}
			} else {
				for _, l := range lines {
					b.WriteString("  " + l + "\n")
				}
			}
		}
	}
	return b.String()
}

// Colourise adds ANSI colours to diff output.
func Colourise(d string) string {
	const (
		red   = "\033[31m"
		green = "\033[32m"
		reset = "\033[0m"
	)

	var b strings.Builder
	for _, line := range strings.Split(d, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "- "):
			b.WriteString(red + line + reset + "\n")
		case strings.HasPrefix(line, "+ "):
			b.WriteString(green + line + reset + "\n")
		default:
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

// Format returns the full diff with header.
func (r Result) Format(colour bool) string {
	header := fmt.Sprintf("--- %s\n+++ %s\n", r.Old, r.New)
	if colour {
		return header + Colourise(r.Diff)
	}
	return header + r.Diff
}

// Hunk is one contiguous change that turns a into b: the code points
// [Start, End) of a are replaced by Text. A pure insertion has Start == End.
type Hunk struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Overlaps reports whether h touches the half-open range [start, end).
// Insertions count as touching the position they occupy, so two inserts at
// the same offset overlap.
func (h Hunk) Overlaps(start, end int) bool {
	if h.Start == h.End || start == end {
		return h.Start <= end && start <= h.End
	}
	return h.Start < end && start < h.End
}

// Hunks returns the changes from a to b in ascending position. Positions
// count code points of a.
func Hunks(a, b string) []Hunk {
	if a == b {
		return nil
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)

	var out []Hunk
	var cur *Hunk
	pos := 0
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
			pos += n
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &Hunk{Start: pos, End: pos}
			}
			cur.End += n
			pos += n
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &Hunk{Start: pos, End: pos}
			}
			cur.Text += d.Text
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// AnyOverlap reports whether any hunk in hs touches [start, end).
func AnyOverlap(hs []Hunk, start, end int) bool {
	for _, h := range hs {
		if h.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// ParseVersionRange parses a version range string like "3:5" into two
// sequence numbers.
func ParseVersionRange(s string) (v1, v2 int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid version range %q (expected v1:v2)", s)
	}
	if parts[0] == "" || parts[1] == "" {
		return 0, 0, fmt.Errorf("invalid version range %q: both versions required", s)
	}
	v1, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start version: %w", err)
	}
	v2, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end version: %w", err)
	}
	if v1 < 1 {
		return 0, 0, fmt.Errorf("start version must be >= 1, got %d", v1)
	}
	if v2 < 1 {
		return 0, 0, fmt.Errorf("end version must be >= 1, got %d", v2)
	}
	return v1, v2, nil
}
