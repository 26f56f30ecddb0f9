package fsdiff

import (
	"fmt"
	"strings"
)

// Short returns one line per record: "<marker> <path> (<summary>)".
func (r *FsDiffResults) Short() string {
	var b strings.Builder
	for _, rec := range r.Records {
		fmt.Fprintf(&b, "%s %s (%s)\n", marker(rec.DiffType), rec.Path, rec.ChangeSummary())
	}
	return strings.TrimRight(b.String(), "\n")
}

// Full renders every record's change list alongside its summary.
func (r *FsDiffResults) Full() string {
	var b strings.Builder
	for _, rec := range r.Records {
		fmt.Fprintf(&b, "%s %s (%s)\n", marker(rec.DiffType), rec.Path, rec.ChangeSummary())
		for _, c := range rec.Changes {
			fmt.Fprintf(&b, "    %s\n", c)
		}
		if rec.DiffType == Moved {
			fmt.Fprintf(&b, "    moved_from: %s\n", rec.MovedFrom)
			fmt.Fprintf(&b, "    moved_to: %s\n", rec.MovedTo)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Summary returns a one-line per-type count summary, e.g.
// "3 added, 1 removed, 2 modified".
func (r *FsDiffResults) Summary() string {
	counts := []struct {
		t DiffType
		n string
	}{
		{Added, "added"}, {Removed, "removed"}, {Modified, "modified"},
		{Moved, "moved"}, {TypeChanged, "type changed"},
	}
	var parts []string
	for _, c := range counts {
		if n := r.CountByType(c.t); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, c.n))
		}
	}
	if len(parts) == 0 {
		return "no differences"
	}
	return strings.Join(parts, ", ")
}

func marker(t DiffType) string {
	switch t {
	case Added:
		return "[+]"
	case Removed:
		return "[-]"
	case Modified:
		return "[*]"
	case Moved:
		return "[x]"
	case TypeChanged:
		return "[!]"
	default:
		return "[ ]"
	}
}

// Diff renders a unified diff of every record's content, optionally
// prefixed with a diffstat line, grounded on spec.md §4.6's "diff a/<path>
// b/<path>" header convention.
func (r *FsDiffResults) Diff(stat bool) string {
	var b strings.Builder
	if stat {
		fmt.Fprintln(&b, r.diffStat())
	}
	for _, rec := range r.Records {
		if rec.ContentDiff == nil {
			continue
		}
		fmt.Fprintf(&b, "diff a/%s b/%s\n", rec.Path, rec.Path)
		switch rec.DiffType {
		case Added:
			fmt.Fprintln(&b, "--- /dev/null")
			fmt.Fprintf(&b, "+++ b/%s\n", rec.Path)
		case Removed:
			fmt.Fprintf(&b, "--- a/%s\n", rec.Path)
			fmt.Fprintln(&b, "+++ /dev/null")
		default:
			fmt.Fprintf(&b, "--- a/%s\n", rec.Path)
			fmt.Fprintf(&b, "+++ b/%s\n", rec.Path)
		}
		if rec.ContentDiff.Binary {
			fmt.Fprintln(&b, "Binary files differ")
			continue
		}
		b.WriteString(rec.ContentDiff.Unified)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *FsDiffResults) diffStat() string {
	var files, added, removed int
	for _, rec := range r.Records {
		if rec.ContentDiff == nil || rec.ContentDiff.Binary {
			continue
		}
		files++
		added += rec.ContentDiff.LinesAdded
		removed += rec.ContentDiff.LinesRemoved
	}
	return fmt.Sprintf("%d file(s) changed, %d insertion(s), %d deletion(s)", files, added, removed)
}

// JSON renders results as a record-keyed JSON document.
func (r *FsDiffResults) JSON(pretty bool) (string, error) {
	return marshalResults(r, pretty)
}
