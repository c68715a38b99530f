package workspace

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffContext is the number of unchanged lines kept around each change.
const diffContext = 3

// Diff renders a line diff of every file that differs between two snapshots,
// in path order. Unchanged files are omitted.
func Diff(before, after Snapshot) string {
	paths := make(map[string]bool, len(before)+len(after))
	for p := range before {
		paths[p] = true
	}
	for p := range after {
		paths[p] = true
	}
	all := make(Snapshot, len(paths))
	for p := range paths {
		all[p] = ""
	}

	dmp := diffmatchpatch.New()
	var b strings.Builder
	for _, p := range all.Paths() {
		old, hadOld := before[p]
		cur, hasCur := after[p]
		if hadOld && hasCur && old == cur {
			continue
		}

		from, to := "a/"+p, "b/"+p
		if !hadOld {
			from = "/dev/null"
		}
		if !hasCur {
			to = "/dev/null"
		}
		fmt.Fprintf(&b, "--- %s\n+++ %s\n", from, to)
		writeLineDiff(&b, dmp, old, cur)
	}
	return b.String()
}

func writeLineDiff(b *strings.Builder, dmp *diffmatchpatch.DiffMatchPatch, old, cur string) {
	a, c, lines := dmp.DiffLinesToChars(old, cur)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, c, false), lines)

	for i, d := range diffs {
		text := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			for _, l := range text {
				b.WriteString("+" + l + "\n")
			}
		case diffmatchpatch.DiffDelete:
			for _, l := range text {
				b.WriteString("-" + l + "\n")
			}
		case diffmatchpatch.DiffEqual:
			head, tail := diffContext, diffContext
			if i == 0 {
				head = 0
			}
			if i == len(diffs)-1 {
				tail = 0
			}
			if len(text) <= head+tail {
				for _, l := range text {
					b.WriteString(" " + l + "\n")
				}
				continue
			}
			for _, l := range text[:head] {
				b.WriteString(" " + l + "\n")
			}
			fmt.Fprintf(b, "@@ %d unchanged line(s) @@\n", len(text)-head-tail)
			for _, l := range text[len(text)-tail:] {
				b.WriteString(" " + l + "\n")
			}
		}
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
