package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/jeanpaul/fitcache/internal/gateway"
)

// renderEntries prints one "key = value" block per entry in key order, with
// JSON values indented so nested changes diff line by line.
func renderEntries(entries map[string]string) string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %s\n", k, prettyValue(entries[k]))
	}
	return b.String()
}

func prettyValue(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return string(out)
}

// snapshotDiff returns a unified diff from the saved snapshot to the live
// one, or "" when they hold the same values.
func snapshotDiff(savedName string, saved, live *gateway.Snapshot) string {
	from := renderEntries(saved.Entries)
	to := renderEntries(live.Entries)
	if from == to {
		return ""
	}
	edits := myers.ComputeEdits(span.URIFromPath(savedName), from, to)
	return fmt.Sprint(gotextdiff.ToUnified(savedName, "live", from, edits))
}

func colorizeDiff(diff string) string {
	lines := strings.Split(strings.TrimRight(diff, "\n"), "\n")
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "---"):
			lines[i] = labelStyle.Render(l)
		case strings.HasPrefix(l, "@@"):
			lines[i] = hunkStyle.Render(l)
		case strings.HasPrefix(l, "+"):
			lines[i] = addedStyle.Render(l)
		case strings.HasPrefix(l, "-"):
			lines[i] = removedStyle.Render(l)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
