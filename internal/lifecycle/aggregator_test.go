package lifecycle

import (
	"strings"
	"testing"
)

func TestAggregatorCollapsesConsecutiveRepeats(t *testing.T) {
	agg := newBuildLogAggregator()
	agg.Add("npm install")
	agg.Add("added 120 packages")
	agg.Add("added 120 packages")
	agg.Add("added 120 packages")
	agg.Add("build complete")
	agg.Flush()

	snap := agg.Snapshot(0)
	joined := strings.Join(snap, "\n")
	if !strings.Contains(joined, "repeated 2 more times") {
		t.Fatalf("expected collapsed repeat marker, got %v", snap)
	}
	if strings.Count(joined, "added 120 packages") != 1 {
		t.Fatalf("expected the repeated line to appear once as a collapsed marker, got %v", snap)
	}
}

func TestAggregatorSnapshotLimit(t *testing.T) {
	agg := ingestAll([]string{"a", "b", "c", "d", "e"})
	if got := agg.Snapshot(2); len(got) != 2 || got[1] != "e" {
		t.Fatalf("expected last 2 lines, got %v", got)
	}
	if got := agg.Snapshot(0); len(got) != 5 {
		t.Fatalf("expected full tail, got %v", got)
	}
}

func TestAggregatorBoundedTail(t *testing.T) {
	lines := make([]string, buildLogTailSize+10)
	for i := range lines {
		lines[i] = "line"
	}
	// Break up the run so nothing collapses, to exercise the bound itself.
	for i := range lines {
		lines[i] = lines[i] + " " + string(rune('a'+i%26))
	}
	agg := ingestAll(lines)
	if got := len(agg.Snapshot(0)); got != buildLogTailSize {
		t.Fatalf("expected tail bounded at %d, got %d", buildLogTailSize, got)
	}
}
