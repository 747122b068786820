package audio

import (
	"strings"
	"testing"
)

func TestDuckRegionsPadAndClamp(t *testing.T) {
	narr := []SceneNarration{
		{SceneID: 1, StartMs: 0, DurationMs: 2000},
		{SceneID: 2, StartMs: 5000, DurationMs: 2000},
	}
	regions := DuckRegions(narr, 8000)
	if len(regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(regions))
	}
	if regions[0].StartMs != 0 {
		t.Fatalf("leading pad must clamp to 0, got %d", regions[0].StartMs)
	}
	if regions[0].EndMs != 2100 {
		t.Fatalf("expected trailing pad of 100ms, got end %d", regions[0].EndMs)
	}
	if regions[1].StartMs != 4900 || regions[1].EndMs != 7100 {
		t.Fatalf("second region misplaced: %+v", regions[1])
	}
}

func TestDuckRegionsMergeOverlaps(t *testing.T) {
	narr := []SceneNarration{
		{SceneID: 1, StartMs: 0, DurationMs: 3000},
		{SceneID: 2, StartMs: 3100, DurationMs: 2000},
	}
	// Gap is 100ms; padding closes it.
	regions := DuckRegions(narr, 10000)
	if len(regions) != 1 {
		t.Fatalf("adjacent spans must merge, got %d regions", len(regions))
	}
	if regions[0].StartMs != 0 || regions[0].EndMs != 5200 {
		t.Fatalf("merged span wrong: %+v", regions[0])
	}
}

func TestDuckRegionsClampToTotal(t *testing.T) {
	narr := []SceneNarration{{SceneID: 1, StartMs: 9500, DurationMs: 2000}}
	regions := DuckRegions(narr, 10000)
	if len(regions) != 1 {
		t.Fatalf("expected 1 region, got %d", len(regions))
	}
	if regions[0].EndMs != 10000 {
		t.Fatalf("region must clamp to total, got end %d", regions[0].EndMs)
	}
}

func TestDuckRegionsEmpty(t *testing.T) {
	if got := DuckRegions(nil, 10000); got != nil {
		t.Fatalf("expected nil for no narrations, got %v", got)
	}
	if got := DuckRegions([]SceneNarration{{StartMs: 0, DurationMs: 0}}, 10000); got != nil {
		t.Fatalf("zero-length spans must produce no regions, got %v", got)
	}
}

func TestDuckFilterShape(t *testing.T) {
	filter := DuckFilter([]DuckRegion{{StartMs: 1000, EndMs: 3000}})
	if filter == "" {
		t.Fatalf("expected a filter string")
	}
	if !strings.Contains(filter, "between(t,1.000,3.000)") {
		t.Fatalf("full-depth span missing: %s", filter)
	}
	if !strings.Contains(filter, "-12dB") || !strings.Contains(filter, "-6dB") {
		t.Fatalf("expected stepped gains in filter: %s", filter)
	}
	if DuckFilter(nil) != "" {
		t.Fatalf("no regions must produce no filter")
	}
}
