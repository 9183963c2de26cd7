package visits

import (
	"testing"
	"time"
)

func TestDensityRatio(t *testing.T) {
	tests := []struct {
		name     string
		d        density
		expected float64
	}{
		{"no samples", density{}, 1},
		{"one to one", density{Recordings: 10, Visits: 10}, 1},
		{"dense visits", density{Recordings: 30, Visits: 10}, 3},
		{"never below one", density{Recordings: 5, Visits: 10}, 1},
		{"zero visits", density{Recordings: 5, Visits: 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.ratio(); got != tt.expected {
				t.Errorf("expected ratio %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestDensityAdd(t *testing.T) {
	a := density{Recordings: 10, Visits: 4}
	b := density{Recordings: 20, Visits: 6}
	sum := a.add(b)
	if sum.Recordings != 30 || sum.Visits != 10 {
		t.Errorf("expected {30 10}, got %+v", sum)
	}
}

func TestSampleDensity(t *testing.T) {
	base := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	span := func(startMin int) Span {
		start := base.Add(time.Duration(startMin) * time.Minute)
		return Span{Start: start, End: start.Add(time.Minute)}
	}

	// Two clusters of recordings separated by a long gap.
	spans := []Span{span(0), span(2), span(4), span(60), span(62), span(64)}
	d := sampleDensity(spans, 10*time.Minute)
	if d.Recordings != 6 {
		t.Errorf("expected 6 recordings, got %d", d.Recordings)
	}
	if d.Visits != 2 {
		t.Errorf("expected 2 visits, got %d", d.Visits)
	}
	if d.ratio() != 3 {
		t.Errorf("expected ratio 3, got %v", d.ratio())
	}
}

func TestEstimatePages(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		d        density
		pageSize int
		expected int
	}{
		{"no recordings", 0, density{Recordings: 10, Visits: 5}, 10, 0},
		{"exact fit", 100, density{Recordings: 10, Visits: 5}, 10, 5},
		{"rounds up", 101, density{Recordings: 10, Visits: 5}, 10, 6},
		{"sparse single page", 3, density{Recordings: 10, Visits: 10}, 10, 1},
		{"unsampled density", 40, density{}, 10, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := estimatePages(tt.total, tt.d, tt.pageSize); got != tt.expected {
				t.Errorf("expected %d pages, got %d", tt.expected, got)
			}
		})
	}
}

func TestRecordingsPerPage(t *testing.T) {
	tests := []struct {
		name     string
		pageSize int
		d        density
		expected int
	}{
		{"unsampled", 10, density{}, 10},
		{"triple density", 10, density{Recordings: 30, Visits: 10}, 30},
		{"rounded", 10, density{Recordings: 25, Visits: 10}, 25},
		{"never below page size", 10, density{Recordings: 5, Visits: 10}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := recordingsPerPage(tt.pageSize, tt.d); got != tt.expected {
				t.Errorf("expected %d recordings per page, got %d", tt.expected, got)
			}
		})
	}
}
