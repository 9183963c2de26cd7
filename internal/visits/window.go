package visits

import (
	"math"
	"time"
)

// Window is the clipped time range for one page, plus the whole-range
// page estimate. The store can only be queried by time range efficiently,
// so the clipper converts a target visit count into an approximate
// recording count and walks recording start times backward from the
// search end (page 1 is the most recent).
type Window struct {
	SearchFrom    time.Time
	SearchUntil   time.Time
	PageFrom      time.Time
	PageUntil     time.Time
	PagesEstimate int
}

// density is a measured recordings-per-visit sample for one device.
type density struct {
	Recordings int
	Visits     int
}

// ratio converts accumulated density samples into recordings per visit,
// never below 1.
func (d density) ratio() float64 {
	if d.Visits <= 0 || d.Recordings <= 0 {
		return 1
	}
	r := float64(d.Recordings) / float64(d.Visits)
	if r < 1 {
		return 1
	}
	return r
}

func (d density) add(other density) density {
	return density{Recordings: d.Recordings + other.Recordings, Visits: d.Visits + other.Visits}
}

// sampleDensity measures recordings-per-visit over a bounded sample of
// spans by running the same gap rule segmentation uses.
func sampleDensity(spans []Span, maxGap time.Duration) density {
	return density{Recordings: len(spans), Visits: countSpanVisits(spans, maxGap)}
}

// estimatePages converts a total recording count into a page count for
// the requested page size, using the sampled density.
func estimatePages(totalRecordings int, d density, pageSize int) int {
	if totalRecordings == 0 {
		return 0
	}
	expectedVisits := float64(totalRecordings) / d.ratio()
	pages := int(math.Ceil(expectedVisits / float64(pageSize)))
	if pages < 1 {
		pages = 1
	}
	return pages
}

// recordingsPerPage is the expected number of recordings that yield
// approximately pageSize visits.
func recordingsPerPage(pageSize int, d density) int {
	n := int(math.Round(float64(pageSize) * d.ratio()))
	if n < pageSize {
		n = pageSize
	}
	return n
}
