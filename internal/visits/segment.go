package visits

import (
	"sort"
	"time"
)

// Segment is a visit candidate: a run of recordings at one device+station
// whose consecutive end-to-start gaps are all under the merge threshold.
type Segment struct {
	Key        ScopeKey
	Recordings []Recording
	Start      time.Time
	End        time.Time
	Incomplete bool
}

// SegmentRecordings partitions recordings into visit candidates using the
// maximum-gap rule. Recordings must arrive sorted ascending by start time;
// different device+station keys are segmented independently and never
// merged. A gap of exactly maxGap starts a new segment: merging requires
// gap strictly less than the threshold. Recordings with zero tracks still
// count for membership and span.
func SegmentRecordings(recordings []Recording, maxGap time.Duration) []Segment {
	var segments []Segment
	open := make(map[ScopeKey]*Segment)

	for _, rec := range recordings {
		key := ScopeKey{DeviceID: rec.DeviceID, StationID: rec.StationID}

		cur, ok := open[key]
		if !ok {
			open[key] = newSegment(key, rec)
			continue
		}

		// Merging is based on the gap from the open segment's running
		// end, not on distance from the segment's first recording.
		gap := rec.Start.Sub(cur.End)
		if gap < maxGap {
			cur.Recordings = append(cur.Recordings, rec)
			if rec.End.After(cur.End) {
				cur.End = rec.End
			}
			continue
		}

		segments = append(segments, *cur)
		open[key] = newSegment(key, rec)
	}

	for _, cur := range open {
		segments = append(segments, *cur)
	}

	sort.Slice(segments, func(i, j int) bool {
		if segments[i].Start.Equal(segments[j].Start) {
			if segments[i].Key.DeviceID == segments[j].Key.DeviceID {
				return segments[i].Key.StationID < segments[j].Key.StationID
			}
			return segments[i].Key.DeviceID < segments[j].Key.DeviceID
		}
		return segments[i].Start.Before(segments[j].Start)
	})

	return segments
}

func newSegment(key ScopeKey, rec Recording) *Segment {
	return &Segment{
		Key:        key,
		Recordings: []Recording{rec},
		Start:      rec.Start,
		End:        rec.End,
	}
}

// countSpanVisits runs the gap rule over bare spans and reports how many
// visits they would form. Used by the window clipper's density sampling.
func countSpanVisits(spans []Span, maxGap time.Duration) int {
	if len(spans) == 0 {
		return 0
	}

	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	visits := 1
	openEnd := sorted[0].End
	for _, span := range sorted[1:] {
		if span.Start.Sub(openEnd) < maxGap {
			if span.End.After(openEnd) {
				openEnd = span.End
			}
			continue
		}
		visits++
		openEnd = span.End
	}
	return visits
}
