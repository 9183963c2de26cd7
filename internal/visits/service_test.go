package visits

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trapline/visits-platform/internal/taxonomy"
	"github.com/trapline/visits-platform/pkg/config"
)

// fakeStore serves Store queries from an in-memory recording list, which
// must be sorted ascending by start time.
type fakeStore struct {
	scope    Scope
	scopeErr error
	all      []Recording
	capped   map[ScopeKey]bool
}

func (f *fakeStore) ResolveScope(ctx context.Context, viewer Viewer, deviceIDs, groupIDs, stationIDs []int64) (Scope, error) {
	if f.scopeErr != nil {
		return Scope{}, f.scopeErr
	}
	return f.scope, nil
}

func (f *fakeStore) inRange(from, until time.Time) []Recording {
	var out []Recording
	for _, r := range f.all {
		if !r.Start.Before(from) && r.Start.Before(until) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeStore) CountRecordings(ctx context.Context, scope Scope, from, until time.Time, types []string) (int, error) {
	return len(f.inRange(from, until)), nil
}

func (f *fakeStore) DeviceSpans(ctx context.Context, deviceID int64, from, until time.Time, types []string, limit int) ([]Span, error) {
	var spans []Span
	for _, r := range f.inRange(from, until) {
		if r.DeviceID == deviceID {
			spans = append(spans, Span{Start: r.Start, End: r.End})
		}
	}
	if len(spans) > limit {
		spans = spans[len(spans)-limit:]
	}
	return spans, nil
}

func (f *fakeStore) ScopeSpans(ctx context.Context, scope Scope, from, until time.Time, types []string, limit int) ([]Span, error) {
	var spans []Span
	for _, r := range f.inRange(from, until) {
		spans = append(spans, Span{Start: r.Start, End: r.End})
	}
	if len(spans) > limit {
		spans = spans[len(spans)-limit:]
	}
	return spans, nil
}

func (f *fakeStore) NthRecordingStart(ctx context.Context, scope Scope, from, until time.Time, types []string, offset int) (time.Time, bool, error) {
	recs := f.inRange(from, until)
	if offset < 0 || offset >= len(recs) {
		return time.Time{}, false, nil
	}
	return recs[len(recs)-1-offset].Start, true, nil
}

func (f *fakeStore) EarliestStart(ctx context.Context, scope Scope, types []string) (time.Time, bool, error) {
	if len(f.all) == 0 {
		return time.Time{}, false, nil
	}
	return f.all[0].Start, true, nil
}

func (f *fakeStore) LatestSpanBefore(ctx context.Context, key ScopeKey, before time.Time, types []string) (*Span, error) {
	for i := len(f.all) - 1; i >= 0; i-- {
		r := f.all[i]
		if r.DeviceID != key.DeviceID || r.StationID != key.StationID {
			continue
		}
		if r.Start.Before(before) {
			return &Span{Start: r.Start, End: r.End}, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FetchRecordings(ctx context.Context, scope Scope, from, until time.Time, types []string, capPerKey int) ([]Recording, map[ScopeKey]bool, error) {
	capped := f.capped
	if capped == nil {
		capped = map[ScopeKey]bool{}
	}
	return f.inRange(from, until), capped, nil
}

type fakeNames struct {
	stations map[int64]Station
}

func (f *fakeNames) DeviceNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		out[id] = fmt.Sprintf("camera-%d", id)
	}
	return out, nil
}

func (f *fakeNames) Stations(ctx context.Context, ids []int64) (map[int64]Station, error) {
	out := make(map[int64]Station, len(ids))
	for _, id := range ids {
		if station, ok := f.stations[id]; ok {
			out[id] = station
		}
	}
	return out, nil
}

func newTestService(t *testing.T, store *fakeStore, stations map[int64]Station) *Service {
	t.Helper()
	tree, err := taxonomy.Parse([]byte(classifyTreeYAML))
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, &fakeNames{stations: stations}, nil, taxonomy.NewIndex(tree), config.NewConfig(), logger)
}

func taggedRec(id, device, station int64, start time.Time, durationSec int, tags ...Tag) Recording {
	return Recording{
		ID:        id,
		DeviceID:  device,
		StationID: station,
		Type:      "thermal",
		Start:     start,
		End:       start.Add(time.Duration(durationSec) * time.Second),
		Tracks:    []Track{{ID: id * 10, Tags: tags}},
	}
}

func TestQueryValidation(t *testing.T) {
	viewer := Viewer{UserID: 1}
	store := &fakeStore{scope: Scope{DeviceIDs: []int64{1}}}
	svc := newTestService(t, store, nil)

	from := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	until := from.Add(-time.Hour)

	tests := []struct {
		name     string
		params   Params
		messages int
	}{
		{"negative page", Params{Page: -1}, 1},
		{"page too large", Params{Page: 20000}, 1},
		{"page size too large", Params{PageSize: 500}, 1},
		{"until before from", Params{From: &from, Until: &until}, 1},
		{"multiple problems", Params{Page: -1, PageSize: 500, From: &from, Until: &until}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Query(context.Background(), viewer, tt.params)
			var invalid *InvalidQueryError
			require.ErrorAs(t, err, &invalid)
			require.Len(t, invalid.Messages, tt.messages)
		})
	}
}

func TestQueryScopeForbidden(t *testing.T) {
	store := &fakeStore{scopeErr: fmt.Errorf("%w: device 3", ErrScopeForbidden)}
	svc := newTestService(t, store, nil)

	_, err := svc.Query(context.Background(), Viewer{UserID: 1}, Params{})
	require.True(t, errors.Is(err, ErrScopeForbidden))
}

func TestQueryEmptyRange(t *testing.T) {
	store := &fakeStore{scope: Scope{DeviceIDs: []int64{1}}}
	svc := newTestService(t, store, nil)

	until := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	from := until.Add(-24 * time.Hour)
	result, err := svc.Query(context.Background(), Viewer{UserID: 1}, Params{From: &from, Until: &until})
	require.NoError(t, err)
	require.Empty(t, result.Visits)
	require.Equal(t, 0, result.Params.PagesEstimate)
	require.Equal(t, until, result.Params.SearchUntil)
	// With nothing to show, the page window is empty at the search end.
	require.Equal(t, result.Params.PageUntil, result.Params.PageFrom)
}

func TestQuerySingleVisit(t *testing.T) {
	base := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	store := &fakeStore{
		scope: Scope{DeviceIDs: []int64{1}},
		all: []Recording{
			taggedRec(1, 1, 5, base, 60, autoTag("possum", "Master", 0)),
			taggedRec(2, 1, 5, base.Add(5*time.Minute), 60, humanTag("possum", 1)),
			taggedRec(3, 1, 5, base.Add(9*time.Minute), 60),
		},
	}
	stations := map[int64]Station{5: {Name: "Gully Trap", Lat: -43.53, Lng: 172.63, HasLocation: true}}
	svc := newTestService(t, store, stations)

	from := base.Add(-time.Hour)
	until := base.Add(time.Hour)
	result, err := svc.Query(context.Background(), Viewer{UserID: 1}, Params{From: &from, Until: &until})
	require.NoError(t, err)
	require.Len(t, result.Visits, 1)

	visit := result.Visits[0]
	require.Equal(t, "camera-1", visit.Device)
	require.Equal(t, "Gully Trap", visit.Station)
	require.Equal(t, "possum", visit.Classification)
	require.True(t, visit.ClassFromUserTag)
	require.Equal(t, "possum", visit.ClassificationAI)
	require.False(t, visit.Incomplete)
	require.Equal(t, base, visit.TimeStart)
	require.Equal(t, base.Add(9*time.Minute+60*time.Second), visit.TimeEnd)
	require.Len(t, visit.Recordings, 3)
	require.Equal(t, 3, visit.Tracks)
	require.NotEmpty(t, visit.SunPeriod)

	require.Equal(t, 1, result.Params.Page)
	require.Equal(t, 1, result.Params.PagesEstimate)
	require.Equal(t, "Master", result.Params.CompareAI)
}

func TestQueryNewestFirst(t *testing.T) {
	base := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	store := &fakeStore{
		scope: Scope{DeviceIDs: []int64{1, 2}},
		all: []Recording{
			taggedRec(1, 1, 0, base, 60, humanTag("cat", 0)),
			taggedRec(2, 2, 0, base.Add(30*time.Minute), 60, humanTag("rat", 0)),
			taggedRec(3, 1, 0, base.Add(60*time.Minute), 60, humanTag("possum", 0)),
		},
	}
	svc := newTestService(t, store, nil)

	from := base.Add(-time.Hour)
	until := base.Add(2 * time.Hour)
	result, err := svc.Query(context.Background(), Viewer{UserID: 1}, Params{From: &from, Until: &until})
	require.NoError(t, err)
	require.Len(t, result.Visits, 3)
	require.Equal(t, "possum", result.Visits[0].Classification)
	require.Equal(t, "rat", result.Visits[1].Classification)
	require.Equal(t, "cat", result.Visits[2].Classification)
	for i := 1; i < len(result.Visits); i++ {
		require.False(t, result.Visits[i].TimeStart.After(result.Visits[i-1].TimeStart))
	}
}

func TestQueryStableOrderAcrossStations(t *testing.T) {
	base := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	store := &fakeStore{
		scope: Scope{DeviceIDs: []int64{1}},
		all: []Recording{
			taggedRec(1, 1, 2, base, 60, humanTag("cat", 0)),
			taggedRec(2, 1, 1, base, 60, humanTag("rat", 0)),
		},
	}
	svc := newTestService(t, store, nil)

	from := base.Add(-time.Hour)
	until := base.Add(time.Hour)
	// Same device, same start, two stations: station order must hold on
	// every run.
	for i := 0; i < 5; i++ {
		result, err := svc.Query(context.Background(), Viewer{UserID: 1}, Params{From: &from, Until: &until})
		require.NoError(t, err)
		require.Len(t, result.Visits, 2)
		require.Equal(t, int64(1), result.Visits[0].StationID)
		require.Equal(t, int64(2), result.Visits[1].StationID)
	}
}

// A visit whose recordings straddle the page boundary is included once it
// has a recording inside the window, and flagged incomplete because its
// true start lies before the window.
func TestQueryBoundaryIncomplete(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		scope: Scope{DeviceIDs: []int64{1, 2}},
		all: []Recording{
			// Starts 20:49, runs 300s to 20:54; merges with the 21:02
			// recording under the gap rule.
			taggedRec(1, 1, 0, day.Add(20*time.Hour+49*time.Minute), 300, humanTag("possum", 0)),
			// A different device's visit entirely before the window.
			taggedRec(2, 2, 0, day.Add(20*time.Hour+51*time.Minute), 60, humanTag("cat", 0)),
			taggedRec(3, 1, 0, day.Add(21*time.Hour+2*time.Minute), 60, humanTag("possum", 1)),
		},
	}
	svc := newTestService(t, store, nil)

	from := day.Add(21 * time.Hour)
	until := day.Add(22 * time.Hour)
	result, err := svc.Query(context.Background(), Viewer{UserID: 1}, Params{From: &from, Until: &until})
	require.NoError(t, err)

	require.Len(t, result.Visits, 1)
	visit := result.Visits[0]
	require.Equal(t, int64(1), visit.DeviceID)
	require.True(t, visit.Incomplete)

	// The 20:51 visit has no recording inside the window at all.
	for _, v := range result.Visits {
		require.NotEqual(t, int64(2), v.DeviceID)
	}
}

func TestQueryCapIncomplete(t *testing.T) {
	base := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	key := ScopeKey{DeviceID: 1}
	store := &fakeStore{
		scope: Scope{DeviceIDs: []int64{1}},
		all: []Recording{
			taggedRec(1, 1, 0, base, 60, humanTag("cat", 0)),
			taggedRec(2, 1, 0, base.Add(30*time.Minute), 60, humanTag("cat", 1)),
		},
		capped: map[ScopeKey]bool{key: true},
	}
	svc := newTestService(t, store, nil)

	from := base.Add(-time.Hour)
	until := base.Add(time.Hour)
	result, err := svc.Query(context.Background(), Viewer{UserID: 1}, Params{From: &from, Until: &until})
	require.NoError(t, err)
	require.Len(t, result.Visits, 2)

	// Only the earliest visit for the capped key is suspect.
	require.False(t, result.Visits[0].Incomplete)
	require.True(t, result.Visits[1].Incomplete)
}

func TestQueryPagination(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{scope: Scope{DeviceIDs: []int64{1}}}
	// Six well-separated recordings, one visit each.
	for i := int64(0); i < 6; i++ {
		store.all = append(store.all,
			taggedRec(i+1, 1, 0, base.Add(time.Duration(i)*30*time.Minute), 60, humanTag("possum", int(i))))
	}
	svc := newTestService(t, store, nil)

	from := base
	until := base.Add(6 * time.Hour)
	result, err := svc.Query(context.Background(), Viewer{UserID: 1}, Params{
		From: &from, Until: &until, Page: 2, PageSize: 2,
	})
	require.NoError(t, err)

	require.Equal(t, 2, result.Params.Page)
	require.Equal(t, 3, result.Params.PagesEstimate)
	require.Len(t, result.Visits, 2)
	// Page 1 holds the two newest visits; page 2 the next two, newest first.
	require.Equal(t, base.Add(90*time.Minute), result.Visits[0].TimeStart)
	require.Equal(t, base.Add(60*time.Minute), result.Visits[1].TimeStart)
	require.False(t, result.Visits[0].Incomplete)
	require.False(t, result.Visits[1].Incomplete)
}

func TestQueryPageBeyondData(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		scope: Scope{DeviceIDs: []int64{1}},
		all:   []Recording{taggedRec(1, 1, 0, base, 60, humanTag("cat", 0))},
	}
	svc := newTestService(t, store, nil)

	from := base.Add(-time.Hour)
	until := base.Add(time.Hour)
	result, err := svc.Query(context.Background(), Viewer{UserID: 1}, Params{
		From: &from, Until: &until, Page: 50,
	})
	require.NoError(t, err)
	require.Empty(t, result.Visits)
	require.Equal(t, 1, result.Params.PagesEstimate)
	require.Equal(t, result.Params.PageFrom, result.Params.PageUntil)
}

func TestQueryDefaultsSearchRange(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		scope: Scope{DeviceIDs: []int64{1}},
		all:   []Recording{taggedRec(1, 1, 0, base, 60, humanTag("cat", 0))},
	}
	svc := newTestService(t, store, nil)

	// No from/until: the range runs from the oldest visible recording to now.
	result, err := svc.Query(context.Background(), Viewer{UserID: 1}, Params{})
	require.NoError(t, err)
	require.Equal(t, base, result.Params.SearchFrom)
	require.True(t, result.Params.SearchUntil.After(base))
	require.Len(t, result.Visits, 1)
}
