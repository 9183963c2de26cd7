package visits

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/trapline/visits-platform/internal/taxonomy"
	"github.com/trapline/visits-platform/pkg/config"
	rediskit "github.com/trapline/visits-platform/pkg/redis"
)

// Store is the recording-store collaborator. All calls are synchronous
// reads; the engine never mutates stored data.
type Store interface {
	ResolveScope(ctx context.Context, viewer Viewer, deviceIDs, groupIDs, stationIDs []int64) (Scope, error)
	CountRecordings(ctx context.Context, scope Scope, from, until time.Time, types []string) (int, error)
	DeviceSpans(ctx context.Context, deviceID int64, from, until time.Time, types []string, limit int) ([]Span, error)
	ScopeSpans(ctx context.Context, scope Scope, from, until time.Time, types []string, limit int) ([]Span, error)
	NthRecordingStart(ctx context.Context, scope Scope, from, until time.Time, types []string, offset int) (time.Time, bool, error)
	EarliestStart(ctx context.Context, scope Scope, types []string) (time.Time, bool, error)
	LatestSpanBefore(ctx context.Context, key ScopeKey, before time.Time, types []string) (*Span, error)
	FetchRecordings(ctx context.Context, scope Scope, from, until time.Time, types []string, capPerKey int) ([]Recording, map[ScopeKey]bool, error)
}

// Names resolves display identity for visit records.
type Names interface {
	DeviceNames(ctx context.Context, ids []int64) (map[int64]string, error)
	Stations(ctx context.Context, ids []int64) (map[int64]Station, error)
}

// Params is a visit page query as received from the HTTP layer.
type Params struct {
	Devices  []int64
	Groups   []int64
	Stations []int64
	From     *time.Time
	Until    *time.Time
	Page     int
	PageSize int
	// CompareAI names the automatic model the classificationAi field is
	// computed against. Empty means the configured default.
	CompareAI string
	Types     []string
}

// Service computes visit pages. Each request operates on data it owns
// exclusively; the only shared state is the immutable taxonomy index.
type Service struct {
	store    Store
	names    Names
	cache    rediskit.Client // optional; nil disables density caching
	resolver *Resolver
	cfg      *config.Config
	logger   *slog.Logger
}

// NewService creates the visit engine
func NewService(store Store, names Names, cache rediskit.Client, index *taxonomy.Index, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		names:    names,
		cache:    cache,
		resolver: NewResolver(index, cfg.DefaultAIModel),
		cfg:      cfg,
		logger:   logger,
	}
}

type searchRange struct {
	From  time.Time
	Until time.Time
}

// Query computes one page of visits for the viewer. It fails atomically:
// either a full page is returned or an error, never partial results.
func (s *Service) Query(ctx context.Context, viewer Viewer, p Params) (*Result, error) {
	p = s.applyDefaults(p)
	if err := s.validate(p); err != nil {
		return nil, err
	}

	scope, err := s.store.ResolveScope(ctx, viewer, p.Devices, p.Groups, p.Stations)
	if err != nil {
		return nil, err
	}

	win, err := s.searchRange(ctx, scope, p)
	if err != nil {
		return nil, err
	}

	window, err := s.clipWindow(ctx, scope, win, p)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Params: ResultParams{
			Page:          p.Page,
			PagesEstimate: window.PagesEstimate,
			SearchFrom:    window.SearchFrom,
			SearchUntil:   window.SearchUntil,
			PageFrom:      window.PageFrom,
			PageUntil:     window.PageUntil,
			CompareAI:     p.CompareAI,
		},
		Visits: []Visit{},
	}
	if window.PageFrom.Equal(window.PageUntil) {
		return result, nil
	}

	recordings, capped, err := s.store.FetchRecordings(ctx, scope, window.PageFrom, window.PageUntil, p.Types, s.cfg.RecordingCap)
	if err != nil {
		return nil, err
	}

	segments := SegmentRecordings(recordings, s.cfg.VisitGap())
	if err := s.flagIncomplete(ctx, segments, window.PageFrom, p.Types, capped); err != nil {
		return nil, err
	}

	visits, err := s.assemble(ctx, segments, p.CompareAI)
	if err != nil {
		return nil, err
	}
	result.Visits = visits
	return result, nil
}

func (s *Service) applyDefaults(p Params) Params {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PageSize == 0 {
		p.PageSize = s.cfg.MaxPageSize
	}
	if p.CompareAI == "" {
		p.CompareAI = s.cfg.DefaultAIModel
	}
	if len(p.Types) == 0 {
		p.Types = []string{"thermal"}
	}
	return p
}

func (s *Service) validate(p Params) error {
	var messages []string
	if p.Page < 1 || p.Page > s.cfg.MaxPage {
		messages = append(messages, fmt.Sprintf("page must be between 1 and %d", s.cfg.MaxPage))
	}
	if p.PageSize < 1 || p.PageSize > s.cfg.MaxPageSize {
		messages = append(messages, fmt.Sprintf("page-size must be between 1 and %d", s.cfg.MaxPageSize))
	}
	if p.From != nil && p.Until != nil && p.Until.Before(*p.From) {
		messages = append(messages, "until must not be before from")
	}
	if len(messages) > 0 {
		return invalidQuery(messages...)
	}
	return nil
}

// searchRange fills in the open-ended sides of the caller's range: an
// absent until means now, an absent from means the oldest recording
// visible in scope.
func (s *Service) searchRange(ctx context.Context, scope Scope, p Params) (searchRange, error) {
	until := time.Now()
	if p.Until != nil {
		until = *p.Until
	}

	from := until
	if p.From != nil {
		from = *p.From
	} else {
		earliest, ok, err := s.store.EarliestStart(ctx, scope, p.Types)
		if err != nil {
			return searchRange{}, err
		}
		if ok && earliest.Before(until) {
			from = earliest
		}
	}
	return searchRange{From: from, Until: until}, nil
}

// clipWindow narrows the search range to a sub-range expected to contain
// approximately pageSize visits, walking backward from the search end so
// page 1 holds the most recent visits.
func (s *Service) clipWindow(ctx context.Context, scope Scope, win searchRange, p Params) (Window, error) {
	window := Window{
		SearchFrom:  win.From,
		SearchUntil: win.Until,
		PageFrom:    win.From,
		PageUntil:   win.Until,
	}

	total, err := s.store.CountRecordings(ctx, scope, win.From, win.Until, p.Types)
	if err != nil {
		return Window{}, err
	}
	if total == 0 {
		window.PageFrom = win.Until
		return window, nil
	}

	d := s.scopeDensity(ctx, scope, win, p.Types)
	window.PagesEstimate = estimatePages(total, d, p.PageSize)
	perPage := recordingsPerPage(p.PageSize, d)

	if p.Page > 1 {
		// The previous page's oldest recording bounds this page from
		// above, exclusively.
		boundary, ok, err := s.store.NthRecordingStart(ctx, scope, win.From, win.Until, p.Types, (p.Page-1)*perPage-1)
		if err != nil {
			return Window{}, err
		}
		if !ok {
			// Page beyond the available data.
			window.PageFrom = win.From
			window.PageUntil = win.From
			return window, nil
		}
		window.PageUntil = boundary
	}

	// The oldest recording on this page bounds it from below, inclusively.
	boundary, ok, err := s.store.NthRecordingStart(ctx, scope, win.From, win.Until, p.Types, p.Page*perPage-1)
	if err != nil {
		return Window{}, err
	}
	if ok {
		window.PageFrom = boundary
	}

	if window.PageFrom.After(window.PageUntil) {
		window.PageFrom = window.PageUntil
	}
	return window, nil
}

// flagIncomplete marks visits whose true extent is uncertain: the page's
// earliest visit per device+station when a recording just before pageFrom
// would have merged into it, and any visit truncated by the per-device
// fetch cap.
func (s *Service) flagIncomplete(ctx context.Context, segments []Segment, pageFrom time.Time, types []string, capped map[ScopeKey]bool) error {
	earliest := make(map[ScopeKey]*Segment)
	for i := range segments {
		seg := &segments[i]
		if cur, ok := earliest[seg.Key]; !ok || seg.Start.Before(cur.Start) {
			earliest[seg.Key] = seg
		}
	}

	for key, seg := range earliest {
		if capped[key] {
			seg.Incomplete = true
			continue
		}
		span, err := s.store.LatestSpanBefore(ctx, key, pageFrom, types)
		if err != nil {
			return err
		}
		if span != nil && seg.Start.Sub(span.End) < s.cfg.VisitGap() {
			seg.Incomplete = true
		}
	}
	return nil
}

// assemble joins segments with classifications and display names and
// orders them newest first.
func (s *Service) assemble(ctx context.Context, segments []Segment, compareAI string) ([]Visit, error) {
	deviceIDs := make([]int64, 0, len(segments))
	stationIDs := make([]int64, 0, len(segments))
	seenDevice := make(map[int64]bool)
	seenStation := make(map[int64]bool)
	for _, seg := range segments {
		if !seenDevice[seg.Key.DeviceID] {
			seenDevice[seg.Key.DeviceID] = true
			deviceIDs = append(deviceIDs, seg.Key.DeviceID)
		}
		if seg.Key.StationID != 0 && !seenStation[seg.Key.StationID] {
			seenStation[seg.Key.StationID] = true
			stationIDs = append(stationIDs, seg.Key.StationID)
		}
	}

	deviceNames, err := s.names.DeviceNames(ctx, deviceIDs)
	if err != nil {
		return nil, err
	}
	stations, err := s.names.Stations(ctx, stationIDs)
	if err != nil {
		return nil, err
	}

	visits := make([]Visit, 0, len(segments))
	for i := range segments {
		visits = append(visits, s.buildVisit(&segments[i], compareAI, deviceNames, stations))
	}

	sort.Slice(visits, func(i, j int) bool {
		if visits[i].TimeStart.Equal(visits[j].TimeStart) {
			if visits[i].DeviceID == visits[j].DeviceID {
				return visits[i].StationID < visits[j].StationID
			}
			return visits[i].DeviceID < visits[j].DeviceID
		}
		return visits[i].TimeStart.After(visits[j].TimeStart)
	})
	return visits, nil
}

func (s *Service) buildVisit(seg *Segment, compareAI string, deviceNames map[int64]string, stations map[int64]Station) Visit {
	classification, classificationAI := s.resolver.Resolve(seg.Recordings, compareAI)

	visit := Visit{
		Device:           deviceNames[seg.Key.DeviceID],
		DeviceID:         seg.Key.DeviceID,
		StationID:        seg.Key.StationID,
		TimeStart:        seg.Start,
		TimeEnd:          seg.End,
		Classification:   classification.Label,
		ClassFromUserTag: classification.FromHuman,
		ClassificationAI: classificationAI,
		Incomplete:       seg.Incomplete,
	}

	if station, ok := stations[seg.Key.StationID]; ok {
		visit.Station = station.Name
		if station.HasLocation {
			visit.SunPeriod = sunPeriod(seg.Start, station.Lat, station.Lng)
		}
	}

	for _, rec := range seg.Recordings {
		summary := RecordingSummary{ID: rec.ID, Start: rec.Start}
		for j := range rec.Tracks {
			track := &rec.Tracks[j]
			ts := TrackSummary{
				ID:    track.ID,
				Start: track.StartOffset,
				End:   track.EndOffset,
			}
			if label, human, ok := s.resolver.TrackTag(track); ok {
				ts.Tag = label
				ts.AI = !human
			}
			summary.Tracks = append(summary.Tracks, ts)
			visit.Tracks++
		}
		visit.Recordings = append(visit.Recordings, summary)
	}

	return visit
}
