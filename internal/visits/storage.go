package visits

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/trapline/visits-platform/pkg/postgres"
)

// Storage reads recordings, tracks and tags from Postgres and resolves
// query scopes against group membership. It never writes; the engine is
// a read-only projection over the ingestion schema.
type Storage struct {
	pg     postgres.Client
	logger *slog.Logger
}

// NewStorage creates a new storage wrapper
func NewStorage(pg postgres.Client, logger *slog.Logger) *Storage {
	return &Storage{pg: pg, logger: logger}
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, op, err)
}

// ResolveScope expands requested device/group/station ids into a concrete
// scope, rejecting anything outside the viewer's groups. With no ids
// requested, the scope is everything the viewer can see.
func (s *Storage) ResolveScope(ctx context.Context, viewer Viewer, deviceIDs, groupIDs, stationIDs []int64) (Scope, error) {
	permitted := make(map[int64]bool)
	if !viewer.Admin {
		rows, err := s.pg.Query(ctx,
			`SELECT group_id FROM group_users WHERE user_id = $1`, viewer.UserID)
		if err != nil {
			return Scope{}, upstream("loading viewer groups", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return Scope{}, upstream("scanning viewer groups", err)
			}
			permitted[id] = true
		}
		if err := rows.Err(); err != nil {
			return Scope{}, upstream("reading viewer groups", err)
		}
	}

	allowed := func(groupID int64) bool {
		return viewer.Admin || permitted[groupID]
	}

	var scope Scope

	if len(deviceIDs) > 0 {
		rows, err := s.pg.Query(ctx,
			`SELECT id, group_id FROM devices WHERE id = ANY($1)`, pq.Array(deviceIDs))
		if err != nil {
			return Scope{}, upstream("loading devices", err)
		}
		defer rows.Close()
		found := make(map[int64]bool)
		for rows.Next() {
			var id, groupID int64
			if err := rows.Scan(&id, &groupID); err != nil {
				return Scope{}, upstream("scanning devices", err)
			}
			if !allowed(groupID) {
				return Scope{}, fmt.Errorf("%w: device %d", ErrScopeForbidden, id)
			}
			found[id] = true
			scope.DeviceIDs = append(scope.DeviceIDs, id)
		}
		for _, id := range deviceIDs {
			if !found[id] {
				return Scope{}, fmt.Errorf("%w: device %d", ErrScopeForbidden, id)
			}
		}
	}

	if len(groupIDs) > 0 {
		for _, id := range groupIDs {
			if !allowed(id) {
				return Scope{}, fmt.Errorf("%w: group %d", ErrScopeForbidden, id)
			}
		}
		rows, err := s.pg.Query(ctx,
			`SELECT id FROM devices WHERE group_id = ANY($1)`, pq.Array(groupIDs))
		if err != nil {
			return Scope{}, upstream("loading group devices", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return Scope{}, upstream("scanning group devices", err)
			}
			scope.DeviceIDs = append(scope.DeviceIDs, id)
		}
	}

	if len(stationIDs) > 0 {
		rows, err := s.pg.Query(ctx,
			`SELECT id, group_id FROM stations WHERE id = ANY($1)`, pq.Array(stationIDs))
		if err != nil {
			return Scope{}, upstream("loading stations", err)
		}
		defer rows.Close()
		found := make(map[int64]bool)
		for rows.Next() {
			var id, groupID int64
			if err := rows.Scan(&id, &groupID); err != nil {
				return Scope{}, upstream("scanning stations", err)
			}
			if !allowed(groupID) {
				return Scope{}, fmt.Errorf("%w: station %d", ErrScopeForbidden, id)
			}
			found[id] = true
			scope.StationIDs = append(scope.StationIDs, id)
		}
		for _, id := range stationIDs {
			if !found[id] {
				return Scope{}, fmt.Errorf("%w: station %d", ErrScopeForbidden, id)
			}
		}
	}

	// No explicit scope: everything in the viewer's groups.
	if len(deviceIDs) == 0 && len(groupIDs) == 0 && len(stationIDs) == 0 {
		if viewer.Admin {
			rows, err := s.pg.Query(ctx, `SELECT id FROM devices`)
			if err != nil {
				return Scope{}, upstream("loading devices", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					return Scope{}, upstream("scanning devices", err)
				}
				scope.DeviceIDs = append(scope.DeviceIDs, id)
			}
		} else {
			groupList := make([]int64, 0, len(permitted))
			for id := range permitted {
				groupList = append(groupList, id)
			}
			if len(groupList) == 0 {
				return Scope{}, fmt.Errorf("%w: viewer belongs to no groups", ErrScopeForbidden)
			}
			rows, err := s.pg.Query(ctx,
				`SELECT id FROM devices WHERE group_id = ANY($1)`, pq.Array(groupList))
			if err != nil {
				return Scope{}, upstream("loading permitted devices", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					return Scope{}, upstream("scanning permitted devices", err)
				}
				scope.DeviceIDs = append(scope.DeviceIDs, id)
			}
		}
	}

	if len(scope.DeviceIDs) == 0 && len(scope.StationIDs) == 0 {
		return Scope{}, fmt.Errorf("%w: empty scope", ErrScopeForbidden)
	}

	return scope, nil
}

// scopeCondition builds the WHERE fragment selecting recordings visible
// in the scope. Argument placeholders start at $<base+1>.
func scopeCondition(scope Scope, base int) (string, []interface{}) {
	switch {
	case len(scope.DeviceIDs) > 0 && len(scope.StationIDs) > 0:
		return fmt.Sprintf("(r.device_id = ANY($%d) OR r.station_id = ANY($%d))", base+1, base+2),
			[]interface{}{pq.Array(scope.DeviceIDs), pq.Array(scope.StationIDs)}
	case len(scope.StationIDs) > 0:
		return fmt.Sprintf("r.station_id = ANY($%d)", base+1),
			[]interface{}{pq.Array(scope.StationIDs)}
	default:
		return fmt.Sprintf("r.device_id = ANY($%d)", base+1),
			[]interface{}{pq.Array(scope.DeviceIDs)}
	}
}

// CountRecordings counts recordings in scope within [from, until)
func (s *Storage) CountRecordings(ctx context.Context, scope Scope, from, until time.Time, types []string) (int, error) {
	cond, args := scopeCondition(scope, 3)
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM recordings r
		WHERE r.recording_date_time >= $1 AND r.recording_date_time < $2
		  AND r.type = ANY($%d) AND %s`, 3, cond)
	args = append([]interface{}{from, until, pq.Array(types)}, args...)

	var count int
	if err := s.pg.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, upstream("counting recordings", err)
	}
	return count, nil
}

// DeviceSpans returns up to limit of the most recent recording spans for
// one device in [from, until), for density sampling
func (s *Storage) DeviceSpans(ctx context.Context, deviceID int64, from, until time.Time, types []string, limit int) ([]Span, error) {
	rows, err := s.pg.Query(ctx, `
		SELECT recording_date_time, duration FROM recordings
		WHERE device_id = $1
		  AND recording_date_time >= $2 AND recording_date_time < $3
		  AND type = ANY($4)
		ORDER BY recording_date_time DESC
		LIMIT $5`,
		deviceID, from, until, pq.Array(types), limit)
	if err != nil {
		return nil, upstream("sampling recording spans", err)
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var start time.Time
		var duration float64
		if err := rows.Scan(&start, &duration); err != nil {
			return nil, upstream("scanning recording spans", err)
		}
		spans = append(spans, Span{Start: start, End: start.Add(time.Duration(duration * float64(time.Second)))})
	}
	return spans, rows.Err()
}

// ScopeSpans returns up to limit of the most recent recording spans in
// the whole scope, for density sampling of station-only scopes
func (s *Storage) ScopeSpans(ctx context.Context, scope Scope, from, until time.Time, types []string, limit int) ([]Span, error) {
	cond, args := scopeCondition(scope, 3)
	query := fmt.Sprintf(`
		SELECT r.recording_date_time, r.duration FROM recordings r
		WHERE r.recording_date_time >= $1 AND r.recording_date_time < $2
		  AND r.type = ANY($3) AND %s
		ORDER BY r.recording_date_time DESC
		LIMIT $%d`, cond, 4+len(args))
	args = append([]interface{}{from, until, pq.Array(types)}, args...)
	args = append(args, limit)

	rows, err := s.pg.Query(ctx, query, args...)
	if err != nil {
		return nil, upstream("sampling scope spans", err)
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var start time.Time
		var duration float64
		if err := rows.Scan(&start, &duration); err != nil {
			return nil, upstream("scanning scope spans", err)
		}
		spans = append(spans, Span{Start: start, End: start.Add(time.Duration(duration * float64(time.Second)))})
	}
	return spans, rows.Err()
}

// NthRecordingStart returns the start time of the recording at the given
// offset, counting backward from until. ok is false when the offset runs
// past the available recordings.
func (s *Storage) NthRecordingStart(ctx context.Context, scope Scope, from, until time.Time, types []string, offset int) (time.Time, bool, error) {
	cond, args := scopeCondition(scope, 3)
	query := fmt.Sprintf(`
		SELECT r.recording_date_time FROM recordings r
		WHERE r.recording_date_time >= $1 AND r.recording_date_time < $2
		  AND r.type = ANY($3) AND %s
		ORDER BY r.recording_date_time DESC
		OFFSET $%d LIMIT 1`, cond, 4+len(args))
	args = append([]interface{}{from, until, pq.Array(types)}, args...)
	args = append(args, offset)

	var start time.Time
	err := s.pg.QueryRow(ctx, query, args...).Scan(&start)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, upstream("locating page boundary", err)
	}
	return start, true, nil
}

// EarliestStart returns the start time of the oldest recording in scope
func (s *Storage) EarliestStart(ctx context.Context, scope Scope, types []string) (time.Time, bool, error) {
	cond, args := scopeCondition(scope, 1)
	query := fmt.Sprintf(`
		SELECT MIN(r.recording_date_time) FROM recordings r
		WHERE r.type = ANY($1) AND %s`, cond)
	args = append([]interface{}{pq.Array(types)}, args...)

	var start sql.NullTime
	if err := s.pg.QueryRow(ctx, query, args...).Scan(&start); err != nil {
		return time.Time{}, false, upstream("locating earliest recording", err)
	}
	if !start.Valid {
		return time.Time{}, false, nil
	}
	return start.Time, true, nil
}

// LatestSpanBefore returns the most recent recording span for the key
// strictly before the given time, or nil if none exists. Used to decide
// whether a page's earliest visit truly starts inside the page window.
func (s *Storage) LatestSpanBefore(ctx context.Context, key ScopeKey, before time.Time, types []string) (*Span, error) {
	row := s.pg.QueryRow(ctx, `
		SELECT recording_date_time, duration FROM recordings
		WHERE device_id = $1 AND COALESCE(station_id, 0) = $2
		  AND recording_date_time < $3 AND type = ANY($4)
		ORDER BY recording_date_time DESC
		LIMIT 1`,
		key.DeviceID, key.StationID, before, pq.Array(types))

	var start time.Time
	var duration float64
	err := row.Scan(&start, &duration)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, upstream("probing page boundary", err)
	}
	return &Span{Start: start, End: start.Add(time.Duration(duration * float64(time.Second)))}, nil
}

// FetchRecordings loads recordings with tracks and tags for the page
// window, sorted ascending by start time. Each device+station key is
// capped at capPerKey newest recordings; keys that hit the cap are
// reported so their oldest visit can be flagged incomplete.
func (s *Storage) FetchRecordings(ctx context.Context, scope Scope, from, until time.Time, types []string, capPerKey int) ([]Recording, map[ScopeKey]bool, error) {
	cond, args := scopeCondition(scope, 3)
	query := fmt.Sprintf(`
		SELECT id, device_id, station_id, type, recording_date_time, duration FROM (
			SELECT r.*, row_number() OVER (
				PARTITION BY r.device_id, COALESCE(r.station_id, 0)
				ORDER BY r.recording_date_time DESC
			) AS rn
			FROM recordings r
			WHERE r.recording_date_time >= $1 AND r.recording_date_time < $2
			  AND r.type = ANY($3) AND %s
		) ranked
		WHERE rn <= $%d
		ORDER BY recording_date_time ASC`, cond, 4+len(args))
	args = append([]interface{}{from, until, pq.Array(types)}, args...)
	args = append(args, capPerKey)

	rows, err := s.pg.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, upstream("fetching recordings", err)
	}
	defer rows.Close()

	var recordings []Recording
	perKey := make(map[ScopeKey]int)
	var ids []int64
	for rows.Next() {
		var rec Recording
		var stationID sql.NullInt64
		var duration float64
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &stationID, &rec.Type, &rec.Start, &duration); err != nil {
			return nil, nil, upstream("scanning recordings", err)
		}
		if stationID.Valid {
			rec.StationID = stationID.Int64
		}
		rec.End = rec.Start.Add(time.Duration(duration * float64(time.Second)))
		recordings = append(recordings, rec)
		ids = append(ids, rec.ID)
		perKey[ScopeKey{DeviceID: rec.DeviceID, StationID: rec.StationID}]++
	}
	if err := rows.Err(); err != nil {
		return nil, nil, upstream("reading recordings", err)
	}

	capped := make(map[ScopeKey]bool)
	for key, n := range perKey {
		if n >= capPerKey {
			capped[key] = true
		}
	}

	if len(ids) == 0 {
		return recordings, capped, nil
	}

	if err := s.attachTracks(ctx, recordings, ids); err != nil {
		return nil, nil, err
	}
	return recordings, capped, nil
}

func (s *Storage) attachTracks(ctx context.Context, recordings []Recording, recordingIDs []int64) error {
	byRecording := make(map[int64]*Recording, len(recordings))
	for i := range recordings {
		byRecording[recordings[i].ID] = &recordings[i]
	}

	rows, err := s.pg.Query(ctx, `
		SELECT id, recording_id, start_s, end_s FROM tracks
		WHERE recording_id = ANY($1)
		ORDER BY recording_id, id`, pq.Array(recordingIDs))
	if err != nil {
		return upstream("fetching tracks", err)
	}
	defer rows.Close()

	trackOwner := make(map[int64]int64)
	var trackIDs []int64
	for rows.Next() {
		var track Track
		var recordingID int64
		if err := rows.Scan(&track.ID, &recordingID, &track.StartOffset, &track.EndOffset); err != nil {
			return upstream("scanning tracks", err)
		}
		rec := byRecording[recordingID]
		if rec == nil {
			continue
		}
		rec.Tracks = append(rec.Tracks, track)
		trackOwner[track.ID] = recordingID
		trackIDs = append(trackIDs, track.ID)
	}
	if err := rows.Err(); err != nil {
		return upstream("reading tracks", err)
	}
	if len(trackIDs) == 0 {
		return nil
	}

	tagRows, err := s.pg.Query(ctx, `
		SELECT id, track_id, what, automatic, COALESCE(model_name, ''), COALESCE(user_id, 0), created_at
		FROM track_tags
		WHERE track_id = ANY($1)
		ORDER BY created_at ASC`, pq.Array(trackIDs))
	if err != nil {
		return upstream("fetching track tags", err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var tag Tag
		var trackID int64
		if err := tagRows.Scan(&tag.ID, &trackID, &tag.Label, &tag.Automatic, &tag.Model, &tag.TaggerID, &tag.CreatedAt); err != nil {
			return upstream("scanning track tags", err)
		}
		rec := byRecording[trackOwner[trackID]]
		if rec == nil {
			continue
		}
		for i := range rec.Tracks {
			if rec.Tracks[i].ID == trackID {
				rec.Tracks[i].Tags = append(rec.Tracks[i].Tags, tag)
				break
			}
		}
	}
	return tagRows.Err()
}
