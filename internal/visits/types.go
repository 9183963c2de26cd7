package visits

import "time"

// Tag is a species/kind label attached to a track by a human tagger or an
// automatic classifier.
type Tag struct {
	ID        int64
	Label     string
	Automatic bool
	Model     string // set only for automatic tags
	TaggerID  int64  // set only for human tags
	CreatedAt time.Time
}

// Track is a single detected-object timeline within one recording.
// Offsets are seconds from the start of the recording.
type Track struct {
	ID          int64
	StartOffset float64
	EndOffset   float64
	Tags        []Tag // ordered ascending by CreatedAt
}

// Recording is one uploaded camera/audio-trap recording with its tracks.
// Immutable once fetched; the engine is a read-only projection over it.
type Recording struct {
	ID        int64
	DeviceID  int64
	StationID int64 // 0 when the recording has no station
	Type      string
	Start     time.Time
	End       time.Time
	Tracks    []Track
}

// ScopeKey identifies one device+station combination. Visits never merge
// across keys.
type ScopeKey struct {
	DeviceID  int64
	StationID int64
}

// Span is a bare recording time span, used for density sampling and
// boundary lookups where tracks are not needed.
type Span struct {
	Start time.Time
	End   time.Time
}

// Scope is the set of devices and stations a query may read, as resolved
// against the caller's permissions.
type Scope struct {
	DeviceIDs  []int64
	StationIDs []int64
}

// Viewer identifies the caller for scope authorization. Authentication
// itself happens upstream; the engine only checks group membership.
type Viewer struct {
	UserID int64
	Admin  bool
}

// Station carries the display identity and location of a station.
type Station struct {
	Name        string
	Lat         float64
	Lng         float64
	HasLocation bool
}

// TrackSummary is the per-track slice of a visit response.
type TrackSummary struct {
	ID    int64   `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Tag   string  `json:"tag,omitempty"`
	AI    bool    `json:"aiTagged"`
}

// RecordingSummary is the per-recording slice of a visit response.
type RecordingSummary struct {
	ID     int64          `json:"recId"`
	Start  time.Time      `json:"recStart"`
	Tracks []TrackSummary `json:"tracks"`
}

// Visit is a contiguous episode of activity at one device/station.
// Visits are ephemeral response objects; they are never persisted and
// have no identity beyond their position in the result list.
type Visit struct {
	Device           string             `json:"device"`
	DeviceID         int64              `json:"deviceId"`
	Station          string             `json:"station"`
	StationID        int64              `json:"stationId"`
	Recordings       []RecordingSummary `json:"recordings"`
	Tracks           int                `json:"tracks"`
	TimeStart        time.Time          `json:"timeStart"`
	TimeEnd          time.Time          `json:"timeEnd"`
	Classification   string             `json:"classification"`
	ClassFromUserTag bool               `json:"classFromUserTag"`
	ClassificationAI string             `json:"classificationAi"`
	Incomplete       bool               `json:"incomplete"`
	SunPeriod        string             `json:"sunPeriod,omitempty"`
}

// ResultParams echoes the effective query back to the caller alongside
// the pagination estimate.
type ResultParams struct {
	Page          int       `json:"page"`
	PagesEstimate int       `json:"pagesEstimate"`
	SearchFrom    time.Time `json:"searchFrom"`
	SearchUntil   time.Time `json:"searchUntil"`
	PageFrom      time.Time `json:"pageFrom"`
	PageUntil     time.Time `json:"pageUntil"`
	CompareAI     string    `json:"compareAi"`
}

// Result is one page of visits, newest first.
type Result struct {
	Params ResultParams `json:"params"`
	Visits []Visit      `json:"visits"`
}
