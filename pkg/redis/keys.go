package redis

import "fmt"

// Key construction helpers for the visit engine caches

// DeviceNameKey returns the key for a cached device display name
// Pattern: names:device:{id}
func DeviceNameKey(deviceID int64) string {
	return fmt.Sprintf("names:device:%d", deviceID)
}

// StationNameKey returns the key for a cached station display record (hash)
// Pattern: names:station:{id}
func StationNameKey(stationID int64) string {
	return fmt.Sprintf("names:station:%d", stationID)
}

// VisitDensityKey returns the key for a cached recordings-per-visit sample
// Pattern: stats:density:device:{id}
func VisitDensityKey(deviceID int64) string {
	return fmt.Sprintf("stats:density:device:%d", deviceID)
}

// IngestMetaKey returns the key for last-ingest metadata (hash)
// Pattern: meta:ingest:device:{id}
func IngestMetaKey(deviceID int64) string {
	return fmt.Sprintf("meta:ingest:device:%d", deviceID)
}
