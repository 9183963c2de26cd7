package mqtt

import (
	"fmt"
	"strings"
)

// Topic constants for recording ingest events
const (
	// TopicIngestRecordings matches ingest events for all devices
	// Pattern: trapline/ingest/recording/{device_id}
	TopicIngestRecordings = "trapline/ingest/recording/+"

	// TopicDeviceUpdates matches device rename/reassignment events
	// Pattern: trapline/device/update/{device_id}
	TopicDeviceUpdates = "trapline/device/update/+"
)

// IngestRecordingTopic constructs the ingest topic for a specific device
func IngestRecordingTopic(deviceID int64) string {
	return fmt.Sprintf("trapline/ingest/recording/%d", deviceID)
}

// DeviceUpdateTopic constructs the update topic for a specific device
func DeviceUpdateTopic(deviceID int64) string {
	return fmt.Sprintf("trapline/device/update/%d", deviceID)
}

// DeviceIDFromTopic extracts the device id segment from an ingest topic.
// Returns the raw segment; callers parse it as an integer.
func DeviceIDFromTopic(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
