// Package ingest listens for platform events and keeps the visit
// engine's Redis caches honest: a fresh recording changes a device's
// visit density, and a device rename invalidates its cached display
// name. Both are dropped and recomputed on the next query.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/trapline/visits-platform/pkg/mqtt"
	rediskit "github.com/trapline/visits-platform/pkg/redis"
)

// Event is the payload published on trapline/ingest/recording/{device_id}
// when a recording finishes processing
type Event struct {
	RecordingID int64     `json:"recordingId"`
	DeviceID    int64     `json:"deviceId"`
	StationID   int64     `json:"stationId,omitempty"`
	RecordedAt  time.Time `json:"recordedAt"`
	Type        string    `json:"type"`
}

// DeviceUpdate is the payload published on trapline/device/update/{device_id}
// when a device is renamed or reassigned
type DeviceUpdate struct {
	DeviceID int64  `json:"deviceId"`
	Name     string `json:"name,omitempty"`
}

// Names invalidates cached display identity for a device.
type Names interface {
	InvalidateDevice(ctx context.Context, deviceID int64)
}

// Listener subscribes to platform events and invalidates per-device caches
type Listener struct {
	mqtt   mqtt.Client
	redis  rediskit.Client
	names  Names
	logger *slog.Logger
}

// NewListener creates a new event listener
func NewListener(mqttClient mqtt.Client, redisClient rediskit.Client, names Names, logger *slog.Logger) *Listener {
	return &Listener{
		mqtt:   mqttClient,
		redis:  redisClient,
		names:  names,
		logger: logger,
	}
}

// Start subscribes to the ingest and device-update topics. The MQTT
// client must already be connected.
func (l *Listener) Start() error {
	if err := l.mqtt.Subscribe(mqtt.TopicIngestRecordings, 1, l.handleRecording); err != nil {
		return fmt.Errorf("failed to subscribe to ingest events: %w", err)
	}
	if err := l.mqtt.Subscribe(mqtt.TopicDeviceUpdates, 1, l.handleDeviceUpdate); err != nil {
		return fmt.Errorf("failed to subscribe to device updates: %w", err)
	}
	l.logger.Info("Listening for platform events",
		"topics", []string{mqtt.TopicIngestRecordings, mqtt.TopicDeviceUpdates})
	return nil
}

func (l *Listener) handleRecording(msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var event Event
	if err := json.Unmarshal(msg.Payload(), &event); err != nil {
		l.logger.Warn("Failed to parse ingest event", "topic", msg.Topic(), "error", err)
		return
	}
	if event.DeviceID == 0 {
		event.DeviceID = deviceIDFrom(msg.Topic())
	}
	if event.DeviceID == 0 {
		l.logger.Warn("Ingest event without device id", "topic", msg.Topic())
		return
	}

	if err := l.redis.Del(ctx, rediskit.VisitDensityKey(event.DeviceID)); err != nil {
		l.logger.Warn("Failed to invalidate visit density", "device", event.DeviceID, "error", err)
	}

	meta := rediskit.IngestMetaKey(event.DeviceID)
	if err := l.redis.HSet(ctx, meta, "lastRecordingId", strconv.FormatInt(event.RecordingID, 10)); err != nil {
		l.logger.Warn("Failed to record ingest metadata", "device", event.DeviceID, "error", err)
		return
	}
	if !event.RecordedAt.IsZero() {
		_ = l.redis.HSet(ctx, meta, "lastRecordedAt", event.RecordedAt.UTC().Format(time.RFC3339))
	}

	l.logger.Debug("Processed ingest event",
		"device", event.DeviceID,
		"recording", event.RecordingID)
}

func (l *Listener) handleDeviceUpdate(msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var update DeviceUpdate
	if err := json.Unmarshal(msg.Payload(), &update); err != nil {
		l.logger.Warn("Failed to parse device update", "topic", msg.Topic(), "error", err)
		return
	}
	if update.DeviceID == 0 {
		update.DeviceID = deviceIDFrom(msg.Topic())
	}
	if update.DeviceID == 0 {
		l.logger.Warn("Device update without device id", "topic", msg.Topic())
		return
	}

	l.names.InvalidateDevice(ctx, update.DeviceID)
	l.logger.Debug("Invalidated device name", "device", update.DeviceID)
}

// deviceIDFrom parses the trailing topic segment, for events with sparse
// payloads. Returns 0 when the segment is not an id.
func deviceIDFrom(topic string) int64 {
	id, err := strconv.ParseInt(mqtt.DeviceIDFromTopic(topic), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
