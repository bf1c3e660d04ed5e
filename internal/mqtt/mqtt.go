// Package mqtt publishes dimmer telemetry over MQTT and accepts duty
// commands, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/cadence-dimmer/internal/events"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "cadence/dimmer"

// System event names.
const (
	EventStartup     = "STARTUP"
	EventHeartbeat   = "HEARTBEAT"
	EventShutdown    = "SHUTDOWN"
	EventReconnected = "RECONNECTED"
	EventDegraded    = "DEGRADED"
)

// Topics are the MQTT topics under one prefix.
type Topics struct {
	System  string // lifecycle and status events
	Duty    string // accepted duty changes
	Command string // incoming "d1 d2 d3" writes
}

// NewTopics derives the topic set from prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		System:  prefix + "/system",
		Duty:    prefix + "/duty",
		Command: prefix + "/duty/set",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishDuty sends an accepted duty change to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishDuty(event events.DutyChangedEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// CommandHandler receives the payload of a duty command. The returned error
// is logged; nothing is sent back to the broker.
type CommandHandler func(payload string) error

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// DutyPayload represents the MQTT message payload for a duty change.
type DutyPayload struct {
	Duty DutyPayloadInner `json:"duty"`
}

// DutyPayloadInner contains the duty change details.
type DutyPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	Duties    [3]int `json:"duties"`
	HighNs    int64  `json:"high_ns"`
	LowNs     int64  `json:"low_ns"`
}

// FormatDutyPayload creates the JSON payload for a duty change.
func FormatDutyPayload(event events.DutyChangedEvent) ([]byte, error) {
	payload := DutyPayload{
		Duty: DutyPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Source:    event.Source,
			Duties:    event.Duties,
			HighNs:    event.Phases.High.Nanoseconds(),
			LowNs:     event.Phases.Low.Nanoseconds(),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
