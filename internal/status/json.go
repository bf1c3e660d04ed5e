package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Speed         uint64        `json:"button_speed"`
	Duties        [3]int        `json:"duties"`
	Phase         string        `json:"phase"`
	Levels        [3]bool       `json:"levels"`
	Phases        PhasesJSON    `json:"phases"`
	Cadence       CadenceJSON   `json:"cadence"`
	Scheduler     SchedulerJSON `json:"scheduler"`
	Follow        bool          `json:"follow"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Config        ConfigJSON    `json:"config"`
}

// PhasesJSON is the JSON representation of the compiled phase durations.
type PhasesJSON struct {
	HighNs int64 `json:"high_ns"`
	LowNs  int64 `json:"low_ns"`
}

// CadenceJSON is the JSON representation of the averaging counters.
type CadenceJSON struct {
	LastInput       string `json:"last_input"`
	Samples         uint64 `json:"samples"`
	AccumulatedNs   uint64 `json:"accumulated_ns"`
	AverageNs       uint64 `json:"average_interval_ns"`
	TotalEventCount uint64 `json:"total_event_count"`
}

// SchedulerJSON is the JSON representation of the scheduler counters.
type SchedulerJSON struct {
	Running  bool   `json:"running"`
	Degraded bool   `json:"degraded"`
	Ticks    uint64 `json:"ticks"`
	Overruns uint64 `json:"overruns"`
	Retries  uint64 `json:"retries"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Backend      string `json:"gpio_backend"`
	PeriodNs     int64  `json:"period_ns"`
	DebounceMs   int64  `json:"debounce_ms"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	Broker       string `json:"broker"`
	HTTPAddr     string `json:"http_addr"`
	DeviceSocket string `json:"device_socket"`
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		Speed:  snap.Speed(),
		Duties: snap.Signal.Duties,
		Phase:  snap.Signal.Phase.String(),
		Levels: snap.Signal.Levels,
		Phases: PhasesJSON{
			HighNs: snap.Signal.Phases.High.Nanoseconds(),
			LowNs:  snap.Signal.Phases.Low.Nanoseconds(),
		},
		Cadence: CadenceJSON{
			LastInput:       snap.Cadence.LastInput.String(),
			Samples:         snap.Cadence.Samples,
			AccumulatedNs:   snap.Cadence.Accumulated,
			AverageNs:       snap.Cadence.Average,
			TotalEventCount: snap.Cadence.Total,
		},
		Scheduler: SchedulerJSON{
			Running:  snap.Scheduler.Running,
			Degraded: snap.Scheduler.Degraded,
			Ticks:    snap.Scheduler.Ticks,
			Overruns: snap.Scheduler.Overruns,
			Retries:  snap.Scheduler.Retries,
		},
		Follow:        snap.Follow,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Backend:      snap.Config.Backend,
			PeriodNs:     snap.Config.PeriodNs,
			DebounceMs:   snap.Config.DebounceMs,
			HeartbeatMs:  snap.Config.HeartbeatMs,
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
			DeviceSocket: snap.Config.DeviceSocket,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
