package signalbridge

import (
	"time"

	"pitchtracker/internal/eventbus"
)

// Topic names the event-type channel a client subscribes to. "all"
// receives every message regardless of type.
const TopicAll = "all"

// Message is the JSON envelope broadcast to every connected UI client.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

func newMessage(topic string, payload any) Message {
	return Message{Type: topic, Timestamp: time.Now(), Payload: payload}
}

func pitchStartMessage(ev eventbus.PitchStartEvent) Message {
	return newMessage("pitch_start", struct {
		PitchIndex int   `json:"pitch_index"`
		TStartNs   int64 `json:"t_start_ns"`
	}{ev.PitchIndex, ev.TStartNs})
}

func pitchEndMessage(ev eventbus.PitchEndEvent) Message {
	return newMessage("pitch_end", struct {
		PitchIndex       int   `json:"pitch_index"`
		TStartNs         int64 `json:"t_start_ns"`
		TEndNs           int64 `json:"t_end_ns"`
		ObservationCount int   `json:"observation_count"`
	}{ev.PitchIndex, ev.TStartNs, ev.TEndNs, len(ev.Observations)})
}

func observationMessage(ev eventbus.ObservationDetectedEvent) Message {
	return newMessage("observation", struct {
		CameraID            string `json:"camera_id"`
		FrameIndex          int64  `json:"frame_index"`
		TCaptureMonotonicNs int64  `json:"t_capture_monotonic_ns"`
		DetectionCount      int    `json:"detection_count"`
	}{ev.CameraID, ev.FrameIndex, ev.TCaptureMonotonicNs, len(ev.Detections)})
}

func frameDropMessage(ev eventbus.FrameDropEvent) Message {
	return newMessage("frame_drop", struct {
		CameraID string `json:"camera_id"`
		Dropped  int64  `json:"dropped"`
		Reason   string `json:"reason"`
	}{ev.CameraID, ev.Dropped, ev.Reason})
}

func errorMessage(ev eventbus.ErrorEvent) Message {
	return newMessage("error", struct {
		Category string `json:"category"`
		Severity string `json:"severity"`
		Source   string `json:"source"`
		Message  string `json:"message"`
	}{string(ev.Category), string(ev.Severity), ev.Source, ev.Message})
}
