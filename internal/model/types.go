package model

import (
	"errors"
	"time"
)

// Alert is one decoded acoustic-event record. It is built independently on
// each side of the radio link: once by the decision gate on the field node,
// once by the hub on decode. The two copies are correlated by (node_id,
// timestamp) only.
type Alert struct {
	NodeID     string            `json:"node_id,omitempty"`
	EventType  string            `json:"event_type"`
	Confidence float64           `json:"confidence"`
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	Timestamp  int64             `json:"timestamp"`
	RSSI       *int              `json:"rssi,omitempty"`
	SNR        *float64          `json:"snr,omitempty"`
	ReceivedAt time.Time         `json:"received_at,omitzero"`
	Extensions map[string]string `json:"extensions,omitempty"`
}

// Validate checks the record invariants. A zero Timestamp is allowed and
// means the sending node did not know wall-clock time.
func (a Alert) Validate() error {
	if a.EventType == "" {
		return errors.New("alert: empty event type")
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return errors.New("alert: confidence outside [0,1]")
	}
	if a.Timestamp < 0 {
		return errors.New("alert: negative timestamp")
	}
	return nil
}

// Ranked is one (label, confidence) pair from the classifier, confidence as
// a [0,1] fraction.
type Ranked struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// InferenceResult is the classifier output for one audio window plus the
// node coordinate at capture time.
type InferenceResult struct {
	Rankings  []Ranked `json:"rankings"`
	Timestamp int64    `json:"timestamp"`
	NodeID    string   `json:"node_id"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
}

// RawAudioWindow is one fixed-duration PCM capture. Owned by the node
// pipeline and discarded once inference has consumed it.
type RawAudioWindow struct {
	PCM        []int16
	SampleRate int
	CapturedAt time.Time
}

// Duration reports the window length implied by the sample count.
func (w RawAudioWindow) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.PCM)) * time.Second / time.Duration(w.SampleRate)
}
