// Package decision turns classifier output into a go/no-go alert.
package decision

import (
	"strings"

	"forestwatch/internal/model"
)

// Policy gates which detections become alerts. Labels are case-insensitive
// substrings matched against the winning label.
type Policy struct {
	Threshold float64
	Labels    []string
}

// Decide selects the single highest-confidence ranking (first occurrence
// wins on ties) and emits an alert when its confidence reaches the
// threshold and its label matches the policy. The event type is uppercased
// here, so classifier labels reach the wire in canonical form. Pure and
// stateless.
func Decide(res model.InferenceResult, p Policy) (model.Alert, bool) {
	if len(res.Rankings) == 0 {
		return model.Alert{}, false
	}
	best := res.Rankings[0]
	for _, r := range res.Rankings[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}
	if best.Confidence < p.Threshold {
		return model.Alert{}, false
	}
	if !labelMatches(best.Label, p.Labels) {
		return model.Alert{}, false
	}
	return model.Alert{
		NodeID:     res.NodeID,
		EventType:  strings.ToUpper(best.Label),
		Confidence: best.Confidence,
		Latitude:   res.Latitude,
		Longitude:  res.Longitude,
		Timestamp:  res.Timestamp,
	}, true
}

func labelMatches(label string, patterns []string) bool {
	lower := strings.ToLower(label)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
