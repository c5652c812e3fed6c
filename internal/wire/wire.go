// Package wire implements the text alert protocol carried over the radio
// link: one ASCII line of semicolon-separated KEY:VALUE pairs, for example
//
//	EVT:GUNSHOT;CONF:0.91;LAT:27.7126;LON:85.3426;TS:1735119862;NODE:NODE1
//
// Encode and Decode are pure; the hub stamps ReceivedAt after decoding.
package wire

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"forestwatch/internal/model"
)

// DataPrefix is prepended by some LoRa receiver firmwares to distinguish
// payload lines from debug output. It is stripped before decoding.
const DataPrefix = "DATA:"

var requiredKeys = []string{"EVT", "CONF", "LAT", "LON", "TS"}

// Encode renders an alert as one wire line without the trailing newline.
// The codec does not canonicalize: labels and numbers come back from Decode
// exactly as given here (event types are uppercased upstream, where alerts
// are decided). Optional fields are emitted only when set; extension keys
// follow in sorted order so output is deterministic.
func Encode(a model.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EVT:%s;CONF:%s;LAT:%s;LON:%s;TS:%d",
		a.EventType, formatFloat(a.Confidence), formatFloat(a.Latitude), formatFloat(a.Longitude), a.Timestamp)
	if a.NodeID != "" {
		fmt.Fprintf(&b, ";NODE:%s", a.NodeID)
	}
	if a.RSSI != nil {
		fmt.Fprintf(&b, ";RSSI:%d", *a.RSSI)
	}
	if a.SNR != nil {
		fmt.Fprintf(&b, ";SNR:%s", formatFloat(*a.SNR))
	}
	if len(a.Extensions) > 0 {
		keys := make([]string, 0, len(a.Extensions))
		for k := range a.Extensions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, ";%s:%s", k, a.Extensions[k])
		}
	}
	return b.String()
}

// formatFloat renders v with the fewest digits that parse back to exactly
// v, so encode followed by decode loses nothing.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Decode parses one wire line into an Alert. The line may carry the DATA:
// prefix. Unknown keys land in Extensions rather than being dropped. Any
// failure returns a *DecodeError; callers drop the frame and carry on.
func Decode(line string) (model.Alert, error) {
	var a model.Alert
	s := strings.TrimSpace(line)
	s = strings.TrimPrefix(s, DataPrefix)
	if s == "" {
		return a, &DecodeError{Reason: ReasonMalformedPair, Detail: "empty line"}
	}
	seen := make(map[string]bool, len(requiredKeys))
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		rawKey, value, ok := strings.Cut(pair, ":")
		if !ok {
			return a, &DecodeError{Reason: ReasonMalformedPair, Detail: pair}
		}
		rawKey = strings.TrimSpace(rawKey)
		value = strings.TrimSpace(value)
		key := strings.ToUpper(rawKey)
		switch key {
		case "EVT":
			if value == "" {
				return a, &DecodeError{Reason: ReasonBadValue, Field: key, Detail: "empty event type"}
			}
			a.EventType = value
		case "CONF":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil || f < 0 || f > 1 {
				return a, &DecodeError{Reason: ReasonBadValue, Field: key, Detail: value}
			}
			a.Confidence = f
		case "LAT":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return a, &DecodeError{Reason: ReasonBadValue, Field: key, Detail: value}
			}
			a.Latitude = f
		case "LON":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return a, &DecodeError{Reason: ReasonBadValue, Field: key, Detail: value}
			}
			a.Longitude = f
		case "TS":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return a, &DecodeError{Reason: ReasonBadValue, Field: key, Detail: value}
			}
			a.Timestamp = n
		case "NODE":
			a.NodeID = value
		case "RSSI":
			n, err := strconv.Atoi(value)
			if err != nil {
				return a, &DecodeError{Reason: ReasonBadValue, Field: key, Detail: value}
			}
			a.RSSI = &n
		case "SNR":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return a, &DecodeError{Reason: ReasonBadValue, Field: key, Detail: value}
			}
			a.SNR = &f
		default:
			if a.Extensions == nil {
				a.Extensions = make(map[string]string)
			}
			a.Extensions[rawKey] = value
		}
		seen[key] = true
	}
	for _, k := range requiredKeys {
		if !seen[k] {
			return model.Alert{}, &DecodeError{Reason: ReasonMissingField, Field: k}
		}
	}
	return a, nil
}
