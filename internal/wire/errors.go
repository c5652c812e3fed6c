package wire

import (
	"errors"
	"fmt"
)

// ErrDecode matches every decode failure via errors.Is.
var ErrDecode = errors.New("wire: decode failed")

type Reason string

const (
	ReasonMalformedPair Reason = "malformed_pair"
	ReasonMissingField  Reason = "missing_field"
	ReasonBadValue      Reason = "bad_value"
)

// DecodeError describes why a frame was rejected. Field is the wire key
// involved where one applies.
type DecodeError struct {
	Reason Reason
	Field  string
	Detail string
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Detail != "":
		return fmt.Sprintf("wire: %s: %s=%q", e.Reason, e.Field, e.Detail)
	case e.Field != "":
		return fmt.Sprintf("wire: %s: %s", e.Reason, e.Field)
	case e.Detail != "":
		return fmt.Sprintf("wire: %s: %q", e.Reason, e.Detail)
	}
	return fmt.Sprintf("wire: %s", e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
