// Package status models the index status domain consumed by the lease layer.
package status

import (
	"fmt"
)

// Code is the coarse lifecycle state of an index. Names are persisted, so existing values
// must not be renamed.
type Code int

const (
	Unknown Code = iota
	DoesNotExist
	NotStarted
	InitialSync
	Stale
	RecoveringTransient
	RecoveringNonTransient
	Steady
	Failed
)

var codeNames = [...]string{
	Unknown:                "UNKNOWN",
	DoesNotExist:           "DOES_NOT_EXIST",
	NotStarted:             "NOT_STARTED",
	InitialSync:            "INITIAL_SYNC",
	Stale:                  "STALE",
	RecoveringTransient:    "RECOVERING_TRANSIENT",
	RecoveringNonTransient: "RECOVERING_NON_TRANSIENT",
	Steady:                 "STEADY",
	Failed:                 "FAILED",
}

func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return fmt.Sprintf("Code(%d)", int(c))
	}
	return codeNames[c]
}

// ParseCode parses the upper-underscore form produced by String.
func ParseCode(s string) (Code, error) {
	for i, name := range codeNames {
		if name == s {
			return Code(i), nil
		}
	}
	return Unknown, fmt.Errorf("status: unknown status code %q", s)
}

func (c Code) MarshalText() ([]byte, error) {
	if c < 0 || int(c) >= len(codeNames) {
		return nil, fmt.Errorf("status: invalid status code %d", int(c))
	}
	return []byte(codeNames[c]), nil
}

func (c *Code) UnmarshalText(text []byte) error {
	parsed, err := ParseCode(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// IndexStatus is a status code plus an optional human readable message.
type IndexStatus struct {
	Code    Code
	Message string
}

func New(code Code) IndexStatus {
	return IndexStatus{Code: code}
}

func UnknownStatus() IndexStatus {
	return IndexStatus{Code: Unknown}
}

func FailedStatus(message string) IndexStatus {
	return IndexStatus{Code: Failed, Message: message}
}

func RecoveringTransientStatus(message string) IndexStatus {
	return IndexStatus{Code: RecoveringTransient, Message: message}
}

// CanServiceQueries reports whether an index in this state can answer queries.
func (s IndexStatus) CanServiceQueries() bool {
	switch s.Code {
	case Steady, RecoveringTransient, RecoveringNonTransient, Stale:
		return true
	default:
		return false
	}
}

func (s IndexStatus) String() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return fmt.Sprintf("%s(%s)", s.Code, s.Message)
}
