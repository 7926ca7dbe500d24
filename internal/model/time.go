package model

import (
	"encoding/json"
	"strings"
	"time"
)

// TimeKind tags which variant a TimeDescriptor holds.
type TimeKind int

const (
	TimeUnspecified TimeKind = iota
	TimeInstant
	TimeRange
)

func (k TimeKind) String() string {
	switch k {
	case TimeInstant:
		return "instant"
	case TimeRange:
		return "range"
	default:
		return "unspecified"
	}
}

// notSpecified is the sentinel the parsing service writes when it could not
// determine a time.
const notSpecified = "not specified"

// TimeDescriptor is the tagged union Instant | Range | Unspecified.
//
// For TimeInstant only Start is set; for TimeRange both Start and End are
// set. Display is the service's human-readable rendering and is carried
// through untouched.
type TimeDescriptor struct {
	Kind    TimeKind
	Start   string
	End     string
	Display string
}

func Instant(iso string) TimeDescriptor {
	return TimeDescriptor{Kind: TimeInstant, Start: strings.TrimSpace(iso)}
}

func Range(startISO, endISO string) TimeDescriptor {
	return TimeDescriptor{Kind: TimeRange, Start: strings.TrimSpace(startISO), End: strings.TrimSpace(endISO)}
}

func Unspecified() TimeDescriptor {
	return TimeDescriptor{}
}

func (t TimeDescriptor) IsUnspecified() bool {
	return t.Kind == TimeUnspecified
}

// ISO renders the descriptor in the service's single-string form:
// "start", "start/end" or "" when unspecified.
func (t TimeDescriptor) ISO() string {
	switch t.Kind {
	case TimeInstant:
		return t.Start
	case TimeRange:
		return t.Start + "/" + t.End
	default:
		return ""
	}
}

// StartTime parses the start of the descriptor. ok is false for Unspecified
// or when the start is not a recognizable ISO-8601 value.
func (t TimeDescriptor) StartTime(loc *time.Location) (time.Time, bool) {
	if t.Kind == TimeUnspecified {
		return time.Time{}, false
	}
	ts, err := ParseISO(t.Start, loc)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// ParseTimeDescriptor classifies a single ISO string as emitted by the
// parsing service.
func ParseTimeDescriptor(iso string) TimeDescriptor {
	iso = strings.TrimSpace(iso)
	if iso == "" || strings.EqualFold(iso, notSpecified) {
		return Unspecified()
	}
	if start, end, ok := strings.Cut(iso, "/"); ok {
		start, end = strings.TrimSpace(start), strings.TrimSpace(end)
		switch {
		case start != "" && end != "":
			return Range(start, end)
		case start != "":
			return Instant(start)
		default:
			return Unspecified()
		}
	}
	return Instant(iso)
}

type timeWire struct {
	ISO     string `json:"iso"`
	Display string `json:"display,omitempty"`
}

// UnmarshalJSON accepts either {"iso": "...", "display": "..."} or a bare
// ISO string.
func (t *TimeDescriptor) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Unspecified()
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*t = ParseTimeDescriptor(raw)
		return nil
	}

	var w timeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := ParseTimeDescriptor(w.ISO)
	if !strings.EqualFold(strings.TrimSpace(w.Display), notSpecified) {
		out.Display = w.Display
	}
	*t = out
	return nil
}

func (t TimeDescriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(timeWire{ISO: t.ISO(), Display: t.Display})
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISO parses the ISO-8601 shapes the parsing service produces. Values
// without an offset are interpreted in loc (time.Local when nil).
func ParseISO(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)

	var firstErr error
	for _, layout := range isoLayouts {
		ts, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return ts, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
