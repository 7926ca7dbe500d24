package model

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
)

// Urgency is the time-sensitivity label attached to an event by the parsing
// service. The zero value means the service did not supply one.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
	UrgencyAbsent Urgency = ""
)

// ParseUrgency maps free-form service output onto the known labels.
// Anything unrecognized is treated as absent.
func ParseUrgency(s string) Urgency {
	switch Urgency(strings.ToLower(strings.TrimSpace(s))) {
	case UrgencyHigh:
		return UrgencyHigh
	case UrgencyMedium:
		return UrgencyMedium
	case UrgencyLow:
		return UrgencyLow
	default:
		return UrgencyAbsent
	}
}

// Rank orders urgencies for display: high < medium < low < absent.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyHigh:
		return 0
	case UrgencyMedium:
		return 1
	case UrgencyLow:
		return 2
	default:
		return 3
	}
}

var ErrEmptyTitle = errors.New("event title is empty")

// EventRecord is one extracted calendar-worthy item.
//
// Records are values: holders copy them, and the only way to change one is to
// replace it. Participants must not be modified in place; use Clone when a
// caller needs its own slice.
type EventRecord struct {
	Title        string
	Time         TimeDescriptor
	Context      string
	Sender       string
	Urgency      Urgency
	SourceRef    string
	RawSubject   string
	Participants []string
}

// Validate checks the record invariants.
func (e EventRecord) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}

// Clone returns a copy that shares no mutable state with e.
func (e EventRecord) Clone() EventRecord {
	e.Participants = slices.Clone(e.Participants)
	return e
}

// eventWire accepts both the streaming service's field names (event,
// gmailThread) and the single-shot service's (title, description).
type eventWire struct {
	Title        string          `json:"title,omitempty"`
	Event        string          `json:"event,omitempty"`
	Time         *TimeDescriptor `json:"time,omitempty"`
	Context      string          `json:"context,omitempty"`
	Description  string          `json:"description,omitempty"`
	Sender       string          `json:"sender,omitempty"`
	Urgency      string          `json:"urgency,omitempty"`
	SourceRef    string          `json:"source_ref,omitempty"`
	GmailThread  string          `json:"gmailThread,omitempty"`
	RawSubject   string          `json:"raw_subject,omitempty"`
	Participants []string        `json:"participants,omitempty"`
}

func (e *EventRecord) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := EventRecord{
		Title:        firstNonEmpty(w.Title, w.Event),
		Context:      firstNonEmpty(w.Context, w.Description),
		Sender:       w.Sender,
		Urgency:      ParseUrgency(w.Urgency),
		SourceRef:    firstNonEmpty(w.SourceRef, w.GmailThread),
		RawSubject:   w.RawSubject,
		Participants: w.Participants,
	}
	if w.Time != nil {
		out.Time = *w.Time
	}

	*e = out
	return nil
}

func (e EventRecord) MarshalJSON() ([]byte, error) {
	w := eventWire{
		Title:        e.Title,
		Context:      e.Context,
		Sender:       e.Sender,
		Urgency:      string(e.Urgency),
		SourceRef:    e.SourceRef,
		RawSubject:   e.RawSubject,
		Participants: e.Participants,
	}
	if !e.Time.IsUnspecified() || e.Time.Display != "" {
		t := e.Time
		w.Time = &t
	}
	return json.Marshal(w)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
