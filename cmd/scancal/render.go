package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"scancal/internal/aggregate"
	"scancal/internal/gcal"
	"scancal/internal/model"
)

var (
	highLabel   = color.New(color.FgRed, color.Bold)
	mediumLabel = color.New(color.FgYellow)
	lowLabel    = color.New(color.FgGreen)
	dimText     = color.New(color.Faint)
	okStatus    = color.New(color.FgGreen, color.Bold)
	failStatus  = color.New(color.FgRed, color.Bold)
)

func urgencyLabel(u model.Urgency) string {
	switch u {
	case model.UrgencyHigh:
		return highLabel.Sprint("[high]")
	case model.UrgencyMedium:
		return mediumLabel.Sprint("[medium]")
	case model.UrgencyLow:
		return lowLabel.Sprint("[low]")
	default:
		return dimText.Sprint("[-]")
	}
}

func statusLine(s aggregate.Status) string {
	switch s.(type) {
	case aggregate.Complete:
		return okStatus.Sprint(s.String())
	case aggregate.Failed:
		return failStatus.Sprint(s.String())
	default:
		return s.String()
	}
}

// whenText is the human-readable time of an event: the service's display
// string when it sent one, otherwise the ISO form.
func whenText(td model.TimeDescriptor) string {
	switch {
	case td.Display != "":
		return td.Display
	case td.IsUnspecified():
		return "time not specified"
	default:
		return strings.ReplaceAll(td.ISO(), "/", " - ")
	}
}

type renderOptions struct {
	TimeZone string
	Now      time.Time
	Links    bool
}

func writeEvents(w io.Writer, events []model.EventRecord, opts renderOptions) error {
	for i, ev := range events {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s %s  %s\n", urgencyLabel(ev.Urgency), ev.Title, dimText.Sprint(whenText(ev.Time))); err != nil {
			return err
		}
		if ev.Sender != "" {
			fmt.Fprintf(w, "    from: %s\n", ev.Sender)
		}
		if ev.Context != "" {
			fmt.Fprintf(w, "    %s\n", ev.Context)
		}
		if len(ev.Participants) > 0 {
			fmt.Fprintf(w, "    with: %s\n", strings.Join(ev.Participants, ", "))
		}
		if !opts.Links {
			continue
		}
		fmt.Fprintf(w, "    calendar: %s\n", gcal.LinkForEvent(ev, opts.TimeZone, opts.Now))
		if thread, ok := gcal.ThreadLink(ev.SourceRef); ok {
			fmt.Fprintf(w, "    thread:   %s\n", thread)
		}
	}
	return nil
}

// jsonEvent is the --json view of an event.
type jsonEvent struct {
	model.EventRecord
	CalendarURL string `json:"calendar_url"`
	ThreadURL   string `json:"thread_url,omitempty"`
}

func (e jsonEvent) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(e.EventRecord)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	fields["calendar_url"] = e.CalendarURL
	if e.ThreadURL != "" {
		fields["thread_url"] = e.ThreadURL
	}
	return json.Marshal(fields)
}

func toJSONEvents(events []model.EventRecord, timeZone string, now time.Time) []jsonEvent {
	out := make([]jsonEvent, 0, len(events))
	for _, ev := range events {
		thread, _ := gcal.ThreadLink(ev.SourceRef)
		out = append(out, jsonEvent{
			EventRecord: ev,
			CalendarURL: gcal.LinkForEvent(ev, timeZone, now),
			ThreadURL:   thread,
		})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
