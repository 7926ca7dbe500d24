// Package ics exports scan sessions as iCalendar files and reads them back
// so that repeated exports can be merged into one calendar.
package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"scancal/internal/gcal"
	appLog "scancal/internal/log"
	"scancal/internal/model"
)

const (
	ProductID = "-//scancal//scancal//EN"
	uidDomain = "@scancal"

	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
)

// Entry is one VEVENT: an event and its stable identifier.
type Entry struct {
	UID   string
	Event model.EventRecord
}

// Options controls how times without an offset are placed.
type Options struct {
	// Location interprets wall-clock event times. Defaults to time.Local.
	Location *time.Location
	// Now stamps DTSTAMP and places events with no time. Defaults to time.Now().
	Now time.Time
	// CalendarName is written as X-WR-CALNAME when set.
	CalendarName string
}

func (o Options) normalize() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// UID derives a stable identifier from the fields that identify an event,
// so exporting the same event twice yields the same VEVENT.
func UID(ev model.EventRecord) string {
	h := sha256.New()
	for _, part := range []string{ev.Title, ev.Time.ISO(), ev.Sender, ev.SourceRef} {
		io.WriteString(h, strings.TrimSpace(part))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:12]) + uidDomain
}

// EntriesFor assigns UIDs to events. Events that share a UID are written
// once, keeping the first.
func EntriesFor(events []model.EventRecord) []Entry {
	out := make([]Entry, 0, len(events))
	for _, ev := range events {
		out = append(out, Entry{UID: UID(ev), Event: ev})
	}
	return Merge(nil, out)
}

// Merge keeps every existing entry and appends the fresh ones whose UID is
// not already present.
func Merge(existing, fresh []Entry) []Entry {
	seen := make(map[string]struct{}, len(existing))
	out := make([]Entry, 0, len(existing)+len(fresh))
	for _, e := range existing {
		seen[e.UID] = struct{}{}
		out = append(out, e)
	}
	for _, e := range fresh {
		if _, dup := seen[e.UID]; dup {
			continue
		}
		seen[e.UID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Build turns entries into a calendar. Times are placed exactly as the
// calendar link would place them: all-day values become DATE values, timed
// instants last one hour and unspecified times start now.
func Build(entries []Entry, opts Options) *ical.Calendar {
	opts = opts.normalize()

	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)
	if opts.CalendarName != "" {
		cal.SetXWRCalName(opts.CalendarName)
	}

	for _, e := range entries {
		ev := e.Event
		vev := cal.AddEvent(e.UID)
		vev.SetDtStampTime(opts.Now.UTC())
		vev.SetSummary(ev.Title)
		if ev.Context != "" {
			vev.SetDescription(ev.Context)
		}
		if ev.Sender != "" {
			vev.SetLocation(ev.Sender)
		}
		if p := priorityFor(ev.Urgency); p != "" {
			vev.SetProperty(ical.ComponentPropertyPriority, p)
		}
		if link, ok := gcal.ThreadLink(ev.SourceRef); ok {
			vev.SetProperty(ical.ComponentPropertyUrl, link)
		}
		for _, p := range ev.Participants {
			if strings.Contains(p, "@") {
				vev.AddAttendee("mailto:" + strings.TrimSpace(p))
			}
		}

		setTimes(vev, ev.Time, opts)
	}
	return cal
}

func setTimes(vev *ical.VEvent, td model.TimeDescriptor, opts Options) {
	dates := gcal.Encode(td, opts.Now.In(opts.Location))

	if dates.AllDay {
		start, err := time.ParseInLocation(dateLayout, dates.Start, opts.Location)
		if err != nil {
			appLog.Error("ics: unreadable date; using today", err, "value", dates.Start)
			start = opts.Now.In(opts.Location)
		}
		// DTEND of an all-day event is exclusive.
		end := start.AddDate(0, 0, 1)
		if dates.End != "" {
			if last, err := time.ParseInLocation(dateLayout, dates.End, opts.Location); err == nil && !last.Before(start) {
				end = last.AddDate(0, 0, 1)
			}
		}
		vev.SetAllDayStartAt(start)
		vev.SetAllDayEndAt(end)
		return
	}

	// Timed values keep their offset; only wall-clock values are read in
	// opts.Location.
	if start, ok := absoluteStart(td, opts.Location); ok {
		end := start.Add(gcal.DefaultDuration)
		if td.Kind == model.TimeRange {
			if t, err := model.ParseISO(td.End, opts.Location); err == nil && t.After(start) {
				end = t
			}
		}
		vev.SetStartAt(start.UTC())
		vev.SetEndAt(end.UTC())
		return
	}

	start, err := time.ParseInLocation(dateTimeLayout, dates.Start, opts.Location)
	if err != nil {
		appLog.Error("ics: unreadable date-time; using now", err, "value", dates.Start)
		start = opts.Now
	}
	end := start.Add(gcal.DefaultDuration)
	if t, err := time.ParseInLocation(dateTimeLayout, dates.End, opts.Location); err == nil && t.After(start) {
		end = t
	}
	vev.SetStartAt(start)
	vev.SetEndAt(end)
}

func absoluteStart(td model.TimeDescriptor, loc *time.Location) (time.Time, bool) {
	if td.IsUnspecified() {
		return time.Time{}, false
	}
	t, err := model.ParseISO(td.Start, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func priorityFor(u model.Urgency) string {
	switch u {
	case model.UrgencyHigh:
		return "1"
	case model.UrgencyMedium:
		return "5"
	case model.UrgencyLow:
		return "9"
	default:
		return ""
	}
}

// Export writes entries as an iCalendar document.
func Export(w io.Writer, entries []Entry, opts Options) error {
	cal := Build(entries, opts)
	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return err
	}
	appLog.Info("ics export completed", "event_count", len(entries))
	return nil
}
