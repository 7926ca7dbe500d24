package ics

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "scancal/internal/log"
	"scancal/internal/model"
)

// Read parses an iCalendar document back into entries. VEVENTs without a
// UID or summary are skipped.
func Read(r io.Reader, loc *time.Location) ([]Entry, error) {
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(r)
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	entries := make([]Entry, 0)
	for _, comp := range cal.Events() {
		e, perr := readVEvent(comp, loc)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		entries = append(entries, e)
	}

	appLog.Info("ics parse completed", "event_count", len(entries))
	return entries, nil
}

func readVEvent(ve *ical.VEvent, loc *time.Location) (Entry, error) {
	var out Entry

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	ev := model.EventRecord{}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = p.Value
	}
	if err := ev.Validate(); err != nil {
		return out, err
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Context = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Sender = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyPriority); p != nil {
		ev.Urgency = urgencyFor(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyUrl); p != nil {
		if _, ref, ok := strings.Cut(p.Value, "#all/"); ok {
			ev.SourceRef = ref
		}
	}
	for _, a := range ve.Attendees() {
		ev.Participants = append(ev.Participants, a.Email())
	}

	start, startAllDay, err := readTimeProp(ve.GetProperty(ical.ComponentPropertyDtStart), loc)
	if err != nil {
		return out, err
	}
	end, _, endErr := readTimeProp(ve.GetProperty(ical.ComponentPropertyDtEnd), loc)

	switch {
	case startAllDay:
		last := start
		if endErr == nil && end.After(start) {
			last = end.AddDate(0, 0, -1)
		}
		if last.Equal(start) {
			ev.Time = model.Instant(start.Format("2006-01-02"))
		} else {
			ev.Time = model.Range(start.Format("2006-01-02"), last.Format("2006-01-02"))
		}
	case endErr == nil && end.After(start):
		ev.Time = model.Range(start.Format("2006-01-02T15:04:05"), end.Format("2006-01-02T15:04:05"))
	default:
		ev.Time = model.Instant(start.Format("2006-01-02T15:04:05"))
	}

	out.Event = ev
	return out, nil
}

// readTimeProp parses a DTSTART/DTEND property into loc, honoring a TZID
// parameter and the VALUE=DATE form.
func readTimeProp(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	if p == nil || strings.TrimSpace(p.Value) == "" {
		return time.Time{}, false, errors.New("missing time value")
	}
	v := strings.TrimSpace(p.Value)

	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if tz, err := time.LoadLocation(tzs[0]); err == nil {
			t, err := time.ParseInLocation(dateTimeLayout, v, tz)
			return t.In(loc), false, err
		}
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(dateTimeLayout+"Z", v)
		return t.In(loc), false, err
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		t, err := time.ParseInLocation(dateTimeLayout, v, loc)
		return t, false, err
	}

	// Date-only (all-day), e.g., 20250101
	t, err := time.ParseInLocation(dateLayout, v, loc)
	return t, true, err
}

func urgencyFor(priority string) model.Urgency {
	n, err := strconv.Atoi(strings.TrimSpace(priority))
	if err != nil || n <= 0 {
		return model.UrgencyAbsent
	}
	switch {
	case n <= 4:
		return model.UrgencyHigh
	case n == 5:
		return model.UrgencyMedium
	default:
		return model.UrgencyLow
	}
}
