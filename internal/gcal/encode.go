// Package gcal encodes event times into the calendar service's compact
// date-range parameter and builds the prefilled composition links.
package gcal

import (
	"strings"
	"time"

	"scancal/internal/model"
)

const (
	// CompactWidth is the width of a compact date-time: YYYYMMDDTHHMMSS.
	CompactWidth = 15
	// DateTimeThreshold is the shortest ISO value that carries a time of
	// day: YYYY-MM-DDTHH:MM. Shorter instants are treated as all-day.
	DateTimeThreshold = len("2006-01-02T15:04")
	// DefaultDuration is the length given to events that only have a start.
	DefaultDuration = time.Hour

	compactLayout = "20060102T150405"
)

// Dates is the encoded value of the "dates" query parameter.
type Dates struct {
	Start  string
	End    string
	AllDay bool
}

// Param renders "start" for all-day markers and "start/end" otherwise.
func (d Dates) Param() string {
	if d.End == "" {
		return d.Start
	}
	return d.Start + "/" + d.End
}

// Compact strips the separator punctuation ('-', ':', '.') from an ISO value.
func Compact(iso string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ':', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(iso))
}

// compactDateTime compacts iso and fits it to CompactWidth: longer values
// (fractions, offsets) are cut, minute-precision values get zero seconds.
// Date-only values are returned as-is.
func compactDateTime(iso string) string {
	c := Compact(iso)
	if !strings.Contains(c, "T") {
		return c
	}
	if len(c) > CompactWidth {
		return c[:CompactWidth]
	}
	return c + strings.Repeat("0", CompactWidth-len(c))
}

// Encode maps a time descriptor onto the dates parameter.
//
//   - Range: both bounds, compacted.
//   - Instant with a time of day: the start and start + DefaultDuration.
//   - Instant with a date only: a single all-day start.
//   - Unspecified: now and now + DefaultDuration, in now's location.
//
// now is only consulted for Unspecified (and for an Instant whose compacted
// value cannot be read back as a date-time).
func Encode(td model.TimeDescriptor, now time.Time) Dates {
	switch td.Kind {
	case model.TimeRange:
		start, end := compactDateTime(td.Start), compactDateTime(td.End)
		return Dates{
			Start:  start,
			End:    end,
			AllDay: !strings.Contains(start, "T") && !strings.Contains(end, "T"),
		}

	case model.TimeInstant:
		if len(td.Start) < DateTimeThreshold {
			return Dates{Start: Compact(td.Start), AllDay: true}
		}
		start := compactDateTime(td.Start)
		ts, err := time.Parse(compactLayout, start)
		if err != nil {
			return encodeNow(now)
		}
		return Dates{Start: start, End: ts.Add(DefaultDuration).Format(compactLayout)}

	default:
		return encodeNow(now)
	}
}

// EncodeIn is Encode for a link that names its time zone. Timed values that
// carry "Z" or a numeric offset are converted into loc before they are
// compacted, so the link opens at the same instant. Wall-clock values are
// already in loc and encode exactly as Encode does.
func EncodeIn(td model.TimeDescriptor, now time.Time, loc *time.Location) Dates {
	if loc == nil {
		return Encode(td, now)
	}
	d := Encode(td, now)
	if d.AllDay {
		return d
	}

	switch td.Kind {
	case model.TimeRange:
		if ts, ok := offsetTime(td.Start); ok {
			d.Start = ts.In(loc).Format(compactLayout)
		}
		if ts, ok := offsetTime(td.End); ok {
			d.End = ts.In(loc).Format(compactLayout)
		}
		return d
	case model.TimeInstant:
		ts, ok := offsetTime(td.Start)
		if !ok {
			return d
		}
		start := ts.In(loc)
		return Dates{Start: start.Format(compactLayout), End: start.Add(DefaultDuration).Format(compactLayout)}
	default:
		return encodeNow(now.In(loc))
	}
}

// offsetTime parses a date-time whose time of day is followed by "Z" or a
// numeric offset.
func offsetTime(iso string) (time.Time, bool) {
	iso = strings.TrimSpace(iso)
	i := strings.IndexByte(iso, 'T')
	if i < 0 || !strings.ContainsAny(iso[i:], "Z+-") {
		return time.Time{}, false
	}
	ts, err := model.ParseISO(iso, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func encodeNow(now time.Time) Dates {
	return Dates{
		Start: now.Format(compactLayout),
		End:   now.Add(DefaultDuration).Format(compactLayout),
	}
}
