package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scancal/internal/model"
)

var exportNow = time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC)

func sampleEvents() []model.EventRecord {
	return []model.EventRecord{
		{
			Title:        "Design review",
			Time:         model.Instant("2024-05-01T14:00:00"),
			Context:      "Bring mockups",
			Sender:       "Ann",
			Urgency:      model.UrgencyHigh,
			SourceRef:    "17a4c5f0b1c",
			Participants: []string{"ann@x.io", "Bob"},
		},
		{Title: "Field trip", Time: model.Instant("2024-05-01")},
		{Title: "Offsite", Time: model.Range("2024-05-06", "2024-05-08"), Urgency: model.UrgencyLow},
		{Title: "Call back", Time: model.Unspecified()},
	}
}

func TestExportOneVEventPerEvent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, EntriesFor(sampleEvents()), Options{Location: time.UTC, Now: exportNow, CalendarName: "Inbox scan"}))
	out := buf.String()

	assert.Equal(t, 4, strings.Count(out, "BEGIN:VEVENT"))
	assert.Contains(t, out, "DTSTART:20240501T140000Z")
	assert.Contains(t, out, "DTEND:20240501T150000Z")
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20240501")
	assert.Contains(t, out, "DTEND;VALUE=DATE:20240509")
	assert.Contains(t, out, "DTSTART:20240430T080000Z")
	assert.Contains(t, out, "PRIORITY:1")
	assert.Contains(t, out, "X-WR-CALNAME:Inbox scan")
}

func TestExportReadRoundTrip(t *testing.T) {
	events := sampleEvents()[:3]
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, EntriesFor(events), Options{Location: time.UTC, Now: exportNow}))

	entries, err := Read(&buf, time.UTC)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	review := entries[0].Event
	assert.Equal(t, UID(events[0]), entries[0].UID)
	assert.Equal(t, "Design review", review.Title)
	assert.Equal(t, "Bring mockups", review.Context)
	assert.Equal(t, "Ann", review.Sender)
	assert.Equal(t, model.UrgencyHigh, review.Urgency)
	assert.Equal(t, "17a4c5f0b1c", review.SourceRef)
	assert.Equal(t, []string{"ann@x.io"}, review.Participants)
	assert.Equal(t, model.Range("2024-05-01T14:00:00", "2024-05-01T15:00:00"), review.Time)

	assert.Equal(t, model.Instant("2024-05-01"), entries[1].Event.Time)
	assert.Equal(t, model.Range("2024-05-06", "2024-05-08"), entries[2].Event.Time)
	assert.Equal(t, model.UrgencyLow, entries[2].Event.Urgency)
}

func TestExportHonorsLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	var buf bytes.Buffer
	events := []model.EventRecord{{Title: "Standup", Time: model.Instant("2024-05-01T09:30")}}
	require.NoError(t, Export(&buf, EntriesFor(events), Options{Location: berlin, Now: exportNow}))
	assert.Contains(t, buf.String(), "DTSTART:20240501T073000Z")
}

func TestExportKeepsExplicitOffsets(t *testing.T) {
	events := []model.EventRecord{
		{Title: "Late call", Time: model.Instant("2024-05-01T23:30:00-04:00")},
		{Title: "Window", Time: model.Range("2024-05-02T08:00:00Z", "2024-05-02T12:00:00+02:00")},
	}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, EntriesFor(events), Options{Location: time.UTC, Now: exportNow}))
	out := buf.String()

	assert.Contains(t, out, "DTSTART:20240502T033000Z")
	assert.Contains(t, out, "DTEND:20240502T043000Z")
	assert.NotContains(t, out, "DTSTART:20240501T233000Z")
	assert.Contains(t, out, "DTSTART:20240502T080000Z")
	assert.Contains(t, out, "DTEND:20240502T100000Z")

	entries, err := Read(strings.NewReader(out), time.UTC)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	start, ok := entries[0].Event.Time.StartTime(time.UTC)
	require.True(t, ok)
	assert.True(t, start.Equal(time.Date(2024, 5, 2, 3, 30, 0, 0, time.UTC)), start)
}

func TestEntriesForDropsDuplicateUIDs(t *testing.T) {
	review := model.EventRecord{Title: "Design review", Time: model.Instant("2024-05-01T14:00:00"), Sender: "Ann"}
	events := []model.EventRecord{review, {Title: "Other"}, review}

	entries := EntriesFor(events)
	require.Len(t, entries, 2)
	assert.Equal(t, "Design review", entries[0].Event.Title)
	assert.Equal(t, "Other", entries[1].Event.Title)

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, entries, Options{Location: time.UTC, Now: exportNow}))
	assert.Equal(t, 1, strings.Count(buf.String(), "UID:"+UID(review)))
}

func TestUIDIsStable(t *testing.T) {
	a := model.EventRecord{Title: "A", Time: model.Instant("2024-05-01")}
	b := a
	b.Context = "different context"
	assert.Equal(t, UID(a), UID(b))
	assert.True(t, strings.HasSuffix(UID(a), "@scancal"))

	c := a
	c.Time = model.Instant("2024-05-02")
	assert.NotEqual(t, UID(a), UID(c))
}

func TestMergeSkipsKnownUIDs(t *testing.T) {
	existing := EntriesFor([]model.EventRecord{{Title: "A"}, {Title: "B"}})
	fresh := EntriesFor([]model.EventRecord{{Title: "B"}, {Title: "C"}, {Title: "C"}})

	merged := Merge(existing, fresh)
	var titles []string
	for _, e := range merged {
		titles = append(titles, e.Event.Title)
	}
	assert.Equal(t, []string{"A", "B", "C"}, titles)
}

func TestReadSkipsUntitledEvents(t *testing.T) {
	doc := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:1@x\r\nDTSTART:20240501T100000Z\r\nEND:VEVENT\r\n" +
		"BEGIN:VEVENT\r\nUID:2@x\r\nSUMMARY:Kept\r\nDTSTART;TZID=America/New_York:20240501T100000\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	entries, err := Read(strings.NewReader(doc), time.UTC)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Kept", entries[0].Event.Title)
	assert.Equal(t, model.Instant("2024-05-01T14:00:00"), entries[0].Event.Time)
}
