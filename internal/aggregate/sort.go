package aggregate

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"scancal/internal/model"
)

type sortKey struct {
	ev      model.EventRecord
	rank    int
	start   time.Time
	hasTime bool
	folded  string
}

// SortEvents orders events in place by
//
//  1. urgency: high, medium, low, absent;
//  2. start time ascending, events without a parsable time last;
//  3. title, compared with Unicode case folding.
//
// Remaining ties fall back to the other record fields so the order is total
// and does not depend on input order.
func SortEvents(events []model.EventRecord, loc *time.Location) {
	if len(events) < 2 {
		return
	}

	fold := cases.Fold()
	keys := make([]sortKey, len(events))
	for i, ev := range events {
		k := sortKey{
			ev:     ev,
			rank:   ev.Urgency.Rank(),
			folded: fold.String(ev.Title),
		}
		k.start, k.hasTime = ev.Time.StartTime(loc)
		keys[i] = k
	}

	slices.SortStableFunc(keys, compareKeys)

	for i := range keys {
		events[i] = keys[i].ev
	}
}

func compareKeys(a, b sortKey) int {
	if c := cmp.Compare(a.rank, b.rank); c != 0 {
		return c
	}

	switch {
	case a.hasTime && b.hasTime:
		if c := a.start.Compare(b.start); c != 0 {
			return c
		}
	case a.hasTime:
		return -1
	case b.hasTime:
		return 1
	}

	if c := strings.Compare(a.folded, b.folded); c != 0 {
		return c
	}

	return cmp.Or(
		strings.Compare(a.ev.Title, b.ev.Title),
		strings.Compare(a.ev.Time.ISO(), b.ev.Time.ISO()),
		strings.Compare(a.ev.Context, b.ev.Context),
		strings.Compare(a.ev.Sender, b.ev.Sender),
		strings.Compare(a.ev.SourceRef, b.ev.SourceRef),
		strings.Compare(a.ev.RawSubject, b.ev.RawSubject),
		strings.Compare(a.ev.Time.Display, b.ev.Time.Display),
		slices.Compare(a.ev.Participants, b.ev.Participants),
	)
}
