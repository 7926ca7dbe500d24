// Package mention implements inline @-mention autocomplete over a contact
// directory. All offsets are rune offsets into the edited text.
package mention

import "unicode"

// Marker starts a mention token.
const Marker = '@'

// Query is the mention being composed: the offset of the marker and the
// text typed between the marker and the cursor.
type Query struct {
	TriggerOffset int
	RawQuery      string
}

// Detect scans backward from cursor for the nearest marker that is not
// separated from the cursor by whitespace. ok is false when the cursor is
// not inside a mention token.
func Detect(text string, cursor int) (Query, bool) {
	runes := []rune(text)
	cursor = clampCursor(cursor, len(runes))

	for i := cursor - 1; i >= 0; i-- {
		r := runes[i]
		if unicode.IsSpace(r) {
			return Query{}, false
		}
		if r == Marker {
			return Query{TriggerOffset: i, RawQuery: string(runes[i+1 : cursor])}, true
		}
	}
	return Query{}, false
}

// Apply replaces the token from the marker through the cursor with email
// and a single space, returning the new text and the cursor position right
// after that space. Text after the cursor is kept.
func Apply(text string, cursor int, q Query, email string) (string, int) {
	runes := []rune(text)
	cursor = clampCursor(cursor, len(runes))
	start := q.TriggerOffset
	if start < 0 || start > cursor {
		start = cursor
	}

	inserted := []rune(email + " ")
	out := make([]rune, 0, len(runes)-(cursor-start)+len(inserted))
	out = append(out, runes[:start]...)
	out = append(out, inserted...)
	out = append(out, runes[cursor:]...)

	return string(out), start + len(inserted)
}

func clampCursor(cursor, n int) int {
	if cursor < 0 {
		return 0
	}
	if cursor > n {
		return n
	}
	return cursor
}
