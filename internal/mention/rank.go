package mention

import (
	"strings"

	"golang.org/x/text/cases"

	"scancal/internal/model"
)

const (
	DefaultEmptyLimit = 5
	DefaultMatchLimit = 10
)

// Limits caps the candidate list: EmptyLimit when nothing has been typed
// after the marker, MatchLimit otherwise.
type Limits struct {
	EmptyLimit int
	MatchLimit int
}

func DefaultLimits() Limits {
	return Limits{EmptyLimit: DefaultEmptyLimit, MatchLimit: DefaultMatchLimit}
}

func (l Limits) normalize() Limits {
	if l.EmptyLimit <= 0 {
		l.EmptyLimit = DefaultEmptyLimit
	}
	if l.MatchLimit <= 0 {
		l.MatchLimit = DefaultMatchLimit
	}
	return l
}

// Candidate is one suggested completion. Literal candidates echo the typed
// query so that addresses missing from the directory can still be entered.
type Candidate struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Literal bool   `json:"literal,omitempty"`
}

// Rank returns the candidates for rawQuery in directory order. An empty
// query lists the first EmptyLimit contacts; otherwise up to MatchLimit
// contacts whose email contains the query, ignoring case. With no match the
// query itself is the single (literal) candidate.
func Rank(dir *Directory, rawQuery string, limits Limits) []Candidate {
	limits = limits.normalize()
	contacts := dir.list()

	if rawQuery == "" {
		n := min(limits.EmptyLimit, len(contacts))
		out := make([]Candidate, 0, n)
		for _, c := range contacts[:n] {
			out = append(out, candidateFromContact(c))
		}
		return out
	}

	fold := cases.Fold()
	needle := fold.String(rawQuery)

	out := make([]Candidate, 0, limits.MatchLimit)
	for _, c := range contacts {
		if len(out) == limits.MatchLimit {
			break
		}
		if strings.Contains(fold.String(c.Email), needle) {
			out = append(out, candidateFromContact(c))
		}
	}

	if len(out) == 0 {
		return []Candidate{{Email: rawQuery, Literal: true}}
	}
	return out
}

func candidateFromContact(c model.Contact) Candidate {
	return Candidate{Email: c.Email, Name: c.Name}
}
