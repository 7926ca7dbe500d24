package mention

import (
	"context"
	"errors"
	"slices"
)

// Engine is the suggestion state of one composition surface. It is not
// safe for concurrent use; each text box owns its own Engine while sharing
// the DirectoryCache.
type Engine struct {
	cache    *DirectoryCache
	identity string
	limits   Limits
	loadErr  error

	text       string
	cursor     int
	query      Query
	active     bool
	candidates []Candidate
	index      int
}

func NewEngine(cache *DirectoryCache, identity string, limits Limits) *Engine {
	return &Engine{
		cache:    cache,
		identity: identity,
		limits:   limits.normalize(),
	}
}

// LoadDirectory makes sure the identity's directory is cached. A failure is
// remembered in Err but does not disable suggestions: literal candidates
// keep working.
func (e *Engine) LoadDirectory(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	_, err := e.cache.Load(ctx, e.identity)
	if errors.Is(err, ErrSuperseded) {
		return nil
	}
	e.loadErr = err
	return err
}

// Err returns the last directory load error, if any.
func (e *Engine) Err() error {
	return e.loadErr
}

func (e *Engine) directory() *Directory {
	if e.cache == nil {
		return nil
	}
	d, _ := e.cache.Get(e.identity)
	return d
}

// Update recomputes the suggestion state for an edit. It reports whether a
// mention is being composed.
func (e *Engine) Update(text string, cursor int) bool {
	e.text = text
	e.cursor = clampCursor(cursor, len([]rune(text)))

	q, ok := Detect(text, e.cursor)
	if !ok {
		e.Cancel()
		return false
	}

	e.query = q
	e.active = true
	e.candidates = Rank(e.directory(), q.RawQuery, e.limits)
	e.index = 0
	return true
}

// Active reports whether suggestions are showing.
func (e *Engine) Active() bool {
	return e.active && len(e.candidates) > 0
}

// Query returns the mention being composed.
func (e *Engine) Query() (Query, bool) {
	return e.query, e.active
}

// Candidates returns a copy of the current suggestions.
func (e *Engine) Candidates() []Candidate {
	if !e.active {
		return nil
	}
	return slices.Clone(e.candidates)
}

// Index is the highlighted candidate.
func (e *Engine) Index() int {
	return e.index
}

// Next moves the highlight forward, wrapping around.
func (e *Engine) Next() {
	if n := len(e.candidates); e.active && n > 0 {
		e.index = (e.index + 1) % n
	}
}

// Prev moves the highlight backward, wrapping around.
func (e *Engine) Prev() {
	if n := len(e.candidates); e.active && n > 0 {
		e.index = (e.index - 1 + n) % n
	}
}

// Move steps the highlight n rows, forward when n is positive.
func (e *Engine) Move(n int) {
	for ; n > 0; n-- {
		e.Next()
	}
	for ; n < 0; n++ {
		e.Prev()
	}
}

// Commit inserts the highlighted candidate and clears the suggestion state.
// ok is false when there is nothing to commit; text and cursor are then
// returned unchanged.
func (e *Engine) Commit() (string, int, bool) {
	return e.CommitAt(e.index)
}

// CommitAt inserts candidate i (e.g. a clicked row).
func (e *Engine) CommitAt(i int) (string, int, bool) {
	if !e.Active() || i < 0 || i >= len(e.candidates) {
		return e.text, e.cursor, false
	}

	text, cursor := Apply(e.text, e.cursor, e.query, e.candidates[i].Email)
	e.Cancel()
	e.text, e.cursor = text, cursor
	return text, cursor, true
}

// Cancel hides the suggestions without touching the text.
func (e *Engine) Cancel() {
	e.active = false
	e.query = Query{}
	e.candidates = nil
	e.index = 0
}
