// Package capture provides the scrape capability: it turns a page, a file
// or standard input into the PageContent sent to the parsing service.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"scancal/internal/apperr"
	"scancal/internal/model"
)

// Scraper produces the content of the page being scanned.
type Scraper interface {
	Scrape(ctx context.Context) (model.PageContent, error)
}

const maxInputBytes = 16 << 20

// ReaderSource reads page content from a stream. Input that decodes as a
// PageContent JSON document is used as-is; anything else is taken as the
// plain page text.
type ReaderSource struct {
	// Name is recorded as the page title for plain-text input.
	Name string
	Open func() (io.ReadCloser, error)
	now  func() time.Time
}

// FileSource reads path, or standard input when path is "-".
func FileSource(path string) *ReaderSource {
	open := func() (io.ReadCloser, error) { return os.Open(path) }
	if path == "-" {
		open = func() (io.ReadCloser, error) { return io.NopCloser(os.Stdin), nil }
	}
	return &ReaderSource{Name: path, Open: open, now: time.Now}
}

// TextSource serves a fixed string; used for piped free text.
func TextSource(name, text string) *ReaderSource {
	return &ReaderSource{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewBufferString(text)), nil },
		now:  time.Now,
	}
}

func (s *ReaderSource) Scrape(ctx context.Context) (model.PageContent, error) {
	if err := ctx.Err(); err != nil {
		return model.PageContent{}, err
	}

	rc, err := s.Open()
	if err != nil {
		return model.PageContent{}, fmt.Errorf("capture: open %s: %w", s.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxInputBytes))
	if err != nil {
		return model.PageContent{}, fmt.Errorf("capture: read %s: %w", s.Name, err)
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}

	page, ok := decodePage(data)
	if !ok {
		page = model.PageContent{Title: s.Name, Text: string(data)}
	}
	if page.Timestamp.IsZero() {
		page.Timestamp = now().UTC()
	}
	if page.Empty() {
		return model.PageContent{}, apperr.EmptyResult("input has no text")
	}
	return page, nil
}

func decodePage(data []byte) (model.PageContent, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return model.PageContent{}, false
	}
	var page model.PageContent
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return model.PageContent{}, false
	}
	if page.Empty() {
		return model.PageContent{}, false
	}
	return page, true
}
