// Package scan runs the scan pipeline: scrape the page, stream it through
// the parsing service and feed every frame into the aggregator.
package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"scancal/internal/aggregate"
	"scancal/internal/apperr"
	"scancal/internal/capture"
	appLog "scancal/internal/log"
	"scancal/internal/metrics"
	"scancal/internal/model"
	"scancal/internal/stream"
)

// StreamParser is the streaming side of the parsing service.
type StreamParser interface {
	StreamParse(ctx context.Context, page model.PageContent, timeZone string, fn func(stream.Frame)) (stream.Stats, error)
}

// TextParser is the single-shot side of the parsing service.
type TextParser interface {
	ParseText(ctx context.Context, text, timeZone string, now time.Time) ([]model.EventRecord, error)
}

type Options struct {
	Aggregator *aggregate.Aggregator
	Scraper    capture.Scraper
	Parser     StreamParser
	TextParser TextParser
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// TimeZone is the IANA zone sent with every parse request.
	TimeZone string
	Clock    func() time.Time
}

// Result describes how a scan ended.
type Result struct {
	SessionID aggregate.SessionID
	Status    aggregate.Status
	Events    int
	Stats     stream.Stats
	Elapsed   time.Duration
}

// Scanner owns the single running scan. Starting a scan cancels the one
// before it, whose late frames are then rejected by the aggregator.
type Scanner struct {
	agg      *aggregate.Aggregator
	scraper  capture.Scraper
	parser   StreamParser
	text     TextParser
	metrics  *metrics.Metrics
	timeZone string
	now      func() time.Time

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

func New(opts Options) *Scanner {
	s := &Scanner{
		agg:      opts.Aggregator,
		scraper:  opts.Scraper,
		parser:   opts.Parser,
		text:     opts.TextParser,
		metrics:  opts.Metrics,
		timeZone: opts.TimeZone,
		now:      opts.Clock,
	}
	if s.agg == nil {
		s.agg = aggregate.New()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Aggregator returns the aggregator scans write to.
func (s *Scanner) Aggregator() *aggregate.Aggregator {
	return s.agg
}

// acquire cancels the running scan, if any, and returns the context of the
// new one.
func (s *Scanner) acquire(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	mine := s.seq
	s.cancel = cancel
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if s.seq == mine {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}
}

// Cancel stops the running scan. Its session ends as Failed(canceled).
func (s *Scanner) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Outcome is delivered once per started scan.
type Outcome struct {
	Result Result
	Err    error
}

// Scan runs one scan of the configured page to the end of its stream.
// Events ingested before a failure stay in the session. The returned error
// is nil for a Complete session.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	_, done := s.Start(ctx, s.scraper)
	out := <-done
	return out.Result, out.Err
}

// Start begins a new session over src and returns its id as soon as the
// session exists; the scan itself continues in the background and reports
// on the returned channel.
func (s *Scanner) Start(parent context.Context, src capture.Scraper) (aggregate.SessionID, <-chan Outcome) {
	done := make(chan Outcome, 1)
	if src == nil || s.parser == nil {
		done <- Outcome{Err: apperr.Config(errors.New("scanner needs a scraper and a parser"), "scan")}
		close(done)
		return "", done
	}

	ctx, release := s.acquire(parent)
	start := s.now()
	id := s.agg.BeginSession()
	s.metrics.SetSessionEvents(0)
	appLog.Info("scan: session started", "session", id)

	go func() {
		defer close(done)
		defer release()
		res, err := s.run(ctx, id, start, src)
		done <- Outcome{Result: res, Err: err}
	}()
	return id, done
}

func (s *Scanner) run(ctx context.Context, id aggregate.SessionID, start time.Time, src capture.Scraper) (Result, error) {
	page, err := src.Scrape(ctx)
	if err != nil {
		return s.fail(id, start, stream.Stats{}, aggregate.ReasonScrape, err)
	}

	stats, err := s.parser.StreamParse(ctx, page, s.timeZone, func(f stream.Frame) {
		if ingestErr := s.agg.Ingest(id, f); ingestErr != nil {
			appLog.Debug("scan: frame ignored", "session", id, "reason", ingestErr.Error())
			return
		}
		s.metrics.ObserveEvents("stream", len(f.NewEvents))
	})
	s.metrics.ObserveFrames(stats.Frames, stats.DecodeErrors)
	if err != nil {
		return s.fail(id, start, stats, aggregate.ReasonTransport, err)
	}

	if err := s.agg.Finish(id); err != nil {
		return s.superseded(id, start, stats, err)
	}

	res := s.result(id, start, stats)
	s.metrics.ObserveScan(metrics.OutcomeComplete, res.Elapsed)
	appLog.Info("scan: session complete",
		"session", id,
		"events", res.Events,
		"frames", stats.Frames,
		"decode_errors", stats.DecodeErrors,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

func (s *Scanner) fail(id aggregate.SessionID, start time.Time, stats stream.Stats, fallback string, err error) (Result, error) {
	reason := fallback
	outcome := metrics.OutcomeFailed
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = aggregate.ReasonCanceled
	case errors.Is(err, apperr.ErrEmptyResult):
		reason = aggregate.ReasonEmpty
		outcome = metrics.OutcomeEmpty
	case errors.Is(err, apperr.ErrTransport):
		reason = aggregate.ReasonTransport
	}

	switch failErr := s.agg.Fail(id, reason); {
	case errors.Is(failErr, aggregate.ErrSessionClosed):
		// The final frame already arrived; the error came after it.
		appLog.Debug("scan: error after completion ignored", "session", id, "err", err.Error())
		res := s.result(id, start, stats)
		s.metrics.ObserveScan(metrics.OutcomeComplete, res.Elapsed)
		return res, nil
	case failErr != nil:
		return s.superseded(id, start, stats, err)
	}

	res := s.result(id, start, stats)
	s.metrics.ObserveScan(outcome, res.Elapsed)
	appLog.Error("scan: session failed", err, "session", id, "reason", reason, "events_kept", res.Events)
	return res, err
}

// superseded reports a scan whose session was replaced while it ran.
func (s *Scanner) superseded(id aggregate.SessionID, start time.Time, stats stream.Stats, err error) (Result, error) {
	elapsed := s.now().Sub(start)
	s.metrics.ObserveScan(metrics.OutcomeSuperseded, elapsed)
	appLog.Info("scan: session superseded", "session", id)
	if err == nil || errors.Is(err, aggregate.ErrStaleSession) {
		err = context.Canceled
	}
	return Result{SessionID: id, Status: aggregate.Failed{Reason: aggregate.ReasonCanceled}, Stats: stats, Elapsed: elapsed}, err
}

func (s *Scanner) result(id aggregate.SessionID, start time.Time, stats stream.Stats) Result {
	snap := s.agg.Snapshot()
	s.metrics.SetSessionEvents(len(snap.Events))
	return Result{
		SessionID: id,
		Status:    snap.Status,
		Events:    len(snap.Events),
		Stats:     stats,
		Elapsed:   s.now().Sub(start),
	}
}

// ParseText runs a single-shot parse of text and appends the results to the
// current session. It returns the events that were added.
func (s *Scanner) ParseText(ctx context.Context, text string) ([]model.EventRecord, error) {
	if s.text == nil {
		return nil, apperr.Config(errors.New("scanner has no text parser"), "parse text")
	}

	events, err := s.text.ParseText(ctx, text, s.timeZone, s.now())
	if err != nil {
		appLog.Error("scan: text parse failed", err)
		return nil, err
	}

	n := s.agg.Append(events...)
	s.metrics.ObserveEvents("text", n)
	s.metrics.SetSessionEvents(len(s.agg.Events()))
	appLog.Info("scan: text parsed", "events", n)
	return events, nil
}
