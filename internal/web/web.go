package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scancal/internal/aggregate"
	"scancal/internal/apperr"
	"scancal/internal/capture"
	"scancal/internal/config"
	"scancal/internal/gcal"
	"scancal/internal/ics"
	appLog "scancal/internal/log"
	"scancal/internal/mention"
	"scancal/internal/metrics"
	"scancal/internal/model"
	"scancal/internal/scan"
)

const maxBodyBytes = 1 << 20

// Deps are the components the API serves.
type Deps struct {
	Config    *config.Config
	Scanner   *scan.Scanner
	Directory *mention.DirectoryCache
	// Metrics may be nil; /metrics then answers 503.
	Metrics *metrics.Metrics
	// NewPageScraper builds the scraper for POST /api/scan {"url": ...}.
	// Nil disables URL scans.
	NewPageScraper func(url string) capture.Scraper
	Location       *time.Location
	Now            func() time.Time
}

// Server provides the local HTTP API of the display layer.
type Server struct {
	cfg     *config.Config
	scanner *scan.Scanner
	dir     *mention.DirectoryCache
	metrics *metrics.Metrics
	scraper func(string) capture.Scraper
	loc     *time.Location
	now     func() time.Time
	mux     *http.ServeMux

	// baseCtx outlives requests; background scans run under it.
	baseCtx context.Context
}

// NewServer constructs a new Server. ctx bounds background scans started
// through the API.
func NewServer(ctx context.Context, d Deps) *Server {
	s := &Server{
		cfg:     d.Config,
		scanner: d.Scanner,
		dir:     d.Directory,
		metrics: d.Metrics,
		scraper: d.NewPageScraper,
		loc:     d.Location,
		now:     d.Now,
		mux:     http.NewServeMux(),
		baseCtx: ctx,
	}
	if s.cfg == nil {
		s.cfg = config.DefaultConfig()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/session", s.handleSession)
	s.mux.HandleFunc("POST /api/scan", s.handleScan)
	s.mux.HandleFunc("POST /api/parse", s.handleParse)
	s.mux.HandleFunc("POST /api/mentions", s.handleMentions)
	s.mux.HandleFunc("POST /api/calendar-link", s.handleCalendarLink)
	s.mux.HandleFunc("GET /api/session.ics", s.handleSessionICS)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		} else if _, p, ok := strings.Cut(path, " "); ok {
			path = p
		}
		s.metrics.ObserveHTTPRequest(r.Method, path, rec.status)
		appLog.Debug("api request", "method", r.Method, "path", r.URL.Path, "status", rec.status)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is the JSON view of one event for the display layer.
type eventDTO struct {
	Title        string               `json:"title"`
	Time         model.TimeDescriptor `json:"time"`
	Context      string               `json:"context,omitempty"`
	Sender       string               `json:"sender,omitempty"`
	Urgency      model.Urgency        `json:"urgency,omitempty"`
	SourceRef    string               `json:"source_ref,omitempty"`
	RawSubject   string               `json:"raw_subject,omitempty"`
	Participants []string             `json:"participants,omitempty"`
	ThreadURL    string               `json:"thread_url,omitempty"`
	CalendarURL  string               `json:"calendar_url"`
}

// sessionResponse is the JSON response shape for /api/session.
type sessionResponse struct {
	SessionID  string     `json:"session_id"`
	Status     string     `json:"status"`
	StatusText string     `json:"status_text"`
	Processed  int        `json:"processed,omitempty"`
	Total      int        `json:"total,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	Events     []eventDTO `json:"events"`
}

func (s *Server) timeZoneParam() string {
	if s.cfg.Calendar.IncludeCTZ {
		return s.cfg.Timezone
	}
	return ""
}

func (s *Server) toDTO(ev model.EventRecord, now time.Time) eventDTO {
	thread, _ := gcal.ThreadLink(ev.SourceRef)
	return eventDTO{
		Title:        ev.Title,
		Time:         ev.Time,
		Context:      ev.Context,
		Sender:       ev.Sender,
		Urgency:      ev.Urgency,
		SourceRef:    ev.SourceRef,
		RawSubject:   ev.RawSubject,
		Participants: ev.Participants,
		ThreadURL:    thread,
		CalendarURL:  gcal.LinkForEvent(ev, s.timeZoneParam(), now),
	}
}

func (s *Server) sessionView() sessionResponse {
	snap := s.scanner.Aggregator().Snapshot()
	now := s.now().In(s.loc)

	resp := sessionResponse{
		SessionID:  string(snap.SessionID),
		Status:     aggregate.StatusName(snap.Status),
		StatusText: snap.Status.String(),
		Events:     make([]eventDTO, 0, len(snap.Events)),
	}
	if p, ok := snap.Status.(aggregate.InProgress); ok {
		resp.Processed, resp.Total = p.Processed, p.Total
	}
	if !snap.StartedAt.IsZero() {
		resp.StartedAt, resp.UpdatedAt = &snap.StartedAt, &snap.UpdatedAt
	}
	for _, ev := range snap.Events {
		resp.Events = append(resp.Events, s.toDTO(ev, now))
	}
	return resp
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionView())
}

type scanRequest struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

type scanResponse struct {
	SessionID string `json:"session_id"`
}

// handleScan starts a scan of a URL (headless browser) or of posted text
// and answers 202 with the new session id. Progress is read from
// /api/session.
//
// POST /api/scan {"url": "..."} | {"text": "..."} | {} (configured page)
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var src capture.Scraper
	switch {
	case strings.TrimSpace(req.Text) != "":
		src = capture.TextSource("api", req.Text)
	case s.scraper == nil:
		writeError(w, http.StatusBadRequest, "page scans are not available; post text instead")
		return
	case req.URL != "":
		src = s.scraper(req.URL)
	case s.cfg.Scrape.URL != "":
		src = s.scraper(s.cfg.Scrape.URL)
	default:
		writeError(w, http.StatusBadRequest, "no url or text to scan")
		return
	}

	id, done := s.scanner.Start(s.baseCtx, src)
	if id == "" {
		out := <-done
		writeAppError(w, out.Err)
		return
	}
	go func() {
		out := <-done
		if out.Err != nil {
			appLog.Info("api scan ended", "session", id, "status", apperr.StatusText(out.Err))
		}
	}()

	appLog.Info("api scan started", "session", id)
	writeJSON(w, http.StatusAccepted, scanResponse{SessionID: string(id)})
}

type parseRequest struct {
	Text string `json:"text"`
}

type parseResponse struct {
	Added   []eventDTO      `json:"added"`
	Session sessionResponse `json:"session"`
}

// handleParse runs a single-shot parse and appends the results to the
// current session.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	added, err := s.scanner.ParseText(r.Context(), req.Text)
	if err != nil {
		writeAppError(w, err)
		return
	}

	now := s.now().In(s.loc)
	resp := parseResponse{Added: make([]eventDTO, 0, len(added)), Session: s.sessionView()}
	for _, ev := range added {
		if ev.Validate() == nil {
			resp.Added = append(resp.Added, s.toDTO(ev, now))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type mentionRequest struct {
	Text   string `json:"text"`
	Cursor int    `json:"cursor"`
	// Identity overrides the configured identity.
	Identity string `json:"identity,omitempty"`
	// Move steps the highlight before anything is committed; negative
	// values move backward and wrap.
	Move int `json:"move,omitempty"`
	// Commit inserts the highlighted candidate.
	Commit bool `json:"commit,omitempty"`
	// Select commits the candidate at this index.
	Select *int `json:"select,omitempty"`
}

type mentionQueryDTO struct {
	TriggerOffset int    `json:"trigger_offset"`
	RawQuery      string `json:"raw_query"`
}

type mentionResponse struct {
	Active         bool                `json:"active"`
	Query          *mentionQueryDTO    `json:"query,omitempty"`
	Candidates     []mention.Candidate `json:"candidates"`
	Index          int                 `json:"index"`
	Text           string              `json:"text"`
	Cursor         int                 `json:"cursor"`
	DirectoryError string              `json:"directory_error,omitempty"`
}

// handleMentions computes suggestions for a text edit. "move" steps the
// highlight, "commit" inserts the highlighted candidate and "select" inserts
// the candidate at an index.
func (s *Server) handleMentions(w http.ResponseWriter, r *http.Request) {
	var req mentionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	identity := req.Identity
	if identity == "" {
		identity = s.cfg.Identity
	}

	e := mention.NewEngine(s.dir, identity, mention.Limits{
		EmptyLimit: s.cfg.Mentions.EmptyLimit,
		MatchLimit: s.cfg.Mentions.MatchLimit,
	})
	resp := mentionResponse{Text: req.Text, Cursor: req.Cursor, Candidates: []mention.Candidate{}}

	if identity != "" {
		err := e.LoadDirectory(r.Context())
		s.metrics.ObserveDirectoryLoad(err)
		if err != nil {
			resp.DirectoryError = apperr.StatusText(err)
		}
	}

	if e.Update(req.Text, req.Cursor) {
		q, _ := e.Query()
		resp.Query = &mentionQueryDTO{TriggerOffset: q.TriggerOffset, RawQuery: q.RawQuery}
		resp.Candidates = e.Candidates()
		resp.Active = e.Active()
		e.Move(req.Move)
		resp.Index = e.Index()
	}

	if req.Select != nil || req.Commit {
		var (
			text   string
			cursor int
			ok     bool
		)
		if req.Select != nil {
			text, cursor, ok = e.CommitAt(*req.Select)
		} else {
			text, cursor, ok = e.Commit()
		}
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "no candidate at that index")
			return
		}
		resp = mentionResponse{Text: text, Cursor: cursor, Candidates: []mention.Candidate{}, DirectoryError: resp.DirectoryError}
	}

	writeJSON(w, http.StatusOK, resp)
}

type calendarLinkResponse struct {
	URL       string `json:"url"`
	Dates     string `json:"dates"`
	AllDay    bool   `json:"all_day"`
	ThreadURL string `json:"thread_url,omitempty"`
}

// handleCalendarLink builds the composition link for a posted event. The
// body uses the event wire format (title/event, time, context/description,
// sender).
func (s *Server) handleCalendarLink(w http.ResponseWriter, r *http.Request) {
	var ev model.EventRecord
	if err := decodeBody(r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := ev.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now().In(s.loc)
	req := gcal.RequestForEvent(ev, s.timeZoneParam())
	dates := req.Dates(now)
	thread, _ := gcal.ThreadLink(ev.SourceRef)
	writeJSON(w, http.StatusOK, calendarLinkResponse{
		URL:       gcal.Link(req, now),
		Dates:     dates.Param(),
		AllDay:    dates.AllDay,
		ThreadURL: thread,
	})
}

func (s *Server) handleSessionICS(w http.ResponseWriter, _ *http.Request) {
	snap := s.scanner.Aggregator().Snapshot()

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="scancal.ics"`)
	err := ics.Export(w, ics.EntriesFor(snap.Events), ics.Options{
		Location:     s.loc,
		Now:          s.now(),
		CalendarName: s.cfg.Calendar.Name,
	})
	if err != nil {
		appLog.Error("api ics export failed", err)
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty body: keep the zero request.
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeAppError maps pipeline errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindTransport:
		status = http.StatusBadGateway
	case apperr.KindDecode:
		status = http.StatusBadGateway
	case apperr.KindEmptyResult:
		status = http.StatusUnprocessableEntity
	case apperr.KindConfig:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, apperr.StatusText(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
