package parser

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scancal/internal/apperr"
	"scancal/internal/model"
	"scancal/internal/stream"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/", HTTPClient: srv.Client(), Timeout: 5 * time.Second})
}

func TestStreamParseDeliversFramesInOrder(t *testing.T) {
	reqCh := make(chan streamRequest, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/parse", r.URL.Path)
		var req streamRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		reqCh <- req

		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		io.WriteString(w, `{"chunk_index":1,"total_chunks":2,"new_events":[{"event":"A","urgency":"high","gmailThread":"t1"}]}`+"\n")
		flusher.Flush()
		io.WriteString(w, `not json`+"\n")
		io.WriteString(w, `{"chunk_index":2,"total_chunks":2,"new_events":[{"event":"B"}]}`+"\n")
		flusher.Flush()
		io.WriteString(w, `{"complete":true,"total_chunks":2,"all_events":[]}`+"\n")
	})

	page := model.PageContent{URL: "https://mail.example.com", Title: "Inbox", Text: "Lunch Friday"}
	var frames []stream.Frame
	stats, err := c.StreamParse(context.Background(), page, "Europe/Berlin", func(f stream.Frame) {
		frames = append(frames, f)
	})
	require.NoError(t, err)

	got := <-reqCh
	assert.Equal(t, "Europe/Berlin", got.UserTimezone)
	var sent model.PageContent
	require.NoError(t, json.Unmarshal([]byte(got.Text), &sent))
	assert.Equal(t, "Lunch Friday", sent.Text)

	require.Len(t, frames, 3)
	assert.Equal(t, "A", frames[0].NewEvents[0].Title)
	assert.Equal(t, "t1", frames[0].NewEvents[0].SourceRef)
	assert.Equal(t, model.UrgencyHigh, frames[0].NewEvents[0].Urgency)
	assert.True(t, frames[2].Complete)
	assert.Equal(t, 2, frames[2].ChunkIndex)

	assert.Equal(t, 3, stats.Frames)
	assert.Equal(t, 1, stats.DecodeErrors)
	assert.True(t, stats.SawComplete)
}

func TestStreamParseNonOKIsTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})

	called := false
	_, err := c.StreamParse(context.Background(), model.PageContent{Text: "x"}, "UTC", func(stream.Frame) { called = true })
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTransport)
	assert.Contains(t, err.Error(), "503")
	assert.False(t, called)
}

func TestStreamParseCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.StreamParse(ctx, model.PageContent{Text: "x"}, "UTC", func(stream.Frame) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseText(t *testing.T) {
	now := time.Date(2025, 4, 8, 10, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parse_free_text", r.URL.Path)
		var req parseRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Dentist Thursday 4:30", req.Text)
		assert.Equal(t, "2025-04-08T10:00:00Z", req.UserNow)

		io.WriteString(w, `{"events":[
			{"title":"Dentist","time":{"iso":"2025-04-10T16:30","display":"Thu 4:30 PM"},"description":"checkup","participants":["me"]},
			{"title":""},
			{"title":"Call","time":"Not specified"}
		]}`)
	})

	events, err := c.ParseText(context.Background(), "Dentist Thursday 4:30", "UTC", now)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "Dentist", events[0].Title)
	assert.Equal(t, "checkup", events[0].Context)
	assert.Equal(t, model.Instant("2025-04-10T16:30").Start, events[0].Time.Start)
	assert.Equal(t, []string{"me"}, events[0].Participants)
	assert.True(t, events[1].Time.IsUnspecified())
}

func TestParseTextRejectsBlankInput(t *testing.T) {
	c := New(Options{BaseURL: "http://unused.invalid"})
	_, err := c.ParseText(context.Background(), "   ", "UTC", time.Now())
	assert.ErrorIs(t, err, apperr.ErrEmptyResult)
}

func TestParseTextMalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"events":`)
	})
	_, err := c.ParseText(context.Background(), "x", "UTC", time.Now())
	assert.ErrorIs(t, err, apperr.ErrDecode)
}

func TestLoadContacts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contacts", r.URL.Path)
		var req contactsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "me@example.com", req.UserEmail)
		io.WriteString(w, `{"contacts":[{"email":"ann@x.io","name":"Ann"},{"email":"bob@x.io"}]}`)
	})

	got, err := c.LoadContacts(context.Background(), "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, []model.Contact{{Email: "ann@x.io", Name: "Ann"}, {Email: "bob@x.io"}}, got)
}

func TestMissingBaseURLIsConfigError(t *testing.T) {
	_, err := New(Options{}).LoadContacts(context.Background(), "me")
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://api.example.com/parse", redactURL("https://api.example.com/parse"))
	assert.Equal(t, "https://api.example.com/parse?...(redacted)", redactURL("https://api.example.com/parse?key=secret"))
	assert.Equal(t, "parser://...(redacted)", redactURL("not a url"))
}
