// Package parser talks to the remote parsing service: the streaming
// page parse, the single-shot free-text parse and the contact directory.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scancal/internal/apperr"
	appLog "scancal/internal/log"
	"scancal/internal/model"
	"scancal/internal/stream"
)

const (
	DefaultStreamPath   = "/parse"
	DefaultParsePath    = "/parse_free_text"
	DefaultContactsPath = "/contacts"
	DefaultTimeout      = 30 * time.Second

	maxResponseBytes = 8 << 20
	maxErrorBody     = 512
)

// Options configures a Client. Zero fields fall back to the defaults.
type Options struct {
	BaseURL      string
	StreamPath   string
	ParsePath    string
	ContactsPath string
	// Timeout bounds the single-shot and contacts calls. Streaming calls
	// are bounded only by their context.
	Timeout time.Duration
	// HTTPClient is used for every call; tests inject httptest clients.
	HTTPClient *http.Client
}

// Client is the parsing service client.
type Client struct {
	base         string
	streamPath   string
	parsePath    string
	contactsPath string
	timeout      time.Duration
	http         *http.Client
}

func New(opts Options) *Client {
	c := &Client{
		base:         strings.TrimRight(opts.BaseURL, "/"),
		streamPath:   orDefault(opts.StreamPath, DefaultStreamPath),
		parsePath:    orDefault(opts.ParsePath, DefaultParsePath),
		contactsPath: orDefault(opts.ContactsPath, DefaultContactsPath),
		timeout:      opts.Timeout,
		http:         opts.HTTPClient,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

type streamRequest struct {
	Text         string `json:"text"`
	UserTimezone string `json:"user_timezone"`
}

// StreamParse sends page to the streaming endpoint and hands every decoded
// frame to fn as it arrives. It returns when the response ends; a non-2xx
// answer or a broken connection is a transport error.
func (c *Client) StreamParse(ctx context.Context, page model.PageContent, timeZone string, fn func(stream.Frame)) (stream.Stats, error) {
	text, err := json.Marshal(page)
	if err != nil {
		return stream.Stats{}, fmt.Errorf("encode page content: %w", err)
	}

	resp, err := c.post(ctx, c.streamPath, streamRequest{Text: string(text), UserTimezone: timeZone}, "application/x-ndjson")
	if err != nil {
		return stream.Stats{}, err
	}
	defer resp.Body.Close()

	stats, err := stream.Pump(ctx, resp.Body, fn)
	appLog.Info("parser stream done",
		"url", redactURL(c.base+c.streamPath),
		"frames", stats.Frames,
		"decode_errors", stats.DecodeErrors,
		"complete", stats.SawComplete,
	)
	return stats, err
}

type parseRequest struct {
	Text         string `json:"text"`
	UserTimezone string `json:"user_timezone"`
	UserNow      string `json:"user_now"`
}

type parseResponse struct {
	Events []json.RawMessage `json:"events"`
}

// ParseText extracts events from a single piece of free text. Events that
// fail to decode or have no title are skipped.
func (c *Client) ParseText(ctx context.Context, text, timeZone string, now time.Time) ([]model.EventRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.EmptyResult("no text to parse")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, c.parsePath, parseRequest{
		Text:         text,
		UserTimezone: timeZone,
		UserNow:      now.Format(time.RFC3339),
	}, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out parseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, apperr.Decode(err, "decode parse response")
	}

	events := make([]model.EventRecord, 0, len(out.Events))
	for i, raw := range out.Events {
		var ev model.EventRecord
		if err := json.Unmarshal(raw, &ev); err != nil {
			appLog.Error("parser: event decode failed; skipping", err, "event_index", i)
			continue
		}
		if err := ev.Validate(); err != nil {
			appLog.Error("parser: invalid event; skipping", err, "event_index", i)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

type contactsRequest struct {
	UserEmail string `json:"user_email"`
	Query     string `json:"query"`
}

type contactsResponse struct {
	Contacts []model.Contact `json:"contacts"`
}

// LoadContacts fetches the full directory of identity. It satisfies
// mention.Loader.
func (c *Client) LoadContacts(ctx context.Context, identity string) ([]model.Contact, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, c.contactsPath, contactsRequest{UserEmail: identity}, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out contactsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, apperr.Decode(err, "decode contacts response")
	}
	appLog.Debug("parser contacts loaded", "count", len(out.Contacts))
	return out.Contacts, nil
}

// post sends body as JSON and returns the response when its status is 2xx.
// The caller closes the body.
func (c *Client) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	if c.base == "" {
		return nil, apperr.Config(errors.New("parser base URL is empty"), "parser client")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Transport(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	appLog.Debug("parser request start", "url", redactURL(endpoint), "bytes", len(payload))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ctxErr
		}
		return nil, apperr.Transport(err, "request "+redactURL(endpoint))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		err := fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(snippet)))
		appLog.Error("parser non-OK response", err, "url", redactURL(endpoint), "status", resp.StatusCode)
		return nil, apperr.Transport(err, "request "+redactURL(endpoint))
	}
	return resp, nil
}

// redactURL keeps the scheme, host and path of u for logging and drops the
// query, which may carry credentials.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "parser://...(redacted)"
	}
	if parsed.RawQuery != "" {
		return parsed.Scheme + "://" + parsed.Host + parsed.Path + "?...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + parsed.Path
}
