package gcal

import (
	"context"
	"errors"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	appLog "scancal/internal/log"
	"scancal/internal/model"
)

const (
	composeURL = "https://calendar.google.com/calendar/r/eventedit"
	threadURL  = "https://mail.google.com/mail/u/0/#all/"
)

// LinkRequest is the input of a composition link.
type LinkRequest struct {
	Title    string
	Details  string
	Location string
	Time     model.TimeDescriptor
	// TimeZone, when set, is passed as the IANA zone the dates are in.
	TimeZone string
}

// RequestForEvent maps an extracted event onto a composition request.
// The sender becomes the location, as the mail scanner has no better field.
func RequestForEvent(ev model.EventRecord, timeZone string) LinkRequest {
	return LinkRequest{
		Title:    ev.Title,
		Details:  ev.Context,
		Location: ev.Sender,
		Time:     ev.Time,
		TimeZone: timeZone,
	}
}

// Dates encodes the request's time. With a loadable TimeZone, values that
// carry their own offset are shifted into that zone.
func (req LinkRequest) Dates(now time.Time) Dates {
	if req.TimeZone == "" {
		return Encode(req.Time, now)
	}
	loc, err := time.LoadLocation(req.TimeZone)
	if err != nil {
		appLog.Debug("gcal: unknown link time zone; dates left as written", "tz", req.TimeZone)
		return Encode(req.Time, now)
	}
	return EncodeIn(req.Time, now, loc)
}

// Link assembles the prefilled composition URL. Every field value is
// percent-escaped; the start/end separator of the dates value stays literal.
func Link(req LinkRequest, now time.Time) string {
	dates := req.Dates(now)

	var b strings.Builder
	b.WriteString(composeURL)
	b.WriteString("?text=")
	b.WriteString(escape(req.Title))
	b.WriteString("&details=")
	b.WriteString(escape(req.Details))
	b.WriteString("&location=")
	b.WriteString(escape(req.Location))
	b.WriteString("&dates=")
	b.WriteString(escape(dates.Start))
	if dates.End != "" {
		b.WriteString("/")
		b.WriteString(escape(dates.End))
	}
	if req.TimeZone != "" {
		b.WriteString("&ctz=")
		b.WriteString(escape(req.TimeZone))
	}
	return b.String()
}

// LinkForEvent is Link(RequestForEvent(ev, timeZone), now).
func LinkForEvent(ev model.EventRecord, timeZone string, now time.Time) string {
	return Link(RequestForEvent(ev, timeZone), now)
}

// ThreadLink builds the mail thread link for a stored back-reference. ok is
// false when there is no reference, which disables the action.
func ThreadLink(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	return threadURL + url.PathEscape(ref), true
}

// escape percent-encodes s for a query value, spaces as %20.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

var errNoOpener = errors.New("no URL opener for this platform")

// Open hands rawURL to the desktop's default browser and returns without
// waiting for it.
func Open(ctx context.Context, rawURL string) error {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return err
	}

	var name string
	var args []string
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		name = "xdg-open"
	case "darwin":
		name = "open"
	case "windows":
		name, args = "rundll32", []string{"url.dll,FileProtocolHandler"}
	default:
		return errNoOpener
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(name, append(args, rawURL)...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			appLog.Error("gcal: opener exited with error", err, "opener", name)
		}
	}()
	return nil
}
