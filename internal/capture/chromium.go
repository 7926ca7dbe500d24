package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"scancal/internal/apperr"
	appLog "scancal/internal/log"
	"scancal/internal/model"
)

// Default scrape parameters.
const (
	DefaultTimeoutSec   = 30
	DefaultWaitSelector = "body"
)

// scrapeScript collects the visible page text and, on the mail client, the
// message list rows with their thread ids.
const scrapeScript = `(() => {
  const page = {
    url: window.location.href,
    title: document.title,
    text: document.body ? document.body.innerText : "",
    emails: [],
  };
  if (window.location.hostname.includes("mail.google.com")) {
    page.emails = Array.from(document.querySelectorAll(".zA")).map((el) => {
      const meta = el.querySelector("[data-legacy-thread-id]");
      return {
        subject: el.querySelector(".bog")?.textContent || "",
        sender: el.querySelector(".zF")?.textContent || "",
        snippet: el.querySelector(".y2")?.textContent || "",
        gmailThread: meta?.getAttribute("data-legacy-thread-id") || "",
      };
    });
  }
  return page;
})()`

// ChromeOptions defines parameters for a Chromium-based page scrape.
type ChromeOptions struct {
	// URL to scrape, e.g. "https://mail.google.com/mail/u/0/#inbox".
	URL string

	// WaitSelector must be visible before the page is read. If empty,
	// DefaultWaitSelector is used.
	WaitSelector string

	// Timeout bounds the entire scrape. If zero, DefaultTimeoutSec is used.
	Timeout time.Duration

	// ExecAllocator options, e.g. a user data dir that carries a logged-in
	// profile. Nil means chromedp's headless defaults.
	AllocatorOptions []chromedp.ExecAllocatorOption
}

// ChromeScraper reads the rendered text of a page through a headless
// Chromium instance driven by chromedp.
type ChromeScraper struct {
	opts ChromeOptions
	now  func() time.Time
}

func NewChromeScraper(opts ChromeOptions) *ChromeScraper {
	if strings.TrimSpace(opts.WaitSelector) == "" {
		opts.WaitSelector = DefaultWaitSelector
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return &ChromeScraper{opts: opts, now: time.Now}
}

type scrapeResult struct {
	URL    string              `json:"url"`
	Title  string              `json:"title"`
	Text   string              `json:"text"`
	Emails []model.PageMessage `json:"emails"`
}

// Scrape launches (or attaches to) Chromium, navigates to the configured
// URL, waits for the wait selector and returns the page content. A page
// with no text and no message rows yields an EmptyResult error.
func (s *ChromeScraper) Scrape(parentCtx context.Context) (model.PageContent, error) {
	if s.opts.URL == "" {
		return model.PageContent{}, apperr.Config(fmt.Errorf("capture: URL is required"), "chrome scraper")
	}

	allocCtx := parentCtx
	if len(s.opts.AllocatorOptions) > 0 {
		var allocCancel context.CancelFunc
		allocCtx, allocCancel = chromedp.NewExecAllocator(parentCtx, append(chromedp.DefaultExecAllocatorOptions[:], s.opts.AllocatorOptions...)...)
		defer allocCancel()
	}

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer timeoutCancel()

	var res scrapeResult
	tasks := chromedp.Tasks{
		chromedp.Navigate(s.opts.URL),
		chromedp.WaitVisible(s.opts.WaitSelector, chromedp.ByQuery),
		chromedp.Evaluate(scrapeScript, &res),
	}

	appLog.Info("capture: scrape start", "url", s.opts.URL, "wait_selector", s.opts.WaitSelector)
	if err := chromedp.Run(ctx, tasks); err != nil {
		if parentErr := parentCtx.Err(); parentErr != nil {
			return model.PageContent{}, parentErr
		}
		return model.PageContent{}, fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	page := model.PageContent{
		URL:       res.URL,
		Title:     res.Title,
		Text:      res.Text,
		Timestamp: s.now().UTC(),
		Messages:  res.Emails,
	}
	if page.Empty() {
		return model.PageContent{}, apperr.EmptyResult("page has no text")
	}
	appLog.Info("capture: scrape done", "url", page.URL, "chars", len(page.Text), "messages", len(page.Messages))
	return page, nil
}
