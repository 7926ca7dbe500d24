package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"scancal/internal/aggregate"
	"scancal/internal/apperr"
	"scancal/internal/capture"
	"scancal/internal/scan"
)

// sourceFlags select what a scan reads.
type sourceFlags struct {
	url  string
	file string
	text string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "scrape this page with headless Chromium (default: scrape.url)")
	cmd.Flags().StringVar(&f.file, "file", "", "read page content from a file ('-' for stdin); JSON page documents and plain text are accepted")
	cmd.Flags().StringVar(&f.text, "text", "", "scan this text instead of a page")
	cmd.MarkFlagsMutuallyExclusive("url", "file", "text")
}

var errNoSource = errors.New("nothing to scan: pass --url, --file or --text, or set scrape.url")

func (f *sourceFlags) source(a *app, stdin io.Reader) (capture.Scraper, error) {
	switch {
	case f.text != "":
		return capture.TextSource("text", f.text), nil
	case f.file == "-":
		return &capture.ReaderSource{Name: "stdin", Open: func() (io.ReadCloser, error) { return io.NopCloser(stdin), nil }}, nil
	case f.file != "":
		return capture.FileSource(f.file), nil
	case f.url != "":
		return newPageScraper(a.cfg)(f.url), nil
	case a.cfg.Scrape.URL != "":
		return newPageScraper(a.cfg)(a.cfg.Scrape.URL), nil
	default:
		return nil, errNoSource
	}
}

type scanOutput struct {
	SessionID    string      `json:"session_id"`
	Status       string      `json:"status"`
	StatusText   string      `json:"status_text"`
	Error        string      `json:"error,omitempty"`
	Frames       int         `json:"frames"`
	DecodeErrors int         `json:"decode_errors"`
	Events       []jsonEvent `json:"events"`
}

func newScanCmd(opts *rootOptions) *cobra.Command {
	var (
		src    sourceFlags
		asJSON bool
		links  bool
		watch  string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a page and list the events found",
		Long: "scan reads a page (headless Chromium, a file or text), streams it through the parsing " +
			"service and prints the events in display order. Events found before a failure are kept.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.wire()
			if err != nil {
				return err
			}
			s, err := src.source(a, cmd.InOrStdin())
			if err != nil {
				return err
			}
			sc := a.scannerFor(s)

			if watch == "" {
				watch = a.cfg.Watch
			}
			if cmd.Flags().Changed("watch") || (watch != "" && src.file == "" && src.text == "") {
				return runWatch(cmd, a, sc, watch, asJSON, links)
			}

			res, scanErr := sc.Scan(cmd.Context())
			if err := printScan(cmd.OutOrStdout(), a, sc, res, scanErr, asJSON, links); err != nil {
				return err
			}
			if scanErr != nil {
				return fmt.Errorf("%s: %w", apperr.StatusText(scanErr), scanErr)
			}
			return nil
		},
	}

	src.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session as JSON")
	cmd.Flags().BoolVar(&links, "links", true, "print calendar and thread links under every event")
	cmd.Flags().StringVar(&watch, "watch", "", "rescan on this cron schedule (e.g. \"*/15 * * * *\" or \"@every 10m\")")

	return cmd
}

func runWatch(cmd *cobra.Command, a *app, sc *scan.Scanner, expr string, asJSON, links bool) error {
	w, err := scan.NewWatcher(sc, expr, a.loc)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	w.OnResult = func(res scan.Result, err error) {
		if printErr := printScan(out, a, sc, res, err, asJSON, links); printErr != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), printErr)
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "watching on %q, press Ctrl-C to stop\n", expr)
	return w.Run(cmd.Context())
}

func printScan(w io.Writer, a *app, sc *scan.Scanner, res scan.Result, scanErr error, asJSON, links bool) error {
	events := sc.Aggregator().SortedView()
	now := a.now().In(a.loc)

	if asJSON {
		out := scanOutput{
			SessionID:    string(res.SessionID),
			Status:       "idle",
			Frames:       res.Stats.Frames,
			DecodeErrors: res.Stats.DecodeErrors,
			Events:       toJSONEvents(events, a.calendarTZ(), now),
		}
		if res.Status != nil {
			out.Status = aggregate.StatusName(res.Status)
			out.StatusText = res.Status.String()
		}
		if scanErr != nil {
			out.Error = apperr.StatusText(scanErr)
		}
		return writeJSON(w, out)
	}

	if err := writeEvents(w, events, renderOptions{TimeZone: a.calendarTZ(), Now: now, Links: links}); err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Fprintln(w)
	}

	status := "Idle"
	if res.Status != nil {
		status = statusLine(res.Status)
	}
	line := fmt.Sprintf("%s  %d event(s)  %d frame(s)", status, len(events), res.Stats.Frames)
	if res.Stats.DecodeErrors > 0 {
		line += fmt.Sprintf("  %d undecodable", res.Stats.DecodeErrors)
	}
	if scanErr != nil {
		line += "  " + strings.TrimSpace(apperr.StatusText(scanErr))
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
