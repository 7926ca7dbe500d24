package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"scancal/internal/apperr"
	"scancal/internal/ics"
	appLog "scancal/internal/log"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		src   sourceFlags
		out   string
		merge bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Scan and write the events as an iCalendar file",
		Long: "export runs one scan (or a free-text parse with --text) and writes every event as a " +
			"VEVENT. With --merge, events already in the output file are kept and duplicates skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.wire()
			if err != nil {
				return err
			}

			if src.text != "" {
				if _, err := a.scanner.ParseText(cmd.Context(), src.text); err != nil {
					return fmt.Errorf("%s: %w", apperr.StatusText(err), err)
				}
			} else {
				s, err := src.source(a, cmd.InOrStdin())
				if err != nil {
					return err
				}
				if _, err := a.scannerFor(s).Scan(cmd.Context()); err != nil {
					// Events found before the failure are still exported.
					fmt.Fprintln(cmd.ErrOrStderr(), failStatus.Sprint(apperr.StatusText(err)))
				}
			}

			entries := ics.EntriesFor(a.agg.SortedView())
			if merge && out != "-" {
				existing, err := readExisting(out, a)
				if err != nil {
					return err
				}
				entries = ics.Merge(existing, entries)
			}

			icsOpts := ics.Options{Location: a.loc, Now: a.now(), CalendarName: a.cfg.Calendar.Name}
			if out == "-" {
				return ics.Export(cmd.OutOrStdout(), entries, icsOpts)
			}
			if err := writeCalendar(out, entries, icsOpts); err != nil {
				return err
			}
			appLog.Info("export: calendar written", "path", out, "events", len(entries))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d event(s) to %s\n", len(entries), out)
			return err
		},
	}

	src.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "scancal.ics", "output file ('-' for stdout)")
	cmd.Flags().BoolVar(&merge, "merge", false, "keep events already in the output file")
	return cmd
}

func readExisting(path string, a *app) ([]ics.Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := ics.Read(f, a.loc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return entries, nil
}

// writeCalendar writes atomically so a failed export never truncates an
// existing calendar.
func writeCalendar(path string, entries []ics.Entry, opts ics.Options) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".scancal-export-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := ics.Export(tmp, entries, opts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
