package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"scancal/internal/apperr"
)

func newParseCmd(opts *rootOptions) *cobra.Command {
	var (
		asJSON bool
		links  bool
	)

	cmd := &cobra.Command{
		Use:   "parse [text...]",
		Short: "Extract events from free text",
		Long: "parse sends free text (arguments, or standard input when none are given) to the " +
			"single-shot endpoint of the parsing service and prints the events it returns.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 || text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}

			a, err := opts.wire()
			if err != nil {
				return err
			}

			events, err := a.scanner.ParseText(cmd.Context(), text)
			if err != nil {
				return fmt.Errorf("%s: %w", apperr.StatusText(err), err)
			}

			now := a.now().In(a.loc)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), toJSONEvents(events, a.calendarTZ(), now))
			}
			if len(events) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no events found")
				return err
			}
			return writeEvents(cmd.OutOrStdout(), events, renderOptions{TimeZone: a.calendarTZ(), Now: now, Links: links})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the events as JSON")
	cmd.Flags().BoolVar(&links, "links", true, "print calendar and thread links under every event")
	return cmd
}
