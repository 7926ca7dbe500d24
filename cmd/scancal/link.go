package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scancal/internal/gcal"
	"scancal/internal/model"
)

func newLinkCmd(opts *rootOptions) *cobra.Command {
	var (
		ev      model.EventRecord
		when    string
		thread  bool
		openURL bool
	)

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Build a prefilled calendar link for an event",
		Long: "link prints the calendar composition URL for one event. --time takes an ISO date, " +
			"date-time or \"start/end\" range; without it the event starts now and lasts an hour.",
		Example: `  scancal link --title "Design review" --time 2024-05-01T14:00 --sender Ann
  scancal link --title "Offsite" --time 2024-05-06/2024-05-08 --open`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.wire()
			if err != nil {
				return err
			}

			ev.Title = strings.TrimSpace(ev.Title)
			ev.Time = model.ParseTimeDescriptor(when)
			if err := ev.Validate(); err != nil {
				return err
			}

			target := gcal.LinkForEvent(ev, a.calendarTZ(), a.now().In(a.loc))
			if thread {
				link, ok := gcal.ThreadLink(ev.SourceRef)
				if !ok {
					return errors.New("--thread needs --source-ref")
				}
				target = link
			}

			if _, err := fmt.Fprintln(cmd.OutOrStdout(), target); err != nil {
				return err
			}
			if openURL {
				return gcal.Open(cmd.Context(), target)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&ev.Title, "title", "", "event title")
	f.StringVar(&when, "time", "", "event time (ISO date, date-time or start/end)")
	f.StringVar(&ev.Context, "details", "", "event details")
	f.StringVar(&ev.Sender, "sender", "", "sender, used as the location")
	f.StringVar(&ev.SourceRef, "source-ref", "", "mail thread reference")
	f.BoolVar(&thread, "thread", false, "print the mail thread link instead")
	f.BoolVar(&openURL, "open", false, "open the link in the default browser")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}
