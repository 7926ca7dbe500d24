package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"scancal/internal/apperr"
	"scancal/internal/mention"
)

type mentionOutput struct {
	Active     bool                `json:"active"`
	RawQuery   string              `json:"raw_query,omitempty"`
	Candidates []mention.Candidate `json:"candidates"`
	Index      int                 `json:"index"`
	Text       string              `json:"text"`
	Cursor     int                 `json:"cursor"`
	Warning    string              `json:"warning,omitempty"`
}

func newMentionCmd(opts *rootOptions) *cobra.Command {
	var (
		text   string
		cursor int
		pick   int
		move   int
		commit bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "mention",
		Short: "Suggest contacts for an @mention being typed",
		Long: "mention finds the @token before the cursor in --text and lists matching contacts from " +
			"the identity's directory. With --select the chosen candidate is inserted and the new " +
			"text is printed; --move steps the highlight and --commit inserts the highlighted row.",
		Example: `  scancal mention --identity me@example.com --text "sync with @an"
  scancal mention --text "sync with @an" --select 1
  scancal mention --text "sync with @an" --move 1 --commit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.wire()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("cursor") {
				cursor = utf8.RuneCountInString(text)
			}

			e := mention.NewEngine(a.directory, a.cfg.Identity, mention.Limits{
				EmptyLimit: a.cfg.Mentions.EmptyLimit,
				MatchLimit: a.cfg.Mentions.MatchLimit,
			})

			out := mentionOutput{Text: text, Cursor: cursor, Candidates: []mention.Candidate{}}
			if a.cfg.Identity != "" {
				if err := e.LoadDirectory(cmd.Context()); err != nil {
					out.Warning = apperr.StatusText(err)
				}
			}

			if e.Update(text, cursor) {
				q, _ := e.Query()
				out.Active = e.Active()
				out.RawQuery = q.RawQuery
				out.Candidates = e.Candidates()
				e.Move(move)
				out.Index = e.Index()
			}

			inserting := cmd.Flags().Changed("select") || commit
			if inserting {
				var (
					newText   string
					newCursor int
					ok        bool
				)
				if cmd.Flags().Changed("select") {
					newText, newCursor, ok = e.CommitAt(pick)
				} else {
					pick = e.Index()
					newText, newCursor, ok = e.Commit()
				}
				if !ok {
					return fmt.Errorf("no candidate at index %d", pick)
				}
				out = mentionOutput{Text: newText, Cursor: newCursor, Candidates: []mention.Candidate{}, Warning: out.Warning}
			}

			w := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(w, out)
			}
			if out.Warning != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), failStatus.Sprint(out.Warning))
			}
			if inserting {
				_, err := fmt.Fprintln(w, out.Text)
				return err
			}
			if !out.Active {
				_, err := fmt.Fprintln(w, "no mention at cursor")
				return err
			}
			for i, c := range out.Candidates {
				marker := " "
				if i == out.Index {
					marker = ">"
				}
				label := c.Email
				if c.Name != "" {
					label += dimText.Sprintf(" (%s)", c.Name)
				}
				if c.Literal {
					label += dimText.Sprint(" (as typed)")
				}
				fmt.Fprintf(w, "%s%d  %s\n", marker, i, label)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "text being composed")
	cmd.Flags().IntVar(&cursor, "cursor", 0, "cursor position in characters (default: end of text)")
	cmd.Flags().IntVar(&pick, "select", 0, "insert the candidate at this index")
	cmd.Flags().IntVar(&move, "move", 0, "move the highlight this many rows (negative moves up)")
	cmd.Flags().BoolVar(&commit, "commit", false, "insert the highlighted candidate")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the suggestion state as JSON")
	cmd.MarkFlagsMutuallyExclusive("select", "commit")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
