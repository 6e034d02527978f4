package cmds

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/dialogue/pkg/search"
	"github.com/spf13/cobra"
)

type searchRow struct {
	Kind         search.Kind `yaml:"kind" json:"kind"`
	DialogID     string      `yaml:"dialog_id" json:"dialog_id"`
	Title        string      `yaml:"title" json:"title"`
	MessageIndex int         `yaml:"message_index" json:"message_index"`
	Snippet      string      `yaml:"snippet" json:"snippet"`
}

func NewSearchCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search dialog titles and messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), withLogin(false, true), withRequiredHistory())
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			snapshot := a.coordinator.Store().Snapshot()
			results := a.coordinator.Search(query)

			rows := make([]searchRow, 0, len(results))
			for _, r := range results {
				sess := snapshot.Sessions[r.SessionIndex]
				rows = append(rows, searchRow{
					Kind:         r.Kind,
					DialogID:     sess.DialogID,
					Title:        sess.Title,
					MessageIndex: r.MessageIndex,
					Snippet:      search.Compress(r.Text, query, a.settings.SnippetBudget),
				})
			}

			if output != "text" {
				return printStructured(cmd.OutOrStdout(), output, rows)
			}
			if len(rows) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}
			for _, r := range rows {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-10s %-18s %s\n", r.Kind, r.DialogID, r.Title, r.Snippet)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, yaml, json)")
	return cmd
}
