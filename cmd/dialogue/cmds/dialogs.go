package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/dialogue/pkg/conversation"
	"github.com/mb0/glob"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"gopkg.in/yaml.v3"
)

type dialogRow struct {
	DialogID string `yaml:"dialog_id" json:"dialog_id"`
	Title    string `yaml:"title" json:"title"`
	Messages int    `yaml:"messages" json:"messages"`
}

func NewDialogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dialogs",
		Short: "List, rename and delete the dialogs of the logged in user",
	}
	cmd.AddCommand(newDialogsListCommand(), newDialogsRenameCommand(), newDialogsDeleteCommand())
	return cmd
}

func newDialogsListCommand() *cobra.Command {
	var output string
	var full bool
	var titleGlob string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dialogs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), withLogin(false, true), withRequiredHistory())
			if err != nil {
				return err
			}
			var sessions []*conversation.Session
			for _, sess := range a.coordinator.Store().Snapshot().Sessions {
				if !sess.IsPersisted() {
					continue
				}
				if titleGlob != "" {
					matching, err := glob.Match(titleGlob, sess.Title)
					if err != nil {
						return err
					}
					if !matching {
						continue
					}
				}
				sessions = append(sessions, sess)
			}
			if full {
				return printStructured(cmd.OutOrStdout(), output, sessions)
			}
			rows := make([]dialogRow, 0, len(sessions))
			for _, sess := range sessions {
				rows = append(rows, dialogRow{DialogID: sess.DialogID, Title: sess.Title, Messages: len(sess.Messages)})
			}
			return printStructured(cmd.OutOrStdout(), output, rows)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml, json)")
	cmd.Flags().BoolVar(&full, "full", false, "Include the messages of every dialog")
	cmd.Flags().StringVar(&titleGlob, "title", "", "Only list dialogs whose title matches this glob")
	return cmd
}

func newDialogsRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <dialog-id> <title>",
		Short: "Rename a dialog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, id, err := appWithDialog(ctx, args[0])
			if err != nil {
				return err
			}
			title, err := a.coordinator.Rename(ctx, id, args[1])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "renamed %s to %q\n", args[0], title)
			return nil
		},
	}
}

func newDialogsDeleteCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <dialog-id>",
		Short: "Delete a dialog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, id, err := appWithDialog(ctx, args[0])
			if err != nil {
				return err
			}
			if !yes {
				sess, _ := a.coordinator.Store().Session(id)
				ok, err := confirm(fmt.Sprintf("Delete dialog %s (%q)? [y/n]", args[0], sess.Title))
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			if err := a.coordinator.Delete(ctx, id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// appWithDialog loads the history and resolves a backend dialog id to a
// session id.
func appWithDialog(ctx context.Context, dialogID string) (*app, string, error) {
	a, err := newApp(ctx, withLogin(false, true), withRequiredHistory())
	if err != nil {
		return nil, "", err
	}
	id, ok := a.coordinator.Store().FindByDialogID(dialogID)
	if !ok {
		return nil, "", errors.Errorf("dialog %s not found", dialogID)
	}
	return a, id, nil
}

func confirm(query string) (bool, error) {
	ui := &input.UI{
		Writer: os.Stderr,
		Reader: os.Stdin,
	}
	answer, err := ui.Ask(query, &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N":
				return nil
			default:
				return fmt.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, err
	}
	return answer == "y" || answer == "Y", nil
}

func printStructured(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
