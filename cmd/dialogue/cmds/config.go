package cmds

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-go-golems/dialogue/pkg/settings"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := json.MarshalIndent(settings.JSONSchema(), "", "  ")
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(b, '\n'))
			return err
		},
	}

	var output string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.FromViper(viper.GetViper())
			if err != nil {
				return err
			}
			return printStructured(cmd.OutOrStdout(), output, s)
		},
	}
	show.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml, json)")

	validate := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a config file against the schema (default: the loaded config file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.ConfigFileUsed()
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no config file loaded and none given")
			}
			b, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "could not read %s", path)
			}
			problems, err := settings.ValidateDocument(b)
			if err != nil {
				return err
			}
			for _, p := range problems {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			if len(problems) > 0 {
				return errors.Errorf("%s has %d problem(s)", path, len(problems))
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
			return nil
		},
	}

	cmd.AddCommand(schema, show, validate)
	return cmd
}
