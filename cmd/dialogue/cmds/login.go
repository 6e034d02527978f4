package cmds

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-go-golems/dialogue/pkg/backend"
	"github.com/go-go-golems/dialogue/pkg/chat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
)

func NewLoginCommand() *cobra.Command {
	var identity backend.Identity
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Verify a username and token with the backend and remember them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := promptIdentity(&identity); err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			history := ""
			if err := a.coordinator.Login(ctx, identity); err != nil {
				if !errors.Is(err, chat.ErrHistoryUnavailable) {
					return err
				}
				log.Warn().Err(err).Str("username", identity.Username).Msg("Logged in without dialog history")
				history = "dialog history unavailable"
			}
			if err := a.credentials.Save(identity); err != nil {
				return err
			}

			if history == "" {
				history = fmt.Sprintf("%d dialogs", a.coordinator.Store().Len()-1)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s), credentials stored in %s\n",
				identity.Username, history, a.credentials.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&identity.Username, "username", "", "Username")
	cmd.Flags().StringVar(&identity.Token, "token", "", "Access token (prompted for when missing)")
	return cmd
}

// promptIdentity asks for the fields the flags left empty.
func promptIdentity(identity *backend.Identity) error {
	ui := &input.UI{
		Writer: os.Stderr,
		Reader: os.Stdin,
	}
	if strings.TrimSpace(identity.Username) == "" {
		answer, err := ui.Ask("Username", &input.Options{
			Required:  true,
			Loop:      true,
			HideOrder: true,
		})
		if err != nil {
			return errors.Wrap(err, "could not read username")
		}
		identity.Username = strings.TrimSpace(answer)
	}
	if identity.Token == "" {
		answer, err := ui.Ask("Token", &input.Options{
			Required:  true,
			Loop:      true,
			Hide:      true,
			HideOrder: true,
		})
		if err != nil {
			return errors.Wrap(err, "could not read token")
		}
		identity.Token = strings.TrimSpace(answer)
	}
	return nil
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.credentials.Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <dialog-id>",
		Short: "Ask the backend to stop the reply being generated for a dialog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, withLogin(false, false))
			if err != nil {
				return err
			}
			if err := a.client.Stop(ctx, a.identity(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stop requested for %s\n", args[0])
			return nil
		},
	}
}
