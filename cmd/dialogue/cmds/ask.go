package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/dialogue/pkg/chat"
	"github.com/go-go-golems/dialogue/pkg/events"
	"github.com/go-go-golems/dialogue/pkg/stream"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

type askOptions struct {
	dialogID      string
	image         string
	model         string
	showReasoning bool
	raw           bool
}

func NewAskCommand() *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <question>...",
		Short: "Ask a single question and print the answer",
		Long: "Ask a single question. Without --dialog-id a new dialog is created. " +
			"The answer is streamed as it arrives, or rendered as markdown once complete when stdout is a terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVar(&opts.dialogID, "dialog-id", "", "Continue an existing dialog")
	cmd.Flags().StringVar(&opts.image, "image", "", "Attach an image file")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model for this question (overrides the configured one)")
	cmd.Flags().BoolVar(&opts.showReasoning, "show-reasoning", false, "Print the reasoning channel to stderr")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Stream raw text even on a terminal")
	return cmd
}

func runAsk(ctx context.Context, w io.Writer, question string, opts *askOptions) error {
	payload := chat.Payload{Text: question}
	if opts.image != "" {
		dataURL, name, err := chat.LoadImage(opts.image)
		if err != nil {
			return err
		}
		payload.ImageBase64 = dataURL
		payload.ImagePath = name
	}
	if payload.Empty() {
		return chat.ErrEmptyPayload
	}

	router, err := events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()

	// continuing a dialog needs its history, a new one does not
	appOptions := []appOption{withRouter(router), withLogin(false, opts.dialogID != "")}
	if opts.dialogID != "" {
		appOptions = append(appOptions, withRequiredHistory())
	}
	a, err := newApp(ctx, appOptions...)
	if err != nil {
		return err
	}
	if opts.model != "" {
		a.coordinator.SetModel(opts.model)
	}

	id := a.coordinator.Store().SelectedID()
	if opts.dialogID != "" {
		var ok bool
		id, ok = a.coordinator.Store().FindByDialogID(opts.dialogID)
		if !ok {
			return errors.Errorf("dialog %s not found", opts.dialogID)
		}
	}

	render := !opts.raw && isTerminal(w)
	streamed := false
	if !render {
		router.AddEventHandler("ask", events.DefaultTopic, func(e events.Event) error {
			if e.Type != events.EventTypeStreamRecord {
				return nil
			}
			switch stream.RecordType(e.RecordType) {
			case stream.AnswerType:
				streamed = streamed || e.Content != ""
				_, err := fmt.Fprint(w, e.Content)
				return err
			case stream.ReasoningType:
				if opts.showReasoning {
					_, _ = fmt.Fprint(os.Stderr, e.Content)
				}
			}
			return nil
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sendErr error
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()

		_, sendErr = a.coordinator.SendTo(ctx, id, payload)
		if errors.Is(sendErr, chat.ErrAuthRequired) || errors.Is(sendErr, chat.ErrPersistenceFailed) {
			return sendErr
		}

		sess, ok := a.coordinator.Store().Session(id)
		if !ok {
			return errors.New("session disappeared while asking")
		}
		last, ok := sess.LastMessage()
		if !ok || !last.IsBot() {
			return sendErr
		}

		switch {
		case render:
			if opts.showReasoning && last.Reasoning != "" {
				_, _ = fmt.Fprintln(os.Stderr, last.Reasoning)
			}
			out, err := renderMarkdown(last.Text())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(w, out)
		case !streamed:
			// fallback and error texts never arrive as stream records
			_, _ = fmt.Fprint(w, last.Text())
		}
		_, _ = fmt.Fprintln(w)

		if sess.DialogID != "" && opts.dialogID == "" {
			_, _ = fmt.Fprintf(os.Stderr, "dialog id: %s\n", sess.DialogID)
		}
		return sendErr
	})

	return eg.Wait()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func renderMarkdown(text string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", errors.Wrap(err, "could not create markdown renderer")
	}
	return r.Render(text)
}
