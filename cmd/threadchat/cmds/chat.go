package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/events"
	"github.com/go-go-golems/threadchat/pkg/orchestrator"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
)

// streamPrinter writes the stream events of a send-message cycle to w.
type streamPrinter struct {
	w io.Writer
}

var _ events.ChatEventHandler = (*streamPrinter)(nil)

func (p *streamPrinter) HandleStart(ctx context.Context, e *events.Event) error {
	log.Debug().Str("chat_id", e.ChatID).Str("model", e.Model).Msg("Streaming response")
	return nil
}

func (p *streamPrinter) HandlePartialCompletion(ctx context.Context, e *events.Event) error {
	_, err := fmt.Fprint(p.w, e.Delta)
	return err
}

func (p *streamPrinter) HandleFinal(ctx context.Context, e *events.Event) error {
	_, err := fmt.Fprintln(p.w)
	return err
}

func (p *streamPrinter) HandleError(ctx context.Context, e *events.Event) error {
	_, err := fmt.Fprintf(p.w, "\nError: %s\n", e.Error)
	return err
}

func (p *streamPrinter) HandleInterrupt(ctx context.Context, e *events.Event) error {
	_, err := fmt.Fprintln(p.w, "\n[interrupted]")
	return err
}

type chatSettings struct {
	ChatID         string
	New            bool
	Child          bool
	Model          string
	PrintRawEvents bool
}

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Send a message to a chat and stream the answer",
		Long: `Send a message to a chat and stream the answer.

Without arguments the message is read from stdin, or, when stdin is a
terminal, an interactive session is started. An empty line ends it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := &chatSettings{}
			s.ChatID, _ = cmd.Flags().GetString("chat")
			s.New, _ = cmd.Flags().GetBool("new")
			s.Child, _ = cmd.Flags().GetBool("child")
			s.Model, _ = cmd.Flags().GetString("model")
			s.PrintRawEvents, _ = cmd.Flags().GetBool("print-raw-events")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			app, err := NewApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					log.Warn().Err(err).Msg("could not close store")
				}
			}()

			return runChat(ctx, app, s, args, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("chat", "", "Chat id (default: the selected chat)")
	cmd.Flags().Bool("new", false, "Start a new chat")
	cmd.Flags().Bool("child", false, "Start a new chat below the selected chat")
	cmd.Flags().String("model", "", "Model of the chat (gpt-4, gpt-4-0125-preview, gpt-3.5-turbo, claude, gemini-pro)")
	cmd.Flags().Bool("print-raw-events", false, "Print the raw stream events instead of the answer")

	return cmd
}

// selectChat resolves the chat a chat command talks to, creating it if asked.
func selectChat(ctx context.Context, app *App, s *chatSettings) (string, error) {
	o := app.Orchestrator
	var id string
	switch {
	case s.New || s.Child:
		c, err := o.NewChat(ctx, s.Child)
		if c == nil {
			return "", err
		}
		id = c.ID
	case s.ChatID != "":
		if _, err := o.SwitchChat(ctx, s.ChatID); err != nil {
			return "", err
		}
		id = s.ChatID
	default:
		id = app.Store.CurrentChatID()
		if id == "" {
			c, err := o.NewChat(ctx, false)
			if c == nil {
				return "", err
			}
			id = c.ID
		}
	}

	if s.Model != "" {
		if _, err := o.SetModel(ctx, id, chat.ModelType(s.Model)); err != nil {
			return "", err
		}
	}
	return id, nil
}

func runChat(ctx context.Context, app *App, s *chatSettings, args []string, in io.Reader, out io.Writer) error {
	chatID, err := selectChat(ctx, app, s)
	if err != nil {
		return err
	}

	router, err := events.NewEventRouter(events.WithOutput(out))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()
	app.StreamEvents.SubscribePublisher(events.TopicStream, router.Publisher)
	if s.PrintRawEvents {
		router.AddHandler("raw-events", events.TopicStream, router.DumpRawEvents)
	} else {
		router.AddChatEventHandler("print-stream", events.TopicStream, &streamPrinter{w: out})
	}

	// the router outlives the conversation so the interrupt event still gets printed
	routerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		<-router.Running()

		send := func(content string) error {
			_, err := app.Orchestrator.HandleSendMessage(ctx, chatID, content, nil)
			return err
		}

		if len(args) > 0 {
			return send(strings.Join(args, " "))
		}
		if f, ok := in.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
			b, err := io.ReadAll(in)
			if err != nil {
				return errors.Wrap(err, "could not read stdin")
			}
			content := strings.TrimSpace(string(b))
			if content == "" {
				return errors.New("empty message")
			}
			return send(content)
		}

		ui := &input.UI{Writer: out, Reader: in}
		for {
			content, err := ui.Ask(">", &input.Options{
				Required:  false,
				HideOrder: true,
			})
			if err != nil {
				if errors.Is(err, input.ErrInterrupted) {
					return nil
				}
				return err
			}
			content = strings.TrimSpace(content)
			if content == "" {
				return nil
			}
			if err := send(content); err != nil {
				if errors.Is(err, orchestrator.ErrAborted) {
					return nil
				}
				// provider errors were printed, the session goes on
				log.Debug().Err(err).Msg("Send failed")
			}
		}
	})
	eg.Go(func() error {
		return router.Run(routerCtx)
	})

	err = eg.Wait()
	if errors.Is(err, orchestrator.ErrAborted) {
		return nil
	}
	return err
}
