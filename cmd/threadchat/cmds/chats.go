package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/store"
	"github.com/go-go-golems/threadchat/pkg/threadcontext"
	"github.com/go-go-golems/threadchat/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
)

// withApp opens the app for the duration of f.
func withApp(cmd *cobra.Command, f func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return withAppContext(ctx, f)
}

func withAppContext(ctx context.Context, f func(ctx context.Context, app *App) error) error {
	app, err := NewApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close store")
		}
	}()
	return f(ctx, app)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

// chatMarkdown renders a chat transcript. With context the messages actually
// sent to the model are shown instead of the stored ones.
func chatMarkdown(c *chat.Chat, messages []chat.Message) string {
	sb := strings.Builder{}
	sb.WriteString("# " + c.Title + "\n\n")
	sb.WriteString(fmt.Sprintf("`%s` · %s · %s\n\n", c.ID, c.Model, formatTime(c.CreatedAt)))
	if c.Summary != "" {
		sb.WriteString("> " + strings.ReplaceAll(c.Summary, "\n", "\n> ") + "\n\n")
	}
	if c.Continuation != nil {
		if c.Continuation.FromID != "" {
			sb.WriteString(fmt.Sprintf("Continued from `%s`\n\n", c.Continuation.FromID))
		}
		if c.Continuation.ToID != "" {
			sb.WriteString(fmt.Sprintf("Continued in `%s`\n\n", c.Continuation.ToID))
		}
	}
	for _, m := range messages {
		sb.WriteString(fmt.Sprintf("## %s\n\n%s\n\n", m.Role, m.Content))
	}
	return sb.String()
}

func NewShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [chat-id]",
		Short: "Show a chat transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			withContext, _ := cmd.Flags().GetBool("context")
			raw, _ := cmd.Flags().GetBool("raw")
			return withApp(cmd, func(ctx context.Context, app *App) error {
				id := ""
				if len(args) > 0 {
					id = args[0]
				}
				id, err := app.resolveChatID(id)
				if err != nil {
					return err
				}
				c, _ := app.Store.GetChat(id)

				messages := c.Messages
				if withContext {
					messages = threadcontext.MessagesForModel(c, app.Store.Chats(), app.Store.Settings())
				}
				md := chatMarkdown(c, messages)

				out := cmd.OutOrStdout()
				if !raw && isTerminal(out) {
					rendered, err := glamour.Render(md, "dark")
					if err != nil {
						return err
					}
					md = rendered
				}
				_, err = fmt.Fprint(out, md)
				return err
			})
		},
	}
	cmd.Flags().Bool("context", false, "Show the messages sent to the model, including related context")
	cmd.Flags().Bool("raw", false, "Print markdown without rendering")
	return cmd
}

// confirm asks on the controlling terminal.
func confirm(question string) (bool, error) {
	tty_, err := ui.OpenTTY()
	if err != nil {
		return false, errors.Wrap(err, "could not open terminal, pass --yes")
	}
	defer func() {
		_ = tty_.Close()
	}()

	in := &input.UI{Writer: tty_, Reader: tty_}
	answer, err := in.Ask(question+" [y/N]", &input.Options{
		Default:     "n",
		HideDefault: true,
		Loop:        true,
		ValidateFunc: func(s string) error {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "y", "yes", "n", "no":
				return nil
			}
			return errors.New("answer y or n")
		},
	})
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func NewDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			children, _ := cmd.Flags().GetBool("children")
			yes, _ := cmd.Flags().GetBool("yes")
			return withApp(cmd, func(ctx context.Context, app *App) error {
				c, ok := app.Store.GetChat(args[0])
				if !ok {
					return &store.NotFoundError{ID: args[0]}
				}
				if !yes {
					question := fmt.Sprintf("Delete %q", c.Title)
					if children {
						question += fmt.Sprintf(" and %d descendant chats", len(app.Store.DescendantIDs(c.ID)))
					}
					ok, err := confirm(question + "?")
					if err != nil {
						return err
					}
					if !ok {
						return nil
					}
				}
				_, err := app.Orchestrator.DeleteChat(ctx, c.ID, chat.DeleteOptions{DeleteChildren: children})
				return err
			})
		},
	}
	cmd.Flags().Bool("children", false, "Also delete all descendant chats")
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func NewContinueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "continue [chat-id]",
		Short: "Continue a chat in a new chat carrying its summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				id := ""
				if len(args) > 0 {
					id = args[0]
				}
				id, err := app.resolveChatID(id)
				if err != nil {
					return err
				}
				c, err := app.Orchestrator.ContinueChat(ctx, id)
				if c == nil {
					return err
				}
				if err != nil {
					log.Warn().Err(err).Msg("Continuation created but not persisted")
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), c.ID)
				return err
			})
		},
	}
}

func NewRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <chat-id> <title>",
		Short: "Rename a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				_, err := app.Orchestrator.RenameChat(ctx, args[0], strings.Join(args[1:], " "))
				return err
			})
		},
	}
}

func NewSetModelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-model <chat-id> <model>",
		Short: "Change the model of a chat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				_, err := app.Orchestrator.SetModel(ctx, args[0], chat.ModelType(args[1]))
				return err
			})
		},
	}
}
