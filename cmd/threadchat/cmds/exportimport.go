package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/codec"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export chats as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			outPath, _ := cmd.Flags().GetString("out")
			ids, _ := cmd.Flags().GetStringSlice("ids")
			includeSettings, _ := cmd.Flags().GetBool("settings")

			return withApp(cmd, func(ctx context.Context, app *App) error {
				opts := chat.ExportOptions{IncludeSettings: includeSettings}
				if len(ids) > 0 {
					opts.SelectedChatIDs = ids
				}

				var w io.Writer = cmd.OutOrStdout()
				if outPath != "-" {
					if outPath == "" {
						outPath = codec.ExportFilename(time.Now())
					}
					f, err := os.Create(outPath)
					if err != nil {
						return errors.Wrap(err, "could not create export file")
					}
					defer func() {
						_ = f.Close()
					}()
					w = f
				}

				data, err := codec.Export(w, app.Store, opts)
				if err != nil {
					return err
				}
				if outPath != "-" {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d chats to %s\n", len(data.Chats), outPath)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringP("out", "o", "", "Output file, - for stdout (default chat-export-<date>.json)")
	cmd.Flags().StringSlice("ids", nil, "Only export these chat ids")
	cmd.Flags().Bool("settings", false, "Include the chat settings")
	return cmd
}

func NewImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import chats from a JSON export, - reads stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			replace, _ := cmd.Flags().GetBool("replace")

			var b []byte
			var err error
			if args[0] == "-" {
				b, err = io.ReadAll(cmd.InOrStdin())
			} else {
				b, err = os.ReadFile(args[0])
			}
			if err != nil {
				return errors.Wrap(err, "could not read import file")
			}

			return withApp(cmd, func(ctx context.Context, app *App) error {
				result := codec.Import(ctx, app.Store, b, chat.ImportOptions{KeepExisting: !replace})
				if !result.Success {
					return errors.Errorf("import failed: %s", result.Error)
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "Imported %d chats\n", result.ImportedChatsCount)
				if len(result.DuplicateChats) > 0 {
					_, _ = fmt.Fprintf(out, "%d chats got new ids because theirs were taken\n", len(result.DuplicateChats))
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("replace", false, "Replace all existing chats instead of merging")
	return cmd
}
