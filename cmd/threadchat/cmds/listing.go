package cmds

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// tokenInfoFunc reports the token usage of a chat, a nil func reports none.
type tokenInfoFunc func(id string) (chat.TokenInfo, error)

type treeEntry struct {
	chat  *chat.Chat
	depth int
}

// chatForest orders chats depth first following ParentID. Chats whose parent
// is missing are roots.
func chatForest(s *store.Store, chats []*chat.Chat) []treeEntry {
	known := map[string]bool{}
	for _, c := range chats {
		known[c.ID] = true
	}
	visited := map[string]bool{}
	ret := []treeEntry{}

	var walk func(c *chat.Chat, depth int)
	walk = func(c *chat.Chat, depth int) {
		if visited[c.ID] {
			return
		}
		visited[c.ID] = true
		ret = append(ret, treeEntry{chat: c, depth: depth})
		for _, child := range s.ChildChats(c.ID) {
			walk(child, depth+1)
		}
	}
	for _, c := range chats {
		if c.ParentID == "" || !known[c.ParentID] {
			walk(c, 0)
		}
	}
	// cycles have no root
	for _, c := range chats {
		walk(c, 0)
	}
	return ret
}

func lookupTokens(tokenInfo tokenInfoFunc, id string) chat.TokenInfo {
	info, err := tokenInfo(id)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", id).Msg("Could not count tokens")
	}
	return info
}

// printChatTree is the indented text rendering of chatForest.
func printChatTree(w io.Writer, s *store.Store, chats []*chat.Chat, tokenInfo tokenInfoFunc) {
	current := s.CurrentChatID()
	for _, e := range chatForest(s, chats) {
		c := e.chat
		marker := " "
		if c.ID == current {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s%s  %s  [%s] %s",
			marker, strings.Repeat("  ", e.depth), c.ID, c.Title, c.Model, formatTime(c.UpdatedAt))
		if tokenInfo != nil {
			info := lookupTokens(tokenInfo, c.ID)
			line += fmt.Sprintf("  %d/%d tokens", info.Count, info.Limit)
			if info.IsNearLimit {
				line += " (near limit)"
			}
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

// chatRows turns the chat forest into glazed rows.
func chatRows(s *store.Store, chats []*chat.Chat, tokenInfo tokenInfoFunc) []types.Row {
	current := s.CurrentChatID()
	ret := []types.Row{}
	for _, e := range chatForest(s, chats) {
		c := e.chat
		row := types.NewRow(
			types.MRP("id", c.ID),
			types.MRP("title", c.Title),
			types.MRP("model", string(c.Model)),
			types.MRP("parent_id", c.ParentID),
			types.MRP("depth", e.depth),
			types.MRP("current", c.ID == current),
			types.MRP("messages", len(c.Messages)),
			types.MRP("updated_at", formatTime(c.UpdatedAt)),
		)
		if tokenInfo != nil {
			info := lookupTokens(tokenInfo, c.ID)
			row.Set("tokens", info.Count)
			row.Set("token_limit", info.Limit)
			row.Set("near_limit", info.IsNearLimit)
		}
		ret = append(ret, row)
	}
	return ret
}

// searchRows emits one row per highlight, or one row per chat without matches.
func searchRows(results []store.SearchResult) []types.Row {
	ret := []types.Row{}
	for _, r := range results {
		base := func() types.Row {
			return types.NewRow(
				types.MRP("id", r.Chat.ID),
				types.MRP("title", r.Chat.Title),
				types.MRP("model", string(r.Chat.Model)),
				types.MRP("created_at", formatTime(r.Chat.CreatedAt)),
			)
		}
		if len(r.Matches) == 0 {
			ret = append(ret, base())
			continue
		}
		for _, m := range r.Matches {
			for _, h := range m.Highlights {
				row := base()
				row.Set("message_index", m.MessageIndex)
				row.Set("highlight", h)
				ret = append(ret, row)
			}
		}
	}
	return ret
}

func addRows(ctx context.Context, gp middlewares.Processor, rows []types.Row) error {
	for _, row := range rows {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type ListChatsSettings struct {
	Tokens bool `glazed.parameter:"tokens"`
}

type ListChatsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &ListChatsCommand{}

func NewListChatsCommand() (*ListChatsCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &ListChatsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List chats in tree order"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"tokens",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Add the estimated token usage"),
					parameters.WithDefault(false),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *ListChatsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &ListChatsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	return withAppContext(ctx, func(ctx context.Context, app *App) error {
		var tokenInfo tokenInfoFunc
		if s.Tokens {
			tokenInfo = app.Orchestrator.TokenInfo
		}
		return addRows(ctx, gp, chatRows(app.Store, app.Store.Chats(), tokenInfo))
	})
}

type SearchChatsSettings struct {
	Keyword string `glazed.parameter:"keyword"`
	Model   string `glazed.parameter:"model"`
	From    string `glazed.parameter:"from"`
	To      string `glazed.parameter:"to"`
}

func (s *SearchChatsSettings) Filters() (store.SearchFilters, error) {
	filters := store.SearchFilters{
		Keyword: s.Keyword,
		Model:   chat.ModelType(s.Model),
	}
	var err error
	if filters.StartDate, err = parseDate(s.From, false); err != nil {
		return filters, err
	}
	if filters.EndDate, err = parseDate(s.To, true); err != nil {
		return filters, err
	}
	return filters, nil
}

type SearchChatsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &SearchChatsCommand{}

func NewSearchChatsCommand() (*SearchChatsCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &SearchChatsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"search",
			cmds.WithShort("Search chats by keyword, model and creation date"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"model",
					parameters.ParameterTypeString,
					parameters.WithHelp("Only chats using this model"),
				),
				parameters.NewParameterDefinition(
					"from",
					parameters.ParameterTypeString,
					parameters.WithHelp("Created on or after (YYYY-MM-DD)"),
				),
				parameters.NewParameterDefinition(
					"to",
					parameters.ParameterTypeString,
					parameters.WithHelp("Created on or before (YYYY-MM-DD)"),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"keyword",
					parameters.ParameterTypeString,
					parameters.WithHelp("Case-insensitive keyword"),
					parameters.WithRequired(false),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *SearchChatsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &SearchChatsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}
	filters, err := s.Filters()
	if err != nil {
		return err
	}

	return withAppContext(ctx, func(ctx context.Context, app *App) error {
		return addRows(ctx, gp, searchRows(app.Store.Search(filters)))
	})
}

func parseDate(s string, endOfDay bool) (int64, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid date %q, expected YYYY-MM-DD", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t.UnixMilli(), nil
}

func NewListCommand() *cobra.Command {
	listCmd, err := NewListChatsCommand()
	cobra.CheckErr(err)
	cobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(listCmd)
	cobra.CheckErr(err)
	return cobraCmd
}

func NewSearchCommand() *cobra.Command {
	searchCmd, err := NewSearchChatsCommand()
	cobra.CheckErr(err)
	cobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(searchCmd)
	cobra.CheckErr(err)
	return cobraCmd
}

func NewTreeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the chats as an indented tree, * marks the selected chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			withTokens, _ := cmd.Flags().GetBool("tokens")
			return withApp(cmd, func(ctx context.Context, app *App) error {
				out := cmd.OutOrStdout()
				chats := app.Store.Chats()
				if len(chats) == 0 {
					_, _ = fmt.Fprintln(out, "No chats yet.")
					return nil
				}
				var tokenInfo tokenInfoFunc
				if withTokens {
					tokenInfo = app.Orchestrator.TokenInfo
				}
				printChatTree(out, app.Store, chats, tokenInfo)
				return nil
			})
		},
	}
	cmd.Flags().Bool("tokens", false, "Show the estimated token usage")
	return cmd
}
