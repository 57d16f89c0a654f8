package codec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ExportFilename is the suggested file name for an export made at t.
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("chat-export-%s.json", t.Format("2006-01-02"))
}

// ExportChats builds the export envelope. Settings are only included when
// requested, otherwise the defaults are written.
func ExportChats(chats []*chat.Chat, settings chat.ChatSettings, opts chat.ExportOptions) *chat.ExportData {
	var selected map[string]struct{}
	if opts.SelectedChatIDs != nil {
		selected = map[string]struct{}{}
		for _, id := range opts.SelectedChatIDs {
			selected[id] = struct{}{}
		}
	}

	ret := &chat.ExportData{
		Version:    chat.ExportVersion,
		ExportedAt: chat.NowMillis(),
		Chats:      []chat.Chat{},
	}
	for _, c := range chats {
		if selected != nil {
			if _, ok := selected[c.ID]; !ok {
				continue
			}
		}
		ret.Chats = append(ret.Chats, *c.Clone())
	}

	s := chat.DefaultSettings()
	if opts.IncludeSettings {
		s = settings
	}
	ret.Settings = &s
	return ret
}

// Export writes the selected chats of s to w as indented JSON.
func Export(w io.Writer, s *store.Store, opts chat.ExportOptions) (*chat.ExportData, error) {
	state := s.Snapshot()
	data := ExportChats(state.Chats, state.Settings, opts)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return nil, errors.Wrap(err, "could not encode export")
	}
	return data, nil
}

// Decode validates and parses an export file.
func Decode(b []byte) (*chat.ExportData, error) {
	if err := Validate(b); err != nil {
		return nil, err
	}
	var data chat.ExportData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if data.Version != chat.ExportVersion {
		return nil, &VersionMismatchError{Version: data.Version}
	}
	for i, c := range data.Chats {
		for j, m := range c.Messages {
			if !m.Role.IsValid() {
				return nil, &ValidationError{
					Field:  fmt.Sprintf("chats.%d.messages.%d.role", i, j),
					Reason: fmt.Sprintf("unknown role %q", m.Role),
				}
			}
		}
	}
	return &data, nil
}

// ImportChats merges data into existing and returns the resulting chat set.
// Incoming chats whose id is already taken get a fresh id and lose their
// thread links. existing is not modified.
func ImportChats(existing []*chat.Chat, data *chat.ExportData, opts chat.ImportOptions) ([]*chat.Chat, chat.ImportResult) {
	if data == nil {
		return nil, chat.ImportResult{Error: ErrValidation.Error()}
	}
	if data.Version != chat.ExportVersion {
		return nil, chat.ImportResult{Error: ErrVersionMismatch.Error()}
	}

	taken := map[string]struct{}{}
	for _, c := range existing {
		taken[c.ID] = struct{}{}
	}

	result := chat.ImportResult{Success: true}
	processed := make([]*chat.Chat, 0, len(data.Chats))
	for i := range data.Chats {
		c := data.Chats[i].Clone()
		if _, ok := taken[c.ID]; ok || c.ID == "" {
			result.DuplicateChats = append(result.DuplicateChats, c.ID)
			c.ID = chat.NewID()
			c.ParentID = ""
			c.ContextIDs = nil
		}
		taken[c.ID] = struct{}{}
		processed = append(processed, c)
	}

	var final []*chat.Chat
	if opts.KeepExisting {
		final = make([]*chat.Chat, 0, len(existing)+len(processed))
		for _, c := range existing {
			final = append(final, c.Clone())
		}
	}
	final = append(final, processed...)
	result.ImportedChatsCount = len(processed)
	return final, result
}

// Import decodes b and applies it to s. Failures leave the store untouched and
// are reported in the result.
func Import(ctx context.Context, s *store.Store, b []byte, opts chat.ImportOptions) chat.ImportResult {
	data, err := Decode(b)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected import")
		return chat.ImportResult{Error: err.Error()}
	}
	return ImportData(ctx, s, data, opts)
}

func ImportData(ctx context.Context, s *store.Store, data *chat.ExportData, opts chat.ImportOptions) chat.ImportResult {
	chats, result := ImportChats(s.Chats(), data, opts)
	if !result.Success {
		return result
	}
	_, err := s.ReplaceChats(ctx, chats, data.Settings)
	if err != nil && !errors.Is(err, store.ErrStorage) {
		return chat.ImportResult{Error: err.Error()}
	}
	if err != nil {
		log.Warn().Err(err).Msg("Imported chats could not be persisted")
	}
	log.Info().
		Int("imported", result.ImportedChatsCount).
		Int("duplicates", len(result.DuplicateChats)).
		Msg("Imported chats")
	return result
}
