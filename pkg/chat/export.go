package chat

// ExportVersion is the only envelope version accepted on import.
const ExportVersion = "1.0.0"

type ExportData struct {
	Version    string        `json:"version"`
	ExportedAt int64         `json:"exportedAt"`
	Chats      []Chat        `json:"chats"`
	Settings   *ChatSettings `json:"settings,omitempty"`
}

type ExportOptions struct {
	IncludeSettings bool
	// SelectedChatIDs restricts the export to these ids. Nil means all chats.
	SelectedChatIDs []string
}

type ImportOptions struct {
	KeepExisting bool
}

type ImportResult struct {
	Success            bool     `json:"success"`
	ImportedChatsCount int      `json:"importedChatsCount"`
	Error              string   `json:"error,omitempty"`
	DuplicateChats     []string `json:"duplicateChats,omitempty"`
}
