package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// State is a snapshot of the store. Chats are deep copies, mutating them has no
// effect on the store.
type State struct {
	Chats         []*chat.Chat
	CurrentChatID string
	Settings      chat.ChatSettings
}

// Store owns the chat collection, the current selection and the settings.
// Every mutation persists the full collection and the settings before it
// returns and then publishes a change event.
type Store struct {
	mu            sync.RWMutex
	backend       Backend
	chats         []*chat.Chat
	currentChatID string
	settings      chat.ChatSettings
	publisher     *events.PublisherManager
	closed        bool
}

type Option func(*Store)

// WithPublisherManager publishes change events on events.TopicStore.
func WithPublisherManager(pm *events.PublisherManager) Option {
	return func(s *Store) {
		s.publisher = pm
	}
}

// New creates a store over backend and loads the persisted state. Unreadable
// state is logged and replaced by an empty collection and default settings.
func New(ctx context.Context, backend Backend, options ...Option) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{
		backend:  backend,
		chats:    []*chat.Chat{},
		settings: chat.DefaultSettings(),
	}
	for _, o := range options {
		o(s)
	}
	s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) {
	if b, ok, err := s.backend.Get(ctx, KeyChats); err != nil {
		logStorageError(&StorageError{Key: KeyChats, Op: "read", Err: err})
	} else if ok {
		var chats []*chat.Chat
		if err := json.Unmarshal(b, &chats); err != nil {
			logStorageError(&StorageError{Key: KeyChats, Op: "parse", Err: err})
		} else {
			s.chats = make([]*chat.Chat, 0, len(chats))
			for _, c := range chats {
				if c != nil {
					s.chats = append(s.chats, c)
				}
			}
		}
	}

	if b, ok, err := s.backend.Get(ctx, KeySettings); err != nil {
		logStorageError(&StorageError{Key: KeySettings, Op: "read", Err: err})
	} else if ok {
		// start from the defaults so fields missing from older payloads keep a sane value
		settings := chat.DefaultSettings()
		if err := json.Unmarshal(b, &settings); err != nil {
			logStorageError(&StorageError{Key: KeySettings, Op: "parse", Err: err})
		} else {
			s.settings = settings
		}
	}

	log.Debug().Int("chats", len(s.chats)).Msg("Loaded chat store")
}

func logStorageError(err *StorageError) {
	log.Warn().Err(err.Err).Str("key", err.Key).Str("op", err.Op).Msg("Could not load persisted state, using defaults")
}

func (s *Store) persistLocked(ctx context.Context) error {
	b, err := json.Marshal(s.chats)
	if err != nil {
		return &StorageError{Key: KeyChats, Op: "encode", Err: err}
	}
	if err := s.backend.Set(ctx, KeyChats, b); err != nil {
		return &StorageError{Key: KeyChats, Op: "write", Err: err}
	}
	b, err = json.Marshal(s.settings)
	if err != nil {
		return &StorageError{Key: KeySettings, Op: "encode", Err: err}
	}
	if err := s.backend.Set(ctx, KeySettings, b); err != nil {
		return &StorageError{Key: KeySettings, Op: "write", Err: err}
	}
	return nil
}

func (s *Store) publish(type_ events.EventType, chatIDs ...string) {
	if s.publisher == nil {
		return
	}
	e := events.NewEvent(type_, "")
	if len(chatIDs) == 1 {
		e.ChatID = chatIDs[0]
	} else {
		e.ChatIDs = chatIDs
	}
	s.publisher.PublishBlind(e)
}

func (s *Store) indexLocked(id string) int {
	for i, c := range s.chats {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() State {
	ret := State{
		Chats:         make([]*chat.Chat, 0, len(s.chats)),
		CurrentChatID: s.currentChatID,
		Settings:      s.settings,
	}
	for _, c := range s.chats {
		ret.Chats = append(ret.Chats, c.Clone())
	}
	return ret
}

func (s *Store) ensureOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// AddChat inserts c and selects it.
func (s *Store) AddChat(ctx context.Context, c *chat.Chat) (State, error) {
	if c == nil || c.ID == "" {
		return State{}, errors.New("cannot add chat without id")
	}
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	if s.indexLocked(c.ID) >= 0 {
		s.mu.Unlock()
		return State{}, &DuplicateIDError{ID: c.ID}
	}
	s.chats = append(s.chats, c.Clone())
	s.currentChatID = c.ID
	err := s.persistLocked(ctx)
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(events.EventTypeChatAdded, c.ID)
	s.publish(events.EventTypeSelectionChanged, c.ID)
	return state, err
}

// UpdateChat replaces the chat with the same id, keeping its position.
func (s *Store) UpdateChat(ctx context.Context, c *chat.Chat) (State, error) {
	if c == nil {
		return State{}, errors.New("cannot update nil chat")
	}
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	idx := s.indexLocked(c.ID)
	if idx < 0 {
		s.mu.Unlock()
		return State{}, &NotFoundError{ID: c.ID}
	}
	s.chats[idx] = c.Clone()
	err := s.persistLocked(ctx)
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(events.EventTypeChatUpdated, c.ID)
	return state, err
}

// ModifyChat applies f to the stored chat under the store lock and persists
// the result. It is the read-modify-write form of UpdateChat for callers that
// race with other writers of the same chat. If f returns an error nothing is
// changed.
func (s *Store) ModifyChat(ctx context.Context, id string, f func(c *chat.Chat) error) (*chat.Chat, error) {
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil, &NotFoundError{ID: id}
	}
	c := s.chats[idx].Clone()
	if err := f(c); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	// the id is the key, f is not allowed to change it
	c.ID = id
	s.chats[idx] = c
	err := s.persistLocked(ctx)
	ret := c.Clone()
	s.mu.Unlock()

	s.publish(events.EventTypeChatUpdated, id)
	return ret, err
}

// DeleteChat removes id. With DeleteChildren every transitive descendant is
// removed too, otherwise the direct children are re-parented to the deleted
// chat's parent.
func (s *Store) DeleteChat(ctx context.Context, id string, opts chat.DeleteOptions) (State, error) {
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return State{}, &NotFoundError{ID: id}
	}
	target := s.chats[idx]

	toDelete := map[string]bool{id: true}
	if opts.DeleteChildren {
		for _, d := range descendantIDs(s.chats, id) {
			toDelete[d] = true
		}
	}

	remaining := make([]*chat.Chat, 0, len(s.chats))
	deleted := make([]string, 0, len(toDelete))
	for _, c := range s.chats {
		if toDelete[c.ID] {
			deleted = append(deleted, c.ID)
			continue
		}
		if !opts.DeleteChildren && c.ParentID == id {
			c.ParentID = target.ParentID
		}
		remaining = append(remaining, c)
	}
	s.chats = remaining

	selectionChanged := false
	if toDelete[s.currentChatID] {
		selectionChanged = true
		s.currentChatID = ""
		if len(s.chats) > 0 {
			s.currentChatID = s.chats[0].ID
		}
	}

	err := s.persistLocked(ctx)
	state := s.snapshotLocked()
	current := s.currentChatID
	s.mu.Unlock()

	log.Debug().Str("chat_id", id).Strs("deleted", deleted).Bool("delete_children", opts.DeleteChildren).Msg("Deleted chats")
	s.publish(events.EventTypeChatDeleted, deleted...)
	if selectionChanged {
		s.publish(events.EventTypeSelectionChanged, current)
	}
	return state, err
}

// SetCurrentChatID selects id. The empty string clears the selection.
func (s *Store) SetCurrentChatID(ctx context.Context, id string) (State, error) {
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	if id != "" && s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return State{}, &NotFoundError{ID: id}
	}
	s.currentChatID = id
	err := s.persistLocked(ctx)
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(events.EventTypeSelectionChanged, id)
	return state, err
}

func (s *Store) UpdateSettings(ctx context.Context, patch chat.SettingsPatch) (State, error) {
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	s.settings = s.settings.Apply(patch)
	err := s.persistLocked(ctx)
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(events.EventTypeSettingsUpdated)
	return state, err
}

// ReplaceChats swaps the whole collection, as done by an import. A nil settings
// pointer keeps the current settings. The selection is kept when the selected
// chat survives, otherwise it moves to the first chat.
func (s *Store) ReplaceChats(ctx context.Context, chats []*chat.Chat, settings *chat.ChatSettings) (State, error) {
	ids := map[string]bool{}
	next := make([]*chat.Chat, 0, len(chats))
	for _, c := range chats {
		if c == nil {
			continue
		}
		if ids[c.ID] {
			return State{}, &DuplicateIDError{ID: c.ID}
		}
		ids[c.ID] = true
		next = append(next, c.Clone())
	}

	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return State{}, err
	}
	s.chats = next
	if settings != nil {
		s.settings = *settings
	}
	if !ids[s.currentChatID] {
		s.currentChatID = ""
		if len(s.chats) > 0 {
			s.currentChatID = s.chats[0].ID
		}
	}
	err := s.persistLocked(ctx)
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(events.EventTypeChatsReplaced)
	if settings != nil {
		s.publish(events.EventTypeSettingsUpdated)
	}
	return state, err
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) Chats() []*chat.Chat {
	return s.Snapshot().Chats
}

func (s *Store) GetChat(id string) (*chat.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return nil, false
	}
	return s.chats[idx].Clone(), true
}

func (s *Store) CurrentChatID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentChatID
}

// CurrentChat returns the selected chat, or false when nothing is selected.
func (s *Store) CurrentChat() (*chat.Chat, bool) {
	return s.GetChat(s.CurrentChatID())
}

func (s *Store) Settings() chat.ChatSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// ChildChats returns the direct children of id in collection order.
func (s *Store) ChildChats(id string) []*chat.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := []*chat.Chat{}
	for _, c := range s.chats {
		if c.ParentID == id && c.ID != id {
			ret = append(ret, c.Clone())
		}
	}
	return ret
}

// DescendantIDs returns every chat whose parent chain leads back to id, id excluded.
func (s *Store) DescendantIDs(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return descendantIDs(s.chats, id)
}

// descendantIDs walks the parentId graph depth first. Cycles are tolerated.
func descendantIDs(chats []*chat.Chat, id string) []string {
	children := map[string][]string{}
	for _, c := range chats {
		if c.ParentID != "" {
			children[c.ParentID] = append(children[c.ParentID], c.ID)
		}
	}

	ret := []string{}
	visited := map[string]bool{id: true}
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range children[current] {
			if visited[child] {
				continue
			}
			visited[child] = true
			ret = append(ret, child)
			stack = append(stack, child)
		}
	}
	return ret
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}
