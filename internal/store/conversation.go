// Package store holds the per-session registries owned by the hub actor.
// None of the types here are safe for concurrent use; the actor serializes
// every access.
package store

import (
	"iter"
	"slices"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

// DefaultRetention is the number of most recent messages kept per conversation.
const DefaultRetention = 500

type conversation struct {
	messages []models.Message
	ids      map[string]struct{}
	// pending maps a ClientID to the ID of its unconfirmed local echo.
	pending map[string]string
}

func newConversation() *conversation {
	return &conversation{
		ids:     make(map[string]struct{}),
		pending: make(map[string]string),
	}
}

// ConversationStore keeps ordered, de-duplicated message history per
// conversation key and tracks which conversation is active.
type ConversationStore struct {
	viewerID      string
	retention     int
	conversations map[models.ConversationKey]*conversation
	active        models.ConversationKey
	subscribed    map[models.ConversationKey]struct{}
}

func NewConversationStore(viewerID string, retention int) *ConversationStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &ConversationStore{
		viewerID:      viewerID,
		retention:     retention,
		conversations: make(map[models.ConversationKey]*conversation),
		subscribed:    make(map[models.ConversationKey]struct{}),
	}
}

func (s *ConversationStore) get(key models.ConversationKey) *conversation {
	c, ok := s.conversations[key]
	if !ok {
		c = newConversation()
		s.conversations[key] = c
	}
	return c
}

// Append inserts a single message in order. It returns the message's key and
// whether it was stored. A message whose ID is already stored is a no-op, as
// is one older than everything retention keeps. A confirmed echo replaces the
// local echo with the same ClientID.
func (s *ConversationStore) Append(msg models.Message) (models.ConversationKey, bool) {
	key := models.KeyFor(&msg, s.viewerID)
	c := s.get(key)
	if _, dup := c.ids[msg.ID]; dup {
		return key, false
	}

	if msg.ClientID != "" && !msg.Pending {
		if localID, ok := c.pending[msg.ClientID]; ok {
			c.remove(localID)
			delete(c.pending, msg.ClientID)
		}
	}

	c.insert(msg)
	if msg.Pending && msg.ClientID != "" {
		c.pending[msg.ClientID] = msg.ID
	}
	c.trim(s.retention)
	_, kept := c.ids[msg.ID]
	return key, kept
}

// Merge folds a batch into key's history. The result is sorted by
// (timestamp, id) with duplicates removed, whatever the input order.
// It returns the number of messages that were new.
func (s *ConversationStore) Merge(key models.ConversationKey, batch []models.Message) int {
	c := s.get(key)
	added := 0
	for _, msg := range batch {
		if _, dup := c.ids[msg.ID]; dup {
			continue
		}
		if msg.ClientID != "" && !msg.Pending {
			if localID, ok := c.pending[msg.ClientID]; ok {
				c.remove(localID)
				delete(c.pending, msg.ClientID)
			}
		}
		c.ids[msg.ID] = struct{}{}
		c.messages = append(c.messages, msg)
		if msg.Pending && msg.ClientID != "" {
			c.pending[msg.ClientID] = msg.ID
		}
		added++
	}
	if added > 0 {
		slices.SortStableFunc(c.messages, compareMessages)
		c.trim(s.retention)
	}
	return added
}

// DropPending removes the unconfirmed local echo for clientID from key.
func (s *ConversationStore) DropPending(key models.ConversationKey, clientID string) bool {
	c, ok := s.conversations[key]
	if !ok {
		return false
	}
	localID, ok := c.pending[clientID]
	if !ok {
		return false
	}
	c.remove(localID)
	delete(c.pending, clientID)
	return true
}

// Conversation returns a copy of key's messages in order.
func (s *ConversationStore) Conversation(key models.ConversationKey) []models.Message {
	c, ok := s.conversations[key]
	if !ok {
		return []models.Message{}
	}
	return slices.Clone(c.messages)
}

// View iterates over a snapshot of key's messages.
func (s *ConversationStore) View(key models.ConversationKey) iter.Seq[models.Message] {
	snapshot := s.Conversation(key)
	return slices.Values(snapshot)
}

// Last returns the most recent message of key.
func (s *ConversationStore) Last(key models.ConversationKey) (models.Message, bool) {
	c, ok := s.conversations[key]
	if !ok || len(c.messages) == 0 {
		return models.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Activate marks key as the conversation being viewed and subscribes it
// for backfill on reconnect.
func (s *ConversationStore) Activate(key models.ConversationKey) {
	s.active = key
	s.subscribed[key] = struct{}{}
}

// Deactivate clears the active conversation if it is key. The subscription
// stays so the history keeps being refreshed.
func (s *ConversationStore) Deactivate(key models.ConversationKey) {
	if s.active == key {
		s.active = ""
	}
}

func (s *ConversationStore) Active() models.ConversationKey {
	return s.active
}

func (s *ConversationStore) IsActive(key models.ConversationKey) bool {
	return s.active != "" && s.active == key
}

// Subscribed returns the conversations to backfill after a reconnect,
// sorted for determinism.
func (s *ConversationStore) Subscribed() []models.ConversationKey {
	keys := make([]models.ConversationKey, 0, len(s.subscribed))
	for k := range s.subscribed {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Keys returns every conversation that holds at least one message.
func (s *ConversationStore) Keys() []models.ConversationKey {
	keys := make([]models.ConversationKey, 0, len(s.conversations))
	for k, c := range s.conversations {
		if len(c.messages) > 0 {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (s *ConversationStore) Clear() {
	clear(s.conversations)
	clear(s.subscribed)
	s.active = ""
}

func compareMessages(a, b models.Message) int {
	switch {
	case a.Before(&b):
		return -1
	case b.Before(&a):
		return 1
	}
	return 0
}

func (c *conversation) insert(msg models.Message) {
	i, _ := slices.BinarySearchFunc(c.messages, msg, compareMessages)
	c.messages = slices.Insert(c.messages, i, msg)
	c.ids[msg.ID] = struct{}{}
}

func (c *conversation) remove(id string) {
	i := slices.IndexFunc(c.messages, func(m models.Message) bool { return m.ID == id })
	if i < 0 {
		return
	}
	c.messages = slices.Delete(c.messages, i, i+1)
	delete(c.ids, id)
}

// trim drops the oldest messages beyond limit.
func (c *conversation) trim(limit int) {
	excess := len(c.messages) - limit
	if excess <= 0 {
		return
	}
	for _, m := range c.messages[:excess] {
		delete(c.ids, m.ID)
		if m.Pending {
			delete(c.pending, m.ClientID)
		}
	}
	c.messages = slices.Delete(c.messages, 0, excess)
}
