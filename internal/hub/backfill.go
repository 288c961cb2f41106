package hub

import (
	"context"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

type backfillResult struct {
	key      models.ConversationKey
	messages []models.Message
	err      error
}

type groupsResult struct {
	groups []models.Group
	err    error
}

// startBackfill fetches key's history off the actor. One fetch per key is
// in flight at a time.
func (h *Hub) startBackfill(key models.ConversationKey) {
	if h.directory == nil || h.inflight[key] {
		return
	}
	h.inflight[key] = true

	ctx := h.runCtx
	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, h.opts.BackfillTimeout)
		defer cancel()
		msgs, err := h.directory.History(fetchCtx, key)
		select {
		case h.backfills <- backfillResult{key: key, messages: msgs, err: err}:
		case <-ctx.Done():
		}
	}()
}

// applyBackfill merges fetched history. Backfilled messages never count as
// unread; they are history the server already had.
func (h *Hub) applyBackfill(res backfillResult) {
	delete(h.inflight, res.key)
	if res.err != nil {
		if isAuthFailure(res.err) {
			h.log.Errorf("History fetch for %s rejected the session: %v", res.key, res.err)
			h.failSession(res.err)
			return
		}
		h.log.Warnf("History fetch for %s failed: %v", res.key, res.err)
		h.events.Errors.Publish(newErrorEvent("history", res.key, "", res.err, true))
		return
	}

	batch := make([]models.Message, 0, len(res.messages))
	for _, m := range res.messages {
		if models.KeyFor(&m, h.session.UserID) != res.key {
			h.log.Warnf("Dropping history message %s outside %s", m.ID, res.key)
			continue
		}
		batch = append(batch, m)
	}
	if added := h.stores.Conversations.Merge(res.key, batch); added > 0 {
		h.events.Messages.Publish(MessageEvent{
			Key:      res.key,
			Messages: h.stores.Conversations.Conversation(res.key),
			Source:   SourceBackfill,
		})
	}
}

func (h *Hub) startGroupsLoad() {
	if h.directory == nil {
		return
	}
	ctx := h.runCtx
	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, h.opts.BackfillTimeout)
		defer cancel()
		groups, err := h.directory.Groups(fetchCtx)
		select {
		case h.groupsIn <- groupsResult{groups: groups, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (h *Hub) applyGroups(res groupsResult) {
	if res.err != nil {
		if isAuthFailure(res.err) {
			h.log.Errorf("Group list fetch rejected the session: %v", res.err)
			h.failSession(res.err)
			return
		}
		h.log.Warnf("Group list fetch failed: %v", res.err)
		h.events.Errors.Publish(newErrorEvent("groups", "", "", res.err, true))
		return
	}
	h.groups = res.groups
}
