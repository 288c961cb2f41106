package models

import (
	"time"
)

// Group is a read-only copy of a directory group.
type Group struct {
	ID        string    `json:"id" msgpack:"id"`
	Name      string    `json:"name" msgpack:"name"`
	MemberIDs []string  `json:"memberIds" msgpack:"member_ids"`
	CreatedBy string    `json:"createdBy" msgpack:"created_by"`
	CreatedAt time.Time `json:"createdAt" msgpack:"created_at"`
}

func (g *Group) HasMember(userID string) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Key returns the conversation key of the group.
func (g *Group) Key() ConversationKey {
	return GroupKey(g.ID)
}
