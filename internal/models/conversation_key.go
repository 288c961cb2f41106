package models

import (
	"fmt"
	"strings"
)

// ConversationKey identifies the conversation a message belongs to.
//
//	USER:<a>:<b>  direct conversation, a < b (unordered pair)
//	GROUP:<id>    group conversation
//	ALL:<id>      broadcast channel
type ConversationKey string

func DirectKey(userID1, userID2 string) ConversationKey {
	// Always use smaller ID first for consistency
	if userID1 > userID2 {
		userID1, userID2 = userID2, userID1
	}
	return ConversationKey(fmt.Sprintf("%s:%s:%s", RecipientUser, userID1, userID2))
}

func GroupKey(groupID string) ConversationKey {
	return ConversationKey(fmt.Sprintf("%s:%s", RecipientGroup, groupID))
}

func BroadcastKey(channelID string) ConversationKey {
	return ConversationKey(fmt.Sprintf("%s:%s", RecipientAll, channelID))
}

// KeyFor computes the conversation key of msg as seen by viewerID.
func KeyFor(msg *Message, viewerID string) ConversationKey {
	return KeyForRecipient(msg.SenderID, msg.RecipientID, msg.RecipientType, viewerID)
}

// KeyForRecipient computes a key from raw addressing fields. For direct
// messages the pair is {sender, recipient}; a message sent to self lands in
// the viewer's own {viewer, viewer} conversation.
func KeyForRecipient(senderID, recipientID string, rt RecipientType, viewerID string) ConversationKey {
	switch rt {
	case RecipientGroup:
		return GroupKey(recipientID)
	case RecipientAll:
		return BroadcastKey(recipientID)
	default:
		if senderID == "" {
			senderID = viewerID
		}
		return DirectKey(senderID, recipientID)
	}
}

func (k ConversationKey) Type() RecipientType {
	t, _, _ := strings.Cut(string(k), ":")
	return RecipientType(t)
}

// Peer returns the other participant of a direct conversation, or the group
// or channel id for the other kinds.
func (k ConversationKey) Peer(viewerID string) string {
	parts := strings.Split(string(k), ":")
	switch {
	case len(parts) == 3 && RecipientType(parts[0]) == RecipientUser:
		if parts[1] == viewerID {
			return parts[2]
		}
		return parts[1]
	case len(parts) == 2:
		return parts[1]
	}
	return ""
}

// Valid reports whether k has one of the three known shapes.
func (k ConversationKey) Valid() bool {
	parts := strings.Split(string(k), ":")
	for _, p := range parts[1:] {
		if p == "" {
			return false
		}
	}
	switch RecipientType(parts[0]) {
	case RecipientUser:
		return len(parts) == 3 && parts[1] <= parts[2]
	case RecipientGroup, RecipientAll:
		return len(parts) == 2
	}
	return false
}
