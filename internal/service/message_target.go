package service

import (
	"strings"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

// MessageTarget is either a DirectTarget or a GroupTarget.
type MessageTarget interface {
	apply(message *models.Message)
	kind() string
}

// DirectTarget addresses a single user.
type DirectTarget struct {
	ReceiverID string
}

// GroupTarget addresses every member of a group.
type GroupTarget struct {
	GroupID string
}

func (t DirectTarget) apply(message *models.Message) {
	receiverID := t.ReceiverID
	message.ReceiverID = &receiverID
	message.GroupID = nil
}

func (t DirectTarget) kind() string { return "direct" }

func (t GroupTarget) apply(message *models.Message) {
	groupID := t.GroupID
	message.GroupID = &groupID
	message.ReceiverID = nil
}

func (t GroupTarget) kind() string { return "group" }

// ResolveTarget builds the target from the two optional request fields.
func ResolveTarget(receiverID, groupID string) (MessageTarget, error) {
	receiverID = strings.TrimSpace(receiverID)
	groupID = strings.TrimSpace(groupID)

	switch {
	case receiverID != "" && groupID == "":
		return DirectTarget{ReceiverID: receiverID}, nil
	case groupID != "" && receiverID == "":
		return GroupTarget{GroupID: groupID}, nil
	default:
		return nil, ErrAmbiguousTarget
	}
}

// TargetOf recovers the target of a persisted message.
func TargetOf(message models.Message) MessageTarget {
	if message.IsGroup() {
		return GroupTarget{GroupID: *message.GroupID}
	}
	receiverID := ""
	if message.ReceiverID != nil {
		receiverID = *message.ReceiverID
	}
	return DirectTarget{ReceiverID: receiverID}
}

func sameConversation(message models.Message, senderID string, target MessageTarget) bool {
	switch t := target.(type) {
	case GroupTarget:
		return message.IsGroup() && *message.GroupID == t.GroupID
	case DirectTarget:
		if message.IsGroup() || message.ReceiverID == nil {
			return false
		}
		receiverID := *message.ReceiverID
		return (message.SenderID == senderID && receiverID == t.ReceiverID) ||
			(message.SenderID == t.ReceiverID && receiverID == senderID)
	default:
		return false
	}
}
