package teamsync

import "github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/model"

// NotificationEvent is pushed for every new message in the organisation,
// including those posted outside the open channel.
type NotificationEvent struct {
	NewMessage     model.Message `json:"newMessage"`
	Organisation   string        `json:"organisation"`
	Collaborators  []model.User  `json:"collaborators"`
	ChannelName    string        `json:"channelName,omitempty"`
	IsPublic       bool          `json:"isPublic,omitempty"`
	ChannelID      string        `json:"channelId,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
}

// Target returns the channel or conversation the message was posted to.
func (e NotificationEvent) Target() string {
	switch {
	case e.ChannelID != "":
		return e.ChannelID
	case e.ConversationID != "":
		return e.ConversationID
	default:
		return e.NewMessage.Conversation
	}
}

// NotificationKind tells channel and direct notifications apart.
type NotificationKind int

const (
	NotifyChannel NotificationKind = iota
	NotifyDirect
)

// Notification is what the session surfaces for a message posted
// somewhere other than the open entity.
type Notification struct {
	Kind      NotificationKind
	Title     string
	Body      string
	ChannelID string
	Message   model.Message
}

// Toast is a transient, user-visible error report.
type Toast struct {
	Message string
	Err     error
}
