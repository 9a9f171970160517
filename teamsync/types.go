package teamsync

import (
	"encoding/json"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/model"
)

const (
	ProtocolVersion = 1

	inboundHello = "hello"
	inboundEmit  = "emit"

	outboundEvent = "event"
	outboundError = "error"
)

// Push-channel event names.
const (
	EventMessage        = "message"
	EventThreadMessage  = "thread-message"
	EventMessageUpdate  = "message-update"
	EventMessageUpdated = "message-updated"
	EventMessageDelete  = "message-delete"
	EventMessageView    = "message-view"
	EventMessageViewed  = "message-viewed"
	EventNotification   = "notification"
	EventUserJoin       = "user-join"
	EventUserLeave      = "user-leave"
	EventChannelUpdated = "channel-updated"
	EventConvoUpdated   = "convo-updated"
	EventReaction       = "reaction"
	EventChannelOpen    = "channel-open"
	EventConvoOpen      = "convo-open"
)

// Inbound represents the envelope from client to server.
type Inbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Outbound is the envelope server -> client.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// HelloPayload initiates the session.
type HelloPayload struct {
	Protocol int    `json:"protocol,omitempty"`
	Token    string `json:"token,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// PresencePayload announces this client going online or offline.
type PresencePayload struct {
	ID       string `json:"id"`
	IsOnline bool   `json:"isOnline"`
}

// OpenPayload tells the server which channel or conversation is open.
type OpenPayload struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

// OutgoingMessage is the message body of a send.
type OutgoingMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// MessagePayload posts a message to a channel or conversation.
type MessagePayload struct {
	Message        OutgoingMessage `json:"message"`
	Organisation   string          `json:"organisation,omitempty"`
	HasNotOpen     []model.User    `json:"hasNotOpen,omitempty"`
	ChannelID      string          `json:"channelId,omitempty"`
	ChannelName    string          `json:"channelName,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	Collaborators  []model.User    `json:"collaborators,omitempty"`
	IsSelf         bool            `json:"isSelf,omitempty"`
	IsPublic       bool            `json:"isPublic"`
}

// ThreadMessagePayload posts a reply to a thread.
type ThreadMessagePayload struct {
	Message   OutgoingMessage `json:"message"`
	MessageID string          `json:"messageId"`
	UserID    string          `json:"userId"`
}

// ViewPayload reports that a message was seen.
type ViewPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// ReactionPayload toggles a reaction.
type ReactionPayload struct {
	Emoji    string `json:"emoji"`
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	IsThread bool   `json:"isThread,omitempty"`
}

// DeletePayload deletes a message the user sent.
type DeletePayload struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	IsThread  bool   `json:"isThread,omitempty"`
}

// Error describes a protocol error.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

// UnmarshalData decodes RawMessage into target.
func UnmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
