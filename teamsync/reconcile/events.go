package reconcile

import (
	"encoding/json"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/model"
)

// Event is anything Reduce knows how to merge. Name is the wire event
// name for push events and a descriptive name for local ones.
type Event interface {
	Name() string
}

// SnapshotLoaded replaces the organisation data after a snapshot pull.
type SnapshotLoaded struct {
	Organisation model.Organisation
}

// EntitySelected opens a channel or conversation.
type EntitySelected struct {
	Entity model.Entity
}

// MessagesLoaded carries the message history pulled for EntityID.
type MessagesLoaded struct {
	EntityID string
	Messages []model.Message
}

// ThreadLoaded carries a thread parent and its replies.
type ThreadLoaded struct {
	ParentID string
	Parent   *model.Message
	Threads  []model.Thread
}

// MessageReceived is the `message` push event.
type MessageReceived struct {
	Collaborators  []model.User  `json:"collaborators"`
	Message        model.Message `json:"newMessage"`
	ChannelID      string        `json:"channelId,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	IsPublic       bool          `json:"isPublic,omitempty"`
}

// Target returns the entity the message was posted to.
func (e MessageReceived) Target() string {
	if e.ChannelID != "" {
		return e.ChannelID
	}
	return e.ConversationID
}

// ThreadMessageReceived is the `thread-message` push event.
type ThreadMessageReceived struct {
	ParentID string       `json:"messageId,omitempty"`
	Message  model.Thread `json:"newMessage"`
}

// MessageContentUpdated is the `message-update` push event.
type MessageContentUpdated struct {
	ID      string `json:"_id"`
	Content string `json:"updatedContent"`
}

// MessageUpdated is the `message-updated` push event. Depending on
// IsThread the payload is decoded into Message or Thread.
type MessageUpdated struct {
	ID       string
	IsThread bool
	Message  model.Message
	Thread   model.Thread
}

// UnmarshalJSON decodes the `message` field according to `isThread`.
func (e *MessageUpdated) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string          `json:"id"`
		IsThread bool            `json:"isThread"`
		Message  json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = MessageUpdated{ID: raw.ID, IsThread: raw.IsThread}
	if len(raw.Message) == 0 || string(raw.Message) == "null" {
		return nil
	}
	if raw.IsThread {
		return json.Unmarshal(raw.Message, &e.Thread)
	}
	return json.Unmarshal(raw.Message, &e.Message)
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (e MessageUpdated) MarshalJSON() ([]byte, error) {
	var msg any = e.Message
	if e.IsThread {
		msg = e.Thread
	}
	return json.Marshal(struct {
		ID       string `json:"id"`
		IsThread bool   `json:"isThread"`
		Message  any    `json:"message"`
	}{e.ID, e.IsThread, msg})
}

// MessageDeleted is the `message-delete` push event.
type MessageDeleted struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	IsThread  bool   `json:"isThread,omitempty"`
}

// MessageViewed is the `message-viewed` push event.
type MessageViewed struct {
	ChannelID      string `json:"channelId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// PresenceChanged is the `user-join` / `user-leave` push event.
type PresenceChanged struct {
	UserID   string `json:"id"`
	IsOnline bool   `json:"isOnline"`
}

// ChannelDelta holds the fields of a `channel-updated` event. Nil fields
// are left untouched.
type ChannelDelta struct {
	ID            string       `json:"_id"`
	Name          *string      `json:"name,omitempty"`
	Collaborators []model.User `json:"collaborators,omitempty"`
	IsPublic      *bool        `json:"isPublic,omitempty"`
	Unread        *int         `json:"unreadMessagesNumber,omitempty"`
	HasNotOpen    []string     `json:"hasNotOpen,omitempty"`
}

// ChannelUpdated is the `channel-updated` push event.
type ChannelUpdated struct {
	Delta ChannelDelta
}

// UnmarshalJSON decodes the delta from the flat payload.
func (e *ChannelUpdated) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.Delta)
}

// MarshalJSON writes the delta as a flat payload.
func (e ChannelUpdated) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Delta)
}

// ConversationDelta holds the fields of a `convo-updated` event.
type ConversationDelta struct {
	ID            string       `json:"_id,omitempty"`
	Name          *string      `json:"name,omitempty"`
	Collaborators []model.User `json:"collaborators,omitempty"`
	IsOnline      *bool        `json:"isOnline,omitempty"`
	Unread        *int         `json:"unreadMessagesNumber,omitempty"`
	HasNotOpen    []string     `json:"hasNotOpen,omitempty"`
}

// ConversationUpdated is the `convo-updated` push event.
type ConversationUpdated struct {
	Delta ConversationDelta
}

// UnmarshalJSON decodes the delta from the flat payload.
func (e *ConversationUpdated) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.Delta)
}

// MarshalJSON writes the delta as a flat payload.
func (e ConversationUpdated) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Delta)
}

// ReactionToggled is a local, optimistic reaction change.
type ReactionToggled struct {
	MessageID string
	Emoji     string
	User      model.User
	IsThread  bool
}

func (SnapshotLoaded) Name() string        { return "snapshot" }
func (EntitySelected) Name() string        { return "select" }
func (MessagesLoaded) Name() string        { return "messages" }
func (ThreadLoaded) Name() string          { return "threads" }
func (MessageReceived) Name() string       { return "message" }
func (ThreadMessageReceived) Name() string { return "thread-message" }
func (MessageContentUpdated) Name() string { return "message-update" }
func (MessageUpdated) Name() string        { return "message-updated" }
func (MessageDeleted) Name() string        { return "message-delete" }
func (MessageViewed) Name() string         { return "message-viewed" }
func (ChannelUpdated) Name() string        { return "channel-updated" }
func (ConversationUpdated) Name() string   { return "convo-updated" }
func (ReactionToggled) Name() string       { return "reaction" }

// Name returns "user-join" or "user-leave".
func (e PresenceChanged) Name() string {
	if e.IsOnline {
		return "user-join"
	}
	return "user-leave"
}
