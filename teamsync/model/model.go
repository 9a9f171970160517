// Package model holds the records exchanged with the chat backend.
// Field names follow the backend's JSON (Mongo style `_id` keys).
package model

import (
	"encoding/json"
	"time"
)

// User is a workspace member. The backend sends either a populated object
// or a bare id string depending on the endpoint; both decode.
type User struct {
	ID          string `json:"_id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	IsOnline    bool   `json:"isOnline,omitempty"`
}

// UnmarshalJSON accepts `"id"` as well as `{"_id": "id", ...}`.
func (u *User) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*u = User{ID: id}
		return nil
	}
	type plain User
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = User(p)
	return nil
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// UserIDs returns the ids of users in order.
func UserIDs(users []User) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

// Organisation is the snapshot pulled at session start.
type Organisation struct {
	ID            string         `json:"_id"`
	Name          string         `json:"name,omitempty"`
	Profile       User           `json:"profile"`
	Channels      []Channel      `json:"channels"`
	Conversations []Conversation `json:"conversations"`
	CoWorkers     []User         `json:"coWorkers,omitempty"`
}

// Channel is a named room inside an organisation.
type Channel struct {
	ID            string   `json:"_id"`
	Name          string   `json:"name"`
	Title         string   `json:"title,omitempty"`
	Organisation  string   `json:"organisation,omitempty"`
	Collaborators []User   `json:"collaborators,omitempty"`
	IsPublic      bool     `json:"isPublic"`
	IsChannel     bool     `json:"isChannel,omitempty"`
	Unread        int      `json:"unreadMessagesNumber"`
	HasNotOpen    []string `json:"hasNotOpen,omitempty"`
	CreatedBy     string   `json:"createdBy,omitempty"`
}

// Conversation is a direct conversation (including the self conversation).
type Conversation struct {
	ID             string   `json:"_id"`
	Name           string   `json:"name,omitempty"`
	Organisation   string   `json:"organisation,omitempty"`
	Collaborators  []User   `json:"collaborators,omitempty"`
	IsSelf         bool     `json:"isSelf,omitempty"`
	IsOnline       bool     `json:"isOnline,omitempty"`
	IsConversation bool     `json:"isConversation,omitempty"`
	Unread         int      `json:"unreadMessagesNumber"`
	HasNotOpen     []string `json:"hasNotOpen,omitempty"`
	CreatedBy      string   `json:"createdBy,omitempty"`
}

// Counterpart returns the id of the other participant as seen by viewerID.
// Self conversations and conversations without collaborators fall back to CreatedBy.
func (c Conversation) Counterpart(viewerID string) string {
	for _, u := range c.Collaborators {
		if u.ID != viewerID {
			return u.ID
		}
	}
	return c.CreatedBy
}

// DisplayName mirrors how the web client titles a conversation: the second
// collaborator when there are several, otherwise the only one.
func (c Conversation) DisplayName() string {
	switch len(c.Collaborators) {
	case 0:
		return c.Name
	case 1:
		return c.Collaborators[0].Name()
	default:
		return c.Collaborators[1].Name()
	}
}

// Reaction groups the users that reacted with one emoji.
type Reaction struct {
	ID          string `json:"_id,omitempty"`
	Emoji       string `json:"emoji"`
	ReactedToBy []User `json:"reactedToBy"`
}

// Has reports whether userID is among the reactors.
func (r Reaction) Has(userID string) bool {
	for _, u := range r.ReactedToBy {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// Message is a top level message of a channel or conversation.
type Message struct {
	ID                  string     `json:"_id"`
	Sender              User       `json:"sender"`
	Content             string     `json:"content"`
	CreatedAt           time.Time  `json:"createdAt"`
	Reactions           []Reaction `json:"reactions,omitempty"`
	Channel             string     `json:"channel,omitempty"`
	Conversation        string     `json:"conversation,omitempty"`
	Organisation        string     `json:"organisation,omitempty"`
	HasRead             bool       `json:"hasRead,omitempty"`
	ThreadReplies       []User     `json:"threadReplies,omitempty"`
	ThreadRepliesCount  int        `json:"threadRepliesCount,omitempty"`
	ThreadLastReplyDate *time.Time `json:"threadLastReplyDate,omitempty"`
	Type                string     `json:"type,omitempty"`
}

// Thread is a reply inside the thread rooted at Message.
type Thread struct {
	ID        string     `json:"_id"`
	Sender    User       `json:"sender"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	Reactions []Reaction `json:"reactions,omitempty"`
	Message   string     `json:"message,omitempty"`
	HasRead   bool       `json:"hasRead,omitempty"`
}
