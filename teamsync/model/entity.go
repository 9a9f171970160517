package model

// EntityKind tells channels and conversations apart.
type EntityKind int

const (
	KindChannel EntityKind = iota
	KindConversation
)

// String returns the string representation of an EntityKind.
func (k EntityKind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindConversation:
		return "conversation"
	default:
		return "unknown"
	}
}

// Entity is the channel or conversation currently open.
type Entity struct {
	Kind          EntityKind
	ID            string
	Name          string
	Organisation  string
	Collaborators []User
	IsPublic      bool
	IsSelf        bool
}

// ChannelEntity builds the selected entity for a channel.
func ChannelEntity(c Channel) Entity {
	return Entity{
		Kind:          KindChannel,
		ID:            c.ID,
		Name:          c.Name,
		Organisation:  c.Organisation,
		Collaborators: c.Collaborators,
		IsPublic:      c.IsPublic,
	}
}

// ConversationEntity builds the selected entity for a conversation.
func ConversationEntity(c Conversation) Entity {
	self := c.IsSelf
	if len(c.Collaborators) == 2 && c.Collaborators[0].ID == c.Collaborators[1].ID {
		self = true
	}
	return Entity{
		Kind:          KindConversation,
		ID:            c.ID,
		Name:          c.DisplayName(),
		Organisation:  c.Organisation,
		Collaborators: c.Collaborators,
		IsSelf:        self,
	}
}

// IsChannel reports whether the entity is a channel.
func (e Entity) IsChannel() bool { return e.Kind == KindChannel }

// CollaboratorIDs returns the ids of the entity's collaborators.
func (e Entity) CollaboratorIDs() []string { return UserIDs(e.Collaborators) }

// Others returns the collaborators except userID.
func (e Entity) Others(userID string) []User {
	out := make([]User, 0, len(e.Collaborators))
	for _, u := range e.Collaborators {
		if u.ID != userID {
			out = append(out, u)
		}
	}
	return out
}
