// Package reconcile merges pulled snapshots and pushed events into the
// in-memory view of one session. Reduce is pure: it never writes into the
// slices of the state it is given.
package reconcile

import (
	"slices"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/model"
)

// State is the per-session view of the current organisation.
type State struct {
	Profile              model.User
	OrganisationID       string
	Channels             []model.Channel
	Conversations        []model.Conversation
	Selected             *model.Entity
	Messages             []model.Message
	ThreadParent         *model.Message
	ThreadParentID       string
	ThreadMessages       []model.Thread
	ChannelCollaborators []string
}

// ActiveID is the id of the open channel or conversation, empty if none.
func (s State) ActiveID() string {
	if s.Selected == nil {
		return ""
	}
	return s.Selected.ID
}

// ViewerID is the id of the signed-in user.
func (s State) ViewerID() string { return s.Profile.ID }

// Channel looks a channel up by id.
func (s State) Channel(id string) (model.Channel, bool) {
	for _, c := range s.Channels {
		if c.ID == id {
			return c, true
		}
	}
	return model.Channel{}, false
}

// Conversation looks a conversation up by id.
func (s State) Conversation(id string) (model.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// UnreadTotal sums unread counters over channels and conversations.
func (s State) UnreadTotal() int {
	n := 0
	for _, c := range s.Channels {
		n += c.Unread
	}
	for _, c := range s.Conversations {
		n += c.Unread
	}
	return n
}

// Reduce returns the state after ev. The second result is false when the
// event did not change anything (unknown id, unauthorised, stale, duplicate).
func Reduce(s State, ev Event) (State, bool) {
	switch e := ev.(type) {
	case SnapshotLoaded:
		return loadSnapshot(s, e), true
	case EntitySelected:
		return selectEntity(s, e), true
	case MessagesLoaded:
		return loadMessages(s, e)
	case ThreadLoaded:
		return loadThread(s, e), true
	case MessageReceived:
		return receiveMessage(s, e)
	case ThreadMessageReceived:
		return receiveThreadMessage(s, e)
	case MessageContentUpdated:
		return updateContent(s, e)
	case MessageUpdated:
		return updateMessage(s, e)
	case MessageDeleted:
		return deleteMessage(s, e)
	case MessageViewed:
		return viewMessage(s, e)
	case PresenceChanged:
		return changePresence(s, e)
	case ChannelUpdated:
		return updateChannel(s, e)
	case ConversationUpdated:
		return updateConversation(s, e)
	case ReactionToggled:
		return toggleReaction(s, e)
	default:
		return s, false
	}
}

func loadSnapshot(s State, e SnapshotLoaded) State {
	s.Profile = e.Organisation.Profile
	s.OrganisationID = e.Organisation.ID
	s.Channels = slices.Clone(e.Organisation.Channels)
	s.Conversations = slices.Clone(e.Organisation.Conversations)
	return s
}

func selectEntity(s State, e EntitySelected) State {
	if s.ActiveID() != e.Entity.ID {
		s.Messages = nil
		s.ThreadParent = nil
		s.ThreadParentID = ""
		s.ThreadMessages = nil
	}
	ent := e.Entity
	s.Selected = &ent
	s.ChannelCollaborators = ent.CollaboratorIDs()
	return s
}

func loadMessages(s State, e MessagesLoaded) (State, bool) {
	if e.EntityID == "" || e.EntityID != s.ActiveID() {
		return s, false
	}
	s.Messages = uniqueMessages(e.Messages)
	return s, true
}

func loadThread(s State, e ThreadLoaded) State {
	s.ThreadParentID = e.ParentID
	if e.Parent != nil {
		p := *e.Parent
		p.Reactions = normaliseReactions(p.Reactions)
		s.ThreadParent = &p
		if s.ThreadParentID == "" {
			s.ThreadParentID = p.ID
		}
	} else {
		s.ThreadParent = nil
	}
	s.ThreadMessages = uniqueThreads(e.Threads)
	return s
}

// authorised reports whether the viewer may see a message pushed to the
// open entity.
func authorised(s State, e MessageReceived) bool {
	if e.IsPublic {
		return true
	}
	viewer := s.ViewerID()
	if viewer == "" {
		return false
	}
	for _, u := range e.Collaborators {
		if u.ID == viewer {
			return true
		}
	}
	return slices.Contains(s.ChannelCollaborators, viewer)
}

func receiveMessage(s State, e MessageReceived) (State, bool) {
	if s.ActiveID() == "" || e.Target() != s.ActiveID() || !authorised(s, e) {
		return s, false
	}
	if e.Message.ID == "" || indexMessage(s.Messages, e.Message.ID) >= 0 {
		return s, false
	}
	msg := e.Message
	msg.Reactions = normaliseReactions(msg.Reactions)
	s.Messages = append(slices.Clip(s.Messages), msg)
	return s, true
}

func receiveThreadMessage(s State, e ThreadMessageReceived) (State, bool) {
	if s.ThreadParentID == "" {
		return s, false
	}
	parent := e.ParentID
	if parent == "" {
		parent = e.Message.Message
	}
	if parent != "" && parent != s.ThreadParentID {
		return s, false
	}
	if e.Message.ID == "" || indexThread(s.ThreadMessages, e.Message.ID) >= 0 {
		return s, false
	}
	msg := e.Message
	msg.Reactions = normaliseReactions(msg.Reactions)
	s.ThreadMessages = append(slices.Clip(s.ThreadMessages), msg)
	return s, true
}

func updateContent(s State, e MessageContentUpdated) (State, bool) {
	i := indexMessage(s.Messages, e.ID)
	if i < 0 {
		return s, false
	}
	s.Messages = slices.Clone(s.Messages)
	s.Messages[i].Content = e.Content
	return s, true
}

func updateMessage(s State, e MessageUpdated) (State, bool) {
	changed := false
	if s.ThreadParent != nil && s.ThreadParent.ID == e.ID && !e.IsThread {
		p := e.Message
		p.Reactions = normaliseReactions(p.Reactions)
		s.ThreadParent = &p
		changed = true
	}
	if e.IsThread {
		if i := indexThread(s.ThreadMessages, e.ID); i >= 0 {
			s.ThreadMessages = slices.Clone(s.ThreadMessages)
			t := e.Thread
			t.Reactions = normaliseReactions(t.Reactions)
			s.ThreadMessages[i] = t
			changed = true
		}
		return s, changed
	}
	if i := indexMessage(s.Messages, e.ID); i >= 0 {
		s.Messages = slices.Clone(s.Messages)
		m := e.Message
		m.Reactions = normaliseReactions(m.Reactions)
		s.Messages[i] = m
		changed = true
	}
	return s, changed
}

func deleteMessage(s State, e MessageDeleted) (State, bool) {
	if e.ChannelID == "" || e.ChannelID != s.ActiveID() {
		return s, false
	}
	if e.IsThread {
		i := indexThread(s.ThreadMessages, e.MessageID)
		if i < 0 {
			return s, false
		}
		s.ThreadMessages = slices.Delete(slices.Clone(s.ThreadMessages), i, i+1)
		return s, true
	}
	i := indexMessage(s.Messages, e.MessageID)
	if i < 0 {
		return s, false
	}
	s.Messages = slices.Delete(slices.Clone(s.Messages), i, i+1)
	return s, true
}

func viewMessage(s State, e MessageViewed) (State, bool) {
	changed := false
	if e.ChannelID != "" {
		for i, c := range s.Channels {
			if c.ID != e.ChannelID {
				continue
			}
			if !changed {
				s.Channels = slices.Clone(s.Channels)
			}
			s.Channels[i].Unread = decrement(c.Unread)
			changed = true
			break
		}
	}
	if e.ConversationID != "" {
		for i, c := range s.Conversations {
			if c.ID != e.ConversationID {
				continue
			}
			s.Conversations = slices.Clone(s.Conversations)
			s.Conversations[i].Unread = decrement(c.Unread)
			changed = true
			break
		}
	}
	return s, changed
}

func decrement(n int) int {
	if n <= 0 {
		return 0
	}
	return n - 1
}

func changePresence(s State, e PresenceChanged) (State, bool) {
	if e.UserID == "" {
		return s, false
	}
	viewer := s.ViewerID()
	var out []model.Conversation
	for i, c := range s.Conversations {
		if c.Counterpart(viewer) != e.UserID || c.IsOnline == e.IsOnline {
			continue
		}
		if out == nil {
			out = slices.Clone(s.Conversations)
		}
		out[i].IsOnline = e.IsOnline
	}
	if out == nil {
		return s, false
	}
	s.Conversations = out
	return s, true
}

func updateChannel(s State, e ChannelUpdated) (State, bool) {
	d := e.Delta
	for i, c := range s.Channels {
		if c.ID != d.ID {
			continue
		}
		if d.Name != nil {
			c.Name = *d.Name
		}
		if d.Collaborators != nil {
			c.Collaborators = slices.Clone(d.Collaborators)
		}
		if d.IsPublic != nil {
			c.IsPublic = *d.IsPublic
		}
		if d.Unread != nil {
			c.Unread = max(*d.Unread, 0)
		}
		if d.HasNotOpen != nil {
			c.HasNotOpen = slices.Clone(d.HasNotOpen)
		}
		s.Channels = slices.Clone(s.Channels)
		s.Channels[i] = c
		if s.Selected != nil && s.Selected.ID == c.ID {
			return selectEntity(s, EntitySelected{Entity: model.ChannelEntity(c)}), true
		}
		return s, true
	}
	return s, false
}

func updateConversation(s State, e ConversationUpdated) (State, bool) {
	d := e.Delta
	id := d.ID
	if id == "" {
		id = s.ActiveID()
	}
	if id == "" {
		return s, false
	}
	for i, c := range s.Conversations {
		if c.ID != id {
			continue
		}
		if d.Name != nil {
			c.Name = *d.Name
		}
		if d.Collaborators != nil {
			c.Collaborators = slices.Clone(d.Collaborators)
		}
		if d.IsOnline != nil {
			c.IsOnline = *d.IsOnline
		}
		if d.Unread != nil {
			c.Unread = max(*d.Unread, 0)
		}
		if d.HasNotOpen != nil {
			c.HasNotOpen = slices.Clone(d.HasNotOpen)
		}
		s.Conversations = slices.Clone(s.Conversations)
		s.Conversations[i] = c
		return s, true
	}
	return s, false
}

func toggleReaction(s State, e ReactionToggled) (State, bool) {
	if e.Emoji == "" || e.User.ID == "" {
		return s, false
	}
	changed := false
	if s.ThreadParent != nil && s.ThreadParent.ID == e.MessageID && !e.IsThread {
		p := *s.ThreadParent
		p.Reactions = ToggleReaction(p.Reactions, e.Emoji, e.User)
		s.ThreadParent = &p
		changed = true
	}
	if e.IsThread {
		if i := indexThread(s.ThreadMessages, e.MessageID); i >= 0 {
			s.ThreadMessages = slices.Clone(s.ThreadMessages)
			s.ThreadMessages[i].Reactions = ToggleReaction(s.ThreadMessages[i].Reactions, e.Emoji, e.User)
			changed = true
		}
		return s, changed
	}
	if i := indexMessage(s.Messages, e.MessageID); i >= 0 {
		s.Messages = slices.Clone(s.Messages)
		s.Messages[i].Reactions = ToggleReaction(s.Messages[i].Reactions, e.Emoji, e.User)
		changed = true
	}
	return s, changed
}

// ToggleReaction adds user to the emoji's reactors, or removes them when
// already present. Reactions left without reactors are dropped. The input
// slice is not modified.
func ToggleReaction(reactions []model.Reaction, emoji string, user model.User) []model.Reaction {
	out := normaliseReactions(reactions)
	for i, r := range out {
		if r.Emoji != emoji {
			continue
		}
		if r.Has(user.ID) {
			r.ReactedToBy = slices.DeleteFunc(slices.Clone(r.ReactedToBy), func(u model.User) bool { return u.ID == user.ID })
		} else {
			r.ReactedToBy = append(slices.Clip(r.ReactedToBy), user)
		}
		if len(r.ReactedToBy) == 0 {
			return slices.Delete(out, i, i+1)
		}
		out[i] = r
		return out
	}
	return append(out, model.Reaction{Emoji: emoji, ReactedToBy: []model.User{user}})
}

// normaliseReactions returns a copy in which every reactor appears once per emoji.
func normaliseReactions(reactions []model.Reaction) []model.Reaction {
	if reactions == nil {
		return nil
	}
	out := make([]model.Reaction, 0, len(reactions))
	for _, r := range reactions {
		seen := make(map[string]struct{}, len(r.ReactedToBy))
		users := make([]model.User, 0, len(r.ReactedToBy))
		for _, u := range r.ReactedToBy {
			if _, ok := seen[u.ID]; ok {
				continue
			}
			seen[u.ID] = struct{}{}
			users = append(users, u)
		}
		r.ReactedToBy = users
		out = append(out, r)
	}
	return out
}

func uniqueMessages(in []model.Message) []model.Message {
	out := make([]model.Message, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, m := range in {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		m.Reactions = normaliseReactions(m.Reactions)
		out = append(out, m)
	}
	return out
}

func uniqueThreads(in []model.Thread) []model.Thread {
	out := make([]model.Thread, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, m := range in {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		m.Reactions = normaliseReactions(m.Reactions)
		out = append(out, m)
	}
	return out
}

func indexMessage(msgs []model.Message, id string) int {
	return slices.IndexFunc(msgs, func(m model.Message) bool { return m.ID == id })
}

func indexThread(msgs []model.Thread, id string) int {
	return slices.IndexFunc(msgs, func(m model.Thread) bool { return m.ID == id })
}
