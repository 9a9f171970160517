package teamsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/model"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/nav"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/reconcile"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/rest"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/store"
)

var (
	alice = model.User{ID: "u1", Username: "alice"}
	bob   = model.User{ID: "u2", Username: "bob"}
	carol = model.User{ID: "u3", Username: "carol"}
)

type fakeAPI struct {
	mu       sync.Mutex
	token    string
	orgErr   error
	orgCalls int
	orgGate  chan struct{}
	org      model.Organisation
	channels map[string]model.Channel
	convos   map[string]model.Conversation
	messages map[string][]model.Message
	parents  map[string]model.Message
	threads  map[string][]model.Thread

	// gates hold back the message list of an entity until closed,
	// ignoring cancellation like a response already on the wire.
	gates   map[string]chan struct{}
	started chan string
}

func newFakeAPI() *fakeAPI {
	general := model.Channel{ID: "c1", Name: "General", Organisation: "org1", Collaborators: []model.User{alice, bob}, IsChannel: true, Unread: 3}
	random := model.Channel{ID: "c2", Name: "Random", Organisation: "org1", Collaborators: []model.User{bob}, IsPublic: true, IsChannel: true, Unread: 1}
	dm := model.Conversation{ID: "d1", Organisation: "org1", Collaborators: []model.User{alice, bob}, CreatedBy: "u2", IsConversation: true}
	return &fakeAPI{
		org: model.Organisation{
			ID:            "org1",
			Name:          "Acme",
			Profile:       alice,
			Channels:      []model.Channel{general, random},
			Conversations: []model.Conversation{dm},
		},
		channels: map[string]model.Channel{"c1": general, "c2": random},
		convos:   map[string]model.Conversation{"d1": dm},
		messages: map[string][]model.Message{
			"c1": {{ID: "m1", Sender: bob, Content: "<p>hi</p>", Channel: "c1"}, {ID: "m2", Sender: alice, Content: "<p>hey</p>", Channel: "c1"}},
			"c2": {{ID: "n1", Sender: bob, Channel: "c2"}},
			"d1": {{ID: "dm1", Sender: bob, Conversation: "d1"}},
		},
		parents: map[string]model.Message{"m1": {ID: "m1", Sender: bob, ThreadRepliesCount: 1}},
		threads: map[string][]model.Thread{"m1": {{ID: "t1", Message: "m1"}}},
		gates:   map[string]chan struct{}{},
		started: make(chan string, 8),
	}
}

func (f *fakeAPI) SetToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orgCalls
}

func (f *fakeAPI) GetOrganisation(_ context.Context, id string) (*model.Organisation, error) {
	f.mu.Lock()
	f.orgCalls++
	gate := f.orgGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orgErr != nil {
		return nil, f.orgErr
	}
	org := f.org
	return &org, nil
}

func (f *fakeAPI) GetChannel(_ context.Context, id string) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[id]
	if !ok {
		return nil, &rest.APIError{Status: 404, Path: "/channel/" + id, Message: "channel not found"}
	}
	return &c, nil
}

func (f *fakeAPI) GetConversation(_ context.Context, id string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convos[id]
	if !ok {
		return nil, &rest.APIError{Status: 404, Path: "/conversations/" + id, Message: "conversation not found"}
	}
	return &c, nil
}

func (f *fakeAPI) list(id string) ([]model.Message, error) {
	f.mu.Lock()
	gate := f.gates[id]
	f.mu.Unlock()
	f.started <- id
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.messages[id]...), nil
}

func (f *fakeAPI) ListChannelMessages(_ context.Context, _, id string) ([]model.Message, error) {
	return f.list(id)
}

func (f *fakeAPI) ListConversationMessages(_ context.Context, _, id string) ([]model.Message, error) {
	return f.list(id)
}

func (f *fakeAPI) GetMessage(_ context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.parents[id]
	if !ok {
		return nil, &rest.APIError{Status: 404, Path: "/messages/" + id, Message: "message not found"}
	}
	return &m, nil
}

func (f *fakeAPI) ListThreads(_ context.Context, id string) ([]model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads[id], nil
}

type sessionFixture struct {
	s     *Session
	api   *fakeAPI
	tr    *fakeTransport
	store *store.Memory
}

func newSessionFixture(t *testing.T, mutate func(*Config)) *sessionFixture {
	t.Helper()
	cfg := testConfig()
	cfg.OrganisationID = "org1"
	if mutate != nil {
		mutate(&cfg)
	}
	f := &sessionFixture{api: newFakeAPI(), tr: newFakeTransport(), store: store.NewMemory()}
	client := NewClient(&cfg)
	client.SetTransport(f.tr)
	f.s = NewSession(cfg, WithAPI(f.api), WithClient(client), WithStore(f.store))
	t.Cleanup(func() { _ = f.s.Stop() })
	return f
}

func (f *sessionFixture) start(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, f.s.Start(context.Background()))
	conn := f.tr.conn(t)
	conn.next(t, inboundHello)
	return conn
}

func (f *sessionFixture) open(t *testing.T, kind model.EntityKind, id string) {
	t.Helper()
	require.NoError(t, f.s.Open(context.Background(), kind, id))
	<-f.api.started
}

func (f *sessionFixture) eventually(t *testing.T, cond func(reconcile.State) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(f.s.State()) }, 2*time.Second, 5*time.Millisecond, msg)
}

func TestSessionStartLoadsSnapshot(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.start(t)

	st := f.s.State()
	assert.Equal(t, "org1", st.OrganisationID)
	assert.Equal(t, "u1", st.ViewerID())
	assert.Len(t, st.Channels, 2)
	assert.Len(t, st.Conversations, 1)
	assert.Equal(t, "tok", f.api.token)

	ctx := context.Background()
	token, _ := f.store.Get(ctx, store.KeyAccessToken)
	org, _ := f.store.Get(ctx, store.KeyOrganisationID)
	assert.Equal(t, "tok", token)
	assert.Equal(t, "org1", org)
	assert.Equal(t, float64(4), testutil.ToFloat64(f.s.Metrics().unread))

	assert.Error(t, f.s.Start(ctx), "second start must fail")
}

func TestSessionConcurrentStart(t *testing.T) {
	f := newSessionFixture(t, nil)
	gate := make(chan struct{})
	f.api.orgGate = gate
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- f.s.Start(ctx) }()
	require.Eventually(t, func() bool { return f.api.calls() == 1 }, time.Second, time.Millisecond)

	err := f.s.Start(ctx)
	require.Error(t, err, "start while another start is in flight")
	assert.Equal(t, 1, f.api.calls())

	close(gate)
	require.NoError(t, <-first)
	f.tr.conn(t).next(t, inboundHello)
}

func TestSessionStartRetryAfterFailure(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.api.orgErr = &rest.APIError{Status: 500, Path: "/organisation/org1", Message: "boom"}
	require.Error(t, f.s.Start(context.Background()))

	f.api.mu.Lock()
	f.api.orgErr = nil
	f.api.mu.Unlock()
	f.start(t)
	assert.Equal(t, "org1", f.s.State().OrganisationID)
}

func TestSessionRestoresStoredCredentials(t *testing.T) {
	f := newSessionFixture(t, func(c *Config) { c.Token = ""; c.OrganisationID = "" })
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, store.KeyAccessToken, "stored"))
	require.NoError(t, f.store.Set(ctx, store.KeyOrganisationID, "org1"))

	f.start(t)
	assert.Equal(t, "stored", f.api.token)
	assert.Equal(t, "Bearer stored", f.tr.headers[0].Get("Authorization"))
}

func TestSessionStartWithoutCredentials(t *testing.T) {
	f := newSessionFixture(t, func(c *Config) { c.Token = "" })
	var rejected error
	f.s.OnAuthFailure(func(err error) { rejected = err })

	err := f.s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, err, rejected)
	assert.Equal(t, 0, f.api.calls())
	assert.Equal(t, StateDisconnected, f.s.Client().State())
}

func TestSessionAuthRejectedClearsStore(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.api.orgErr = &rest.APIError{Status: 401, Path: "/organisation/org1", Message: "jwt expired"}
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, store.KeySignUpEmail, "a@example.com"))
	require.NoError(t, f.store.Set(ctx, store.KeyChannelID, "c1"))

	var toasts []Toast
	var rejected error
	f.s.OnToast(func(tt Toast) { toasts = append(toasts, tt) })
	f.s.OnAuthFailure(func(err error) { rejected = err })

	err := f.s.Start(ctx)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	require.Error(t, rejected)
	require.Len(t, toasts, 1)
	assert.Equal(t, "Your session has expired, please sign in again", toasts[0].Message)
	for _, key := range store.SessionKeys {
		v, err := f.store.Get(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, v, key)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(f.s.Metrics().pullErrors.WithLabelValues("organisation")))
}

func TestSessionOpenAndMergePushEvents(t *testing.T) {
	f := newSessionFixture(t, nil)
	conn := f.start(t)
	f.open(t, model.KindChannel, "c1")

	st := f.s.State()
	require.NotNil(t, st.Selected)
	assert.Equal(t, "c1", st.ActiveID())
	assert.Len(t, st.Messages, 2)
	assert.Equal(t, OpenPayload{ID: "c1", UserID: "u1"}, conn.next(t, EventChannelOpen).Data)
	flag, _ := f.store.Get(context.Background(), store.KeyChannel)
	assert.Equal(t, "true", flag)

	conn.push(t, EventMessage, map[string]any{
		"channelId":     "c1",
		"collaborators": []string{"u1", "u2"},
		"newMessage":    map[string]any{"_id": "m3", "content": "<p>new</p>"},
	})
	conn.push(t, EventMessage, map[string]any{
		"channelId":  "c2",
		"newMessage": map[string]any{"_id": "x1"},
	})
	conn.push(t, EventMessageViewed, map[string]any{"channelId": "c1"})

	f.eventually(t, func(st reconcile.State) bool {
		c, _ := st.Channel("c1")
		return len(st.Messages) == 3 && c.Unread == 2
	}, "message appended and unread decremented")
	assert.Equal(t, "m3", f.s.State().Messages[2].ID)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.s.Metrics().misses.WithLabelValues(EventMessage)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionOpenMissingChannel(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.start(t)
	var toasts []Toast
	var mu sync.Mutex
	f.s.OnToast(func(tt Toast) { mu.Lock(); toasts = append(toasts, tt); mu.Unlock() })
	var authFailed bool
	f.s.OnAuthFailure(func(error) { authFailed = true })

	err := f.s.Open(context.Background(), model.KindChannel, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, NewError(ErrorNotFound, "")))
	require.Len(t, toasts, 1)
	assert.Equal(t, "Channel not found", toasts[0].Message)
	assert.False(t, authFailed)
	assert.Nil(t, f.s.State().Selected)
}

func TestSessionLateResultsNeverLandOnNewEntity(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.start(t)
	gate := make(chan struct{})
	f.api.gates["c1"] = gate

	first := make(chan error, 1)
	go func() { first <- f.s.Open(context.Background(), model.KindChannel, "c1") }()
	require.Equal(t, "c1", <-f.api.started)

	require.NoError(t, f.s.Open(context.Background(), model.KindChannel, "c2"))
	require.Equal(t, "c2", <-f.api.started)
	close(gate)

	assert.ErrorIs(t, <-first, nav.ErrSuperseded)
	st := f.s.State()
	assert.Equal(t, "c2", st.ActiveID())
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "n1", st.Messages[0].ID)
}

func TestSessionSendBuildsPayload(t *testing.T) {
	f := newSessionFixture(t, nil)
	conn := f.start(t)
	ctx := context.Background()

	err := f.s.Send(ctx, "<p>hi</p>")
	assert.True(t, errors.Is(err, NewError(ErrorNoSelection, "")))

	f.open(t, model.KindChannel, "c1")
	require.NoError(t, f.s.Send(ctx, "<p>hi</p><p><br></p>"))
	p := conn.next(t, EventMessage).Data.(MessagePayload)
	assert.Equal(t, OutgoingMessage{Sender: "u1", Content: "<p>hi</p>"}, p.Message)
	assert.Equal(t, "org1", p.Organisation)
	assert.Equal(t, "c1", p.ChannelID)
	assert.Equal(t, "General", p.ChannelName)
	assert.Empty(t, p.ConversationID)
	assert.Equal(t, []string{"u2"}, model.UserIDs(p.HasNotOpen))
	assert.Len(t, p.Collaborators, 2)

	f.open(t, model.KindConversation, "d1")
	require.NoError(t, f.s.Send(ctx, "<p>psst</p>"))
	p = conn.next(t, EventMessage).Data.(MessagePayload)
	assert.Equal(t, "d1", p.ConversationID)
	assert.Empty(t, p.ChannelID)
	assert.False(t, p.IsSelf)

	assert.Error(t, f.s.Send(ctx, "<p><br></p>"))
}

func TestSessionThread(t *testing.T) {
	f := newSessionFixture(t, nil)
	conn := f.start(t)
	ctx := context.Background()
	f.open(t, model.KindChannel, "c1")

	require.NoError(t, f.s.OpenThread(ctx, "m1"))
	st := f.s.State()
	require.NotNil(t, st.ThreadParent)
	assert.Equal(t, "m1", st.ThreadParentID)
	assert.Len(t, st.ThreadMessages, 1)

	require.NoError(t, f.s.SendThread(ctx, "<p>reply</p>"))
	tp := conn.next(t, EventThreadMessage).Data.(ThreadMessagePayload)
	assert.Equal(t, "m1", tp.MessageID)
	assert.Equal(t, "u1", tp.UserID)

	conn.push(t, EventThreadMessage, map[string]any{"messageId": "m1", "newMessage": map[string]any{"_id": "t2", "message": "m1"}})
	f.eventually(t, func(st reconcile.State) bool { return len(st.ThreadMessages) == 2 }, "thread reply appended")

	f.s.CloseThread()
	assert.Empty(t, f.s.State().ThreadParentID)
	assert.Error(t, f.s.SendThread(ctx, "<p>late</p>"))
}

func TestSessionMarkViewedOncePerMessage(t *testing.T) {
	f := newSessionFixture(t, func(c *Config) { c.ViewRateLimit = 1000; c.ViewBurst = 1 })
	conn := f.start(t)
	ctx := context.Background()

	require.NoError(t, f.s.MarkViewed(ctx, "m1"))
	require.NoError(t, f.s.MarkViewed(ctx, "m1"))
	require.NoError(t, f.s.MarkViewed(ctx, "m2"))

	assert.Equal(t, ViewPayload{MessageID: "m1", UserID: "u1"}, conn.next(t, EventMessageView).Data)
	assert.Equal(t, ViewPayload{MessageID: "m2", UserID: "u1"}, conn.next(t, EventMessageView).Data)
}

func TestSessionOptimisticReaction(t *testing.T) {
	f := newSessionFixture(t, func(c *Config) { c.OptimisticReactions = true })
	conn := f.start(t)
	f.open(t, model.KindChannel, "c1")

	require.NoError(t, f.s.React(context.Background(), "m1", "🎉", false))
	assert.Equal(t, ReactionPayload{Emoji: "🎉", ID: "m1", UserID: "u1"}, conn.next(t, EventReaction).Data)

	msg := f.s.State().Messages[0]
	require.Len(t, msg.Reactions, 1)
	assert.True(t, msg.Reactions[0].Has("u1"))
}

func TestSessionPresenceAndLogout(t *testing.T) {
	f := newSessionFixture(t, nil)
	conn := f.start(t)
	ctx := context.Background()

	require.NoError(t, f.s.Focus(ctx))
	assert.Equal(t, PresencePayload{ID: "u1", IsOnline: true}, conn.next(t, EventUserJoin).Data)
	require.NoError(t, f.s.Blur(ctx))
	assert.Equal(t, PresencePayload{ID: "u1"}, conn.next(t, EventUserLeave).Data)

	require.NoError(t, f.s.Logout(ctx))
	assert.Equal(t, PresencePayload{ID: "u1"}, conn.next(t, EventUserLeave).Data)
	token, _ := f.store.Get(ctx, store.KeyAccessToken)
	assert.Empty(t, token)
	assert.Empty(t, f.s.State().OrganisationID)
	assert.Equal(t, StateClosed, f.s.Client().State())
}

func TestSessionResyncsAfterReconnect(t *testing.T) {
	f := newSessionFixture(t, nil)
	conn := f.start(t)
	require.Equal(t, 1, f.api.calls())

	_ = conn.Close("server restart")
	f.tr.conn(t).next(t, inboundHello)
	require.Eventually(t, func() bool { return f.api.calls() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestBuildNotification(t *testing.T) {
	st := reconcile.State{
		Profile:        alice,
		OrganisationID: "org1",
		Selected:       &model.Entity{Kind: model.KindChannel, ID: "c1"},
		Conversations:  []model.Conversation{{ID: "d1", Collaborators: []model.User{alice, bob}}},
	}
	msg := model.Message{ID: "m9", Sender: bob, Content: "<p>lunch <em>now</em>?</p>"}

	n, ok := buildNotification(st, NotificationEvent{
		NewMessage: msg, Organisation: "org1", ChannelID: "c2", ChannelName: "Random",
		Collaborators: []model.User{bob}, IsPublic: true,
	})
	require.True(t, ok)
	assert.Equal(t, NotifyChannel, n.Kind)
	assert.Equal(t, "bob #random", n.Title)
	assert.Equal(t, "lunch now?", n.Body)

	_, ok = buildNotification(st, NotificationEvent{NewMessage: msg, Organisation: "org1", ChannelID: "c1", ChannelName: "General", IsPublic: true})
	assert.False(t, ok, "open channel")

	_, ok = buildNotification(st, NotificationEvent{NewMessage: msg, Organisation: "org2", ChannelID: "c2", ChannelName: "Random", IsPublic: true})
	assert.False(t, ok, "other organisation")

	n, ok = buildNotification(st, NotificationEvent{NewMessage: msg, Organisation: "org1", Collaborators: []model.User{alice, bob}})
	require.True(t, ok)
	assert.Equal(t, NotifyDirect, n.Kind)
	assert.Equal(t, "bob", n.Title)

	_, ok = buildNotification(st, NotificationEvent{
		NewMessage: msg, Organisation: "org1", ChannelID: "c3", ChannelName: "secret",
		Collaborators: []model.User{bob, carol},
	})
	assert.False(t, ok, "private channel without the viewer")

	st.Selected = &model.Entity{Kind: model.KindConversation, ID: "d1"}
	inConvo := msg
	inConvo.Conversation = "d1"
	_, ok = buildNotification(st, NotificationEvent{NewMessage: inConvo, Organisation: "org1", Collaborators: []model.User{alice, bob}})
	assert.False(t, ok, "open conversation")
	_, ok = buildNotification(st, NotificationEvent{NewMessage: msg, Organisation: "org1", ConversationID: "d1", Collaborators: []model.User{alice, bob}})
	assert.False(t, ok, "open conversation by id")
	n, ok = buildNotification(st, NotificationEvent{NewMessage: msg, Organisation: "org1", ChannelID: "c2", ChannelName: "Random", IsPublic: true})
	require.True(t, ok)
	assert.Equal(t, "c2", n.ChannelID)
}

func TestSessionNotificationCallback(t *testing.T) {
	f := newSessionFixture(t, nil)
	conn := f.start(t)
	got := make(chan Notification, 1)
	f.s.OnNotification(func(n Notification) { got <- n })

	conn.push(t, EventNotification, map[string]any{
		"newMessage":    map[string]any{"_id": "m9", "sender": map[string]any{"_id": "u2", "username": "bob"}, "content": "<p>ping</p>"},
		"organisation":  "org1",
		"collaborators": []string{"u1", "u2"},
		"channelName":   "General",
		"channelId":     "c1",
	})
	select {
	case n := <-got:
		assert.Equal(t, "bob #general", n.Title)
		assert.Equal(t, "ping", n.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}
