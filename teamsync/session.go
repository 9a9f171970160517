package teamsync

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/model"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/nav"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/reconcile"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/rest"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/store"
)

// API is the subset of the REST client a Session pulls from.
type API interface {
	nav.Fetcher
	GetOrganisation(ctx context.Context, id string) (*model.Organisation, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	ListThreads(ctx context.Context, messageID string) ([]model.Thread, error)
	SetToken(token string)
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithClient replaces the push client built from the config.
func WithClient(c *Client) SessionOption { return func(s *Session) { s.push = c } }

// WithAPI replaces the REST client built from the config.
func WithAPI(api API) SessionOption { return func(s *Session) { s.api = api } }

// WithStore uses st instead of opening Config.Store. The caller keeps
// ownership; Stop does not close it.
func WithStore(st store.Store) SessionOption { return func(s *Session) { s.store = st } }

// WithLogger sets the logger of the session and its push client.
func WithLogger(l Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records into m instead of a fresh Metrics.
func WithMetrics(m *Metrics) SessionOption { return func(s *Session) { s.metrics = m } }

// Session keeps one user's view of an organisation in sync: it pulls the
// snapshot and the open channel over REST, merges push events into it and
// emits the user's actions.
type Session struct {
	cfg     Config
	log     Logger
	push    *Client
	api     API
	store   store.Store
	nav     *nav.Navigator
	metrics *Metrics
	views   *rate.Limiter

	ownStore bool
	resyncCh chan struct{}

	mu        sync.Mutex
	state     reconcile.State
	viewed    map[string]struct{}
	threadGen uint64
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	onChange       func(reconcile.State)
	onNotification func(Notification)
	onToast        func(Toast)
	onAuthFailure  func(error)
}

// NewSession builds a session from cfg. Nothing is dialled until Start.
func NewSession(cfg Config, opts ...SessionOption) *Session {
	s := &Session{
		cfg:      cfg,
		log:      noopLogger{},
		viewed:   make(map[string]struct{}),
		resyncCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.push == nil {
		s.push = NewClient(&cfg)
	}
	s.push.SetLogger(s.log)
	s.push.SetMetrics(s.metrics)
	if s.api == nil {
		s.api = rest.NewClient(cfg.RESTBaseURL)
	}
	if cfg.ViewRateLimit > 0 {
		burst := cfg.ViewBurst
		if burst < 1 {
			burst = 1
		}
		s.views = rate.NewLimiter(rate.Limit(cfg.ViewRateLimit), burst)
	}
	s.nav = nav.New(s.api)
	s.nav.OnMetadata(func(gen uint64, e model.Entity) {
		s.applyIf(func() bool { return s.nav.IsCurrent(gen) }, reconcile.EntitySelected{Entity: e})
	})
	s.nav.OnTransition(func(tr nav.Transition) {
		s.log.Debug("navigation", map[string]any{
			"generation": tr.Generation,
			"id":         tr.Target.ID,
			"from":       tr.From.String(),
			"to":         tr.To.String(),
		})
	})
	s.registerHandlers()
	return s
}

// OnChange registers a callback receiving every new state. The state is
// shared; treat its slices as read-only.
func (s *Session) OnChange(fn func(reconcile.State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// OnNotification registers a callback for messages posted outside the
// open channel or conversation.
func (s *Session) OnNotification(fn func(Notification)) {
	s.mu.Lock()
	s.onNotification = fn
	s.mu.Unlock()
}

// OnToast registers a callback for user-visible pull failures.
func (s *Session) OnToast(fn func(Toast)) {
	s.mu.Lock()
	s.onToast = fn
	s.mu.Unlock()
}

// OnAuthFailure registers a callback invoked after the backend rejected
// the session and the stored credentials were cleared.
func (s *Session) OnAuthFailure(fn func(error)) {
	s.mu.Lock()
	s.onAuthFailure = fn
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() reconcile.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metrics returns the session's collectors.
func (s *Session) Metrics() *Metrics { return s.metrics }

// Client returns the push client.
func (s *Session) Client() *Client { return s.push }

// Navigator returns the navigator driving Open.
func (s *Session) Navigator() *nav.Navigator { return s.nav }

// Start restores credentials, pulls the organisation snapshot and connects
// the push channel. Config values win over stored ones and are persisted.
func (s *Session) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return NewError(ErrorConnection, "session already started")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		if err != nil {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	if s.store == nil {
		st, err := store.Open(ctx, s.cfg.Store)
		if err != nil {
			return WrapError(ErrorInvalidConfig, "open store", err)
		}
		s.store, s.ownStore = st, true
	}

	token, err := s.restore(ctx, store.KeyAccessToken, s.cfg.Token)
	if err != nil {
		return err
	}
	orgID, err := s.restore(ctx, store.KeyOrganisationID, s.cfg.OrganisationID)
	if err != nil {
		return err
	}
	if token == "" || orgID == "" {
		err = NewError(ErrorUnauthorized, "no stored session: access token or organisation missing")
		s.authFailure(ctx, err)
		return err
	}
	s.api.SetToken(token)
	s.push.SetToken(token)

	if err := s.pullSnapshot(ctx, orgID); err != nil {
		return err
	}
	if err := s.push.Connect(ctx); err != nil {
		s.toast("Could not connect to the chat server", err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		cancel()
		_ = s.push.Close()
		return NewError(ErrorDisconnected, "session stopped while starting")
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.resyncLoop(runCtx)
	s.log.Info("session started", map[string]any{"organisation": orgID, "client_id": s.push.ClientID()})
	return nil
}

func (s *Session) restore(ctx context.Context, key, configured string) (string, error) {
	if configured != "" {
		if err := s.store.Set(ctx, key, configured); err != nil {
			return "", WrapError(ErrorInternalServer, "persist "+key, err)
		}
		return configured, nil
	}
	v, err := s.store.Get(ctx, key)
	if err != nil {
		return "", WrapError(ErrorInternalServer, "load "+key, err)
	}
	return v, nil
}

// Stop disconnects and abandons in-flight pulls. State is kept.
func (s *Session) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.nav.Reset()
	err := s.push.Close()
	if s.ownStore && s.store != nil {
		if cerr := s.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.store, s.ownStore = nil, false
	}
	return err
}

// Logout announces the user offline, clears the stored session keys and
// the in-memory state, and stops the session.
func (s *Session) Logout(ctx context.Context) error {
	if viewer := s.State().ViewerID(); viewer != "" {
		if err := s.push.EmitPresence(ctx, viewer, false); err != nil {
			s.log.Debug("logout presence not sent", map[string]any{"error": err.Error()})
		}
	}
	var err error
	if s.store != nil {
		err = s.store.Delete(ctx, store.SessionKeys...)
	}
	s.mu.Lock()
	s.state = reconcile.State{}
	s.viewed = make(map[string]struct{})
	s.mu.Unlock()
	if serr := s.Stop(); err == nil {
		err = serr
	}
	return err
}

// Open navigates to a channel or conversation: its metadata, then its
// messages. A later Open supersedes this one, which then returns an error
// matching nav.ErrSuperseded and leaves the state untouched.
func (s *Session) Open(ctx context.Context, kind model.EntityKind, id string) error {
	if s.store != nil {
		flag := "false"
		if kind == model.KindChannel {
			flag = "true"
		}
		if err := s.store.Set(ctx, store.KeyChannel, flag); err != nil {
			s.log.Warn("persist channel flag", map[string]any{"error": err.Error()})
		}
	}

	st := s.State()
	res, err := s.nav.Navigate(ctx, st.OrganisationID, nav.Target{Kind: kind, ID: id})
	if errors.Is(err, nav.ErrSuperseded) {
		return err
	}
	if err != nil {
		query := "channel"
		if kind == model.KindConversation {
			query = "conversation"
		}
		return s.pullFailed(ctx, query, err)
	}
	s.applyIf(func() bool { return s.nav.IsCurrent(res.Generation) },
		reconcile.MessagesLoaded{EntityID: res.Entity.ID, Messages: res.Messages})

	if viewer := st.ViewerID(); viewer != "" {
		if err := s.push.EmitOpen(ctx, kind, res.Entity.ID, viewer); err != nil {
			s.log.Debug("open not announced", map[string]any{"id": id, "error": err.Error()})
		}
	}
	return nil
}

// OpenThread pulls the message rooted at messageID and its replies.
func (s *Session) OpenThread(ctx context.Context, messageID string) error {
	s.mu.Lock()
	s.threadGen++
	gen := s.threadGen
	s.mu.Unlock()
	current := func() bool { return s.threadGen == gen }

	parent, err := s.api.GetMessage(ctx, messageID)
	if err != nil {
		return s.pullFailed(ctx, "message", err)
	}
	threads, err := s.api.ListThreads(ctx, messageID)
	if err != nil {
		return s.pullFailed(ctx, "threads", err)
	}
	s.applyIf(current, reconcile.ThreadLoaded{ParentID: messageID, Parent: parent, Threads: threads})
	return nil
}

// CloseThread forgets the open thread.
func (s *Session) CloseThread() {
	s.mu.Lock()
	s.threadGen++
	s.mu.Unlock()
	s.apply(reconcile.ThreadLoaded{})
}

// Send posts rich-text content to the open channel or conversation.
func (s *Session) Send(ctx context.Context, content string) error {
	content, ok := NormaliseContent(content)
	if !ok {
		return NewError(ErrorInvalidMessage, "empty message")
	}
	st := s.State()
	sel := st.Selected
	if sel == nil {
		return NewError(ErrorNoSelection, "no channel or conversation open")
	}
	viewer := st.ViewerID()
	org := sel.Organisation
	if org == "" {
		org = st.OrganisationID
	}
	p := MessagePayload{
		Message:       OutgoingMessage{Sender: viewer, Content: content},
		Organisation:  org,
		HasNotOpen:    sel.Others(viewer),
		Collaborators: sel.Collaborators,
		IsPublic:      sel.IsPublic,
	}
	if sel.IsChannel() {
		p.ChannelID = sel.ID
		p.ChannelName = sel.Name
	} else {
		p.ConversationID = sel.ID
		p.IsSelf = sel.IsSelf
	}
	return s.push.EmitMessage(ctx, p)
}

// SendThread posts rich-text content to the open thread.
func (s *Session) SendThread(ctx context.Context, content string) error {
	content, ok := NormaliseContent(content)
	if !ok {
		return NewError(ErrorInvalidMessage, "empty message")
	}
	st := s.State()
	if st.ThreadParentID == "" {
		return NewError(ErrorNoSelection, "no thread open")
	}
	viewer := st.ViewerID()
	return s.push.EmitThreadMessage(ctx, ThreadMessagePayload{
		Message:   OutgoingMessage{Sender: viewer, Content: content},
		MessageID: st.ThreadParentID,
		UserID:    viewer,
	})
}

// React toggles emoji on a message or thread reply. With
// OptimisticReactions the toggle is applied locally before the server
// echoes message-updated.
func (s *Session) React(ctx context.Context, messageID, emoji string, isThread bool) error {
	st := s.State()
	if err := s.push.EmitReaction(ctx, ReactionPayload{
		Emoji:    emoji,
		ID:       messageID,
		UserID:   st.ViewerID(),
		IsThread: isThread,
	}); err != nil {
		return err
	}
	if s.cfg.OptimisticReactions {
		s.apply(reconcile.ReactionToggled{MessageID: messageID, Emoji: emoji, User: st.Profile, IsThread: isThread})
	}
	return nil
}

// Delete removes a message (or thread reply) the user sent.
func (s *Session) Delete(ctx context.Context, messageID string, isThread bool) error {
	st := s.State()
	if st.Selected == nil {
		return NewError(ErrorNoSelection, "no channel or conversation open")
	}
	return s.push.EmitMessageDelete(ctx, DeletePayload{
		ChannelID: st.ActiveID(),
		MessageID: messageID,
		UserID:    st.ViewerID(),
		IsThread:  isThread,
	})
}

// MarkViewed reports messageID as seen. Each id is reported once per
// session; reports are paced by ViewRateLimit.
func (s *Session) MarkViewed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	if _, seen := s.viewed[messageID]; seen {
		s.mu.Unlock()
		return nil
	}
	s.viewed[messageID] = struct{}{}
	viewer := s.state.ViewerID()
	s.mu.Unlock()

	err := s.emitView(ctx, messageID, viewer)
	if err != nil {
		s.mu.Lock()
		delete(s.viewed, messageID)
		s.mu.Unlock()
	}
	return err
}

func (s *Session) emitView(ctx context.Context, messageID, viewer string) error {
	if s.views != nil {
		if err := s.views.Wait(ctx); err != nil {
			return err
		}
	}
	return s.push.EmitMessageView(ctx, messageID, viewer)
}

// Focus announces the user online, as when the window gains focus.
func (s *Session) Focus(ctx context.Context) error { return s.presence(ctx, true) }

// Blur announces the user offline, as when the window loses focus.
func (s *Session) Blur(ctx context.Context) error { return s.presence(ctx, false) }

func (s *Session) presence(ctx context.Context, online bool) error {
	viewer := s.State().ViewerID()
	if viewer == "" {
		return nil
	}
	return s.push.EmitPresence(ctx, viewer, online)
}

// Refresh re-pulls the organisation snapshot and the open entity.
func (s *Session) Refresh(ctx context.Context) error {
	st := s.State()
	orgID := st.OrganisationID
	if orgID == "" {
		orgID = s.cfg.OrganisationID
	}
	if err := s.pullSnapshot(ctx, orgID); err != nil {
		return err
	}
	if sel := st.Selected; sel != nil {
		return s.Open(ctx, sel.Kind, sel.ID)
	}
	return nil
}

func (s *Session) pullSnapshot(ctx context.Context, orgID string) error {
	org, err := s.api.GetOrganisation(ctx, orgID)
	if err != nil {
		return s.pullFailed(ctx, "organisation", err)
	}
	if org.ID == "" {
		org.ID = orgID
	}
	s.apply(reconcile.SnapshotLoaded{Organisation: *org})
	return nil
}

func (s *Session) registerHandlers() {
	s.push.OnMessage(func(ev reconcile.MessageReceived) { s.apply(ev) })
	s.push.OnThreadMessage(func(ev reconcile.ThreadMessageReceived) { s.apply(ev) })
	s.push.OnMessageUpdate(func(ev reconcile.MessageContentUpdated) { s.apply(ev) })
	s.push.OnMessageUpdated(func(ev reconcile.MessageUpdated) { s.apply(ev) })
	s.push.OnMessageDelete(func(ev reconcile.MessageDeleted) { s.apply(ev) })
	s.push.OnMessageViewed(func(ev reconcile.MessageViewed) { s.apply(ev) })
	s.push.OnPresence(func(ev reconcile.PresenceChanged) { s.apply(ev) })
	s.push.OnChannelUpdated(func(ev reconcile.ChannelUpdated) { s.apply(ev) })
	s.push.OnConvoUpdated(func(ev reconcile.ConversationUpdated) { s.apply(ev) })
	s.push.OnNotification(s.notify)
	s.push.OnError(func(err error) {
		s.log.Warn("push error", map[string]any{"error": err.Error()})
		if IsAuthError(err) {
			s.authFailure(context.Background(), err)
		}
	})
	s.push.OnStateChanged(func(ev StateEvent) {
		fields := map[string]any{"from": ev.OldState.String(), "to": ev.NewState.String()}
		if ev.Error != nil {
			fields["error"] = ev.Error.Error()
		}
		s.log.Info("push connection", fields)
		if ev.OldState == StateReconnecting && ev.NewState == StateConnected && s.cfg.ResyncOnReconnect {
			s.requestResync()
		}
	})
}

func (s *Session) requestResync() {
	select {
	case s.resyncCh <- struct{}{}:
	default:
	}
}

// resyncLoop re-pulls on reconnect requests and on the ResyncCron schedule.
func (s *Session) resyncLoop(ctx context.Context) {
	defer s.wg.Done()

	var tick <-chan time.Time
	var timer *time.Timer
	schedule := func() {
		if s.cfg.ResyncCron == "" {
			return
		}
		next, err := gronx.NextTickAfter(s.cfg.ResyncCron, time.Now(), false)
		if err != nil {
			s.log.Error("resync schedule", map[string]any{"cron": s.cfg.ResyncCron, "error": err.Error()})
			tick = nil
			return
		}
		if timer == nil {
			timer = time.NewTimer(time.Until(next))
		} else {
			timer.Reset(time.Until(next))
		}
		tick = timer.C
	}
	schedule()
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.resyncCh:
			s.resync(ctx, "reconnect")
		case <-tick:
			s.resync(ctx, "schedule")
			schedule()
		}
	}
}

func (s *Session) resync(ctx context.Context, reason string) {
	s.log.Info("resync", map[string]any{"reason": reason})
	if err := s.Refresh(ctx); err != nil && !errors.Is(err, nav.ErrSuperseded) {
		s.log.Warn("resync failed", map[string]any{"reason": reason, "error": err.Error()})
	}
}

// notify turns a notification event into a Notification when it concerns
// the viewer and is not about the open entity.
func (s *Session) notify(ev NotificationEvent) {
	s.mu.Lock()
	st := s.state
	fn := s.onNotification
	s.mu.Unlock()

	n, ok := buildNotification(st, ev)
	if !ok || fn == nil {
		return
	}
	fn(n)
}

func buildNotification(st reconcile.State, ev NotificationEvent) (Notification, bool) {
	if target := ev.Target(); ev.Organisation != st.OrganisationID || (target != "" && target == st.ActiveID()) {
		return Notification{}, false
	}
	viewer := st.ViewerID()
	collaborators := model.UserIDs(ev.Collaborators)
	sender := ev.NewMessage.Sender.Username
	if sender == "" {
		sender = ev.NewMessage.Sender.Name()
	}
	body := Preview(ev.NewMessage.Content, PreviewLength)

	if ev.ChannelName != "" && (slices.Contains(collaborators, viewer) || ev.IsPublic) {
		return Notification{
			Kind:      NotifyChannel,
			Title:     sender + " #" + strings.ToLower(ev.ChannelName),
			Body:      body,
			ChannelID: ev.ChannelID,
			Message:   ev.NewMessage,
		}, true
	}
	for _, c := range st.Conversations {
		ids := model.UserIDs(c.Collaborators)
		if len(ids) == 0 {
			continue
		}
		if !containsAll(collaborators, ids) {
			continue
		}
		return Notification{
			Kind:      NotifyDirect,
			Title:     sender,
			Body:      body,
			ChannelID: ev.ChannelID,
			Message:   ev.NewMessage,
		}, true
	}
	return Notification{}, false
}

func containsAll(set, items []string) bool {
	for _, id := range items {
		if !slices.Contains(set, id) {
			return false
		}
	}
	return true
}

// pullFailed reports a failed pull as a toast and, for rejected
// credentials, ends the stored session. It returns the classified error.
func (s *Session) pullFailed(ctx context.Context, query string, err error) error {
	s.metrics.pullFailed(query)
	se := FromAPIError(err)
	s.log.Warn("pull failed", map[string]any{"query": query, "error": err.Error()})
	s.toast(pullMessage(query, se), se)
	if IsAuthError(se) {
		s.authFailure(ctx, se)
	}
	return se
}

func pullMessage(query string, se *SyncError) string {
	switch se.Code {
	case ErrorNotFound:
		return strings.ToUpper(query[:1]) + query[1:] + " not found"
	case ErrorUnauthorized, ErrorAccessDenied:
		return "Your session has expired, please sign in again"
	default:
		if se.Message != "" && se.Code != ErrorConnection {
			return se.Message
		}
		return "Could not load " + query
	}
}

func (s *Session) toast(msg string, err error) {
	s.mu.Lock()
	fn := s.onToast
	s.mu.Unlock()
	if fn != nil {
		fn(Toast{Message: msg, Err: err})
	}
}

func (s *Session) authFailure(ctx context.Context, err error) {
	if s.store != nil {
		if derr := s.store.Delete(ctx, store.SessionKeys...); derr != nil {
			s.log.Error("clear session keys", map[string]any{"error": derr.Error()})
		}
	}
	s.mu.Lock()
	fn := s.onAuthFailure
	s.mu.Unlock()
	s.log.Warn("session rejected", map[string]any{"error": err.Error()})
	if fn != nil {
		fn(err)
	}
}

func (s *Session) apply(ev reconcile.Event) bool {
	return s.applyIf(nil, ev)
}

// applyIf reduces ev under the session lock when cond (checked under the
// same lock) holds, then notifies outside it.
func (s *Session) applyIf(cond func() bool, ev reconcile.Event) bool {
	s.mu.Lock()
	if cond != nil && !cond() {
		s.mu.Unlock()
		s.log.Debug("stale result dropped", map[string]any{"event": ev.Name()})
		return false
	}
	next, ok := reconcile.Reduce(s.state, ev)
	s.state = next
	fn := s.onChange
	s.mu.Unlock()

	s.metrics.observe(ev.Name(), ok)
	s.metrics.setUnread(next.UnreadTotal())
	if !ok {
		s.log.Debug("merge miss", map[string]any{"event": ev.Name()})
		return false
	}
	if fn != nil {
		fn(next)
	}
	return true
}
