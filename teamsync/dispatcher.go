package teamsync

import (
	"sync"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/reconcile"
)

// Dispatcher routes outbound events to registered callbacks.
type Dispatcher struct {
	mu sync.RWMutex
	h  handlers
}

type handlers struct {
	onMessage        func(reconcile.MessageReceived)
	onThreadMessage  func(reconcile.ThreadMessageReceived)
	onMessageUpdate  func(reconcile.MessageContentUpdated)
	onMessageUpdated func(reconcile.MessageUpdated)
	onMessageDelete  func(reconcile.MessageDeleted)
	onMessageViewed  func(reconcile.MessageViewed)
	onNotification   func(NotificationEvent)
	onPresence       func(reconcile.PresenceChanged)
	onChannelUpdated func(reconcile.ChannelUpdated)
	onConvoUpdated   func(reconcile.ConversationUpdated)
	onError          func(error)
}

func (d *Dispatcher) SetOnMessage(fn func(reconcile.MessageReceived)) {
	d.mu.Lock()
	d.h.onMessage = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnThreadMessage(fn func(reconcile.ThreadMessageReceived)) {
	d.mu.Lock()
	d.h.onThreadMessage = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnMessageUpdate(fn func(reconcile.MessageContentUpdated)) {
	d.mu.Lock()
	d.h.onMessageUpdate = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnMessageUpdated(fn func(reconcile.MessageUpdated)) {
	d.mu.Lock()
	d.h.onMessageUpdated = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnMessageDelete(fn func(reconcile.MessageDeleted)) {
	d.mu.Lock()
	d.h.onMessageDelete = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnMessageViewed(fn func(reconcile.MessageViewed)) {
	d.mu.Lock()
	d.h.onMessageViewed = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnNotification(fn func(NotificationEvent)) {
	d.mu.Lock()
	d.h.onNotification = fn
	d.mu.Unlock()
}

// SetOnPresence receives both user-join and user-leave.
func (d *Dispatcher) SetOnPresence(fn func(reconcile.PresenceChanged)) {
	d.mu.Lock()
	d.h.onPresence = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnChannelUpdated(fn func(reconcile.ChannelUpdated)) {
	d.mu.Lock()
	d.h.onChannelUpdated = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnConvoUpdated(fn func(reconcile.ConversationUpdated)) {
	d.mu.Lock()
	d.h.onConvoUpdated = fn
	d.mu.Unlock()
}

func (d *Dispatcher) SetOnError(fn func(error)) {
	d.mu.Lock()
	d.h.onError = fn
	d.mu.Unlock()
}

// Dispatch decodes out and invokes the matching callback. Unknown events
// and events without a callback are dropped.
func (d *Dispatcher) Dispatch(out Outbound) {
	d.mu.RLock()
	h := d.h
	d.mu.RUnlock()

	if out.Type == outboundError {
		if out.Error != nil {
			h.fireError(FromProtocolError(out.Error))
		}
		return
	}
	switch out.Event {
	case EventMessage:
		dispatch(h, out, h.onMessage)
	case EventThreadMessage:
		dispatch(h, out, h.onThreadMessage)
	case EventMessageUpdate:
		dispatch(h, out, h.onMessageUpdate)
	case EventMessageUpdated:
		dispatch(h, out, h.onMessageUpdated)
	case EventMessageDelete:
		dispatch(h, out, h.onMessageDelete)
	case EventMessageViewed:
		dispatch(h, out, h.onMessageViewed)
	case EventNotification:
		dispatch(h, out, h.onNotification)
	case EventUserJoin, EventUserLeave:
		if h.onPresence == nil {
			return
		}
		var ev reconcile.PresenceChanged
		if err := UnmarshalData(out.Data, &ev); err != nil {
			h.fireError(WrapError(ErrorSerialization, "failed to unmarshal "+out.Event+" event", err))
			return
		}
		// the event name decides, whatever isOnline says
		ev.IsOnline = out.Event == EventUserJoin
		h.onPresence(ev)
	case EventChannelUpdated:
		dispatch(h, out, h.onChannelUpdated)
	case EventConvoUpdated:
		dispatch(h, out, h.onConvoUpdated)
	}
}

func dispatch[T any](h handlers, out Outbound, fn func(T)) {
	if fn == nil {
		return
	}
	var ev T
	if err := UnmarshalData(out.Data, &ev); err != nil {
		h.fireError(WrapError(ErrorSerialization, "failed to unmarshal "+out.Event+" event", err))
		return
	}
	fn(ev)
}

func (h handlers) fireError(err error) {
	if h.onError != nil && err != nil {
		h.onError(err)
	}
}
