// Package nav runs the pull sequence of one navigation: entity metadata
// first, then its message history. Each navigation supersedes the previous
// one; results of a superseded navigation are never returned.
package nav

import (
	"context"
	"errors"
	"sync"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/model"
)

// ErrSuperseded is returned by Navigate when a newer navigation started
// (or Reset was called) before this one finished.
var ErrSuperseded = errors.New("nav: superseded by a newer navigation")

// Phase is the position of the current navigation in its sequence.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoadingMetadata
	PhaseLoadingMessages
	PhaseReady
	PhaseFailed
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoadingMetadata:
		return "loading-metadata"
	case PhaseLoadingMessages:
		return "loading-messages"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Target names the channel or conversation to open.
type Target struct {
	Kind model.EntityKind
	ID   string
}

// Fetcher is the subset of the REST client a navigation needs.
type Fetcher interface {
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListChannelMessages(ctx context.Context, organisationID, channelID string) ([]model.Message, error)
	ListConversationMessages(ctx context.Context, organisationID, conversationID string) ([]model.Message, error)
}

// Transition is reported on every phase change.
type Transition struct {
	Generation uint64
	Target     Target
	From, To   Phase
	Err        error
}

// Result is what a completed navigation produced.
type Result struct {
	Generation uint64
	Target     Target
	Entity     model.Entity
	Messages   []model.Message
}

// Navigator serialises navigations. The zero value is not usable; use New.
type Navigator struct {
	fetch Fetcher

	mu           sync.Mutex
	gen          uint64
	phase        Phase
	target       Target
	cancel       context.CancelFunc
	onTransition func(Transition)
	onMetadata   func(gen uint64, e model.Entity)
}

// New returns an idle navigator.
func New(fetch Fetcher) *Navigator {
	return &Navigator{fetch: fetch}
}

// OnTransition registers a callback for phase changes.
func (n *Navigator) OnTransition(fn func(Transition)) {
	n.mu.Lock()
	n.onTransition = fn
	n.mu.Unlock()
}

// OnMetadata registers a callback invoked when the entity metadata of a
// still-current navigation has arrived, before messages are requested.
func (n *Navigator) OnMetadata(fn func(gen uint64, e model.Entity)) {
	n.mu.Lock()
	n.onMetadata = fn
	n.mu.Unlock()
}

// Current returns the generation, target and phase of the latest navigation.
func (n *Navigator) Current() (uint64, Target, Phase) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen, n.target, n.phase
}

// IsCurrent reports whether gen is still the latest navigation.
func (n *Navigator) IsCurrent(gen uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return gen == n.gen
}

// Reset abandons any in-flight navigation and returns to idle.
func (n *Navigator) Reset() {
	n.mu.Lock()
	n.gen++
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	from := n.phase
	n.phase = PhaseIdle
	tr := Transition{Generation: n.gen, From: from, To: PhaseIdle}
	fn := n.onTransition
	n.mu.Unlock()
	if fn != nil && from != PhaseIdle {
		fn(tr)
	}
}

// Navigate runs metadata then messages for t within organisationID.
// It returns ErrSuperseded if another navigation started in between.
func (n *Navigator) Navigate(ctx context.Context, organisationID string, t Target) (*Result, error) {
	ctx, gen := n.begin(ctx, t)

	var ent model.Entity
	var err error
	switch t.Kind {
	case model.KindChannel:
		var c *model.Channel
		if c, err = n.fetch.GetChannel(ctx, t.ID); err == nil {
			ent = model.ChannelEntity(*c)
		}
	default:
		var c *model.Conversation
		if c, err = n.fetch.GetConversation(ctx, t.ID); err == nil {
			ent = model.ConversationEntity(*c)
		}
	}
	if err := n.advance(gen, PhaseLoadingMessages, err); err != nil {
		return nil, err
	}
	n.mu.Lock()
	onMeta := n.onMetadata
	n.mu.Unlock()
	if onMeta != nil {
		onMeta(gen, ent)
	}

	var msgs []model.Message
	if t.Kind == model.KindChannel {
		msgs, err = n.fetch.ListChannelMessages(ctx, organisationID, ent.ID)
	} else {
		msgs, err = n.fetch.ListConversationMessages(ctx, organisationID, ent.ID)
	}
	if err := n.advance(gen, PhaseReady, err); err != nil {
		return nil, err
	}
	return &Result{Generation: gen, Target: t, Entity: ent, Messages: msgs}, nil
}

func (n *Navigator) begin(parent context.Context, t Target) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
	}
	n.gen++
	n.cancel = cancel
	n.target = t
	from := n.phase
	n.phase = PhaseLoadingMetadata
	tr := Transition{Generation: n.gen, Target: t, From: from, To: PhaseLoadingMetadata}
	fn := n.onTransition
	gen := n.gen
	n.mu.Unlock()
	if fn != nil {
		fn(tr)
	}
	return ctx, gen
}

// advance moves gen to next, or to failed when err is set.
func (n *Navigator) advance(gen uint64, next Phase, err error) error {
	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		return ErrSuperseded
	}
	to := next
	if err != nil {
		to = PhaseFailed
	}
	if to == PhaseReady || to == PhaseFailed {
		if n.cancel != nil {
			n.cancel()
			n.cancel = nil
		}
	}
	tr := Transition{Generation: gen, Target: n.target, From: n.phase, To: to, Err: err}
	n.phase = to
	fn := n.onTransition
	n.mu.Unlock()
	if fn != nil {
		fn(tr)
	}
	return err
}
