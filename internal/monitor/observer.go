package monitor

import (
	"sync"

	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/rs/zerolog/log"
)

// ForkOpportunity pairs a forkable assessment with the event that led to it.
type ForkOpportunity struct {
	Event      feed.TokenLaunchEvent `json:"event"`
	Assessment risk.Assessment       `json:"assessment"`
}

// Handlers receives monitor events. Nil fields are skipped.
type Handlers struct {
	OnCandidate       func(ev feed.TokenLaunchEvent)
	OnAssessment      func(ev feed.TokenLaunchEvent, a risk.Assessment)
	OnForkOpportunity func(opp ForkOpportunity)
	OnAdapterError    func(source string, err error)
}

// SubscriptionID identifies a registered Handlers value.
type SubscriptionID uint64

type eventKind int

const (
	kindCandidate eventKind = iota
	kindAssessment
	kindForkOpportunity
	kindAdapterError
)

type notification struct {
	kind       eventKind
	event      feed.TokenLaunchEvent
	assessment risk.Assessment
	source     string
	err        error
}

type subscription struct {
	id       SubscriptionID
	handlers Handlers
}

// registry holds observers in subscription order.
type registry struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID SubscriptionID
}

func (r *registry) add(h Handlers) SubscriptionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.subs = append(r.subs, subscription{id: r.nextID, handlers: h})
	return r.nextID
}

func (r *registry) remove(id SubscriptionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (r *registry) snapshot() []subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]subscription, len(r.subs))
	copy(out, r.subs)
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// dispatch delivers n to every observer in subscription order.
func (r *registry) dispatch(n notification) {
	for _, s := range r.snapshot() {
		call(s.id, func() {
			h := s.handlers
			switch n.kind {
			case kindCandidate:
				if h.OnCandidate != nil {
					h.OnCandidate(n.event)
				}
			case kindAssessment:
				if h.OnAssessment != nil {
					h.OnAssessment(n.event, n.assessment)
				}
			case kindForkOpportunity:
				if h.OnForkOpportunity != nil {
					h.OnForkOpportunity(ForkOpportunity{Event: n.event, Assessment: n.assessment})
				}
			case kindAdapterError:
				if h.OnAdapterError != nil {
					h.OnAdapterError(n.source, n.err)
				}
			}
		})
	}
}

func call(id SubscriptionID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Uint64("subscription", uint64(id)).Msg("monitor: observer panicked")
		}
	}()
	fn()
}
