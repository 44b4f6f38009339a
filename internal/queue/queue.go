// Package queue buffers candidate tokens between bursty sources and the
// rate-limited scoring pipeline.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/seen"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/rs/zerolog/log"
)

// Config configures the admission queue.
type Config struct {
	Capacity         int           `yaml:"capacity"`
	RecentCapacity   int           `yaml:"recent_capacity"` // recently delivered mints kept for dedup
	DeliveryInterval time.Duration `yaml:"delivery_interval"`
}

// DefaultConfig returns queue defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:         10,
		RecentCapacity:   1024,
		DeliveryInterval: time.Second,
	}
}

// EnqueueResult is the outcome of Enqueue.
type EnqueueResult int

const (
	Admitted EnqueueResult = iota
	Duplicate
	AdmittedWithEviction
	Stopped
)

func (r EnqueueResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	case AdmittedWithEviction:
		return "admitted_with_eviction"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("EnqueueResult(%d)", int(r))
	}
}

// Deliver hands one event to the next stage.
type Deliver func(ctx context.Context, ev feed.TokenLaunchEvent) error

// Queue is a bounded drop-oldest buffer with a single consumer.
type Queue struct {
	config  Config
	deliver Deliver

	mu       sync.Mutex
	items    []feed.TokenLaunchEvent
	buffered map[solana.Pubkey]struct{}
	recent   *seen.Set
	closed   bool
	running  atomic.Bool
	wake     chan struct{}

	// Stats.
	enqueued   atomic.Int64
	duplicates atomic.Int64
	evicted    atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64
	panics     atomic.Int64
}

// New creates a queue that hands items to deliver.
func New(config Config, deliver Deliver) *Queue {
	defaults := DefaultConfig()
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.RecentCapacity <= 0 {
		config.RecentCapacity = defaults.RecentCapacity
	}
	if config.DeliveryInterval < 0 {
		config.DeliveryInterval = 0
	}
	return &Queue{
		config:   config,
		deliver:  deliver,
		items:    make([]feed.TokenLaunchEvent, 0, config.Capacity),
		buffered: make(map[solana.Pubkey]struct{}, config.Capacity),
		recent:   seen.New(config.RecentCapacity),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue admits ev unless its mint is buffered or was delivered recently.
// A full buffer drops its oldest item.
func (q *Queue) Enqueue(ev feed.TokenLaunchEvent) EnqueueResult {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Stopped
	}
	if _, ok := q.buffered[ev.Mint]; ok || q.recent.Contains(string(ev.Mint)) {
		q.mu.Unlock()
		q.duplicates.Add(1)
		return Duplicate
	}

	result := Admitted
	if len(q.items) >= q.config.Capacity {
		oldest := q.items[0]
		q.items = q.items[1:]
		delete(q.buffered, oldest.Mint)
		q.evicted.Add(1)
		result = AdmittedWithEviction
		log.Debug().Str("mint", string(oldest.Mint)).Msg("queue: full, dropped oldest")
	}
	q.items = append(q.items, ev)
	q.buffered[ev.Mint] = struct{}{}
	q.mu.Unlock()

	q.enqueued.Add(1)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return result
}

// Run delivers items one at a time, oldest first, pausing DeliveryInterval
// after each. It returns when ctx is done; undelivered items stay buffered.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return fmt.Errorf("queue: already running")
	}
	defer q.running.Store(false)

	q.Open()

	for {
		ev, ok := q.pop()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		q.deliverOne(ctx, ev)
		if ctx.Err() != nil {
			return nil
		}

		if q.config.DeliveryInterval > 0 {
			timer := time.NewTimer(q.config.DeliveryInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil
			}
		}
	}
}

// Close rejects further Enqueue calls until Open or the next Run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Open accepts Enqueue calls again after Close.
func (q *Queue) Open() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

func (q *Queue) pop() (feed.TokenLaunchEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return feed.TokenLaunchEvent{}, false
	}
	ev := q.items[0]
	q.items[0] = feed.TokenLaunchEvent{}
	q.items = q.items[1:]
	delete(q.buffered, ev.Mint)
	q.recent.Add(string(ev.Mint))
	return ev, true
}

func (q *Queue) deliverOne(ctx context.Context, ev feed.TokenLaunchEvent) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			log.Error().Interface("panic", r).Str("mint", string(ev.Mint)).Msg("queue: delivery panicked")
		}
	}()

	if err := q.deliver(ctx, ev); err != nil {
		q.failed.Add(1)
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("mint", string(ev.Mint)).Msg("queue: delivery failed")
		}
		return
	}
	q.delivered.Add(1)
}

// Items returns a snapshot of buffered items, oldest first.
func (q *Queue) Items() []feed.TokenLaunchEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]feed.TokenLaunchEvent, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats holds queue counters.
type Stats struct {
	Depth      int   `json:"depth"`
	Enqueued   int64 `json:"enqueued"`
	Duplicates int64 `json:"duplicates"`
	Evicted    int64 `json:"evicted"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
	Panics     int64 `json:"panics"`
}

// Stats returns queue statistics.
func (q *Queue) Stats() Stats {
	return Stats{
		Depth:      q.Len(),
		Enqueued:   q.enqueued.Load(),
		Duplicates: q.duplicates.Load(),
		Evicted:    q.evicted.Load(),
		Delivered:  q.delivered.Load(),
		Failed:     q.failed.Load(),
		Panics:     q.panics.Load(),
	}
}
