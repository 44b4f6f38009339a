// Package monitor wires event sources, the admission queue and the risk
// engine into one start/stop pipeline.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/queue"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/rs/zerolog/log"
)

// Config configures the monitor.
type Config struct {
	Queue       queue.Config `yaml:"queue"`
	EventBuffer int          `yaml:"event_buffer"` // observer notifications buffered for the dispatcher
}

// DefaultConfig returns monitor defaults.
func DefaultConfig() Config {
	return Config{
		Queue:       queue.DefaultConfig(),
		EventBuffer: 256,
	}
}

// Assessor scores a mint.
type Assessor interface {
	Assess(ctx context.Context, mint solana.Pubkey) (risk.Assessment, error)
}

// Monitor runs sources into the queue and the queue into the engine.
type Monitor struct {
	config  Config
	sources []feed.Source
	engine  Assessor
	queue   *queue.Queue
	obs     registry

	mu       sync.Mutex
	running  atomic.Bool
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	dispatch sync.WaitGroup
	events   chan notification

	// Stats.
	candidates    atomic.Int64
	duplicates    atomic.Int64
	assessed      atomic.Int64
	forkable      atomic.Int64
	assessErrors  atomic.Int64
	adapterErrors atomic.Int64
	dropped       atomic.Int64
}

// New creates a monitor.
func New(config Config, engine Assessor, sources ...feed.Source) *Monitor {
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	m := &Monitor{
		config:  config,
		sources: sources,
		engine:  engine,
	}
	m.queue = queue.New(config.Queue, m.process)
	return m
}

// Subscribe registers observers. Notifications are delivered by a single
// dispatcher goroutine, in subscription order.
func (m *Monitor) Subscribe(h Handlers) SubscriptionID {
	return m.obs.add(h)
}

// Unsubscribe removes observers. It reports whether id was registered.
func (m *Monitor) Unsubscribe(id SubscriptionID) bool {
	return m.obs.remove(id)
}

// Start launches sources, the queue consumer and the dispatcher. Calling
// Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running.Load() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.events = make(chan notification, m.config.EventBuffer)
	m.queue.Open()
	m.running.Store(true)

	events := m.events
	m.dispatch.Add(1)
	go func() {
		defer m.dispatch.Done()
		for n := range events {
			m.obs.dispatch(n)
		}
	}()

	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		if err := m.queue.Run(runCtx); err != nil {
			log.Error().Err(err).Msg("monitor: queue consumer exited")
		}
	}()

	for _, src := range m.sources {
		src := src
		m.workers.Add(1)
		go func() {
			defer m.workers.Done()
			emit := func(ev feed.TokenLaunchEvent) { m.admit(runCtx, ev) }
			onErr := func(err error) { m.adapterError(runCtx, src.Name(), err) }
			if err := src.Run(runCtx, emit, onErr); err != nil && runCtx.Err() == nil {
				m.adapterError(runCtx, src.Name(), err)
			}
		}()
	}

	log.Info().Int("sources", len(m.sources)).Msg("monitor: started")
	return nil
}

// Stop cancels sources and the consumer and waits for them. In-flight
// results are discarded. Stop on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running.Load() {
		return
	}
	m.running.Store(false)
	m.cancel()
	m.workers.Wait()
	m.queue.Close()

	close(m.events)
	m.dispatch.Wait()
	log.Info().Msg("monitor: stopped")
}

// Running reports whether the monitor is started.
func (m *Monitor) Running() bool { return m.running.Load() }

// Assess scores a mint directly, bypassing the queue.
func (m *Monitor) Assess(ctx context.Context, mint solana.Pubkey) (risk.Assessment, error) {
	return m.engine.Assess(ctx, mint)
}

// Queue exposes the admission queue for inspection.
func (m *Monitor) Queue() *queue.Queue { return m.queue }

func (m *Monitor) admit(ctx context.Context, ev feed.TokenLaunchEvent) {
	if !m.running.Load() || ctx.Err() != nil {
		return
	}
	switch res := m.queue.Enqueue(ev); res {
	case queue.Duplicate:
		m.duplicates.Add(1)
	case queue.Stopped:
	default:
		m.candidates.Add(1)
		log.Info().
			Str("mint", string(ev.Mint)).
			Str("symbol", ev.Symbol).
			Str("platform", string(ev.Platform)).
			Str("source", ev.Source).
			Str("result", res.String()).
			Msg("monitor: candidate admitted")
		m.publish(ctx, notification{kind: kindCandidate, event: ev})
	}
}

// process is the queue's delivery function.
func (m *Monitor) process(ctx context.Context, ev feed.TokenLaunchEvent) error {
	a, err := m.engine.Assess(ctx, ev.Mint)
	if ctx.Err() != nil || !m.running.Load() {
		return nil
	}
	if err != nil {
		m.assessErrors.Add(1)
		return err
	}

	m.assessed.Add(1)
	m.publish(ctx, notification{kind: kindAssessment, event: ev, assessment: a})
	if a.Forkable {
		m.forkable.Add(1)
		log.Info().
			Str("mint", string(ev.Mint)).
			Int("score", a.Score).
			Str("level", string(a.Level)).
			Str("reason", a.ForkReason).
			Msg("monitor: fork opportunity")
		m.publish(ctx, notification{kind: kindForkOpportunity, event: ev, assessment: a})
	}
	return nil
}

func (m *Monitor) adapterError(ctx context.Context, source string, err error) {
	m.adapterErrors.Add(1)
	m.publish(ctx, notification{kind: kindAdapterError, source: source, err: err})
}

// publish hands n to the dispatcher unless the run is over.
func (m *Monitor) publish(ctx context.Context, n notification) {
	select {
	case m.events <- n:
	case <-ctx.Done():
		m.dropped.Add(1)
	}
}

// Stats holds monitor counters.
type Stats struct {
	Running              bool        `json:"running"`
	Candidates           int64       `json:"candidates"`
	Duplicates           int64       `json:"duplicates"`
	Assessed             int64       `json:"assessed"`
	Forkable             int64       `json:"forkable"`
	AssessErrors         int64       `json:"assess_errors"`
	AdapterErrors        int64       `json:"adapter_errors"`
	DroppedNotifications int64       `json:"dropped_notifications"`
	Observers            int         `json:"observers"`
	Queue                queue.Stats `json:"queue"`
}

// Stats returns monitor statistics.
func (m *Monitor) Stats() Stats {
	return Stats{
		Running:              m.running.Load(),
		Candidates:           m.candidates.Load(),
		Duplicates:           m.duplicates.Load(),
		Assessed:             m.assessed.Load(),
		Forkable:             m.forkable.Load(),
		AssessErrors:         m.assessErrors.Load(),
		AdapterErrors:        m.adapterErrors.Load(),
		DroppedNotifications: m.dropped.Load(),
		Observers:            m.obs.len(),
		Queue:                m.queue.Stats(),
	}
}
