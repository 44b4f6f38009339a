package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/monitor"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/rs/zerolog/log"
)

// SchemaVersion of the decision-feed envelopes.
const SchemaVersion = "1.0.0"

// PublisherConfig configures the decision-feed publisher.
type PublisherConfig struct {
	Topics         Topics        `yaml:"topics"`
	Producer       string        `yaml:"producer"` // envelope producer name
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// DefaultPublisherConfig returns publisher defaults.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Topics:         DefaultTopics(),
		Producer:       "forkwatch",
		PublishTimeout: 5 * time.Second,
	}
}

// Publisher forwards monitor events to the decision feed. Messages are keyed
// by mint so a token's events stay on one partition.
type Publisher struct {
	config   PublisherConfig
	producer Producer

	published atomic.Int64
	failures  atomic.Int64
}

// NewPublisher creates a publisher.
func NewPublisher(config PublisherConfig, producer Producer) *Publisher {
	defaults := DefaultPublisherConfig()
	if config.Topics.Candidates == "" {
		config.Topics.Candidates = defaults.Topics.Candidates
	}
	if config.Topics.Assessments == "" {
		config.Topics.Assessments = defaults.Topics.Assessments
	}
	if config.Topics.ForkOpportunities == "" {
		config.Topics.ForkOpportunities = defaults.Topics.ForkOpportunities
	}
	if config.Producer == "" {
		config.Producer = defaults.Producer
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	return &Publisher{config: config, producer: producer}
}

// Attach subscribes the publisher to m.
func (p *Publisher) Attach(m *monitor.Monitor) monitor.SubscriptionID {
	return m.Subscribe(p.Handlers())
}

// Handlers returns the monitor handlers that publish each event.
func (p *Publisher) Handlers() monitor.Handlers {
	return monitor.Handlers{
		OnCandidate:       p.PublishCandidate,
		OnAssessment:      p.PublishAssessment,
		OnForkOpportunity: p.PublishForkOpportunity,
	}
}

// PublishCandidate publishes an admitted candidate.
func (p *Publisher) PublishCandidate(ev feed.TokenLaunchEvent) {
	msg := newCandidateEvent(p.base(TypeCandidate, string(ev.Mint)), ev)
	p.publish(p.config.Topics.Candidates, string(ev.Mint), msg)
}

// PublishAssessment publishes a completed assessment.
func (p *Publisher) PublishAssessment(ev feed.TokenLaunchEvent, a risk.Assessment) {
	msg := newAssessmentEvent(p.base(TypeAssessment, string(a.Mint)), ev, a)
	p.publish(p.config.Topics.Assessments, string(a.Mint), msg)
}

// PublishForkOpportunity publishes a forkable assessment.
func (p *Publisher) PublishForkOpportunity(opp monitor.ForkOpportunity) {
	a := opp.Assessment
	msg := newForkOpportunityEvent(p.base(TypeForkOpportunity, string(a.Mint)), opp.Event, a)
	p.publish(p.config.Topics.ForkOpportunities, string(a.Mint), msg)
}

func (p *Publisher) base(eventType, mint string) BaseEvent {
	b := NewBaseEvent(eventType, p.config.Producer, SchemaVersion)
	b.CorrelationID = mint
	return b
}

func (p *Publisher) publish(topic, key string, value any) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()

	if err := p.producer.PublishJSON(ctx, topic, key, value); err != nil {
		p.failures.Add(1)
		log.Error().Err(err).Str("topic", topic).Str("mint", key).Msg("bus: publish failed")
		return
	}
	p.published.Add(1)
}

// PublisherStats holds publisher counters.
type PublisherStats struct {
	Published int64 `json:"published"`
	Failures  int64 `json:"failures"`
}

// Stats returns publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Failures:  p.failures.Load(),
	}
}
