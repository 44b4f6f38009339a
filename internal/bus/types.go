package bus

import (
	"time"

	"github.com/google/uuid"
	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/shopspring/decimal"
)

// BaseEvent contains fields common to all events.
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"ts"`
	SchemaVersion string    `json:"schema_version"`
	Producer      string    `json:"producer"`
	TraceID       string    `json:"trace_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewBaseEvent creates a new BaseEvent with generated IDs.
func NewBaseEvent(eventType, producer, schemaVersion string) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Timestamp:     time.Now(),
		SchemaVersion: schemaVersion,
		Producer:      producer,
		TraceID:       uuid.New().String()[:16],
	}
}

// Event types.
const (
	TypeCandidate       = "candidate"
	TypeAssessment      = "assessment"
	TypeForkOpportunity = "fork_opportunity"
)

// CandidateEvent is published when a token is admitted to the queue.
type CandidateEvent struct {
	BaseEvent
	Mint             string          `json:"mint"`
	Name             string          `json:"name,omitempty"`
	Symbol           string          `json:"symbol,omitempty"`
	Platform         string          `json:"platform"`
	Source           string          `json:"source"`
	Creator          string          `json:"creator,omitempty"`
	Signature        string          `json:"signature,omitempty"`
	InitialLiquidity decimal.Decimal `json:"initial_liquidity"`
	ObservedAt       time.Time       `json:"observed_at"`
}

// AssessmentEvent is published for every completed assessment.
type AssessmentEvent struct {
	BaseEvent
	AssessmentID string     `json:"assessment_id"`
	Mint         string     `json:"mint"`
	Symbol       string     `json:"symbol,omitempty"`
	Platform     string     `json:"platform"`
	Score        int        `json:"score"`
	Level        string     `json:"level"`
	Flags        risk.Flags `json:"flags"`
	Summary      string     `json:"summary"`
	Forkable     bool       `json:"forkable"`
	Sources      []string   `json:"sources"`
	AssessedAt   time.Time  `json:"assessed_at"`
	LatencyMs    int64      `json:"latency_ms"`
}

// ForkOpportunityEvent is published for forkable assessments.
type ForkOpportunityEvent struct {
	BaseEvent
	AssessmentID string     `json:"assessment_id"`
	Mint         string     `json:"mint"`
	Name         string     `json:"name,omitempty"`
	Symbol       string     `json:"symbol,omitempty"`
	Platform     string     `json:"platform"`
	Creator      string     `json:"creator,omitempty"`
	Score        int        `json:"score"`
	Level        string     `json:"level"`
	Flags        risk.Flags `json:"flags"`
	Reason       string     `json:"reason"`
}

// Topics names the decision-feed topics.
type Topics struct {
	Candidates        string `yaml:"candidates"`
	Assessments       string `yaml:"assessments"`
	ForkOpportunities string `yaml:"fork_opportunities"`
}

// DefaultTopics follows the <domain>.<category> naming convention.
func DefaultTopics() Topics {
	return Topics{
		Candidates:        "forkwatch.candidates",
		Assessments:       "forkwatch.assessments",
		ForkOpportunities: "forkwatch.fork_opportunities",
	}
}

func newCandidateEvent(base BaseEvent, ev feed.TokenLaunchEvent) CandidateEvent {
	return CandidateEvent{
		BaseEvent:        base,
		Mint:             string(ev.Mint),
		Name:             ev.Name,
		Symbol:           ev.Symbol,
		Platform:         string(ev.Platform),
		Source:           ev.Source,
		Creator:          string(ev.Creator),
		Signature:        string(ev.Signature),
		InitialLiquidity: ev.InitialLiquidity,
		ObservedAt:       ev.ObservedAt,
	}
}

func newAssessmentEvent(base BaseEvent, ev feed.TokenLaunchEvent, a risk.Assessment) AssessmentEvent {
	return AssessmentEvent{
		BaseEvent:    base,
		AssessmentID: a.ID,
		Mint:         string(a.Mint),
		Symbol:       ev.Symbol,
		Platform:     string(ev.Platform),
		Score:        a.Score,
		Level:        string(a.Level),
		Flags:        a.Flags,
		Summary:      a.Summary,
		Forkable:     a.Forkable,
		Sources:      a.Sources,
		AssessedAt:   a.AssessedAt,
		LatencyMs:    a.LatencyMs,
	}
}

func newForkOpportunityEvent(base BaseEvent, ev feed.TokenLaunchEvent, a risk.Assessment) ForkOpportunityEvent {
	return ForkOpportunityEvent{
		BaseEvent:    base,
		AssessmentID: a.ID,
		Mint:         string(a.Mint),
		Name:         ev.Name,
		Symbol:       ev.Symbol,
		Platform:     string(ev.Platform),
		Creator:      string(ev.Creator),
		Score:        a.Score,
		Level:        string(a.Level),
		Flags:        a.Flags,
		Reason:       a.ForkReason,
	}
}
