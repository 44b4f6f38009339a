package bus

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/monitor"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMint = solana.Pubkey("So11111111111111111111111111111111111111112")

func testEvent() feed.TokenLaunchEvent {
	return feed.TokenLaunchEvent{
		Mint:             testMint,
		Name:             "Forked Dog",
		Symbol:           "FDOG",
		Platform:         feed.PlatformPumpFun,
		ObservedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		InitialLiquidity: decimal.NewFromFloat(30.5),
		Creator:          "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		Source:           feed.SourcePush,
	}
}

func testAssessment() risk.Assessment {
	return risk.Assessment{
		ID:         "a-1",
		Mint:       testMint,
		Score:      60,
		Level:      risk.LevelHigh,
		Flags:      risk.Flags{MintAuthorityActive: true, FreezeAuthorityActive: true},
		Summary:    "Mint authority is active.",
		Forkable:   true,
		ForkReason: "HIGH risk from fixable flaws: mint authority, freeze authority",
		Sources:    []string{risk.SourceOnChain},
	}
}

func TestPublisher_PublishesToTopics(t *testing.T) {
	stub := NewStubProducer()
	p := NewPublisher(DefaultPublisherConfig(), stub)
	h := p.Handlers()

	h.OnCandidate(testEvent())
	h.OnAssessment(testEvent(), testAssessment())
	h.OnForkOpportunity(monitor.ForkOpportunity{Event: testEvent(), Assessment: testAssessment()})

	msgs := stub.Messages()
	require.Len(t, msgs, 3)
	topics := DefaultTopics()
	assert.Equal(t, topics.Candidates, msgs[0].Topic)
	assert.Equal(t, topics.Assessments, msgs[1].Topic)
	assert.Equal(t, topics.ForkOpportunities, msgs[2].Topic)
	for _, m := range msgs {
		assert.Equal(t, string(testMint), m.Key)
	}

	var candidate CandidateEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &candidate))
	assert.Equal(t, TypeCandidate, candidate.EventType)
	assert.Equal(t, "FDOG", candidate.Symbol)
	assert.Equal(t, "pumpfun", candidate.Platform)
	assert.True(t, candidate.InitialLiquidity.Equal(decimal.NewFromFloat(30.5)))
	assert.NotEmpty(t, candidate.EventID)
	assert.Equal(t, SchemaVersion, candidate.SchemaVersion)
	assert.Equal(t, string(testMint), candidate.CorrelationID)

	var fork ForkOpportunityEvent
	require.NoError(t, json.Unmarshal(msgs[2].Value, &fork))
	assert.Equal(t, "HIGH", fork.Level)
	assert.True(t, fork.Flags.MintAuthorityActive)
	assert.Contains(t, fork.Reason, "freeze authority")

	assert.Equal(t, int64(3), p.Stats().Published)
}

func TestPublisher_CountsFailures(t *testing.T) {
	stub := NewStubProducer()
	stub.FailWith(errors.New("broker unavailable"))
	p := NewPublisher(PublisherConfig{}, stub)

	p.PublishAssessment(testEvent(), testAssessment())
	assert.Empty(t, stub.Messages())
	assert.Equal(t, int64(1), p.Stats().Failures)
}

func TestPublisher_AttachToMonitor(t *testing.T) {
	m := monitor.New(monitor.DefaultConfig(), nil)
	p := NewPublisher(DefaultPublisherConfig(), NewStubProducer())

	id := p.Attach(m)
	assert.Equal(t, 1, m.Stats().Observers)
	assert.True(t, m.Unsubscribe(id))
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil)
	assert.Error(t, err)
}
