package main

import (
	"context"
	"time"

	"github.com/nexus-trading/forkwatch/internal/config"
	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/gate"
	"github.com/nexus-trading/forkwatch/internal/onchain"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/nexus-trading/forkwatch/internal/rugcheck"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/rs/zerolog/log"
)

// pipeline holds the components shared by the daemon and one-shot modes.
type pipeline struct {
	rpc      solana.RPCClient
	liveRPC  *solana.LiveRPCClient
	gate     *gate.Gate
	reports  *rugcheck.Client
	verifier *onchain.Verifier
	engine   *risk.Engine
}

func buildPipeline(cfg *config.Config, stub bool) (*pipeline, error) {
	p := &pipeline{}

	if stub {
		p.rpc = solana.NewStubRPCClient()
		log.Info().Msg("Solana RPC: STUB mode")
	} else {
		p.liveRPC = solana.NewLiveRPCClient(cfg.Solana.RPC)
		p.rpc = p.liveRPC

		healthCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Solana.RPC.Endpoint).
				Msg("Solana RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.Solana.RPC.Endpoint).Msg("Solana RPC: LIVE - connected")
		}
		cancel()
	}

	p.gate = gate.New(cfg.Gate)
	log.Info().
		Dur("min_interval", cfg.Gate.MinInterval).
		Dur("cooldown", cfg.Gate.Cooldown).
		Int("max_retries", cfg.Gate.MaxRetries).
		Msg("Request gate initialized")

	var opts []onchain.Option
	if cfg.OnChain.MetadataOffset > 0 {
		opts = append(opts, onchain.WithDecoder(onchain.FixedOffsetDecoder{Offset: cfg.OnChain.MetadataOffset}))
	}
	p.verifier = onchain.NewVerifier(p.rpc, p.gate, cfg.OnChain, opts...)

	var reports risk.ReportSource
	if cfg.RugCheck.Enabled && !stub {
		client, err := rugcheck.NewClient(cfg.RugCheck.Config)
		if err != nil {
			return nil, err
		}
		p.reports = client
		reports = client
		log.Info().Str("base_url", cfg.RugCheck.BaseURL).Msg("RugCheck client initialized")
	}

	p.engine = risk.New(cfg.Risk, reports, p.verifier)
	log.Info().
		Int("medium", cfg.Risk.Thresholds.Medium).
		Int("high", cfg.Risk.Thresholds.High).
		Int("critical", cfg.Risk.Thresholds.Critical).
		Bool("rugcheck", reports != nil).
		Msg("Risk engine initialized")

	return p, nil
}

// sources builds the enabled event sources. The returned stream, when not
// nil, must be run by the caller for the log adapter to receive anything.
func (p *pipeline) sources(cfg *config.Config, stub bool) ([]feed.Source, *feed.PushAdapter, *feed.LogAdapter, *solana.LogStream) {
	var (
		sources []feed.Source
		push    *feed.PushAdapter
		logs    *feed.LogAdapter
		stream  *solana.LogStream
	)

	if cfg.PushFeed.Enabled {
		push = feed.NewPushAdapter(cfg.PushFeed.PushConfig)
		sources = append(sources, push)
		log.Info().Str("url", cfg.PushFeed.URL).Msg("Push feed adapter initialized")
	}

	if cfg.LogFeed.Enabled && !stub {
		stream = solana.NewLogStream(cfg.Solana.Stream)
		logs = feed.NewLogAdapter(cfg.LogFeed.LogConfig, stream, p.rpc, p.gate)
		sources = append(sources, logs)
		log.Info().
			Int("programs", len(cfg.LogFeed.Programs)).
			Dur("finality_delay", cfg.LogFeed.FinalityDelay).
			Msg("Log subscription adapter initialized")
	}

	return sources, push, logs, stream
}
