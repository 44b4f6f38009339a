package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nexus-trading/forkwatch/internal/bus"
	"github.com/nexus-trading/forkwatch/internal/clickhouse"
	"github.com/nexus-trading/forkwatch/internal/config"
	"github.com/nexus-trading/forkwatch/internal/monitor"
	"github.com/nexus-trading/forkwatch/internal/observability"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/forkwatch.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub RPC (no real Solana connection)")
	assessMint := flag.String("assess", "", "Assess one mint, print the result as JSON and exit")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := loadConfig(*configPath, *stubMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	// 4. Build the scoring pipeline.
	p, err := buildPipeline(cfg, *stubMode)
	if err != nil {
		log.Fatal().Err(err).Msg("Pipeline setup failed")
	}

	if *assessMint != "" {
		os.Exit(assessOnce(p.engine, solana.Pubkey(*assessMint)))
	}

	log.Info().Msg("=============================================")
	log.Info().Msg("forkwatch - Starting")
	log.Info().Msg("DETECT -> QUEUE -> ASSESS -> PUBLISH")
	log.Info().Msg("=============================================")
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Bool("stub_mode", *stubMode).
		Bool("push_feed", cfg.PushFeed.Enabled).
		Bool("log_feed", cfg.LogFeed.Enabled && !*stubMode).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("clickhouse", cfg.ClickHouse.Enabled).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup

	// 5. Event sources.
	sources, pushFeed, logFeed, stream := p.sources(cfg, *stubMode)
	if len(sources) == 0 {
		log.Warn().Msg("No event sources enabled; only /assess requests will be served")
	}
	if stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stream.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Log stream error")
			}
		}()
	}

	// 6. Monitor.
	mon := monitor.New(cfg.MonitorSettings(), p.engine, sources...)
	mon.Subscribe(monitor.Handlers{
		OnForkOpportunity: func(opp monitor.ForkOpportunity) {
			a := opp.Assessment
			log.Info().
				Str("mint", string(a.Mint)).
				Str("symbol", opp.Event.Symbol).
				Str("platform", string(opp.Event.Platform)).
				Int("score", a.Score).
				Str("level", string(a.Level)).
				Str("reason", a.ForkReason).
				Msg("[FORK] opportunity")
		},
		OnAdapterError: func(source string, err error) {
			log.Warn().Err(err).Str("source", source).Msg("Event source error")
		},
	})

	// 7. Decision feed.
	var producer bus.Producer
	var publisher *bus.Publisher
	if cfg.Kafka.Enabled {
		kp, err := bus.NewProducer(cfg.Kafka.Brokers,
			bus.WithInstanceID(cfg.General.InstanceID),
			bus.WithLinger(time.Duration(cfg.Kafka.LingerMs)*time.Millisecond),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Kafka producer setup failed")
		}
		producer = kp
		cfg.Kafka.Publisher.Producer = cfg.General.InstanceID
		publisher = bus.NewPublisher(cfg.Kafka.Publisher, producer)
		publisher.Attach(mon)
	}

	// 8. Assessment archive.
	var chClient *clickhouse.Client
	var archive *clickhouse.AssessmentWriter
	if cfg.ClickHouse.Enabled {
		chClient, err = clickhouse.NewClient(cfg.ClickHouse.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("ClickHouse client setup failed")
		}
		archive = clickhouse.NewAssessmentWriter(chClient, cfg.ClickHouse.Writer)
		schemaCtx, schemaCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := chClient.EnsureSchema(schemaCtx, archive.Table()); err != nil {
			log.Warn().Err(err).Msg("ClickHouse schema check failed (continuing)")
		}
		schemaCancel()
		archive.Attach(mon)
		archive.Start(ctx)
	}

	// 9. Metrics and health.
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)
	metrics.ObserveMonitor(mon)
	metrics.ObserveGate(p.gate)
	metrics.ObserveEngine(p.engine)
	metrics.ObserveVerifier(p.verifier)
	if p.reports != nil {
		metrics.ObserveRugCheck(p.reports)
	}
	if pushFeed != nil {
		metrics.ObservePushFeed(pushFeed)
	}
	if logFeed != nil {
		metrics.ObserveLogFeed(logFeed, stream)
	}

	// 10. Start monitoring.
	if err := mon.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Monitor start failed")
	}

	health := observability.NewHealthMonitor(15 * time.Second)
	health.Register("rpc", observability.RPCCheck(p.rpc))
	health.Register("monitor", observability.MonitorCheck(mon))
	if pushFeed != nil {
		health.Register("push_feed", observability.ConnectionCheck(pushFeed.Connected))
	}
	if stream != nil {
		health.Register("log_stream", observability.ConnectionCheck(stream.Connected))
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		health.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case a := <-health.Alerts():
				log.Info().Str("level", a.Level).Str("component", a.Component).Msg("[HEALTH] " + a.Message)
			}
		}
	}()

	// 11. HTTP endpoint.
	statsFn := func() map[string]any {
		combined := map[string]any{
			"monitor":  mon.Stats(),
			"gate":     p.gate.Stats(),
			"engine":   p.engine.Stats(),
			"verifier": p.verifier.Stats(),
		}
		if p.reports != nil {
			combined["rugcheck"] = p.reports.Stats()
		}
		if pushFeed != nil {
			combined["push_feed"] = pushFeed.Stats()
		}
		if logFeed != nil {
			combined["log_feed"] = logFeed.Stats()
		}
		if stream != nil {
			combined["log_stream"] = stream.Stats()
		}
		if p.liveRPC != nil {
			combined["rpc"] = p.liveRPC.Stats()
		}
		if publisher != nil {
			combined["publisher"] = publisher.Stats()
		}
		if archive != nil {
			combined["archive"] = archive.Stats()
		}
		return combined
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		mux := http.NewServeMux()
		mux.Handle("/health", health.Handler())
		mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, statsFn())
		})
		if cfg.Metrics.Enabled {
			mux.Handle("/metrics", metrics.Handler())
		}
		mux.HandleFunc("/assess", assessHandler(mon))

		server := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", cfg.Metrics.Listen).Msg("HTTP server started (health + stats + metrics + assess)")

		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()

		if srvErr := server.ListenAndServe(); srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			log.Error().Err(srvErr).Msg("HTTP server error")
		}
	}()

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.General.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ms := mon.Stats()
				gs := p.gate.Stats()
				log.Info().
					Int64("candidates", ms.Candidates).
					Int64("duplicates", ms.Duplicates).
					Int64("assessed", ms.Assessed).
					Int64("forkable", ms.Forkable).
					Int64("assess_errors", ms.AssessErrors).
					Int("queue_depth", ms.Queue.Depth).
					Int64("queue_evicted", ms.Queue.Evicted).
					Int64("gate_rate_limited", gs.RateLimited).
					Int64("gate_exhausted", gs.Exhausted).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("forkwatch - Running")

	// 12. Block until shutdown.
	<-ctx.Done()

	// 13. Graceful shutdown.
	log.Info().Msg("Shutting down forkwatch...")
	mon.Stop()
	wg.Wait()

	if archive != nil {
		if err := archive.Close(); err != nil {
			log.Error().Err(err).Msg("Archive close failed")
		}
		chClient.Close()
	}
	if producer != nil {
		producer.Flush(5 * time.Second)
		producer.Close()
	}

	final := mon.Stats()
	log.Info().
		Int64("candidates", final.Candidates).
		Int64("assessed", final.Assessed).
		Int64("forkable", final.Forkable).
		Int64("dropped_notifications", final.DroppedNotifications).
		Msg("forkwatch - Final Statistics")
	log.Info().Msg("forkwatch - Shutdown complete")
}

// loadConfig reads path; stub runs fall back to defaults when it is missing.
func loadConfig(path string, stub bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil && stub && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func assessOnce(engine *risk.Engine, mint solana.Pubkey) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := engine.Assess(ctx, mint)
	if err != nil {
		log.Error().Err(err).Str("mint", string(mint)).Msg("Assessment failed")
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return 1
	}
	return 0
}

func assessHandler(mon *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mint := r.URL.Query().Get("mint")
		if mint == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mint query parameter is required"})
			return
		}
		a, err := mon.Assess(r.Context(), solana.Pubkey(mint))
		if errors.Is(err, risk.ErrInvalidMint) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Str("service", "forkwatch").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).
			With().Timestamp().Str("service", "forkwatch").
			Str("instance", general.InstanceID).Logger()
	}
}
