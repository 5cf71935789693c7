// Package main provides the worker entry point: the ingestion queue processor, the HTTP
// surface (§6.1), and a TCP-exposed JSON-RPC tool surface (§6.2) sharing one listener.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm/logger"

	"github.com/thebtf/memengine/internal/config"
	"github.com/thebtf/memengine/internal/consolidation"
	dbgorm "github.com/thebtf/memengine/internal/db/gorm"
	"github.com/thebtf/memengine/internal/embedding"
	"github.com/thebtf/memengine/internal/judge"
	"github.com/thebtf/memengine/internal/queue"
	"github.com/thebtf/memengine/internal/search"
	apihttp "github.com/thebtf/memengine/internal/transport/http"
	apijsonrpc "github.com/thebtf/memengine/internal/transport/jsonrpc"
	"github.com/thebtf/memengine/internal/vector/pgvector"
	"github.com/thebtf/memengine/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := config.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure data directory")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := config.WatchSettingsFile(ctx); err != nil {
		log.Warn().Err(err).Msg("settings file watcher unavailable, hot-reload disabled")
	}

	store, err := dbgorm.NewStore(dbgorm.Config{
		DSN:           cfg.DatabaseURL,
		MaxConns:      cfg.DBPoolSize,
		LogLevel:      logger.Warn,
		EmbeddingDims: cfg.EmbeddingDimensions,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	obsStore := dbgorm.NewObservationStore(store)
	knowledgeStore := dbgorm.NewKnowledgeStore(store)
	sessionStore := dbgorm.NewSessionStore(store)
	summaryStore := dbgorm.NewSummaryStore(store)
	relationStore := dbgorm.NewRelationStore(store)

	q := queue.New(store.GetDB())

	var embedder embedding.EmbeddingModel
	if cfg.EmbeddingAPIKey != "" {
		embedder, err = embedding.GetModel(embedding.OpenAIModelVersion)
		if err != nil {
			log.Warn().Err(err).Msg("embedding model unavailable, vector search and dedup context disabled")
			embedder = nil
		} else {
			defer embedder.Close()
		}
	} else {
		log.Warn().Msg("no embedding API key configured, vector search and dedup context disabled")
	}

	var vectorClient *pgvector.Client
	if embedder != nil {
		vectorClient = pgvector.New(store.GetDB(), embedder.Dimensions())
	}

	var judgeClient *judge.Client
	if cfg.JudgeAPIKey != "" {
		judgeClient, err = judge.New(judge.Config{APIKey: cfg.JudgeAPIKey, BaseURL: cfg.JudgeBaseURL, Model: cfg.Model})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build judge client")
		}
	} else {
		log.Warn().Msg("no judge API key configured, ingestion pipeline will fail closed on every message")
	}

	searchMgr := search.NewManager(obsStore, vectorClient, embedder, log.Logger)
	defer searchMgr.Close()

	workerSvc := worker.NewService(worker.Config{
		BatchSize:                cfg.QueueBatchSize,
		MaxConcurrency:           cfg.WorkerConcurrency,
		VisibilityTimeoutSeconds: int64(cfg.VisibilityTimeoutSeconds),
		MaxRetries:               cfg.MaxRetries,
		ProjectExclusions:        cfg.ProjectExclusions,
		FilterPatterns:           cfg.FilterPatterns,
		ShutdownGrace:            30 * time.Second,
	}, q, obsStore, vectorClient, embedder, judgeClient, log.Logger)

	// assocEngine stays nil without an embedder: Scheduler.RunAssociations checks for that
	// and skips the cycle rather than calling Embed on a model that was never configured.
	var assocEngine *consolidation.AssociationEngine
	if embedder != nil {
		assocEngine = consolidation.NewAssociationEngine(embedder, consolidation.DefaultAssociationConfig(), log.Logger)
	}
	scheduler := consolidation.NewScheduler(
		consolidation.DefaultDecayConfig(),
		assocEngine,
		obsStore,
		relationStore,
		consolidation.DefaultSchedulerConfig(),
		log.Logger,
	)

	meter := otel.Meter("memengine/worker")
	registerQueueMetrics(ctx, meter, q)

	var ready atomic.Bool
	httpSrv := apihttp.NewServer(apihttp.Deps{
		ObsStore:       obsStore,
		KnowledgeStore: knowledgeStore,
		SessionStore:   sessionStore,
		SummaryStore:   summaryStore,
		Search:         searchMgr,
		Queue:          q,
		Judge:          judgeClient,
		Embedder:       embedder,
		Vector:         vectorClient,
		MaxBatch:       100,
		Logger:         log.Logger,
		Meter:          meter,
	}, ready.Load)

	rpcDeps := apijsonrpc.Deps{
		ObsStore:       obsStore,
		KnowledgeStore: knowledgeStore,
		SummaryStore:   summaryStore,
		Search:         searchMgr,
		Embedder:       embedder,
		Vector:         vectorClient,
		Version:        Version,
		Logger:         log.Logger,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if n, err := q.ReleaseStale(ctx, int64(cfg.VisibilityTimeoutSeconds)); err != nil {
		log.Warn().Err(err).Msg("failed to release stale claims on boot")
	} else if n > 0 {
		log.Info().Int64("count", n).Msg("released stale claims from a previous run")
	}

	listener, err := net.Listen("tcp", fqHTTPAddr(cfg.HTTPPort))
	if err != nil {
		log.Fatal().Err(err).Int("port", cfg.HTTPPort).Msg("failed to bind listener")
	}

	// cmux multiplexes the single configured port between the JSON HTTP surface and a raw
	// newline-delimited JSON-RPC connection surface (§6.2's tool set, for callers that want
	// it over TCP instead of spawning cmd/mcp as a stdio subprocess).
	mux := cmux.New(listener)
	httpL := mux.Match(cmux.HTTP1Fast())
	rpcL := mux.Match(cmux.Any())

	go func() {
		srv := &http.Server{Handler: httpSrv.Handler()}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.Serve(httpL); err != nil && err != cmux.ErrListenerClosed && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http listener stopped")
		}
	}()

	go serveJSONRPCConns(ctx, rpcL, rpcDeps)

	go func() {
		if err := mux.Serve(); err != nil && err != cmux.ErrListenerClosed {
			log.Error().Err(err).Msg("cmux stopped")
		}
	}()

	go scheduler.Start(ctx)

	ready.Store(true)
	log.Info().Int("port", cfg.HTTPPort).Str("version", Version).Msg("worker ready")

	if err := workerSvc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("worker service stopped unexpectedly")
	}

	<-ctx.Done()
	mux.Close()
	log.Info().Msg("worker shutdown complete")
}

// serveJSONRPCConns accepts connections off the cmux JSON-RPC matcher and runs one Server
// per connection, all sharing the same tool registry built from rpcDeps.
func serveJSONRPCConns(ctx context.Context, l net.Listener, deps apijsonrpc.Deps) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || err == cmux.ErrListenerClosed {
				return
			}
			log.Warn().Err(err).Msg("jsonrpc accept failed")
			continue
		}
		go func() {
			defer conn.Close()
			srv := apijsonrpc.NewServerIO(deps, conn, conn)
			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				log.Debug().Err(err).Msg("jsonrpc connection closed")
			}
		}()
	}
}

// registerQueueMetrics installs an async gauge reporting the pending-queue depth, polled
// lazily whenever the MeterProvider's reader collects (no background ticker of our own).
func registerQueueMetrics(ctx context.Context, meter metric.Meter, q *queue.Queue) {
	gauge, err := meter.Int64ObservableGauge("memengine.queue.pending_depth",
		metric.WithDescription("Pending ingestion queue depth"))
	if err != nil {
		log.Warn().Err(err).Msg("failed to register queue depth gauge")
		return
	}
	_, err = meter.RegisterCallback(func(cbCtx context.Context, o metric.Observer) error {
		depth, err := q.PendingCount(cbCtx)
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, depth)
		return nil
	}, gauge)
	if err != nil {
		log.Warn().Err(err).Msg("failed to attach queue depth callback")
	}
}

func fqHTTPAddr(port int) string {
	if port <= 0 {
		port = config.DefaultHTTPPort
	}
	return ":" + strconv.Itoa(port)
}
