// Package main provides the stdio JSON-RPC tool surface (§6.2), run as a subprocess by
// whatever agent harness wants direct search/save/knowledge tool access without going
// through the worker's HTTP surface.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/memengine/internal/config"
	dbgorm "github.com/thebtf/memengine/internal/db/gorm"
	"github.com/thebtf/memengine/internal/embedding"
	"github.com/thebtf/memengine/internal/search"
	apijsonrpc "github.com/thebtf/memengine/internal/transport/jsonrpc"
	"github.com/thebtf/memengine/internal/vector/pgvector"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// The tool surface talks JSON-RPC over stdout, so all logging goes to stderr.
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure data directory")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("failed to load config, using defaults")
		cfg = config.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down mcp server")
		cancel()
	}()

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
	summaryStore := dbgorm.NewSummaryStore(store)

	var embedder embedding.EmbeddingModel
	if cfg.EmbeddingAPIKey != "" {
		embedder, err = embedding.GetModel(embedding.OpenAIModelVersion)
		if err != nil {
			log.Warn().Err(err).Msg("embedding model unavailable, vector search disabled")
			embedder = nil
		} else {
			defer embedder.Close()
		}
	}

	var vectorClient *pgvector.Client
	if embedder != nil {
		vectorClient = pgvector.New(store.GetDB(), embedder.Dimensions())
	}

	searchMgr := search.NewManager(obsStore, vectorClient, embedder, log.Logger)
	defer searchMgr.Close()

	srv := apijsonrpc.NewServer(apijsonrpc.Deps{
		ObsStore:       obsStore,
		KnowledgeStore: knowledgeStore,
		SummaryStore:   summaryStore,
		Search:         searchMgr,
		Embedder:       embedder,
		Vector:         vectorClient,
		Version:        Version,
		Logger:         log.Logger,
	})

	log.Info().Str("version", Version).Msg("starting mcp server")
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("mcp server error")
	}
}
