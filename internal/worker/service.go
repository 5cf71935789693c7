// Package worker implements the ingestion worker pool (C7, §4.3): a single claim loop over
// the pending-message queue feeding a concurrency-bounded pool of per-message pipelines —
// sanitize, low-value filter, project exclusion, dedup-candidate lookup, judge, apply.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/memengine/internal/db/gorm"
	"github.com/thebtf/memengine/internal/embedding"
	"github.com/thebtf/memengine/internal/errs"
	"github.com/thebtf/memengine/internal/judge"
	"github.com/thebtf/memengine/internal/lowvalue"
	"github.com/thebtf/memengine/internal/queue"
	"github.com/thebtf/memengine/internal/sanitizer"
	"github.com/thebtf/memengine/internal/tokens"
	"github.com/thebtf/memengine/internal/vector/pgvector"
	"github.com/thebtf/memengine/pkg/models"
)

const (
	// candidateTextMaxBytes bounds the text handed to the embedder for dedup-candidate
	// lookup, a char-boundary-safe prefix per §4.3 step 5.
	candidateTextMaxBytes = 2000
	candidateLimit        = 10
	candidateThreshold    = 0.5

	candidateNarrativePreviewRunes = 240
	derivedTitleMaxRunes           = 200

	// claimEmptySleep is how long the claim loop backs off after an empty or failed claim,
	// so an idle queue doesn't spin.
	claimEmptySleep = 500 * time.Millisecond
)

// Config configures one worker pool instance.
type Config struct {
	BatchSize                int
	MaxConcurrency           int
	VisibilityTimeoutSeconds int64
	MaxRetries               int
	ProjectExclusions        []string
	FilterPatterns           []string
	ShutdownGrace            time.Duration
}

// DefaultConfig mirrors the package-level defaults in internal/config.
func DefaultConfig() Config {
	return Config{
		BatchSize:                16,
		MaxConcurrency:           8,
		VisibilityTimeoutSeconds: 300,
		MaxRetries:               5,
		ShutdownGrace:            30 * time.Second,
	}
}

// Service is the worker pool orchestrator. The vector client and embedder are both
// optional: when either is nil, dedup-candidate lookup and post-persist embedding are
// skipped, matching §4.3 step 5's "if the embedding service is available" branch.
type Service struct {
	cfg      Config
	queue    *queue.Queue
	obsStore *gorm.ObservationStore
	vector   *pgvector.Client
	embedder embedding.EmbeddingModel
	judge    *judge.Client
	lowValue *lowvalue.Filter
	events   *Broadcaster
	logger   zerolog.Logger

	exclusions map[string]struct{}
}

// NewService wires a worker pool over its dependencies.
func NewService(cfg Config, q *queue.Queue, obsStore *gorm.ObservationStore, vectorClient *pgvector.Client, embedder embedding.EmbeddingModel, judgeClient *judge.Client, logger zerolog.Logger) *Service {
	exclusions := make(map[string]struct{}, len(cfg.ProjectExclusions))
	for _, p := range cfg.ProjectExclusions {
		exclusions[p] = struct{}{}
	}
	return &Service{
		cfg:        cfg,
		queue:      q,
		obsStore:   obsStore,
		vector:     vectorClient,
		embedder:   embedder,
		judge:      judgeClient,
		lowValue:   lowvalue.Default(cfg.FilterPatterns),
		events:     NewBroadcaster(),
		logger:     logger,
		exclusions: exclusions,
	}
}

// Events returns the broadcaster observation creates/merges are published on.
func (s *Service) Events() *Broadcaster { return s.events }

// Run drives the claim loop until ctx is cancelled, then waits for in-flight message
// processing up to cfg.ShutdownGrace before returning. Claimed-but-unfinished messages at
// that point are recovered by the next boot's release_stale pass once their visibility
// timeout elapses, per §4.3's cancellation contract.
func (s *Service) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			return s.drain(&g)
		default:
		}

		msgs, err := s.queue.Claim(ctx, s.cfg.BatchSize, s.cfg.VisibilityTimeoutSeconds)
		if err != nil {
			s.logger.Error().Err(err).Msg("claim failed")
			sleepOrDone(ctx, claimEmptySleep)
			continue
		}
		if len(msgs) == 0 {
			sleepOrDone(ctx, claimEmptySleep)
			continue
		}

		for i := range msgs {
			msg := msgs[i]
			// g.Go blocks once MaxConcurrency tasks are in flight — this is the back-pressure
			// the claim loop's "sleep on full semaphore" describes; enqueuers never see it.
			g.Go(func() error {
				s.processMessage(ctx, &msg)
				return nil
			})
		}
	}
}

// drain waits for in-flight tasks to finish, capped at cfg.ShutdownGrace.
func (s *Service) drain(g *errgroup.Group) error {
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn().Msg("shutdown grace deadline exceeded, dropping in-flight work")
		return nil
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// processMessage runs one message's full pipeline and resolves it against the queue.
// Errors from apply are never returned to the errgroup: one message's failure must not
// cancel or stall its siblings.
func (s *Service) processMessage(ctx context.Context, msg *models.PendingMessage) {
	if err := s.apply(ctx, msg); err != nil {
		transient := s.isRetryable(err)
		if ferr := s.queue.Fail(ctx, msg.ID, transient, s.cfg.MaxRetries); ferr != nil {
			s.logger.Error().Err(ferr).Int64("message_id", msg.ID).Msg("failed to mark message failed")
		}
		s.logger.Warn().Err(err).Int64("message_id", msg.ID).Bool("retryable", transient).Msg("message processing failed")
		return
	}
	if err := s.queue.Complete(ctx, msg.ID); err != nil {
		s.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("failed to complete message")
	}
}

// isRetryable maps an apply error onto §4.3 step 8/9's transient/non-transient split: a
// judge-call error uses the judge package's own classification (parse/validation failures
// don't retry, transport/5xx failures do); everything else uses the shared errs taxonomy.
func (s *Service) isRetryable(err error) bool {
	if judge.IsTransient(err) {
		return true
	}
	return errs.IsTransient(err)
}

// apply runs steps 1-7 of §4.3's per-message flow. A nil return means the message is fully
// resolved (skipped, excluded, or persisted) and the caller should complete(id).
func (s *Service) apply(ctx context.Context, msg *models.PendingMessage) error {
	project := nullString(msg.Project)
	if s.isExcluded(project) {
		return nil
	}

	input := sanitizer.Sanitize(nullString(msg.ToolInput))
	response := sanitizer.Sanitize(nullString(msg.ToolResponse))

	title := deriveTitle(msg.ToolName, response)
	if s.lowValue.IsLowValue(title) {
		s.logger.Debug().Str("title", title).Msg("low-value filter rejected message")
		return nil
	}

	observationInput := models.ObservationInput{
		Tool:      msg.ToolName,
		SessionID: msg.SessionID,
		CallID:    strconv.FormatInt(msg.ID, 10),
		Output:    models.ToolOutput{Title: title, Output: response, InputJSON: input},
	}

	candidates := s.dedupCandidates(ctx, response)

	result, err := s.judge.Compress(ctx, observationInput.SessionID, observationInput.Tool,
		observationInput.Output.Title, observationInput.Output.Output, candidates)
	if err != nil {
		return err
	}

	switch result.Action {
	case models.ActionSkip:
		return nil
	case models.ActionCreate:
		return s.createObservation(ctx, project, result.Observation)
	case models.ActionUpdate:
		return s.updateObservation(ctx, result.TargetID, result.Observation)
	default:
		return errs.New(errs.Semantic, "worker.apply", fmt.Errorf("unrecognized judge action %q", result.Action))
	}
}

func (s *Service) isExcluded(project string) bool {
	if project == "" {
		return false
	}
	_, excluded := s.exclusions[project]
	return excluded
}

// dedupCandidates produces the judge's dedup context (§4.3 step 5): nil whenever embedding
// is unavailable or any stage of the lookup fails — dedup context is an optimization, never
// a precondition for the judge call.
func (s *Service) dedupCandidates(ctx context.Context, text string) []models.Candidate {
	if s.embedder == nil || s.vector == nil {
		return nil
	}

	vec, err := s.embedder.Embed(truncateBytes(text, candidateTextMaxBytes))
	if err != nil {
		s.logger.Warn().Err(err).Msg("candidate embedding failed, proceeding without dedup context")
		return nil
	}

	matches, err := s.vector.FindSimilarMany(ctx, vec, candidateThreshold, candidateLimit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("candidate lookup failed, proceeding without dedup context")
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.ObservationID
	}
	obs, err := s.obsStore.GetObservationsByIDs(ids)
	if err != nil {
		s.logger.Warn().Err(err).Msg("candidate hydration failed, proceeding without dedup context")
		return nil
	}

	candidates := make([]models.Candidate, 0, len(obs))
	for _, o := range obs {
		candidates = append(candidates, models.Candidate{
			ID:               strconv.FormatInt(o.ID, 10),
			Title:            o.Title,
			NarrativePreview: truncateRunes(o.Narrative.String, candidateNarrativePreviewRunes),
		})
	}
	return candidates
}

func (s *Service) createObservation(ctx context.Context, project string, obs *models.Observation) error {
	if project != "" {
		obs.Project = sql.NullString{String: project, Valid: true}
	}
	obs.FileMtimes = captureFileMtimes(obs.FilesRead, obs.FilesModified)
	obs.DiscoveryTokens = sql.NullInt64{Int64: int64(tokens.Count(canonicalText(obs))), Valid: true}

	created, err := s.obsStore.SaveObservation(obs)
	if err != nil {
		return wrapStoreErr("worker.createObservation", err)
	}
	if !created {
		// title_normalized collision with an existing row: nothing new to embed or broadcast.
		return nil
	}

	s.embedAndStore(ctx, obs.ID, canonicalText(obs))
	s.events.Publish(ObservationEvent{Kind: EventCreated, ObservationID: obs.ID, Project: project})
	return nil
}

func (s *Service) updateObservation(ctx context.Context, targetID string, obs *models.Observation) error {
	id, err := strconv.ParseInt(targetID, 10, 64)
	if err != nil {
		return errs.New(errs.Semantic, "worker.updateObservation", fmt.Errorf("invalid target_id %q: %w", targetID, err))
	}

	obs.FileMtimes = captureFileMtimes(obs.FilesRead, obs.FilesModified)
	if err := s.obsStore.MergeIntoExisting(id, obs); err != nil {
		return wrapStoreErr("worker.updateObservation", err)
	}

	merged, err := s.obsStore.GetObservationByID(id)
	if err != nil {
		return wrapStoreErr("worker.updateObservation", err)
	}
	merged.DiscoveryTokens = sql.NullInt64{Int64: int64(tokens.Count(canonicalText(merged))), Valid: true}
	if err := s.obsStore.SaveDiscoveryTokens(id, merged.DiscoveryTokens.Int64); err != nil {
		s.logger.Warn().Err(err).Int64("observation_id", id).Msg("failed to persist refreshed discovery_tokens")
	}

	s.embedAndStore(ctx, id, canonicalText(merged))
	s.events.Publish(ObservationEvent{Kind: EventUpdated, ObservationID: id, Project: nullString(merged.Project)})
	return nil
}

// embedAndStore refreshes an observation's vector after a create or merge. Embedding
// failures are logged, not propagated: the observation row already committed successfully,
// and failing the whole message here would only re-run the judge against an unchanged row.
func (s *Service) embedAndStore(ctx context.Context, obsID int64, text string) {
	if s.embedder == nil || s.vector == nil {
		return
	}
	vec, err := s.embedder.Embed(text)
	if err != nil {
		s.logger.Warn().Err(err).Int64("observation_id", obsID).Msg("embedding failed, observation stored without a vector")
		return
	}
	if err := s.vector.StoreEmbedding(ctx, obsID, vec); err != nil {
		s.logger.Warn().Err(err).Int64("observation_id", obsID).Msg("failed to store embedding")
	}
}

// canonicalText builds the text that gets embedded for a created or merged observation, per
// §4.3 step 7's exact formula.
func canonicalText(obs *models.Observation) string {
	return obs.Title + " " + obs.Narrative.String + " " + strings.Join(obs.Facts, " ")
}

// deriveTitle produces a cheap pre-judge title for the low-value filter (§4.3 step 2): the
// tool name plus the first non-empty line of its sanitized response, so obvious junk never
// reaches the judge.
func deriveTitle(toolName, response string) string {
	line := firstNonEmptyLine(response)
	if line == "" {
		return toolName
	}
	return truncateRunes(toolName+": "+line, derivedTitleMaxRunes)
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func nullString(n sql.NullString) string {
	if !n.Valid {
		return ""
	}
	return n.String
}

// wrapStoreErr classifies an internal/db/gorm error as transient (worth a retry) unless it's
// already a typed *errs.Error (e.g. MergeIntoExisting's NotFound, which is permanent).
// Generic GORM errors surfacing here are almost always connection/deadlock noise, so the
// default leans retry rather than errs.KindOf's fail-closed PermanentIO default.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *errs.Error
	if errors.As(err, &typed) {
		return err
	}
	return errs.New(errs.TransientIO, op, err)
}

func truncateBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	b := []byte(s)[:maxBytes]
	for len(b) > 0 {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return string(b)
}

func truncateRunes(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
