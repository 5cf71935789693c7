package consolidation

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/memengine/internal/embedding"
	"github.com/thebtf/memengine/pkg/models"
)

// AssociationConfig parameterizes the type-pair rules the engine checks over a sampled set
// of observations (SPEC_FULL.md supplemented feature 3).
type AssociationConfig struct {
	// SampleSize is the number of observations to sample per run.
	SampleSize int
	// SimilarThreshold is the minimum cosine similarity for a Similar relation.
	SimilarThreshold float64
	// ExtendsThreshold is the minimum similarity for an Extends relation between a
	// discovery/bugfix and a later refactor/feature.
	ExtendsThreshold float64
	// ParallelMaxDays is the max age gap in days considered for cross-checking Contradicts.
	ParallelMaxDays int
	// ContradictMaxSim is the max similarity for Contradicts between two decisions made
	// close in time — low similarity despite temporal proximity suggests a reversal.
	ContradictMaxSim float64
	// MinConfidence is the floor below which a candidate relation is dropped.
	MinConfidence float64
}

// DefaultAssociationConfig mirrors the teacher's creative-association defaults.
func DefaultAssociationConfig() AssociationConfig {
	return AssociationConfig{
		SampleSize:       20,
		SimilarThreshold: 0.7,
		ExtendsThreshold: 0.5,
		ParallelMaxDays:  7,
		ContradictMaxSim: 0.3,
		MinConfidence:    0.4,
	}
}

// AssociationEngine discovers relations between observations by sampling, embedding, and
// scoring every pair under a small set of type-pair heuristics.
type AssociationEngine struct {
	embedder embedding.EmbeddingModel
	config   AssociationConfig
	logger   zerolog.Logger
}

// NewAssociationEngine creates a new association discovery engine.
func NewAssociationEngine(embedder embedding.EmbeddingModel, config AssociationConfig, logger zerolog.Logger) *AssociationEngine {
	return &AssociationEngine{
		embedder: embedder,
		config:   config,
		logger:   logger.With().Str("component", "associations").Logger(),
	}
}

// DiscoveredRelation is a candidate edge found by DiscoverAssociations, ready to hand to
// models.NewObservationRelation.
type DiscoveredRelation struct {
	SourceID   int64
	TargetID   int64
	Type       models.RelationType
	Confidence float64
	Reason     string
}

// DetectionSourceAssociation tags relations this engine discovers, distinct from relations
// a human or the judge might add through another path.
const DetectionSourceAssociation = "association_scheduler"

// DiscoverAssociations samples up to SampleSize observations, embeds each, and checks every
// pair against the type-pair rules below. Embedding failures for individual observations are
// logged and skipped rather than aborting the whole run.
func (e *AssociationEngine) DiscoverAssociations(ctx context.Context, observations []*models.Observation) ([]DiscoveredRelation, error) {
	if len(observations) == 0 {
		return nil, nil
	}

	sample := observations
	if len(sample) > e.config.SampleSize {
		sample = sampleObservations(observations, e.config.SampleSize)
	}

	embeddings := make(map[int64][]float32, len(sample))
	for _, obs := range sample {
		text := observationText(obs)
		if text == "" {
			continue
		}
		emb, err := e.embedder.Embed(text)
		if err != nil {
			e.logger.Warn().Err(err).Int64("obs_id", obs.ID).Msg("failed to embed observation for association discovery")
			continue
		}
		embeddings[obs.ID] = emb
	}

	var results []DiscoveredRelation
	for i := 0; i < len(sample); i++ {
		for j := i + 1; j < len(sample); j++ {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}

			a, b := sample[i], sample[j]
			embA, okA := embeddings[a.ID]
			embB, okB := embeddings[b.ID]
			if !okA || !okB {
				continue
			}

			sim := CosineSimilarity(embA, embB)
			if rel := e.applyTypePairRules(a, b, sim); rel != nil && rel.Confidence >= e.config.MinConfidence {
				results = append(results, *rel)
			}
		}
	}

	e.logger.Info().
		Int("sample_size", len(sample)).
		Int("associations_found", len(results)).
		Msg("association discovery complete")

	return results, nil
}

// applyTypePairRules checks each heuristic in priority order and returns the first match.
func (e *AssociationEngine) applyTypePairRules(a, b *models.Observation, similarity float64) *DiscoveredRelation {
	ageDiffDays := ageDifferenceDays(a.CreatedAtEpoch, b.CreatedAtEpoch)

	// Two decisions made close in time but pointing in very different directions likely
	// indicate a reversal.
	if a.Type == models.ObsTypeDecision && b.Type == models.ObsTypeDecision &&
		ageDiffDays <= float64(e.config.ParallelMaxDays) && similarity < e.config.ContradictMaxSim {
		return &DiscoveredRelation{
			SourceID: a.ID, TargetID: b.ID,
			Type:       models.RelationContradicts,
			Confidence: 0.6,
			Reason:     fmt.Sprintf("two decisions %d days apart with low similarity (%.2f)", int(ageDiffDays), similarity),
		}
	}

	// A discovery/bugfix followed by a refactor/feature on a similar topic is a natural
	// "extends" relation: the later observation builds on the earlier one.
	if isFoundational(a, b) && similarity > e.config.ExtendsThreshold {
		source, target := orderByAge(a, b)
		return &DiscoveredRelation{
			SourceID: source.ID, TargetID: target.ID,
			Type:       models.RelationExtends,
			Confidence: similarity,
			Reason:     fmt.Sprintf("foundational/follow-up pair with similarity %.2f", similarity),
		}
	}

	// Any pair with high similarity, regardless of type, is simply related.
	if similarity > e.config.SimilarThreshold {
		return &DiscoveredRelation{
			SourceID: a.ID, TargetID: b.ID,
			Type:       models.RelationSimilar,
			Confidence: similarity,
			Reason:     fmt.Sprintf("cosine similarity %.2f", similarity),
		}
	}

	return nil
}

// isFoundational reports whether one of the pair is a discovery/bugfix and the other a
// refactor/feature, in either order.
func isFoundational(a, b *models.Observation) bool {
	foundational := func(o *models.Observation) bool {
		return o.Type == models.ObsTypeDiscovery || o.Type == models.ObsTypeBugfix
	}
	followUp := func(o *models.Observation) bool {
		return o.Type == models.ObsTypeRefactor || o.Type == models.ObsTypeFeature
	}
	return (foundational(a) && followUp(b)) || (foundational(b) && followUp(a))
}

// orderByAge returns (older, newer) so Extends always points from the earlier observation
// to the one that builds on it.
func orderByAge(a, b *models.Observation) (*models.Observation, *models.Observation) {
	if a.CreatedAtEpoch <= b.CreatedAtEpoch {
		return a, b
	}
	return b, a
}

// ageDifferenceDays returns the absolute difference in days between two epoch-millisecond
// timestamps.
func ageDifferenceDays(epochA, epochB int64) float64 {
	diffMs := epochA - epochB
	if diffMs < 0 {
		diffMs = -diffMs
	}
	return float64(diffMs) / (24 * 60 * 60 * 1000)
}

// observationText builds the text an observation is embedded from: title, narrative, facts.
func observationText(obs *models.Observation) string {
	var parts []string
	if obs.Title != "" {
		parts = append(parts, obs.Title)
	}
	if obs.Narrative.Valid && obs.Narrative.String != "" {
		parts = append(parts, obs.Narrative.String)
	}
	for _, fact := range obs.Facts {
		if fact != "" {
			parts = append(parts, fact)
		}
	}
	return strings.Join(parts, " ")
}

// sampleObservations returns a random sample of n observations from the given slice.
func sampleObservations(observations []*models.Observation, n int) []*models.Observation {
	if n >= len(observations) {
		return observations
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	indices := rng.Perm(len(observations))
	sample := make([]*models.Observation, n)
	for i := 0; i < n; i++ {
		sample[i] = observations[indices[i]]
	}
	return sample
}
