// Package consolidation provides memory consolidation lifecycle management: relevance decay,
// association discovery, and (optionally) forgetting of low-value observations.
package consolidation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/memengine/pkg/models"
)

// ObservationProvider is the subset of observation store methods needed by the scheduler.
type ObservationProvider interface {
	GetAllObservations(project string) ([]*models.Observation, error)
	GetRecentObservations(project string, limit, offset int) ([]*models.Observation, int64, error)
	UpdateImportanceScores(scores map[int64]float64) error
	ArchiveObservation(id int64, reason string, supersededBy *int64) error
}

// RelationProvider is the subset of relation store methods needed by the scheduler.
type RelationProvider interface {
	GetRelationsByObservationID(ctx context.Context, obsID int64) ([]models.ObservationRelation, error)
	StoreRelation(ctx context.Context, relation *models.ObservationRelation) (int64, error)
	GetRelationCount(ctx context.Context, obsID int64) (int, error)
}

// SchedulerConfig contains scheduling intervals and thresholds.
type SchedulerConfig struct {
	// DecayInterval is the period between relevance recalculations (default 24h).
	DecayInterval time.Duration `json:"decay_interval"`
	// AssociationInterval is the period between creative association runs (default 168h / 1 week).
	AssociationInterval time.Duration `json:"association_interval"`
	// ForgetInterval is the period between forgetting cycles (default 2160h / 90 days).
	ForgetInterval time.Duration `json:"forget_interval"`
	// ForgetEnabled controls whether the forgetting cycle runs (default false).
	ForgetEnabled bool `json:"forget_enabled"`
	// ForgetThreshold is the relevance score below which observations may be archived (default 0.01).
	ForgetThreshold float64 `json:"forget_threshold"`
	// Project is the project scope for queries (empty = all projects).
	Project string `json:"project"`
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DecayInterval:       24 * time.Hour,
		AssociationInterval: 168 * time.Hour,
		ForgetInterval:      2160 * time.Hour,
		ForgetEnabled:       false,
		ForgetThreshold:     0.01,
	}
}

// Scheduler runs memory consolidation lifecycle tasks on a schedule.
type Scheduler struct {
	decayConfig DecayConfig
	assocEngine *AssociationEngine
	obsStore    ObservationProvider
	relStore    RelationProvider
	config      SchedulerConfig
	logger      zerolog.Logger
	stopCh      chan struct{}
}

// NewScheduler creates a new consolidation scheduler.
func NewScheduler(
	decayConfig DecayConfig,
	assocEngine *AssociationEngine,
	obsStore ObservationProvider,
	relStore RelationProvider,
	config SchedulerConfig,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		decayConfig: decayConfig,
		assocEngine: assocEngine,
		obsStore:    obsStore,
		relStore:    relStore,
		config:      config,
		logger:      logger.With().Str("component", "consolidation-scheduler").Logger(),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the scheduler's background loops. Call from a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Dur("decay_interval", s.config.DecayInterval).
		Dur("association_interval", s.config.AssociationInterval).
		Bool("forget_enabled", s.config.ForgetEnabled).
		Msg("consolidation scheduler started")

	decayTicker := time.NewTicker(s.config.DecayInterval)
	assocTicker := time.NewTicker(s.config.AssociationInterval)
	defer decayTicker.Stop()
	defer assocTicker.Stop()

	var forgetCh <-chan time.Time
	if s.config.ForgetEnabled {
		forgetTicker := time.NewTicker(s.config.ForgetInterval)
		defer forgetTicker.Stop()
		forgetCh = forgetTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("consolidation scheduler stopping (context done)")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("consolidation scheduler stopping (stop signal)")
			return
		case <-decayTicker.C:
			if err := s.RunDecay(ctx); err != nil {
				s.logger.Error().Err(err).Msg("decay cycle failed")
			}
		case <-assocTicker.C:
			if err := s.RunAssociations(ctx); err != nil {
				s.logger.Error().Err(err).Msg("association cycle failed")
			}
		case <-forgetCh:
			if err := s.RunForgetting(ctx); err != nil {
				s.logger.Error().Err(err).Msg("forgetting cycle failed")
			}
		}
	}
}

// Stop signals the scheduler to shut down gracefully.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// RunDecay recalculates importance scores for all non-archived observations.
func (s *Scheduler) RunDecay(ctx context.Context) error {
	start := time.Now()

	observations, err := s.obsStore.GetAllObservations(s.config.Project)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		return nil
	}

	now := time.Now()
	scores := make(map[int64]float64, len(observations))

	for _, obs := range observations {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ageDays := now.Sub(time.UnixMilli(obs.CreatedAtEpoch)).Hours() / 24.0
		if ageDays < 0 {
			ageDays = 0
		}

		accessRecencyDays := ageDays
		if obs.LastRetrievedAt.Valid && obs.LastRetrievedAt.Int64 > 0 {
			accessRecencyDays = now.Sub(time.UnixMilli(obs.LastRetrievedAt.Int64)).Hours() / 24.0
			if accessRecencyDays < 0 {
				accessRecencyDays = 0
			}
		}

		relCount, err := s.relStore.GetRelationCount(ctx, obs.ID)
		if err != nil {
			relCount = 0
		}

		avgConf := 0.5
		if rels, err := s.relStore.GetRelationsByObservationID(ctx, obs.ID); err == nil && len(rels) > 0 {
			total := 0.0
			for _, r := range rels {
				total += r.Confidence
			}
			avgConf = total / float64(len(rels))
		}

		scores[obs.ID] = CalculateDecayedScore(s.decayConfig, DecayParams{
			AgeDays:           ageDays,
			AccessRecencyDays: accessRecencyDays,
			RelationCount:     relCount,
			ImportanceScore:   obs.ImportanceScore,
			AvgRelConfidence:  avgConf,
		})
	}

	if err := s.obsStore.UpdateImportanceScores(scores); err != nil {
		return err
	}

	s.logger.Info().
		Int("count", len(scores)).
		Dur("elapsed", time.Since(start)).
		Msg("decay cycle complete")

	return nil
}

// RunAssociations discovers associations between sampled observations and persists them.
func (s *Scheduler) RunAssociations(ctx context.Context) error {
	if s.assocEngine == nil {
		s.logger.Debug().Msg("association engine not available, skipping")
		return nil
	}

	start := time.Now()

	observations, _, err := s.obsStore.GetRecentObservations(s.config.Project, 100, 0)
	if err != nil {
		return err
	}

	results, err := s.assocEngine.DiscoverAssociations(ctx, observations)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	stored := 0
	for _, result := range results {
		rel := models.NewObservationRelation(
			result.SourceID,
			result.TargetID,
			result.Type,
			result.Confidence,
			DetectionSourceAssociation,
			result.Reason,
		)
		rel.CreatedAtEpoch = now
		if _, err := s.relStore.StoreRelation(ctx, rel); err != nil {
			s.logger.Warn().Err(err).
				Int64("source", result.SourceID).
				Int64("target", result.TargetID).
				Msg("failed to store association")
			continue
		}
		stored++
	}

	s.logger.Info().
		Int("discovered", len(results)).
		Int("stored", stored).
		Dur("elapsed", time.Since(start)).
		Msg("association cycle complete")

	return nil
}

// RunForgetting archives observations below the importance threshold. Protected observations
// are never archived: importance_score >= 0.7, age < 90 days, or type in {decision, discovery}.
func (s *Scheduler) RunForgetting(ctx context.Context) error {
	if !s.config.ForgetEnabled {
		return nil
	}

	start := time.Now()

	observations, err := s.obsStore.GetAllObservations(s.config.Project)
	if err != nil {
		return err
	}

	now := time.Now()
	archived := 0

	for _, obs := range observations {
		if ctx.Err() != nil {
			break
		}

		if obs.ImportanceScore >= 0.7 {
			continue
		}

		ageDays := now.Sub(time.UnixMilli(obs.CreatedAtEpoch)).Hours() / 24.0
		if ageDays < 90 {
			continue
		}

		if obs.Type == models.ObsTypeDecision || obs.Type == models.ObsTypeDiscovery {
			continue
		}

		if obs.ImportanceScore >= s.config.ForgetThreshold {
			continue
		}

		if err := s.obsStore.ArchiveObservation(obs.ID, "consolidation: below importance threshold", nil); err != nil {
			s.logger.Warn().Err(err).Int64("obs_id", obs.ID).Msg("failed to archive observation")
			continue
		}
		archived++
	}

	s.logger.Info().
		Int("total", len(observations)).
		Int("archived", archived).
		Dur("elapsed", time.Since(start)).
		Msg("forgetting cycle complete")

	return nil
}

// RunAll triggers all consolidation tasks in sequence.
func (s *Scheduler) RunAll(ctx context.Context) error {
	if err := s.RunDecay(ctx); err != nil {
		return err
	}
	if err := s.RunAssociations(ctx); err != nil {
		return err
	}
	if s.config.ForgetEnabled {
		if err := s.RunForgetting(ctx); err != nil {
			return err
		}
	}
	return nil
}
