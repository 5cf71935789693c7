package consolidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/memengine/pkg/models"
)

// SchedulerSuite validates scheduler lifecycle operations.
type SchedulerSuite struct {
	suite.Suite
	ctx context.Context
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
}

type mockObservationStore struct {
	getAllFn           func(string) ([]*models.Observation, error)
	getRecentFn        func(string, int, int) ([]*models.Observation, int64, error)
	updateImportanceFn func(map[int64]float64) error
	archiveFn          func(int64, string, *int64) error

	getAllCalled       int
	getRecentCalled    int
	updateImportance   int
	archiveObservation int
}

func (m *mockObservationStore) GetAllObservations(project string) ([]*models.Observation, error) {
	m.getAllCalled++
	if m.getAllFn == nil {
		return nil, nil
	}
	return m.getAllFn(project)
}

func (m *mockObservationStore) GetRecentObservations(project string, limit, offset int) ([]*models.Observation, int64, error) {
	m.getRecentCalled++
	if m.getRecentFn == nil {
		return nil, 0, nil
	}
	return m.getRecentFn(project, limit, offset)
}

func (m *mockObservationStore) UpdateImportanceScores(scores map[int64]float64) error {
	m.updateImportance++
	if m.updateImportanceFn == nil {
		return nil
	}
	return m.updateImportanceFn(scores)
}

func (m *mockObservationStore) ArchiveObservation(id int64, reason string, supersededBy *int64) error {
	m.archiveObservation++
	if m.archiveFn == nil {
		return nil
	}
	return m.archiveFn(id, reason, supersededBy)
}

type mockRelationStore struct {
	getRelationsFn     func(context.Context, int64) ([]models.ObservationRelation, error)
	storeRelationFn    func(context.Context, *models.ObservationRelation) (int64, error)
	getRelationCountFn func(context.Context, int64) (int, error)

	getRelationsCalled    int
	storeRelationCalled   int
	getRelationCountCalls int
}

func (m *mockRelationStore) GetRelationsByObservationID(ctx context.Context, obsID int64) ([]models.ObservationRelation, error) {
	m.getRelationsCalled++
	if m.getRelationsFn == nil {
		return nil, nil
	}
	return m.getRelationsFn(ctx, obsID)
}

func (m *mockRelationStore) StoreRelation(ctx context.Context, relation *models.ObservationRelation) (int64, error) {
	m.storeRelationCalled++
	if m.storeRelationFn == nil {
		return 0, nil
	}
	return m.storeRelationFn(ctx, relation)
}

func (m *mockRelationStore) GetRelationCount(ctx context.Context, obsID int64) (int, error) {
	m.getRelationCountCalls++
	if m.getRelationCountFn == nil {
		return 0, nil
	}
	return m.getRelationCountFn(ctx, obsID)
}

func zeroDecayConfig() DecayConfig {
	return DecayConfig{
		BaseDecayRate:   0,
		AccessDecayRate: 0,
		RelationWeight:  0,
		MinScore:        0,
	}
}

func (s *SchedulerSuite) TestDefaultSchedulerConfigValues() {
	cfg := DefaultSchedulerConfig()
	assert.Equal(s.T(), 24*time.Hour, cfg.DecayInterval)
	assert.Equal(s.T(), 168*time.Hour, cfg.AssociationInterval)
	assert.Equal(s.T(), 2160*time.Hour, cfg.ForgetInterval)
	assert.False(s.T(), cfg.ForgetEnabled)
	assert.InDelta(s.T(), 0.01, cfg.ForgetThreshold, 0)
}

func (s *SchedulerSuite) TestRunDecay_EmptyObservationsReturnsNil() {
	obsStore := &mockObservationStore{}
	relStore := &mockRelationStore{}

	scheduler := NewScheduler(zeroDecayConfig(), nil, obsStore, relStore, DefaultSchedulerConfig(), zerolog.Nop())

	err := scheduler.RunDecay(s.ctx)
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), 0, obsStore.updateImportance)
	assert.Equal(s.T(), 1, obsStore.getAllCalled)
}

func (s *SchedulerSuite) TestRunDecay_PropagatesGetAllError() {
	obsStore := &mockObservationStore{
		getAllFn: func(string) ([]*models.Observation, error) {
			return nil, errors.New("load failed")
		},
	}
	relStore := &mockRelationStore{}
	scheduler := NewScheduler(zeroDecayConfig(), nil, obsStore, relStore, DefaultSchedulerConfig(), zerolog.Nop())

	err := scheduler.RunDecay(s.ctx)
	assert.Error(s.T(), err)
	assert.Equal(s.T(), "load failed", err.Error())
	assert.Equal(s.T(), 0, obsStore.updateImportance)
}

func (s *SchedulerSuite) TestRunDecay_StoresScoreForSingleObservation() {
	relStore := &mockRelationStore{
		getRelationCountFn: func(context.Context, int64) (int, error) { return 0, nil },
		getRelationsFn:     func(context.Context, int64) ([]models.ObservationRelation, error) { return nil, nil },
	}

	captured := map[int64]float64{}
	obsStore := &mockObservationStore{
		updateImportanceFn: func(scores map[int64]float64) error {
			for id, score := range scores {
				captured[id] = score
			}
			return nil
		},
	}

	obs := &models.Observation{
		ID:              42,
		CreatedAtEpoch:  time.Now().Add(-48 * time.Hour).UnixMilli(),
		ImportanceScore: 0.2,
		Type:            models.ObsTypeDiscovery,
	}
	obsStore.getAllFn = func(string) ([]*models.Observation, error) {
		return []*models.Observation{obs}, nil
	}

	scheduler := NewScheduler(zeroDecayConfig(), nil, obsStore, relStore, DefaultSchedulerConfig(), zerolog.Nop())

	err := scheduler.RunDecay(s.ctx)
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), 1, obsStore.updateImportance)
	assert.Equal(s.T(), 1, relStore.getRelationCountCalls)
	assert.Equal(s.T(), 1, relStore.getRelationsCalled)

	// With all decay/access/relation weights zeroed, score reduces to
	// 1 * (0.3+0.3) * 1 * (0.5+importance) * (0.7+0.3*0.5) = 0.6 * (0.5+importance) * 0.85
	expected := 0.6 * (0.5 + obs.ImportanceScore) * 0.85
	assert.InDelta(s.T(), expected, captured[obs.ID], 1e-9)
}

func (s *SchedulerSuite) TestRunForgetting_DisabledDoesNotQuery() {
	obsStore := &mockObservationStore{}
	relStore := &mockRelationStore{}
	cfg := DefaultSchedulerConfig()
	cfg.ForgetEnabled = false

	scheduler := NewScheduler(zeroDecayConfig(), nil, obsStore, relStore, cfg, zerolog.Nop())

	err := scheduler.RunForgetting(s.ctx)
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), 0, obsStore.archiveObservation)
	assert.Equal(s.T(), 0, obsStore.getAllCalled)
}

func (s *SchedulerSuite) TestRunForgetting_DoesNotArchiveProtectedObservations() {
	tests := []struct {
		name string
		obs  *models.Observation
	}{
		{
			name: "high importance protected",
			obs:  &models.Observation{ID: 1, ImportanceScore: 0.9, CreatedAtEpoch: time.Now().Add(-100 * 24 * time.Hour).UnixMilli(), Type: models.ObsTypeFeature},
		},
		{
			name: "young age protected",
			obs:  &models.Observation{ID: 2, ImportanceScore: 0.1, CreatedAtEpoch: time.Now().Add(-30 * 24 * time.Hour).UnixMilli(), Type: models.ObsTypeFeature},
		},
		{
			name: "decision type protected",
			obs:  &models.Observation{ID: 3, ImportanceScore: 0.1, CreatedAtEpoch: time.Now().Add(-100 * 24 * time.Hour).UnixMilli(), Type: models.ObsTypeDecision},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			obsStore := &mockObservationStore{
				getAllFn: func(string) ([]*models.Observation, error) {
					return []*models.Observation{tt.obs}, nil
				},
			}
			relStore := &mockRelationStore{}
			cfg := DefaultSchedulerConfig()
			cfg.ForgetEnabled = true
			cfg.ForgetThreshold = 0.4

			scheduler := NewScheduler(zeroDecayConfig(), nil, obsStore, relStore, cfg, zerolog.Nop())
			err := scheduler.RunForgetting(s.ctx)
			assert.NoError(s.T(), err)
			assert.Equal(s.T(), 0, obsStore.archiveObservation)
		})
	}
}

func (s *SchedulerSuite) TestRunForgetting_ArchivesLowScoreObservation() {
	obsID := int64(99)
	var recordedID int64
	var recordedReason string
	calls := 0

	obs := &models.Observation{
		ID:              obsID,
		Type:            models.ObsTypeFeature,
		ImportanceScore: 0.01,
		CreatedAtEpoch:  time.Now().Add(-200 * 24 * time.Hour).UnixMilli(),
	}

	obsStore := &mockObservationStore{
		getAllFn: func(string) ([]*models.Observation, error) {
			return []*models.Observation{obs}, nil
		},
		archiveFn: func(id int64, reason string, _ *int64) error {
			calls++
			recordedID = id
			recordedReason = reason
			return nil
		},
	}
	relStore := &mockRelationStore{}

	cfg := DefaultSchedulerConfig()
	cfg.ForgetEnabled = true
	cfg.ForgetThreshold = 0.4

	scheduler := NewScheduler(zeroDecayConfig(), nil, obsStore, relStore, cfg, zerolog.Nop())
	err := scheduler.RunForgetting(s.ctx)
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), 1, calls)
	assert.Equal(s.T(), obsID, recordedID)
	assert.Equal(s.T(), "consolidation: below importance threshold", recordedReason)
}

func (s *SchedulerSuite) TestRunAssociations_SkipsWhenEngineIsNil() {
	obsStore := &mockObservationStore{}
	relStore := &mockRelationStore{}
	scheduler := NewScheduler(zeroDecayConfig(), nil, obsStore, relStore, DefaultSchedulerConfig(), zerolog.Nop())

	err := scheduler.RunAssociations(s.ctx)
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), 0, obsStore.getRecentCalled)
	assert.Equal(s.T(), 0, relStore.storeRelationCalled)
}

func (s *SchedulerSuite) TestStop_DoubleStopSafe() {
	scheduler := NewScheduler(zeroDecayConfig(), nil, &mockObservationStore{}, &mockRelationStore{}, DefaultSchedulerConfig(), zerolog.Nop())

	assert.NotPanics(s.T(), func() {
		scheduler.Stop()
		scheduler.Stop()
	})
}
