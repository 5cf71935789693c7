package worker

import (
	"context"
	"database/sql"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/memengine/internal/errs"
	"github.com/thebtf/memengine/internal/judge"
	"github.com/thebtf/memengine/internal/lowvalue"
	"github.com/thebtf/memengine/pkg/models"
)

func newTestService(exclusions []string) *Service {
	excl := make(map[string]struct{}, len(exclusions))
	for _, p := range exclusions {
		excl[p] = struct{}{}
	}
	return &Service{
		lowValue:   lowvalue.Default(nil),
		logger:     zerolog.Nop(),
		events:     NewBroadcaster(),
		exclusions: excl,
	}
}

type ServiceSuite struct {
	suite.Suite
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) TestDeriveTitle_UsesFirstNonEmptyLine() {
	got := deriveTitle("Bash", "\n  \nls -la failed: permission denied\nmore output\n")
	assert.Equal(s.T(), "Bash: ls -la failed: permission denied", got)
}

func (s *ServiceSuite) TestDeriveTitle_FallsBackToToolNameOnEmptyResponse() {
	assert.Equal(s.T(), "Bash", deriveTitle("Bash", "   \n   \n"))
}

func (s *ServiceSuite) TestDeriveTitle_TruncatesLongLines() {
	long := ""
	for i := 0; i < 300; i++ {
		long += "a"
	}
	got := deriveTitle("Bash", long)
	assert.LessOrEqual(s.T(), len([]rune(got)), derivedTitleMaxRunes)
}

func (s *ServiceSuite) TestTruncateBytes_RespectsUTF8Boundary() {
	text := "héllo wörld" // contains multi-byte runes
	for n := 0; n <= len(text)+1; n++ {
		truncated := truncateBytes(text, n)
		assert.True(s.T(), len(truncated) <= n)
		assert.True(s.T(), utf8.ValidString(truncated))
	}
}

func (s *ServiceSuite) TestTruncateBytes_NoOpUnderLimit() {
	assert.Equal(s.T(), "short", truncateBytes("short", 100))
}

func (s *ServiceSuite) TestTruncateRunes_TruncatesByRuneCount() {
	assert.Equal(s.T(), "héllo", truncateRunes("héllo wörld", 5))
	assert.Equal(s.T(), "ab", truncateRunes("ab", 5))
}

func (s *ServiceSuite) TestCanonicalText_JoinsTitleNarrativeFacts() {
	obs := &models.Observation{
		Title:     "a bug",
		Narrative: sql.NullString{String: "it happened because X", Valid: true},
		Facts:     models.JSONStringArray{"fact1", "fact2"},
	}
	assert.Equal(s.T(), "a bug it happened because X fact1 fact2", canonicalText(obs))
}

func (s *ServiceSuite) TestCanonicalText_EmptyNarrativeStillJoinsWithSpaces() {
	obs := &models.Observation{Title: "a bug", Facts: models.JSONStringArray{"fact1"}}
	assert.Equal(s.T(), "a bug  fact1", canonicalText(obs))
}

func (s *ServiceSuite) TestNullString() {
	assert.Equal(s.T(), "", nullString(sql.NullString{}))
	assert.Equal(s.T(), "x", nullString(sql.NullString{String: "x", Valid: true}))
}

func (s *ServiceSuite) TestWrapStoreErr_NilPassesThrough() {
	assert.NoError(s.T(), wrapStoreErr("op", nil))
}

func (s *ServiceSuite) TestWrapStoreErr_PreservesExistingKind() {
	original := errs.New(errs.PermanentIO, "observation_store.MergeIntoExisting", assert.AnError)
	wrapped := wrapStoreErr("worker.updateObservation", original)
	assert.Equal(s.T(), errs.PermanentIO, errs.KindOf(wrapped))
}

func (s *ServiceSuite) TestWrapStoreErr_DefaultsUntypedToTransient() {
	wrapped := wrapStoreErr("worker.createObservation", assert.AnError)
	assert.Equal(s.T(), errs.TransientIO, errs.KindOf(wrapped))
}

func (s *ServiceSuite) TestIsExcluded() {
	svc := &Service{exclusions: map[string]struct{}{"secret-proj": {}}}
	assert.True(s.T(), svc.isExcluded("secret-proj"))
	assert.False(s.T(), svc.isExcluded("other-proj"))
	assert.False(s.T(), svc.isExcluded(""))
}

func (s *ServiceSuite) TestIsRetryable_JudgeParseErrorIsNotRetryable() {
	svc := &Service{}
	err := &judge.JSONParseError{Context: "x", Err: assert.AnError}
	assert.False(s.T(), svc.isRetryable(err))
}

func (s *ServiceSuite) TestIsRetryable_JudgeRetriesExhaustedIsRetryable() {
	svc := &Service{}
	err := &judge.RetriesExhaustedError{Err: assert.AnError}
	assert.True(s.T(), svc.isRetryable(err))
}

func (s *ServiceSuite) TestIsRetryable_TransientErrsIsRetryable() {
	svc := &Service{}
	err := errs.New(errs.TransientIO, "op", assert.AnError)
	assert.True(s.T(), svc.isRetryable(err))
}

func (s *ServiceSuite) TestIsRetryable_UntypedErrorIsNotRetryable() {
	svc := &Service{}
	assert.False(s.T(), svc.isRetryable(assert.AnError))
}

func (s *ServiceSuite) TestBroadcaster_PublishDeliversToSubscriber() {
	b := NewBroadcaster()
	ch, unsubscribe := b.Subscribe(1)
	defer unsubscribe()

	b.Publish(ObservationEvent{Kind: EventCreated, ObservationID: 7})

	select {
	case ev := <-ch:
		assert.Equal(s.T(), int64(7), ev.ObservationID)
		assert.Equal(s.T(), EventCreated, ev.Kind)
	default:
		s.T().Fatal("expected event to be delivered")
	}
}

func (s *ServiceSuite) TestBroadcaster_PublishDoesNotBlockOnFullSubscriber() {
	b := NewBroadcaster()
	ch, unsubscribe := b.Subscribe(1)
	defer unsubscribe()

	b.Publish(ObservationEvent{ObservationID: 1})
	assert.NotPanics(s.T(), func() { b.Publish(ObservationEvent{ObservationID: 2}) })

	first := <-ch
	assert.Equal(s.T(), int64(1), first.ObservationID)
}

func (s *ServiceSuite) TestBroadcaster_UnsubscribeStopsDelivery() {
	b := NewBroadcaster()
	ch, unsubscribe := b.Subscribe(1)
	unsubscribe()

	b.Publish(ObservationEvent{ObservationID: 1})
	_, ok := <-ch
	assert.False(s.T(), ok)
}

func (s *ServiceSuite) TestApply_ExcludedProjectResolvesWithNoMutation() {
	svc := newTestService([]string{"secret-proj"})
	msg := &models.PendingMessage{
		ID:           1,
		SessionID:    "sess-1",
		Project:      sql.NullString{String: "secret-proj", Valid: true},
		ToolName:     "Bash",
		ToolResponse: sql.NullString{String: "a perfectly normal observation about a bug", Valid: true},
	}
	assert.NoError(s.T(), svc.apply(context.Background(), msg))
}

func (s *ServiceSuite) TestApply_LowValueTitleResolvesWithNoMutation() {
	svc := newTestService(nil)
	msg := &models.PendingMessage{
		ID:           2,
		SessionID:    "sess-2",
		ToolName:     "Bash",
		ToolResponse: sql.NullString{String: "routine code quality pass, nothing notable", Valid: true},
	}
	assert.NoError(s.T(), svc.apply(context.Background(), msg))
}
