package search

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/memengine/pkg/models"
)

// ManagerSuite tests the pure helper functions behind the hybrid search fusion rules.
type ManagerSuite struct {
	suite.Suite
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) TestMatchesFilters() {
	obs := &models.Observation{
		Project:        sql.NullString{String: "proj-a", Valid: true},
		Type:           models.ObsTypeBugfix,
		CreatedAtEpoch: 1000,
	}

	tests := []struct {
		name   string
		params Params
		want   bool
	}{
		{"no filters", Params{}, true},
		{"matching project", Params{Project: "proj-a"}, true},
		{"non-matching project", Params{Project: "proj-b"}, false},
		{"matching type", Params{Type: models.ObsTypeBugfix}, true},
		{"non-matching type", Params{Type: models.ObsTypeFeature}, false},
		{"within range", Params{From: 500, To: 1500}, true},
		{"before range", Params{From: 1500}, false},
		{"after range", Params{To: 500}, false},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			assert.Equal(s.T(), tt.want, matchesFilters(obs, tt.params))
		})
	}
}

func (s *ManagerSuite) TestKeywordOverlap() {
	tests := []struct {
		name     string
		query    []string
		obs      models.JSONStringArray
		expected float64
	}{
		{"empty query keywords", nil, models.JSONStringArray{"a"}, 0},
		{"no overlap", []string{"x", "y"}, models.JSONStringArray{"a", "b"}, 0},
		{"full overlap", []string{"a", "b"}, models.JSONStringArray{"a", "b", "c"}, 1},
		{"partial overlap", []string{"a", "b"}, models.JSONStringArray{"a"}, 0.5},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			assert.InDelta(s.T(), tt.expected, keywordOverlap(tt.query, tt.obs), 1e-9)
		})
	}
}

func (s *ManagerSuite) TestToSearchResult() {
	obs := &models.Observation{
		ID:         7,
		Title:      "a very important observation about the system that exceeds one hundred characters of length for truncation testing purposes",
		Subtitle:   sql.NullString{String: "sub", Valid: true},
		Type:       models.ObsTypeDiscovery,
		NoiseLevel: models.NoiseHigh,
	}
	result := toSearchResult(obs, 0.42)
	assert.Equal(s.T(), int64(7), result.ID)
	assert.Equal(s.T(), "sub", result.Subtitle)
	assert.Equal(s.T(), models.ObsTypeDiscovery, result.Type)
	assert.Equal(s.T(), models.NoiseHigh, result.NoiseLevel)
	assert.InDelta(s.T(), 0.42, result.Score, 1e-9)
	assert.LessOrEqual(s.T(), len(result.Title), titleTruncateLen+3)
}

func (s *ManagerSuite) TestNormalizeQuery() {
	assert.Equal(s.T(), "hello world", normalizeQuery("  Hello   World  "))
}

func (s *ManagerSuite) TestClampLimit() {
	assert.Equal(s.T(), defaultQueryLimit, clampLimit(0))
	assert.Equal(s.T(), models.MaxQueryLimit, clampLimit(models.MaxQueryLimit+1))
	assert.Equal(s.T(), 10, clampLimit(10))
}

func (s *ManagerSuite) TestCacheKey_StableAndDistinguishing() {
	m := &Manager{}
	a := Params{Query: "foo bar", Project: "p", Limit: 10}
	b := Params{Query: "  Foo   Bar ", Project: "p", Limit: 10}
	c := Params{Query: "foo bar", Project: "other", Limit: 10}

	assert.Equal(s.T(), m.cacheKey(a), m.cacheKey(b))
	assert.NotEqual(s.T(), m.cacheKey(a), m.cacheKey(c))
}

func (s *ManagerSuite) TestTokenize() {
	assert.Equal(s.T(), []string{"hello", "world"}, tokenize("Hello   World"))
}
