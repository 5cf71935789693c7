package pgvector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/memengine/internal/errs"
)

type ClientSuite struct {
	suite.Suite
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

// zero-vector and validation-error paths all return before the GORM handle is ever touched,
// so a Client with a nil db is enough to exercise them without a database.

func (s *ClientSuite) TestStoreEmbedding_ZeroVectorIsSilentNoOp() {
	c := New(nil, 3)
	err := c.StoreEmbedding(context.Background(), 1, []float32{0, 0, 0})
	assert.NoError(s.T(), err)
}

func (s *ClientSuite) TestStoreEmbedding_WrongDimensionIsValidationError() {
	c := New(nil, 3)
	err := c.StoreEmbedding(context.Background(), 1, []float32{1, 2})
	require := s.Require()
	require.Error(err)
	assert.Equal(s.T(), errs.Validation, errs.KindOf(err))
}

func (s *ClientSuite) TestStoreEmbedding_NaNIsValidationError() {
	c := New(nil, 2)
	err := c.StoreEmbedding(context.Background(), 1, []float32{1, float32Nan()})
	require := s.Require()
	require.Error(err)
	assert.Equal(s.T(), errs.Validation, errs.KindOf(err))
}

func (s *ClientSuite) TestFindSimilarMany_ZeroVectorDegradesToNoMatches() {
	c := New(nil, 3)
	matches, err := c.FindSimilarMany(context.Background(), []float32{0, 0, 0}, 0.5, 10)
	assert.NoError(s.T(), err)
	assert.Nil(s.T(), matches)
}

func (s *ClientSuite) TestFindSimilarMany_EmptyVectorDegradesToNoMatches() {
	c := New(nil, 3)
	matches, err := c.FindSimilarMany(context.Background(), nil, 0.5, 10)
	assert.NoError(s.T(), err)
	assert.Nil(s.T(), matches)
}

func (s *ClientSuite) TestIsUsableVector() {
	assert.False(s.T(), isUsableVector(nil))
	assert.False(s.T(), isUsableVector([]float32{0, 0, 0}))
	assert.True(s.T(), isUsableVector([]float32{0, 1, 0}))
}

func float32Nan() float32 {
	var zero float32
	return zero / zero
}
