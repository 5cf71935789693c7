// Package pgvector provides the PostgreSQL+pgvector backed embedding index (C3/C4).
package pgvector

import (
	"context"
	"fmt"
	"math"

	pgvec "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/memengine/internal/errs"
)

// vectorRecord is the GORM model for the vectors table created by the store migrations.
type vectorRecord struct {
	ObservationID int64        `gorm:"primaryKey;column:observation_id"`
	Embedding     pgvec.Vector `gorm:"column:embedding"`
}

func (vectorRecord) TableName() string { return "vectors" }

// Match is one result row from a similarity search.
type Match struct {
	ObservationID int64
	Similarity    float64
}

// Client is the embedding index over a GORM/pgvector-backed connection.
type Client struct {
	db  *gorm.DB
	dim int
}

// New wraps a GORM handle; dim is the expected embedding dimensionality (§4.6).
func New(db *gorm.DB, dim int) *Client {
	return &Client{db: db, dim: dim}
}

// StoreEmbedding validates and atomically replaces the vector for obsID. A zero vector is a
// silent no-op: the observation stays in the "without embeddings" set rather than getting a
// row whose cosine distance against everything else is undefined.
func (c *Client) StoreEmbedding(ctx context.Context, obsID int64, vec []float32) error {
	if len(vec) != c.dim {
		return errs.New(errs.Validation, "StoreEmbedding", fmt.Errorf("expected %d dimensions, got %d", c.dim, len(vec)))
	}
	allZero := true
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return errs.New(errs.Validation, "StoreEmbedding", fmt.Errorf("embedding contains NaN/Inf"))
		}
		if v != 0 {
			allZero = false
		}
	}
	if allZero {
		log.Warn().Int64("observation_id", obsID).Msg("embedding is all-zero, skipping store")
		return nil
	}

	rec := vectorRecord{ObservationID: obsID, Embedding: pgvec.NewVector(vec)}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "observation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"embedding"}),
	}).Create(&rec).Error
	if err != nil {
		return errs.New(errs.TransientIO, "StoreEmbedding", err)
	}
	return nil
}

// FindSimilar returns the single best match at or above threshold, or nil if none qualifies.
// Degrades gracefully (nil, nil) on an empty/zero query vector or backend unavailability —
// callers never see an error for a condition the search tier handles by falling back to
// text-only scoring.
func (c *Client) FindSimilar(ctx context.Context, vec []float32, threshold float64) (*Match, error) {
	matches, err := c.FindSimilarMany(ctx, vec, threshold, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// FindSimilarMany returns up to limit matches at or above threshold, ordered by similarity
// descending (monotonically non-increasing).
func (c *Client) FindSimilarMany(ctx context.Context, vec []float32, threshold float64, limit int) ([]Match, error) {
	if !isUsableVector(vec) {
		return nil, nil
	}

	queryVec := pgvec.NewVector(vec)
	type row struct {
		ObservationID int64
		Distance      float64
	}
	var rows []row
	err := c.db.WithContext(ctx).Raw(`
		SELECT observation_id, embedding <=> ? AS distance
		FROM vectors
		ORDER BY distance ASC
		LIMIT ?
	`, queryVec, limit).Scan(&rows).Error
	if err != nil {
		log.Warn().Err(err).Msg("vector similarity query failed, degrading to no matches")
		return nil, nil
	}

	out := make([]Match, 0, len(rows))
	for _, r := range rows {
		sim := 1.0 - r.Distance
		if sim >= threshold {
			out = append(out, Match{ObservationID: r.ObservationID, Similarity: sim})
		}
	}
	return out, nil
}

// DeleteEmbedding removes a vector, used when its owning observation is deleted outright.
func (c *Client) DeleteEmbedding(ctx context.Context, obsID int64) error {
	err := c.db.WithContext(ctx).Where("observation_id = ?", obsID).Delete(&vectorRecord{}).Error
	if err != nil {
		return errs.New(errs.TransientIO, "DeleteEmbedding", err)
	}
	return nil
}

func isUsableVector(vec []float32) bool {
	if len(vec) == 0 {
		return false
	}
	for _, v := range vec {
		if v != 0 {
			return true
		}
	}
	return false
}
