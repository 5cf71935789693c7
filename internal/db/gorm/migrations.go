package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/thebtf/memengine/pkg/models"
)

// runMigrations runs the gormigrate chain against a Postgres database, enabling pgvector
// and building the relational schema for every pkg/models type C2 persists.
func runMigrations(db *gorm.DB, embeddingDims int) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return err
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_sessions_and_prompts",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.Session{}, &models.UserPrompt{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&models.UserPrompt{}, &models.Session{})
			},
		},
		{
			ID: "002_observations",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.Observation{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&models.Observation{})
			},
		},
		{
			ID: "003_session_summaries",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.SessionSummary{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&models.SessionSummary{})
			},
		},
		{
			ID: "004_queue",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.PendingMessage{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&models.PendingMessage{})
			},
		},
		{
			ID: "005_hierarchy",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.RawEvent{}, &models.Summary{}, &models.GlobalKnowledge{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&models.GlobalKnowledge{}, &models.Summary{}, &models.RawEvent{})
			},
		},
		{
			ID: "006_observation_relations",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.ObservationRelation{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&models.ObservationRelation{})
			},
		},
		// Observation full-text search: a generated tsvector over title/subtitle/narrative,
		// weighted A/B/C per the ranking rule in §6.4, with a GIN index.
		{
			ID: "007_observations_fts",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					`ALTER TABLE observations
					 ADD COLUMN IF NOT EXISTS search_vector tsvector
					 GENERATED ALWAYS AS (
					   setweight(to_tsvector('english', COALESCE(title, '')), 'A') ||
					   setweight(to_tsvector('english', COALESCE(subtitle, '')), 'B') ||
					   setweight(to_tsvector('english', COALESCE(narrative, '')), 'C')
					 ) STORED`,
					`CREATE INDEX IF NOT EXISTS idx_observations_fts
					 ON observations USING GIN(search_vector)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				for _, s := range []string{
					"DROP INDEX IF EXISTS idx_observations_fts",
					"ALTER TABLE observations DROP COLUMN IF EXISTS search_vector",
				} {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			ID: "008_user_prompts_fts",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					`ALTER TABLE user_prompts
					 ADD COLUMN IF NOT EXISTS search_vector tsvector
					 GENERATED ALWAYS AS (to_tsvector('english', COALESCE(prompt_text, ''))) STORED`,
					`CREATE INDEX IF NOT EXISTS idx_user_prompts_fts
					 ON user_prompts USING GIN(search_vector)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				for _, s := range []string{
					"DROP INDEX IF EXISTS idx_user_prompts_fts",
					"ALTER TABLE user_prompts DROP COLUMN IF EXISTS search_vector",
				} {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
		// Vectors table backing C3/C4: one row per observation embedding, cosine-indexed
		// via HNSW. Dimensionality comes from the running embedding provider (§4.6's D).
		{
			ID: "009_vectors",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vectors (
						observation_id BIGINT PRIMARY KEY REFERENCES observations(id) ON DELETE CASCADE,
						embedding      vector(%d) NOT NULL,
						model_version  TEXT,
						created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
					)`, embeddingDims),
					`CREATE INDEX IF NOT EXISTS idx_vectors_embedding_hnsw
					 ON vectors USING hnsw (embedding vector_cosine_ops)
					 WITH (m = 16, ef_construction = 64)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP TABLE IF EXISTS vectors").Error
			},
		},
	})

	return m.Migrate()
}
