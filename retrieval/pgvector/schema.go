package pgvector

import (
	"context"
	"fmt"
)

const createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS vector`

const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    id         TEXT PRIMARY KEY,
    content    TEXT NOT NULL,
    metadata   JSONB,
    embedding  vector(%d) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the vector extension and the documents table for
// embeddings of the given dimension. Production deployments should manage
// schema with migrations instead.
func (s *Store) EnsureSchema(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("pgvector: dimensions must be positive, got %d", dimensions)
	}
	if _, err := s.db.Exec(ctx, createExtensionSQL); err != nil {
		return fmt.Errorf("pgvector: create extension: %w", err)
	}
	if _, err := s.db.Exec(ctx, fmt.Sprintf(createTableSQL, s.tableName, dimensions)); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}
	return nil
}
