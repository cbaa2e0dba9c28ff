// Package pgvector implements a retrieval.Store over PostgreSQL with the
// pgvector extension. Queries rank by cosine distance (the <=> operator).
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/retrieval"
)

const defaultTableName = "agentgraph_documents"

// Querier abstracts the pgx methods the store needs. *pgxpool.Pool, *pgx.Conn
// and pgx.Tx satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store searches a documents table holding id, content, metadata (JSONB)
// and embedding (vector) columns.
type Store struct {
	db        Querier
	name      string
	tableName string
	embedder  retrieval.Embedder
}

var _ retrieval.Store = (*Store)(nil)

// Option configures optional Store behavior.
type Option func(*Store)

// WithTableName overrides the default table name. The name is sanitized via
// pgx.Identifier since it is interpolated into SQL.
func WithTableName(name string) Option {
	return func(s *Store) {
		s.tableName = pgx.Identifier{name}.Sanitize()
	}
}

// New creates a store named name.
func New(db Querier, name string, embedder retrieval.Embedder, opts ...Option) *Store {
	s := &Store{db: db, name: name, tableName: defaultTableName, embedder: embedder}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements retrieval.Store.
func (s *Store) Name() string { return s.name }

// ScoreKind implements retrieval.Store.
func (s *Store) ScoreKind() retrieval.ScoreKind { return retrieval.Distance }

// Search implements retrieval.Store.
func (s *Store) Search(ctx context.Context, query string, k int) ([]retrieval.Hit, error) {
	vec, err := s.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT id, content, metadata, embedding <=> $1::vector AS distance
		FROM %s ORDER BY distance ASC, id ASC LIMIT $2`, s.tableName)

	rows, err := s.db.Query(ctx, sql, vec, k)
	if err != nil {
		return nil, s.wrap("search", err)
	}
	defer rows.Close()

	var hits []retrieval.Hit
	for rows.Next() {
		var (
			doc      core.Document
			metadata []byte
			distance float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &metadata, &distance); err != nil {
			return nil, s.wrap("scan", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata of %q: %w", doc.ID, err)
			}
		}
		hits = append(hits, retrieval.Hit{Document: doc, Score: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("rows", err)
	}
	return hits, nil
}

// Upsert embeds and writes documents, replacing rows with the same id.
func (s *Store) Upsert(ctx context.Context, docs ...core.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("pgvector: embed: %w", err)
	}
	if len(vectors) != len(docs) {
		return errors.New("pgvector: embedder returned wrong number of vectors")
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4::vector)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`,
		s.tableName)
	for i, d := range docs {
		var metadata []byte
		if d.Metadata != nil {
			if metadata, err = json.Marshal(d.Metadata); err != nil {
				return fmt.Errorf("pgvector: encode metadata of %q: %w", d.ID, err)
			}
		}
		if _, err := s.db.Exec(ctx, sql, d.ID, d.Content, metadata, VectorLiteral(vectors[i])); err != nil {
			return s.wrap("upsert", err)
		}
	}
	return nil
}

// Delete removes documents by id.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	sql := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.tableName)
	if _, err := s.db.Exec(ctx, sql, ids); err != nil {
		return s.wrap("delete", err)
	}
	return nil
}

func (s *Store) embedOne(ctx context.Context, text string) (string, error) {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("pgvector: embed query: %w", err)
	}
	if len(vectors) != 1 {
		return "", errors.New("pgvector: embedder returned wrong number of vectors")
	}
	return VectorLiteral(vectors[0]), nil
}

// wrap marks connection-level failures as transient for the gateway.
func (s *Store) wrap(op string, err error) error {
	if isTransient(err) {
		return &retrieval.RetrievalError{Store: s.name, Transient: true, Cause: fmt.Errorf("pgvector: %s: %w", op, err)}
	}
	return fmt.Errorf("pgvector: %s: %w", op, err)
}

func isTransient(err error) bool {
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			pgErr.Code == "40001",               // serialization failure
			pgErr.Code == "40P01",               // deadlock detected
			pgErr.Code == "57P01":               // admin shutdown
			return true
		}
	}
	return false
}

// VectorLiteral renders v in pgvector's text input format, e.g. "[1,0.5]".
func VectorLiteral(v []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}
