package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/Gbuzzer/Audio-Transcriber/config"
	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// PostgresStore keeps transcripts in a single table with a pgvector column.
// When an embedding API is configured, saves write an embedding and search
// ranks by cosine similarity; without one the embedding stays NULL and search
// degrades to substring matching.
type PostgresStore struct {
	pool *pgxpool.Pool
	emb  *Embedder
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("postgres_url not configured")
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, emb: NewEmbedder(cfg)}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	ddl := `
		CREATE TABLE IF NOT EXISTS transcripts (
			id VARCHAR(64) PRIMARY KEY,
			filename VARCHAR(500) NOT NULL,
			text TEXT NOT NULL,
			duration FLOAT NOT NULL,
			size_bytes BIGINT NOT NULL,
			segments INT NOT NULL,
			failed_segments INT NOT NULL,
			embedding vector(1536),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Save(ctx context.Context, rec core.TranscriptRecord) error {
	var vec any
	if s.emb != nil {
		if v, err := s.emb.Embed(ctx, rec.Filename+" "+rec.Text); err == nil {
			vec = pgvector.NewVector(v)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcripts (id, filename, text, duration, size_bytes, segments, failed_segments, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET
			filename = EXCLUDED.filename,
			text = EXCLUDED.text,
			duration = EXCLUDED.duration,
			size_bytes = EXCLUDED.size_bytes,
			segments = EXCLUDED.segments,
			failed_segments = EXCLUDED.failed_segments,
			embedding = EXCLUDED.embedding
	`, rec.ID, rec.Filename, rec.Text, rec.Duration, rec.SizeBytes, rec.Segments, rec.FailedSegments, vec, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save transcript %s: %w", rec.ID, err)
	}
	return nil
}

const recordColumns = "id, filename, text, duration, size_bytes, segments, failed_segments, created_at"

func scanRecord(row pgx.Row) (core.TranscriptRecord, error) {
	var rec core.TranscriptRecord
	err := row.Scan(&rec.ID, &rec.Filename, &rec.Text, &rec.Duration,
		&rec.SizeBytes, &rec.Segments, &rec.FailedSegments, &rec.CreatedAt)
	return rec, err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (core.TranscriptRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM transcripts WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.TranscriptRecord{}, ErrNotFound
	}
	if err != nil {
		return core.TranscriptRecord{}, fmt.Errorf("get transcript %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]core.TranscriptRecord, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+recordColumns+" FROM transcripts ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var recs []core.TranscriptRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, "DELETE FROM transcripts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete transcript %s: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}

	if s.emb != nil {
		if v, err := s.emb.Embed(ctx, query); err == nil {
			return s.vectorSearch(ctx, pgvector.NewVector(v), limit)
		}
	}
	return s.substringSearch(ctx, query, limit)
}

func (s *PostgresStore) vectorSearch(ctx context.Context, vec pgvector.Vector, limit int) ([]SearchHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`, 1 - (embedding <=> $1) AS similarity
		FROM transcripts
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search transcripts: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var hit SearchHit
		err := rows.Scan(&hit.Record.ID, &hit.Record.Filename, &hit.Record.Text, &hit.Record.Duration,
			&hit.Record.SizeBytes, &hit.Record.Segments, &hit.Record.FailedSegments, &hit.Record.CreatedAt,
			&hit.Score)
		if err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (s *PostgresStore) substringSearch(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM transcripts
		WHERE text ILIKE '%' || $1 || '%' OR filename ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search transcripts: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, SearchHit{Record: rec, Score: 1})
	}
	return hits, rows.Err()
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
