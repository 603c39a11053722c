package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/Gbuzzer/Audio-Transcriber/config"
	"github.com/Gbuzzer/Audio-Transcriber/core"
)

const (
	milvusCollection = "transcripts"
	milvusDim        = 1536
	// varchar field capacity; transcripts longer than this are stored
	// truncated, the full text lives in the API response only.
	milvusMaxText = 60000
)

// MilvusStore keeps transcripts in a Milvus collection with an HNSW cosine
// index. Unlike the other backends it cannot run without an embedding API,
// because every row needs a vector.
type MilvusStore struct {
	mc   client.Client
	coll string
	emb  *Embedder
}

func NewMilvusStore(ctx context.Context, cfg *config.Config) (*MilvusStore, error) {
	emb := NewEmbedder(cfg)
	if emb == nil {
		return nil, fmt.Errorf("milvus store needs api_key and base_url for embeddings")
	}

	mc, err := client.NewClient(ctx, client.Config{Address: cfg.MilvusAddr})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	s := &MilvusStore{mc: mc, coll: milvusCollection, emb: emb}
	if err := s.ensureCollection(ctx); err != nil {
		mc.Close()
		return nil, err
	}
	return s, nil
}

func (s *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !has {
		schema := entity.NewSchema().WithName(s.coll)
		schema.WithField(entity.NewField().WithName("id").WithIsPrimaryKey(true).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("filename").WithDataType(entity.FieldTypeVarChar).WithMaxLength(500))
		schema.WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535))
		schema.WithField(entity.NewField().WithName("duration").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("size_bytes").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("segments").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("failed_segments").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("created_at").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(milvusDim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusStore) Name() string { return "milvus" }

func (s *MilvusStore) Save(ctx context.Context, rec core.TranscriptRecord) error {
	vec, err := s.emb.Embed(ctx, rec.Filename+" "+rec.Text)
	if err != nil {
		return fmt.Errorf("embed transcript %s: %w", rec.ID, err)
	}

	// Delete-then-insert keeps Save idempotent for a varchar primary key.
	if err := s.mc.Delete(ctx, s.coll, "", fmt.Sprintf("id == %q", rec.ID)); err != nil {
		return fmt.Errorf("replace transcript %s: %w", rec.ID, err)
	}

	text := truncateBytes(rec.Text, milvusMaxText)
	_, err = s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("id", []string{rec.ID}),
		entity.NewColumnVarChar("filename", []string{rec.Filename}),
		entity.NewColumnVarChar("text", []string{text}),
		entity.NewColumnDouble("duration", []float64{rec.Duration}),
		entity.NewColumnInt64("size_bytes", []int64{rec.SizeBytes}),
		entity.NewColumnInt64("segments", []int64{int64(rec.Segments)}),
		entity.NewColumnInt64("failed_segments", []int64{int64(rec.FailedSegments)}),
		entity.NewColumnInt64("created_at", []int64{rec.CreatedAt.Unix()}),
		entity.NewColumnFloatVector("vector", milvusDim, [][]float32{vec}),
	)
	if err != nil {
		return fmt.Errorf("insert transcript %s: %w", rec.ID, err)
	}
	return nil
}

var milvusOutputFields = []string{"id", "filename", "text", "duration", "size_bytes", "segments", "failed_segments", "created_at"}

func (s *MilvusStore) Get(ctx context.Context, id string) (core.TranscriptRecord, error) {
	res, err := s.mc.Query(ctx, s.coll, nil, fmt.Sprintf("id == %q", id), milvusOutputFields)
	if err != nil {
		return core.TranscriptRecord{}, fmt.Errorf("get transcript %s: %w", id, err)
	}
	recs := recordsFromColumns(res)
	if len(recs) == 0 {
		return core.TranscriptRecord{}, ErrNotFound
	}
	return recs[0], nil
}

func (s *MilvusStore) List(ctx context.Context) ([]core.TranscriptRecord, error) {
	res, err := s.mc.Query(ctx, s.coll, nil, `id != ""`, milvusOutputFields)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	recs := recordsFromColumns(res)
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	return recs, nil
}

func (s *MilvusStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.mc.Delete(ctx, s.coll, "", fmt.Sprintf("id == %q", id)); err != nil {
		return fmt.Errorf("delete transcript %s: %w", id, err)
	}
	return nil
}

func (s *MilvusStore) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	vec, err := s.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	sp, err := entity.NewIndexHNSWSearchParam(74)
	if err != nil {
		return nil, fmt.Errorf("search params: %w", err)
	}
	results, err := s.mc.Search(ctx, s.coll, nil, "", milvusOutputFields,
		[]entity.Vector{entity.FloatVector(vec)}, "vector", entity.COSINE, limit, sp)
	if err != nil {
		return nil, fmt.Errorf("search transcripts: %w", err)
	}

	var hits []SearchHit
	for _, r := range results {
		recs := recordsFromColumns(r.Fields)
		for i, rec := range recs {
			hit := SearchHit{Record: rec}
			if i < len(r.Scores) {
				hit.Score = float64(r.Scores[i])
			}
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

func (s *MilvusStore) Close(ctx context.Context) error {
	return s.mc.Close()
}

// recordsFromColumns rebuilds transcript records from a Milvus result set.
// Missing columns leave their fields zero rather than failing the call.
func recordsFromColumns(cols []entity.Column) []core.TranscriptRecord {
	byName := map[string]entity.Column{}
	count := 0
	for _, c := range cols {
		byName[c.Name()] = c
		if c.Len() > count {
			count = c.Len()
		}
	}

	varchar := func(name string, i int) string {
		if c, ok := byName[name].(*entity.ColumnVarChar); ok {
			if data := c.Data(); i < len(data) {
				return data[i]
			}
		}
		return ""
	}
	i64 := func(name string, i int) int64 {
		if c, ok := byName[name].(*entity.ColumnInt64); ok {
			if data := c.Data(); i < len(data) {
				return data[i]
			}
		}
		return 0
	}
	f64 := func(name string, i int) float64 {
		if c, ok := byName[name].(*entity.ColumnDouble); ok {
			if data := c.Data(); i < len(data) {
				return data[i]
			}
		}
		return 0
	}

	recs := make([]core.TranscriptRecord, 0, count)
	for i := 0; i < count; i++ {
		recs = append(recs, core.TranscriptRecord{
			ID:             varchar("id", i),
			Filename:       varchar("filename", i),
			Text:           varchar("text", i),
			Duration:       f64("duration", i),
			SizeBytes:      i64("size_bytes", i),
			Segments:       int(i64("segments", i)),
			FailedSegments: int(i64("failed_segments", i)),
			CreatedAt:      time.Unix(i64("created_at", i), 0).UTC(),
		})
	}
	return recs
}
