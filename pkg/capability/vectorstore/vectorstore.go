// Package vectorstore implements capability.VectorStore over a Postgres
// document table, queried through jmoiron/sqlx the same way
// pkg/statestore is — the teacher ships no vector database client, so
// this stores embeddings as a float8[] column and ranks search hits by
// cosine similarity computed in Go with pkg/shared/math rather than
// pulling in a vector-database SDK absent from the whole example pack.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability"
	sharedmath "github.com/jordigilh/kubernaut-workflow-engine/pkg/shared/math"
)

const schema = `
CREATE TABLE IF NOT EXISTS kb_documents (
	doc_id     TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding  DOUBLE PRECISION[] NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Embedder produces a fixed-size vector for a chunk of text. Kept
// separate from the store so the embedding model can be swapped (or
// stubbed in tests) without touching persistence.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Store is a Postgres-backed capability.VectorStore.
type Store struct {
	db       *sqlx.DB
	embedder Embedder
}

// Open connects through pgx's stdlib driver and applies the schema
// idempotently, mirroring pkg/statestore.Open.
func Open(ctx context.Context, dsn string, embedder Embedder) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "connect vector store").MarkFatal()
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "apply vector store schema").MarkFatal()
	}
	return &Store{db: db, embedder: embedder}, nil
}

// New wraps an already-open sqlx.DB, used by tests against sqlmock.
func New(db *sqlx.DB, embedder Embedder) *Store {
	return &Store{db: db, embedder: embedder}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Embed implements capability.VectorStore.
func (s *Store) Embed(ctx context.Context, docID, text string, metadata map[string]string) (capability.EmbedResult, error) {
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return capability.EmbedResult{}, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "compute embedding")
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return capability.EmbedResult{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal document metadata")
	}

	var existedBefore bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM kb_documents WHERE doc_id = $1)`, docID).Scan(&existedBefore); err != nil {
		return capability.EmbedResult{}, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "check existing document")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kb_documents (doc_id, text, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (doc_id) DO UPDATE SET text = $2, metadata = $3, embedding = $4, updated_at = now()
	`, docID, text, metaJSON, pq.Array(vector))
	if err != nil {
		return capability.EmbedResult{}, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "upsert document embedding")
	}

	operation := capability.OperationCreated
	if existedBefore {
		operation = capability.OperationUpdated
	}

	return capability.EmbedResult{
		EmbeddingID: checksumID(docID),
		ChunkCount:  1,
		Operation:   operation,
	}, nil
}

// Search implements capability.VectorStore, ranking by cosine similarity
// computed in application code over the candidate set.
func (s *Store) Search(ctx context.Context, query string, k int) ([]capability.SearchResult, error) {
	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "compute query embedding")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT doc_id, text, metadata, embedding FROM kb_documents`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "query candidate documents")
	}
	defer rows.Close()

	type scored struct {
		result     capability.SearchResult
		similarity float64
	}
	var candidates []scored

	for rows.Next() {
		var (
			docID    string
			text     string
			metaJSON []byte
			vector   []float64
		)
		if err := rows.Scan(&docID, &text, &metaJSON, pq.Array(&vector)); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "scan candidate document")
		}

		var metadata map[string]string
		_ = json.Unmarshal(metaJSON, &metadata)

		similarity := sharedmath.CosineSimilarity(queryVector, vector)
		candidates = append(candidates, scored{
			result: capability.SearchResult{
				ID:       docID,
				Text:     text,
				Metadata: metadata,
				Distance: 1 - similarity,
			},
			similarity: similarity,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "iterate candidate documents")
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]capability.SearchResult, 0, k)
	for i := 0; i < k; i++ {
		results = append(results, candidates[i].result)
	}
	return results, nil
}

// Delete implements capability.VectorStore.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kb_documents WHERE doc_id = $1`, docID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "delete document")
	}
	return nil
}

// BatchApply implements capability.VectorStore, applying every upsert and
// delete inside a single transaction and reporting a partial status if
// any individual operation fails.
func (s *Store) BatchApply(ctx context.Context, upserts map[string]string, deletes []string) (capability.BatchResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return capability.BatchResult{}, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "begin batch transaction")
	}
	defer tx.Rollback()

	result := capability.BatchResult{Status: capability.BatchSuccess}
	var failures int

	for docID, text := range upserts {
		vector, err := s.embedder.Embed(ctx, text)
		if err != nil {
			failures++
			continue
		}
		metaJSON, _ := json.Marshal(map[string]string{})
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kb_documents (doc_id, text, metadata, embedding, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (doc_id) DO UPDATE SET text = $2, metadata = $3, embedding = $4, updated_at = now()
		`, docID, text, metaJSON, pq.Array(vector)); err != nil {
			failures++
			continue
		}
		result.Updated++
	}

	for _, docID := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kb_documents WHERE doc_id = $1`, docID); err != nil {
			failures++
			continue
		}
		result.Deleted++
	}

	if err := tx.Commit(); err != nil {
		return capability.BatchResult{}, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "commit batch transaction")
	}

	switch {
	case failures == 0:
		result.Status = capability.BatchSuccess
	case result.Updated+result.Deleted == 0:
		result.Status = capability.BatchFailed
	default:
		result.Status = capability.BatchPartial
	}
	return result, nil
}

func checksumID(docID string) string {
	sum := sha256.Sum256([]byte(docID))
	return hex.EncodeToString(sum[:])[:16]
}
