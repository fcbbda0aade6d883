// Package retrieval indexes reference documents in SQLite and returns the
// snippets most similar to a story, for use as expansion context.
package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"agentjira/internal/embedding"
	"agentjira/internal/gateway"
	"agentjira/internal/logging"
	"agentjira/internal/store"
)

// DefaultCollection groups documents when the caller does not name one.
const DefaultCollection = "jira_stories"

const embedBatchSize = 32

var schema = []store.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			content    TEXT NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			metadata   TEXT NOT NULL DEFAULT '{}',
			embedding  BLOB NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
	}},
}

// Document is a unit of reference material to index.
type Document struct {
	ID       string
	Content  string
	Source   string
	Metadata map[string]string
}

// VectorStore persists documents with their embeddings.
type VectorStore struct {
	db         *sql.DB
	engine     embedding.Engine
	collection string
	distance   string // SQL distance function, "" to rank in Go
}

// OpenVectorStore opens or creates the store at path.
func OpenVectorStore(ctx context.Context, driver, path string, engine embedding.Engine, collection string) (*VectorStore, error) {
	if engine == nil {
		return nil, fmt.Errorf("retrieval: embedding engine is required")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	db, err := store.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	if _, err := store.Migrate(ctx, db, "retrieval", schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("retrieval: %w", err)
	}

	vs := &VectorStore{
		db:         db,
		engine:     engine,
		collection: collection,
		distance:   store.VectorDistanceFunc(driver),
	}
	if vs.distance == "" {
		logging.Get(logging.CategoryRetrieval).Warn("No SQL vector distance for driver %s; ranking in process", driver)
	}
	logging.Retrieval("Vector store opened at %s (collection=%s, engine=%s)", path, collection, engine.Name())
	return vs, nil
}

// Close closes the database.
func (s *VectorStore) Close() error { return s.db.Close() }

// Add embeds and upserts docs. Documents with an existing ID are replaced.
func (s *VectorStore) Add(ctx context.Context, docs []Document) error {
	timer := logging.StartTimer(logging.CategoryRetrieval, "VectorStore.Add")
	defer timer.Stop()

	for start := 0; start < len(docs); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}
		vecs, err := s.engine.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("retrieval: embed documents: %w", err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("retrieval: got %d embeddings for %d documents", len(vecs), len(batch))
		}
		if err := s.insert(ctx, batch, vecs); err != nil {
			return err
		}
	}

	logging.Retrieval("Added %d documents to %s", len(docs), s.collection)
	return nil
}

func (s *VectorStore) insert(ctx context.Context, docs []Document, vecs [][]float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("retrieval: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC().Format(time.RFC3339)
	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("retrieval: metadata for %s: %w", d.ID, err)
		}
		if d.Metadata == nil {
			meta = []byte("{}")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, content, source, metadata, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET
				content = excluded.content,
				source = excluded.source,
				metadata = excluded.metadata,
				embedding = excluded.embedding`,
			s.collection, d.ID, d.Content, d.Source, string(meta), store.EncodeVector(vecs[i]), now)
		if err != nil {
			return fmt.Errorf("retrieval: insert %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns up to k snippets most similar to query, best first.
// Score is cosine similarity.
func (s *VectorStore) Search(ctx context.Context, query string, k int) ([]gateway.ContextSnippet, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "VectorStore.Search")
	defer timer.Stop()

	if k <= 0 {
		return nil, nil
	}
	qvec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var out []gateway.ContextSnippet
	if s.distance != "" {
		out, err = s.searchSQL(ctx, qvec, k)
	} else {
		out, err = s.searchInProcess(ctx, qvec, k)
	}
	if err != nil {
		return nil, err
	}
	logging.RetrievalDebug("Search returned %d snippets (k=%d)", len(out), k)
	return out, nil
}

func (s *VectorStore) searchSQL(ctx context.Context, qvec []float32, k int) ([]gateway.ContextSnippet, error) {
	// s.distance is one of two fixed function names, never user input.
	query := fmt.Sprintf(`
		SELECT id, content, source, %s(embedding, ?) AS distance
		FROM documents
		WHERE collection = ? AND length(embedding) = ?
		ORDER BY distance ASC, id ASC
		LIMIT ?`, s.distance)

	rows, err := s.db.QueryContext(ctx, query, store.EncodeVector(qvec), s.collection, 4*len(qvec), k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []gateway.ContextSnippet
	for rows.Next() {
		var (
			sn       gateway.ContextSnippet
			distance float64
		)
		if err := rows.Scan(&sn.ID, &sn.Content, &sn.Source, &distance); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		sn.Score = 1 - distance
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *VectorStore) searchInProcess(ctx context.Context, qvec []float32, k int) ([]gateway.ContextSnippet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, source, embedding FROM documents WHERE collection = ? ORDER BY id`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var (
		snippets []gateway.ContextSnippet
		corpus   [][]float32
	)
	for rows.Next() {
		var (
			sn   gateway.ContextSnippet
			blob []byte
		)
		if err := rows.Scan(&sn.ID, &sn.Content, &sn.Source, &blob); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		vec, err := store.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("search: %s: %w", sn.ID, err)
		}
		snippets = append(snippets, sn)
		corpus = append(corpus, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	ranked := embedding.FindTopK(qvec, corpus, k)
	out := make([]gateway.ContextSnippet, len(ranked))
	for i, r := range ranked {
		out[i] = snippets[r.Index]
		out[i].Score = r.Similarity
	}
	return out, nil
}

// Count returns the number of documents in the collection.
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, s.collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("retrieval: count: %w", err)
	}
	return n, nil
}

// DeleteCollection removes every document in the collection.
func (s *VectorStore) DeleteCollection(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, s.collection); err != nil {
		return fmt.Errorf("retrieval: delete collection: %w", err)
	}
	logging.Retrieval("Deleted collection %s", s.collection)
	return nil
}
