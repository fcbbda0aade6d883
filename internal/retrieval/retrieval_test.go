package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentjira/internal/gateway"
	"agentjira/internal/stories"
)

// bagOfWords is a deterministic embedding: each word bumps one of 32 buckets.
type bagOfWords struct {
	fail  error
	calls int
}

func (b *bagOfWords) vector(text string) []float32 {
	v := make([]float32, 32)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,:;!?")))
		v[h.Sum32()%32]++
	}
	return v
}

func (b *bagOfWords) Embed(_ context.Context, q string) ([]float32, error) {
	b.calls++
	if b.fail != nil {
		return nil, b.fail
	}
	return b.vector(q), nil
}

func (b *bagOfWords) EmbedDocuments(_ context.Context, docs []string) ([][]float32, error) {
	b.calls++
	out := make([][]float32, len(docs))
	for i, d := range docs {
		out[i] = b.vector(d)
	}
	return out, nil
}

func (b *bagOfWords) Name() string { return "bow" }

func openStore(t *testing.T, engine *bagOfWords) *VectorStore {
	t.Helper()
	s, err := OpenVectorStore(context.Background(), "sqlite", filepath.Join(t.TempDir(), "vectors.db"), engine, "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var corpus = []Document{
	{ID: "auth", Content: "login password authentication session token", Source: "auth.md"},
	{ID: "billing", Content: "invoice payment billing currency refund", Source: "billing.md"},
	{ID: "search", Content: "search index query ranking relevance", Source: "search.md"},
}

func TestVectorStore_Search(t *testing.T) {
	for _, mode := range []string{"sql", "in-process"} {
		t.Run(mode, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, &bagOfWords{})
			if mode == "in-process" {
				s.distance = ""
			}
			require.NoError(t, s.Add(ctx, corpus))

			got, err := s.Search(ctx, "user login with password", 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "auth", got[0].ID)
			assert.Equal(t, "auth.md", got[0].Source)
			assert.Greater(t, got[0].Score, got[1].Score)
			assert.LessOrEqual(t, got[0].Score, 1.0+1e-9)
		})
	}
}

func TestVectorStore_AddReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, &bagOfWords{})
	require.NoError(t, s.Add(ctx, corpus))
	require.NoError(t, s.Add(ctx, []Document{{ID: "auth", Content: "replaced"}}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.Search(ctx, "replaced", 1)
	require.NoError(t, err)
	assert.Equal(t, "replaced", got[0].Content)

	require.NoError(t, s.DeleteCollection(ctx))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVectorStore_CollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")
	engine := &bagOfWords{}

	a, err := OpenVectorStore(ctx, "sqlite", path, engine, "a")
	require.NoError(t, err)
	require.NoError(t, a.Add(ctx, corpus))
	require.NoError(t, a.Close())

	b, err := OpenVectorStore(ctx, "sqlite", path, engine, "b")
	require.NoError(t, err)
	defer b.Close()
	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenVectorStore_RequiresEngine(t *testing.T) {
	_, err := OpenVectorStore(context.Background(), "sqlite", filepath.Join(t.TempDir(), "v.db"), nil, "")
	assert.Error(t, err)
}

func TestRetriever(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, &bagOfWords{})
	require.NoError(t, s.Add(ctx, corpus))

	r := NewRetriever(s, 3, WithMinScore(0.1))
	got, err := r.Retrieve(ctx, "refund an invoice payment")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "billing", got[0].ID)
	for _, sn := range got {
		assert.GreaterOrEqual(t, sn.Score, 0.1)
	}
}

func TestRetriever_WrapsErrors(t *testing.T) {
	engine := &bagOfWords{}
	s := openStore(t, engine)
	r := NewRetriever(s, 3)

	engine.fail = errors.New("connection reset by peer")
	_, err := r.Retrieve(context.Background(), "q")
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gateway.KindRetrieval, gwErr.Kind)
	assert.True(t, gwErr.Retryable)

	engine.fail = errors.New("invalid api key")
	_, err = r.Retrieve(context.Background(), "q")
	require.ErrorAs(t, err, &gwErr)
	assert.False(t, gwErr.Retryable)
}

func TestQuery(t *testing.T) {
	q := Query(stories.Story{Title: "Login", Description: "Add SSO", Components: []string{"auth", "web"}})
	assert.Equal(t, "Login\nAdd SSO\nComponents: auth, web", q)
}

func TestChunk(t *testing.T) {
	text := "para one\n\npara two\n\n\n\npara three"
	assert.Equal(t, []string{"para one\n\npara two\n\npara three"}, Chunk(text, 1000))
	assert.Equal(t, []string{"para one", "para two", "para three"}, Chunk(text, 12))

	long := strings.Repeat("x", 25)
	chunks := Chunk(long, 10)
	assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, chunks)

	assert.Empty(t, Chunk("  \n\n ", 10))
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide.md"), []byte("auth login\n\nbilling invoice"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "binary.png"), []byte{0x89, 0x50}, 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "notes.md"), []byte("ignored"), 0644))

	s := openStore(t, &bagOfWords{})
	stats, err := Ingest(ctx, s, []string{dir}, 20)
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Files: 1, Documents: 2}, stats)

	// stable IDs: a second ingest replaces
	_, err = Ingest(ctx, s, []string{dir}, 20)
	require.NoError(t, err)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
