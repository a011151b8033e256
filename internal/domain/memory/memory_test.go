package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreInsertAndSearch(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &Entry{
		ID:        "test-1",
		Content:   "Hello world",
		Embedding: []float32{1.0, 0.0, 0.0},
		UserID:    "user-1",
		SessionID: "session-1",
		CreatedAt: time.Now(),
	}))

	results, err := store.Search(ctx, []float32{0.9, 0.1, 0.0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "test-1", results[0].ID)
	require.Greater(t, results[0].Score, float32(0))
}

func TestInMemoryStoreFilterByUserID(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &Entry{ID: "u1", Content: "a", Embedding: []float32{1, 0, 0}, UserID: "user-1"}))
	require.NoError(t, store.Insert(ctx, &Entry{ID: "u2", Content: "b", Embedding: []float32{1, 0, 0}, UserID: "user-2"}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, 10, &Filter{UserID: "user-2"})
	require.NoError(t, err)
	for _, r := range results {
		require.Equal(t, "user-2", r.UserID)
	}
}

func TestInMemoryStoreDelete(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &Entry{ID: "gone", Content: "x", Embedding: []float32{0, 1, 0}}))
	require.NoError(t, store.Delete(ctx, "gone"))

	results, _ := store.Search(ctx, []float32{0, 1, 0}, 10, nil)
	for _, r := range results {
		require.NotEqual(t, "gone", r.ID)
	}
}

func TestInMemoryStoreGetBySession(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &Entry{ID: "s1", Content: "x", Embedding: []float32{0.5, 0.5, 0}, SessionID: "sess-a"}))

	results, err := store.GetBySession(ctx, "sess-a")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "s1", results[0].ID)
}

func TestHashEmbedderDimensionAndNormalization(t *testing.T) {
	embedder := NewHashEmbedder(128)
	require.Equal(t, 128, embedder.Dimension())

	embedding, err := embedder.Embed(context.Background(), "Hello world")
	require.NoError(t, err)
	require.Len(t, embedding, 128)

	var norm float32
	for _, v := range embedding {
		norm += v * v
	}
	require.InDelta(t, 1.0, norm, 0.01)
}

func TestHashEmbedderSimilarTextsAreCloser(t *testing.T) {
	embedder := NewHashEmbedder(64)
	ctx := context.Background()
	emb1, _ := embedder.Embed(ctx, "Hello world")
	emb2, _ := embedder.Embed(ctx, "Hello there")
	emb3, _ := embedder.Embed(ctx, "Goodbye universe")

	require.Greater(t, cosineSimilarity(emb1, emb2), cosineSimilarity(emb1, emb3))
}

func TestManagerRememberAndRecall(t *testing.T) {
	manager := NewManager(NewInMemoryStore(), NewHashEmbedder(64), nil)
	ctx := context.Background()

	entry, err := manager.Remember(ctx, "User prefers dark mode", map[string]any{
		"user_id": "user-1",
		"type":    "preference",
	})
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)

	results, err := manager.Recall(ctx, "What theme does user want?", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestManagerForget(t *testing.T) {
	manager := NewManager(NewInMemoryStore(), NewHashEmbedder(64), nil)
	ctx := context.Background()

	entry, err := manager.Remember(ctx, "Temporary memory", nil)
	require.NoError(t, err)
	require.NoError(t, manager.Forget(ctx, entry.ID))
}

func TestManagerStats(t *testing.T) {
	manager := NewManager(NewInMemoryStore(), NewHashEmbedder(64), nil)
	ctx := context.Background()

	_, err := manager.Remember(ctx, "Ahmet went to Ankara with Mehmet", nil)
	require.NoError(t, err)

	stats, err := manager.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.EntryCount)
	require.GreaterOrEqual(t, stats.EntityCount, 2)
}

func TestManagerNeighbors(t *testing.T) {
	manager := NewManager(NewInMemoryStore(), NewHashEmbedder(64), nil)
	ctx := context.Background()

	_, err := manager.Remember(ctx, "Ahmet met Mehmet in Ankara", nil)
	require.NoError(t, err)
	_, err = manager.Remember(ctx, "Ahmet called Mehmet again", nil)
	require.NoError(t, err)

	neighbors := manager.Neighbors("Ahmet", 5)
	require.NotEmpty(t, neighbors)
	require.Equal(t, "Mehmet", neighbors[0].Entity)
	require.Equal(t, 2, neighbors[0].Weight)
}

func TestManagerDecayEvictsStaleEntries(t *testing.T) {
	store := NewInMemoryStore()
	manager := NewManager(store, NewHashEmbedder(64), nil)
	ctx := context.Background()

	entry, err := manager.Remember(ctx, "Old fact about Istanbul", nil)
	require.NoError(t, err)

	// Backdate the entry by two half-lives (48h at a 24h half-life, weight
	// 0.25), which puts it below the 0.3 eviction threshold.
	entry.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Update(ctx, entry))

	evicted, err := manager.Decay(ctx, 24*time.Hour, 0.3)
	require.NoError(t, err)
	require.Equal(t, 1, evicted)

	stats, err := manager.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.EntryCount)
}

func TestExtractEntities(t *testing.T) {
	entities := ExtractEntities("Ahmet bugün Ankara'ya Mehmet ile gitti.")
	require.Contains(t, entities, "Ahmet")
	require.Contains(t, entities, "Mehmet")
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float32
	}{
		{"Identical vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"Orthogonal vectors", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"Opposite vectors", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			require.InDelta(t, tt.want, got, 0.01)
		})
	}
}
