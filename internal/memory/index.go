package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Hit is one vector-index match.
type Hit struct {
	// ID is the matched item id.
	ID string
	// Similarity is the cosine similarity in [0,1].
	Similarity float64
}

// Index holds one vector collection per memory partition, backed by
// chromem-go. Embeddings live here, not on the stored items, so pruning
// an item also drops its vector.
type Index struct {
	db       *chromem.DB
	embedder Embedder

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewIndex creates a vector index using the given embedder for both
// documents and queries. When persistPath is non-empty the index is
// persisted under it, otherwise it lives in memory.
func NewIndex(persistPath string, embedder Embedder) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("vector index requires an embedder")
	}
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(persistPath, "vectors"), false)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &Index{
		db:          db,
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// collection returns the partition's collection, creating it on first
// use.
func (ix *Index) collection(partition string) (*chromem.Collection, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if c, ok := ix.collections[partition]; ok {
		return c, nil
	}
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return ix.embedder.Embed(ctx, text)
	}
	c, err := ix.db.GetOrCreateCollection(partition, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", partition, err)
	}
	ix.collections[partition] = c
	return c, nil
}

// Add indexes one document. A precomputed embedding is used as-is;
// otherwise the collection embeds the content itself.
func (ix *Index) Add(ctx context.Context, partition, id, content string, embedding []float32) error {
	c, err := ix.collection(partition)
	if err != nil {
		return err
	}
	err = c.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: embedding,
	})
	if err != nil {
		return fmt.Errorf("index document %s: %w", id, err)
	}
	return nil
}

// Query returns up to n hits for the query text, most similar first.
// An empty partition yields no hits.
func (ix *Index) Query(ctx context.Context, partition, query string, n int) ([]Hit, error) {
	c, err := ix.collection(partition)
	if err != nil {
		return nil, err
	}
	count := c.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}
	results, err := c.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", partition, err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

// Delete removes a document's embedding. Unknown ids are ignored.
func (ix *Index) Delete(ctx context.Context, partition, id string) error {
	c, err := ix.collection(partition)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("unindex document %s: %w", id, err)
	}
	return nil
}

// Count returns the number of indexed documents in a partition.
func (ix *Index) Count(partition string) int {
	c, err := ix.collection(partition)
	if err != nil {
		return 0
	}
	return c.Count()
}
