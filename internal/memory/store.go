package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/hive/internal/store"
	"github.com/ShayCichocki/hive/pkg/models"
)

const (
	// DefaultShortTermTTL bounds the lifetime of short-term items.
	DefaultShortTermTTL = 24 * time.Hour
	// DefaultDecayRate is the weekly relevance decay applied to idle items.
	DefaultDecayRate = 0.10
	// DefaultPruneThreshold is the relevance floor below which items are pruned.
	DefaultPruneThreshold = 0.2
	// DefaultFetchMultiplier sizes the candidate pool handed to the
	// reranker relative to the requested limit.
	DefaultFetchMultiplier = 3

	// decayIdleWindow is how long an item must sit untouched before
	// decay applies; decay compounds once per full window.
	decayIdleWindow = 7 * 24 * time.Hour
	// relevanceBoost is the multiplicative reward for being retrieved.
	relevanceBoost = 1.05
)

// Store is the hierarchical memory store. One instance serves one
// project; items are partitioned by models.MemoryType and persisted
// through a store.KV backend. Long-term and episodic items additionally
// get a vector-index entry when an embedder is configured.
type Store struct {
	project  string
	kv       store.KV
	index    *Index
	embedder Embedder
	reranker Reranker

	// semantic is false when the embedder's vectors carry no meaning
	// (hash fallback); retrieval then matches by terms only.
	semantic bool

	shortTTL        time.Duration
	fetchMultiplier int

	mu       sync.Mutex
	now      func() time.Time // for testing
	debugLog func(format string, args ...interface{})
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedder sets the embedding collaborator. Long-term and episodic
// items are embedded and vector-indexed at save time.
func WithEmbedder(e Embedder) Option {
	return func(s *Store) { s.embedder = e }
}

// WithIndex sets the vector index. Without this option a store with an
// embedder builds an in-memory index on its own.
func WithIndex(ix *Index) Option {
	return func(s *Store) { s.index = ix }
}

// WithReranker sets the optional cross-encoder collaborator.
func WithReranker(r Reranker) Option {
	return func(s *Store) { s.reranker = r }
}

// WithShortTermTTL overrides the short-term partition TTL.
func WithShortTermTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.shortTTL = d
		}
	}
}

// WithFetchMultiplier overrides the candidate-pool multiplier.
func WithFetchMultiplier(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.fetchMultiplier = n
		}
	}
}

// WithDebugLog sets a logger for degraded operations.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(s *Store) {
		if fn != nil {
			s.debugLog = fn
		}
	}
}

// New creates a memory store for a project on top of a KV backend.
func New(project string, kv store.KV, opts ...Option) *Store {
	s := &Store{
		project:         project,
		kv:              kv,
		shortTTL:        DefaultShortTermTTL,
		fetchMultiplier: DefaultFetchMultiplier,
		now:             time.Now,
		debugLog:        func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.semantic = isSemantic(s.embedder)
	if s.index == nil && s.embedder != nil {
		ix, err := NewIndex("", s.embedder)
		if err == nil {
			s.index = ix
		}
	}
	return s
}

// partitionToken maps a memory type to its key segment.
func partitionToken(t models.MemoryType) string {
	switch t {
	case models.MemoryShortTerm:
		return "short"
	case models.MemoryLongTerm:
		return "long"
	case models.MemoryEpisodic:
		return "episodic"
	default:
		return ""
	}
}

func (s *Store) itemKey(t models.MemoryType, id string) string {
	return fmt.Sprintf("memory:%s:%s:%s", s.project, partitionToken(t), id)
}

func (s *Store) setKey(t models.MemoryType) string {
	return fmt.Sprintf("memory:%s:index:%s", s.project, partitionToken(t))
}

// Save stores one piece of knowledge in the given partition. The item
// id is derived from the content and creation time, so identical
// content saved at different instants yields distinct items.
// Short-term items expire after the configured TTL. Long-term and
// episodic items are embedded and vector-indexed when an embedder is
// available; embedding failures degrade the item to term matching
// instead of failing the save.
func (s *Store) Save(ctx context.Context, content string, mtype models.MemoryType, metadata map[string]string, tags []string) (*models.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, content, mtype, metadata, tags)
}

func (s *Store) saveLocked(ctx context.Context, content string, mtype models.MemoryType, metadata map[string]string, tags []string) (*models.MemoryItem, error) {
	if content == "" {
		return nil, fmt.Errorf("memory content must not be empty")
	}
	if !mtype.Valid() {
		return nil, fmt.Errorf("unknown memory type %q", mtype)
	}

	now := s.now().UTC()
	item := &models.MemoryItem{
		ID:        models.MemoryID(content, now),
		Content:   content,
		Type:      mtype,
		CreatedAt: now,
		Tags:      tags,
		Metadata:  metadata,
		Relevance: 1.0,
	}
	var ttl time.Duration
	if mtype == models.MemoryShortTerm {
		ttl = s.shortTTL
		item.TTLSeconds = int64(ttl.Seconds())
	}

	if err := s.persistLocked(ctx, item, ttl); err != nil {
		return nil, err
	}
	if err := s.kv.SAdd(ctx, s.setKey(mtype), item.ID); err != nil {
		s.debugLog("memory: add %s to partition index: %v", item.ID, err)
	}

	if mtype != models.MemoryShortTerm && s.index != nil && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, content)
		if err != nil {
			s.debugLog("memory: embed %s: %v", item.ID, err)
		} else if err := s.index.Add(ctx, partitionToken(mtype), item.ID, content, vec); err != nil {
			s.debugLog("memory: vector-index %s: %v", item.ID, err)
		}
	}
	return item, nil
}

// scoredItem pairs a candidate with its retrieval score.
type scoredItem struct {
	item  *models.MemoryItem
	score float64
}

// Retrieve returns up to limit items relevant to the query, best first.
// An empty mtype searches all partitions. Each candidate scores
// similarity times its relevance weight; candidates below minRelevance
// are dropped. Similarity is cosine over embeddings where the partition
// is vector-indexed and the embedder is semantic, term overlap
// otherwise.
//
// Retrieval reinforces its results: returned items get their access
// count incremented, last-accessed set, and relevance boosted by 5%
// (capped at 1.0).
//
// Retrieve is best-effort. Collaborator or storage failures degrade to
// term matching or to fewer results; they never surface as an error.
func (s *Store) Retrieve(ctx context.Context, query string, mtype models.MemoryType, limit int, minRelevance float64) ([]*models.MemoryItem, error) {
	if limit <= 0 || query == "" {
		return nil, nil
	}
	partitions := []models.MemoryType{models.MemoryShortTerm, models.MemoryLongTerm, models.MemoryEpisodic}
	if mtype != "" {
		if !mtype.Valid() {
			return nil, fmt.Errorf("unknown memory type %q", mtype)
		}
		partitions = []models.MemoryType{mtype}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	poolSize := limit * s.fetchMultiplier
	var candidates []scoredItem
	for _, t := range partitions {
		candidates = append(candidates, s.partitionCandidatesLocked(ctx, t, query, poolSize)...)
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if c.score >= minRelevance {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	if len(kept) > poolSize {
		kept = kept[:poolSize]
	}

	kept = rerank(ctx, s.reranker, query, kept, func(c scoredItem) string { return c.item.Content })
	if len(kept) > limit {
		kept = kept[:limit]
	}

	items := make([]*models.MemoryItem, 0, len(kept))
	for _, c := range kept {
		s.touchLocked(ctx, c.item)
		items = append(items, c.item)
	}
	return items, nil
}

// partitionCandidatesLocked scores one partition's items against the
// query. Vector-indexed partitions draw their candidate pool from the
// index; everything else scans the partition and scores by term
// overlap. Index failures fall back to the scan.
func (s *Store) partitionCandidatesLocked(ctx context.Context, t models.MemoryType, query string, poolSize int) []scoredItem {
	if t != models.MemoryShortTerm && s.semantic && s.index != nil {
		hits, err := s.index.Query(ctx, partitionToken(t), query, poolSize)
		if err == nil {
			out := make([]scoredItem, 0, len(hits))
			for _, h := range hits {
				item, ok := s.loadLocked(ctx, t, h.ID)
				if !ok {
					continue
				}
				out = append(out, scoredItem{item: item, score: h.Similarity * item.Relevance})
			}
			return out
		}
		s.debugLog("memory: vector query %s: %v", t, err)
	}

	ids, err := s.kv.SMembers(ctx, s.setKey(t))
	if err != nil {
		s.debugLog("memory: list partition %s: %v", t, err)
		return nil
	}
	sort.Strings(ids)
	out := make([]scoredItem, 0, len(ids))
	for _, id := range ids {
		item, ok := s.loadLocked(ctx, t, id)
		if !ok {
			continue
		}
		sim := JaccardSimilarity(query, item.Content)
		out = append(out, scoredItem{item: item, score: sim * item.Relevance})
	}
	return out
}

// Get returns one item by partition and id.
func (s *Store) Get(ctx context.Context, mtype models.MemoryType, id string) (*models.MemoryItem, error) {
	if !mtype.Valid() {
		return nil, fmt.Errorf("unknown memory type %q", mtype)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.kv.Get(ctx, s.itemKey(mtype, id))
	if err != nil {
		return nil, fmt.Errorf("memory item %s: %w", id, err)
	}
	var item models.MemoryItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode memory item %s: %w", id, err)
	}
	return &item, nil
}

// ApplyDecay erodes the relevance of items that have been idle for at
// least a week, compounding (1-rate) once per full idle week. Items
// never retrieved keep their relevance. Returns the number of items
// decayed.
func (s *Store) ApplyDecay(ctx context.Context, rate float64) (int, error) {
	if rate <= 0 || rate >= 1 {
		return 0, fmt.Errorf("decay rate must be in (0,1), got %v", rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	affected := 0
	for _, t := range []models.MemoryType{models.MemoryShortTerm, models.MemoryLongTerm, models.MemoryEpisodic} {
		ids, err := s.kv.SMembers(ctx, s.setKey(t))
		if err != nil {
			s.debugLog("memory: list partition %s: %v", t, err)
			continue
		}
		for _, id := range ids {
			item, ok := s.loadLocked(ctx, t, id)
			if !ok || item.LastAccessed == nil {
				continue
			}
			idle := now.Sub(*item.LastAccessed)
			if idle < decayIdleWindow {
				continue
			}
			weeks := int(idle / decayIdleWindow)
			item.Relevance *= math.Pow(1-rate, float64(weeks))
			if err := s.persistLocked(ctx, item, s.remainingTTL(item, now)); err != nil {
				s.debugLog("memory: decay %s: %v", item.ID, err)
				continue
			}
			affected++
		}
	}
	return affected, nil
}

// Prune removes every item whose relevance has fallen below the
// threshold, along with its embedding. Returns the number removed.
func (s *Store) Prune(ctx context.Context, threshold float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, t := range []models.MemoryType{models.MemoryShortTerm, models.MemoryLongTerm, models.MemoryEpisodic} {
		ids, err := s.kv.SMembers(ctx, s.setKey(t))
		if err != nil {
			s.debugLog("memory: list partition %s: %v", t, err)
			continue
		}
		for _, id := range ids {
			item, ok := s.loadLocked(ctx, t, id)
			if !ok || item.Relevance >= threshold {
				continue
			}
			if err := s.kv.Delete(ctx, s.itemKey(t, id)); err != nil {
				s.debugLog("memory: prune %s: %v", id, err)
				continue
			}
			if err := s.kv.SRem(ctx, s.setKey(t), id); err != nil {
				s.debugLog("memory: prune index %s: %v", id, err)
			}
			if s.index != nil && t != models.MemoryShortTerm {
				if err := s.index.Delete(ctx, partitionToken(t), id); err != nil {
					s.debugLog("memory: prune vector %s: %v", id, err)
				}
			}
			removed++
		}
	}
	return removed, nil
}

// loadLocked fetches and decodes one item. Expired items are dropped
// from the partition index as a side effect.
func (s *Store) loadLocked(ctx context.Context, t models.MemoryType, id string) (*models.MemoryItem, bool) {
	raw, err := s.kv.Get(ctx, s.itemKey(t, id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if rerr := s.kv.SRem(ctx, s.setKey(t), id); rerr != nil {
				s.debugLog("memory: drop stale index entry %s: %v", id, rerr)
			}
		} else {
			s.debugLog("memory: load %s: %v", id, err)
		}
		return nil, false
	}
	var item models.MemoryItem
	if err := json.Unmarshal(raw, &item); err != nil {
		s.debugLog("memory: decode %s: %v", id, err)
		return nil, false
	}
	return &item, true
}

// touchLocked records a retrieval: bump access count, stamp
// last-accessed, boost relevance. Persistence failures are logged and
// the in-memory result still returned.
func (s *Store) touchLocked(ctx context.Context, item *models.MemoryItem) {
	now := s.now().UTC()
	item.AccessCount++
	item.LastAccessed = &now
	item.Relevance = math.Min(1.0, item.Relevance*relevanceBoost)
	if err := s.persistLocked(ctx, item, s.remainingTTL(item, now)); err != nil {
		s.debugLog("memory: touch %s: %v", item.ID, err)
	}
}

// remainingTTL computes how much lifetime a bounded item has left so a
// rewrite does not extend it. Unbounded items return 0.
func (s *Store) remainingTTL(item *models.MemoryItem, now time.Time) time.Duration {
	if item.TTLSeconds <= 0 {
		return 0
	}
	left := item.CreatedAt.Add(time.Duration(item.TTLSeconds) * time.Second).Sub(now)
	if left < time.Second {
		left = time.Second
	}
	return left
}

func (s *Store) persistLocked(ctx context.Context, item *models.MemoryItem, ttl time.Duration) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode memory item: %w", err)
	}
	if err := s.kv.Set(ctx, s.itemKey(item.Type, item.ID), raw, ttl); err != nil {
		return fmt.Errorf("persist memory item: %w", err)
	}
	return nil
}

// Project returns the project this store serves.
func (s *Store) Project() string {
	return s.project
}
