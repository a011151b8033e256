// Package memory holds the long-term semantic memory collaborator:
// entries recalled across sessions by similarity, with entity
// co-occurrence tracked as a lightweight graph and a time-decay pass
// that ages stale entries out. It is distinct from
// internal/domain/memtrace, which holds the per-turn rolling summary —
// this package is the longer-lived store the orchestrator's
// memory_update text is written into, and that the "bantz graph" CLI
// surface inspects.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
)

// Entry is one remembered fact: its text, its embedding, the entities the
// extractor found in it, and the bookkeeping needed for decay and
// session/user scoping.
type Entry struct {
	ID        string
	Content   string
	Embedding []float32
	Entities  []string
	Metadata  map[string]any
	Score     float32 // similarity score, filled in by Search
	Weight    float32 // relevance weight, reduced by Decay
	CreatedAt time.Time
	UpdatedAt time.Time
	SessionID string
	UserID    string
}

// Store is the long-term memory backend. The in-memory implementation
// below suffices for this repo's scope (no embedding
// backend is in scope, so Arrow/LanceDB stay unwired); a gorm-backed
// store would satisfy the same interface.
type Store interface {
	Insert(ctx context.Context, entry *Entry) error
	Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]*Entry, error)
	Delete(ctx context.Context, id string) error
	Update(ctx context.Context, entry *Entry) error
	GetBySession(ctx context.Context, sessionID string) ([]*Entry, error)
	All(ctx context.Context) ([]*Entry, error)
}

// Filter narrows a Search call.
type Filter struct {
	UserID    string
	SessionID string
	MinScore  float32
	TimeRange *TimeRange
}

// TimeRange bounds Filter by CreatedAt.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// GraphStats summarizes the memory store for `bantz graph stats`.
type GraphStats struct {
	EntryCount  int
	EntityCount int
	OldestAt    time.Time
	NewestAt    time.Time
}

// EntityNeighbor is one co-occurring entity returned by Neighbors, with
// the number of entries the two entities were both extracted from.
type EntityNeighbor struct {
	Entity    string
	Weight    int
	SharedIDs []string
}

// Manager is the long-term memory collaborator. Remember/Recall/Forget
// form the long-term memory API; of these the CLI exposes only Recall
// (`bantz graph search`). Stats/Neighbors/Decay back the other
// `bantz graph` CLI verbs.
type Manager struct {
	store    Store
	embedder Embedder
	bus      eventbus.Bus // optional; nil disables graph.entity_linked publishing

	mu        sync.Mutex
	coOccur   map[string]map[string]map[string]struct{} // entity -> entity -> shared entry IDs
	entityIDs map[string]map[string]struct{}            // entity -> entry IDs mentioning it
}

// NewManager builds a Manager over store/embedder. bus may be nil.
func NewManager(store Store, embedder Embedder, bus eventbus.Bus) *Manager {
	return &Manager{
		store:     store,
		embedder:  embedder,
		bus:       bus,
		coOccur:   make(map[string]map[string]map[string]struct{}),
		entityIDs: make(map[string]map[string]struct{}),
	}
}

// Remember embeds content, extracts entities, stores the entry, and
// publishes graph.entity_linked for every entity pair found together.
func (m *Manager) Remember(ctx context.Context, content string, metadata map[string]any) (*Entry, error) {
	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed memory: %w", err)
	}

	entities := ExtractEntities(content)
	id := generateID(content)
	now := time.Now()

	entry := &Entry{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Entities:  entities,
		Metadata:  metadata,
		Weight:    1.0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if userID, ok := metadata["user_id"].(string); ok {
		entry.UserID = userID
	}
	if sessionID, ok := metadata["session_id"].(string); ok {
		entry.SessionID = sessionID
	}

	if err := m.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}

	m.linkEntities(id, entities)
	return entry, nil
}

// Recall returns the topK entries most similar to query under filter.
func (m *Manager) Recall(ctx context.Context, query string, topK int, filter *Filter) ([]*Entry, error) {
	queryEmbed, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := m.store.Search(ctx, queryEmbed, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	return results, nil
}

// Forget deletes one entry by ID.
func (m *Manager) Forget(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Stats reports the counts and time bounds `bantz graph stats` prints.
func (m *Manager) Stats(ctx context.Context) (*GraphStats, error) {
	entries, err := m.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	stats := &GraphStats{EntryCount: len(entries)}
	m.mu.Lock()
	stats.EntityCount = len(m.entityIDs)
	m.mu.Unlock()
	for i, e := range entries {
		if i == 0 || e.CreatedAt.Before(stats.OldestAt) {
			stats.OldestAt = e.CreatedAt
		}
		if i == 0 || e.CreatedAt.After(stats.NewestAt) {
			stats.NewestAt = e.CreatedAt
		}
	}
	return stats, nil
}

// Neighbors returns entities that co-occurred with entity in some entry,
// most-shared first, for `bantz graph neighbors <entity>`.
func (m *Manager) Neighbors(entity string, limit int) []EntityNeighbor {
	m.mu.Lock()
	defer m.mu.Unlock()

	related, ok := m.coOccur[entity]
	if !ok {
		return nil
	}
	out := make([]EntityNeighbor, 0, len(related))
	for other, ids := range related {
		idList := make([]string, 0, len(ids))
		for id := range ids {
			idList = append(idList, id)
		}
		sort.Strings(idList)
		out = append(out, EntityNeighbor{Entity: other, Weight: len(idList), SharedIDs: idList})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Entity < out[j].Entity
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DefaultHalfLife is how long an untouched entry takes to halve its
// relevance weight under Decay.
const DefaultHalfLife = 30 * 24 * time.Hour

// Decay applies exponential time-decay to every entry's Weight based on
// age since CreatedAt and halfLife, persists the updated weights, and
// deletes entries whose weight falls below minWeight. It reports how
// many entries were evicted, for `bantz graph decay`.
func (m *Manager) Decay(ctx context.Context, halfLife time.Duration, minWeight float32) (evicted int, err error) {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	entries, err := m.store.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("list memory: %w", err)
	}

	now := time.Now()
	for _, e := range entries {
		age := now.Sub(e.CreatedAt)
		halvings := float64(age) / float64(halfLife)
		e.Weight = e.Weight * float32(math.Exp2(-halvings))

		if e.Weight < minWeight {
			if err := m.store.Delete(ctx, e.ID); err != nil {
				return evicted, fmt.Errorf("evict memory %s: %w", e.ID, err)
			}
			m.unlinkEntities(e.ID, e.Entities)
			evicted++
			continue
		}
		if err := m.store.Update(ctx, e); err != nil {
			return evicted, fmt.Errorf("update memory %s: %w", e.ID, err)
		}
	}
	return evicted, nil
}

func (m *Manager) linkEntities(entryID string, entities []string) {
	if len(entities) == 0 {
		return
	}
	m.mu.Lock()
	for _, e := range entities {
		if m.entityIDs[e] == nil {
			m.entityIDs[e] = make(map[string]struct{})
		}
		m.entityIDs[e][entryID] = struct{}{}
	}
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, b := entities[i], entities[j]
			m.addEdge(a, b, entryID)
			m.addEdge(b, a, entryID)
		}
	}
	m.mu.Unlock()

	if m.bus != nil && len(entities) > 1 {
		m.bus.Publish(eventbus.Event{
			Type:   eventbus.TopicGraphEntityLink,
			Source: "memory",
			Data: map[string]any{
				"entry_id": entryID,
				"entities": entities,
			},
		})
	}
}

func (m *Manager) addEdge(a, b, entryID string) {
	if m.coOccur[a] == nil {
		m.coOccur[a] = make(map[string]map[string]struct{})
	}
	if m.coOccur[a][b] == nil {
		m.coOccur[a][b] = make(map[string]struct{})
	}
	m.coOccur[a][b][entryID] = struct{}{}
}

func (m *Manager) unlinkEntities(entryID string, entities []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		delete(m.entityIDs[e], entryID)
		if len(m.entityIDs[e]) == 0 {
			delete(m.entityIDs, e)
		}
	}
	for _, related := range m.coOccur {
		for other, ids := range related {
			delete(ids, entryID)
			if len(ids) == 0 {
				delete(related, other)
			}
		}
	}
}

// generateID derives a content-addressed memory ID.
func generateID(content string) string {
	hash := sha256.Sum256([]byte(content + time.Now().String()))
	return hex.EncodeToString(hash[:16])
}

// ExtractEntities pulls out capitalized multi-letter words as a cheap
// stand-in for named-entity recognition. Bantz's tokenizers are out of
// scope; this is enough to drive entity co-occurrence
// linking without parsing Turkish grammar.
func ExtractEntities(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, word := range strings.Fields(text) {
		trimmed := strings.Trim(word, ".,!?;:\"'()")
		runes := []rune(trimmed)
		if len(runes) < 2 {
			continue
		}
		if !unicode.IsUpper(runes[0]) {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// InMemoryStore is the default Store: a mutex-guarded map, good enough
// for a single-process assistant runtime.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewInMemoryStore builds an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*Entry)}
}

func (s *InMemoryStore) Insert(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

// Search ranks entries by cosine similarity to query, applying filter.
func (s *InMemoryStore) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		entry *Entry
		score float32
	}
	var candidates []scored

	for _, entry := range s.entries {
		if filter != nil {
			if filter.UserID != "" && entry.UserID != filter.UserID {
				continue
			}
			if filter.SessionID != "" && entry.SessionID != filter.SessionID {
				continue
			}
			if filter.TimeRange != nil {
				if entry.CreatedAt.Before(filter.TimeRange.Start) || entry.CreatedAt.After(filter.TimeRange.End) {
					continue
				}
			}
		}

		score := cosineSimilarity(query, entry.Embedding)
		if filter != nil && score < filter.MinScore {
			continue
		}
		candidates = append(candidates, scored{entry: entry, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]*Entry, len(candidates))
	for i, c := range candidates {
		entryCopy := *c.entry
		entryCopy.Score = c.score
		results[i] = &entryCopy
	}
	return results, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; !exists {
		return fmt.Errorf("memory not found: %s", entry.ID)
	}
	entry.UpdatedAt = time.Now()
	s.entries[entry.ID] = entry
	return nil
}

func (s *InMemoryStore) GetBySession(ctx context.Context, sessionID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*Entry
	for _, entry := range s.entries {
		if entry.SessionID == sessionID {
			results = append(results, entry)
		}
	}
	return results, nil
}

// All returns every stored entry, for Stats/Decay.
func (s *InMemoryStore) All(ctx context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (sqrtf(normA) * sqrtf(normB))
}

func sqrtf(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 10; i++ {
		z = (z + x/z) / 2
	}
	return z
}

// HashEmbedder is a dependency-free stand-in embedder: a normalized
// character-hash vector. Good enough to exercise Search's ranking logic
// without a real embedding model or training step.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder builds a HashEmbedder producing vectors of dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, e.dimension)
	for _, word := range strings.Fields(text) {
		for i, char := range word {
			idx := (int(char) + i) % e.dimension
			embedding[idx] += 1.0
		}
	}
	var norm float32
	for _, v := range embedding {
		norm += v * v
	}
	if norm > 0 {
		norm = sqrtf(norm)
		for i := range embedding {
			embedding[i] /= norm
		}
	}
	return embedding, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = emb
	}
	return results, nil
}

func (e *HashEmbedder) Dimension() int { return e.dimension }
