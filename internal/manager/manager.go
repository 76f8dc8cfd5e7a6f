// Package manager owns the agent's long-term memory: an ingest queue
// feeding per-namespace vector collections, synchronous retrieval, and a
// periodic maintenance loop that persists collections and runs optional
// hooks.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecanhq/agentcore/internal/embedding"
	"github.com/ecanhq/agentcore/internal/memory"
	"github.com/ecanhq/agentcore/internal/vector"
)

const (
	defaultDrainBatch      = 32
	defaultDrainInterval   = 250 * time.Millisecond
	defaultPersistInterval = 5 * time.Second
)

// FactoryOpener builds a vector factory bound to the given embedder.
// Called at construction and again on UpdateEmbeddings.
type FactoryOpener func(emb embedding.Embedder) (vector.Factory, error)

// Maintenance hooks run on every persist tick. All methods are optional
// extension points; errors are logged, never fatal.
type Maintenance interface {
	GenerateEpisodicSummary(ctx context.Context) error
	AccumulateProceduralMemory(ctx context.Context) error
	CompressAndPrune(ctx context.Context) error
}

// Options tune the manager. Zero values select defaults.
type Options struct {
	CollectionPrefix string
	Maintenance      Maintenance
	DrainBatch       int
	DrainInterval    time.Duration
	PersistInterval  time.Duration
}

// Manager coordinates ingest, retrieval, and persistence for one agent.
type Manager struct {
	agentID string
	prefix  string
	opts    Options
	open    FactoryOpener
	logger  *slog.Logger

	queue *fifo

	mu       sync.Mutex
	embedCfg embedding.Config
	embedder embedding.Embedder
	factory  vector.Factory
	stores   map[string]vector.Store

	runMu   sync.Mutex
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New builds a manager for the agent. An unresolvable embedding provider
// falls back to the deterministic fake embedder so the memory system
// stays usable offline.
func New(agentID string, embedCfg embedding.Config, open FactoryOpener, opts Options) (*Manager, error) {
	if agentID == "" {
		return nil, errors.New("manager: agent ID required")
	}
	if opts.DrainBatch <= 0 {
		opts.DrainBatch = defaultDrainBatch
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = defaultDrainInterval
	}
	if opts.PersistInterval <= 0 {
		opts.PersistInterval = defaultPersistInterval
	}

	logger := slog.Default().With("agent_id", agentID)

	emb, err := embedding.Resolve(embedCfg)
	if err != nil {
		var initErr *embedding.InitError
		if !errors.As(err, &initErr) {
			return nil, err
		}
		logger.Warn("embedding provider unavailable, using fake embedder",
			"provider", embedCfg.Provider, "error", err)
		emb = embedding.NewFake(embedding.FakeDimensions)
	}

	factory, err := open(emb)
	if err != nil {
		return nil, fmt.Errorf("opening vector factory: %w", err)
	}

	return &Manager{
		agentID:  agentID,
		prefix:   opts.CollectionPrefix,
		opts:     opts,
		open:     open,
		logger:   logger,
		queue:    newFIFO(),
		embedCfg: embedCfg,
		embedder: emb,
		factory:  factory,
		stores:   make(map[string]vector.Store),
	}, nil
}

// Start launches the drain worker and the maintenance ticker.
func (m *Manager) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopped != nil {
		return
	}
	m.stopped = make(chan struct{})

	m.wg.Add(2)
	go m.drainLoop()
	go m.maintenanceLoop()
	m.logger.Info("memory manager started")
}

// Stop drains the remaining queue, persists all collections, and closes
// the backing database. Safe to call once.
func (m *Manager) Stop(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopped != nil {
		close(m.stopped)
		m.wg.Wait()
		m.stopped = nil
	}

	m.Flush(ctx)
	if err := m.persistAll(); err != nil {
		m.logger.Warn("persist on shutdown failed", "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.factory.Close(); err != nil {
		return fmt.Errorf("closing vector factory: %w", err)
	}
	m.logger.Info("memory manager stopped")
	return nil
}

// Put enqueues one item for asynchronous ingest and returns its ID. It
// never blocks. A missing ID is assigned; metadata is stamped with
// agent_id, namespace, and namespace_key during ingest.
func (m *Manager) Put(item memory.MemoryItem) string {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	m.queue.put(item)
	return item.ID
}

// Flush synchronously processes everything currently queued. Used on
// shutdown and wherever ingest must be visible before the next read.
func (m *Manager) Flush(ctx context.Context) {
	for {
		batch := m.queue.take(m.opts.DrainBatch)
		if len(batch) == 0 {
			return
		}
		m.ingest(ctx, batch)
	}
}

// QueueDepth reports the number of items awaiting ingest.
func (m *Manager) QueueDepth() int { return m.queue.len() }

// Retrieve runs a similarity search against one namespace. Backends
// without native metadata filtering are over-fetched and filtered here.
func (m *Manager) Retrieve(ctx context.Context, q memory.RetrievalQuery) ([]memory.RetrievedMemory, error) {
	if q.K <= 0 {
		q.K = 5
	}
	store, err := m.storeFor(q.Namespace.Key())
	if err != nil {
		return nil, err
	}

	k := q.K
	filters := q.Filters
	if len(filters) > 0 && !store.SupportsFilters() {
		k = q.K * 4
		filters = nil
	}

	results, err := store.SimilaritySearch(ctx, q.Query, k, filters)
	if err != nil {
		return nil, fmt.Errorf("searching namespace %s: %w", q.Namespace.Key(), err)
	}

	out := make([]memory.RetrievedMemory, 0, len(results))
	for _, r := range results {
		if len(q.Filters) > 0 && filters == nil && !metadataMatches(r.Metadata, q.Filters) {
			continue
		}
		out = append(out, memory.RetrievedMemory{
			ID:       r.ID,
			Text:     r.Text,
			Score:    r.Score,
			Metadata: r.Metadata,
		})
		if len(out) == q.K {
			break
		}
	}
	return out, nil
}

// MoveItem relocates one item between namespaces. The copy lands in the
// target with refreshed namespace metadata before the source delete,
// which is best-effort.
func (m *Manager) MoveItem(ctx context.Context, id string, from, to memory.Namespace) error {
	return m.MoveItems(ctx, []string{id}, from, to)
}

// MoveItems relocates a batch of items between namespaces. IDs missing
// from the source namespace are skipped.
func (m *Manager) MoveItems(ctx context.Context, ids []string, from, to memory.Namespace) error {
	src, err := m.storeFor(from.Key())
	if err != nil {
		return err
	}
	dst, err := m.storeFor(to.Key())
	if err != nil {
		return err
	}

	docs, err := src.Get(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading items from %s: %w", from.Key(), err)
	}
	if len(docs) == 0 {
		return nil
	}

	moved := make([]string, 0, len(docs))
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]string)
		}
		docs[i].Metadata["namespace"] = to.String()
		docs[i].Metadata["namespace_key"] = to.Key()
		moved = append(moved, docs[i].ID)
	}
	if err := dst.Add(ctx, docs); err != nil {
		return fmt.Errorf("adding items to %s: %w", to.Key(), err)
	}
	if err := src.Delete(ctx, moved); err != nil {
		m.logger.Warn("failed to delete moved items from source namespace",
			"from", from.Key(), "to", to.Key(), "error", err)
	}
	m.logger.Debug("moved items", "count", len(moved), "from", from.Key(), "to", to.Key())
	return nil
}

// UpdateEmbeddings switches the embedding provider. All collections are
// persisted, then the store map is swapped so collections reopen lazily
// against the new embedder. Existing vectors are not re-embedded.
func (m *Manager) UpdateEmbeddings(provider, model string) error {
	cfg := m.embedCfg
	cfg.Provider = provider
	cfg.Model = model

	emb, err := embedding.Resolve(cfg)
	if err != nil {
		return fmt.Errorf("resolving embedding provider %s: %w", provider, err)
	}

	if err := m.persistAll(); err != nil {
		m.logger.Warn("persist before embedder swap failed", "error", err)
	}

	factory, err := m.open(emb)
	if err != nil {
		return fmt.Errorf("reopening vector factory: %w", err)
	}

	m.mu.Lock()
	old := m.factory
	m.embedCfg = cfg
	m.embedder = emb
	m.factory = factory
	m.stores = make(map[string]vector.Store)
	m.mu.Unlock()

	if old != nil && old != factory {
		if err := old.Close(); err != nil {
			m.logger.Warn("closing previous vector factory failed", "error", err)
		}
	}
	m.logger.Info("embedding provider updated", "provider", provider, "model", model)
	return nil
}

// Stats returns per-namespace document counts for every open collection.
func (m *Manager) Stats(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	stores := make(map[string]vector.Store, len(m.stores))
	for k, s := range m.stores {
		stores[k] = s
	}
	m.mu.Unlock()

	out := make(map[string]int, len(stores))
	for key, store := range stores {
		n, err := store.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting namespace %s: %w", key, err)
		}
		out[key] = n
	}
	return out, nil
}

func (m *Manager) drainLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.DrainInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-m.stopped:
			return
		case <-m.queue.signal:
		case <-ticker.C:
		}
		if batch := m.queue.take(m.opts.DrainBatch); len(batch) > 0 {
			m.ingest(ctx, batch)
		}
	}
}

func (m *Manager) maintenanceLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.PersistInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-m.stopped:
			return
		case <-ticker.C:
			if err := m.persistAll(); err != nil {
				m.logger.Warn("periodic persist failed", "error", err)
			}
			m.runMaintenance(ctx)
		}
	}
}

func (m *Manager) runMaintenance(ctx context.Context) {
	hooks := m.opts.Maintenance
	if hooks == nil {
		return
	}
	for name, fn := range map[string]func(context.Context) error{
		"episodic_summary":  hooks.GenerateEpisodicSummary,
		"procedural_memory": hooks.AccumulateProceduralMemory,
		"compress_prune":    hooks.CompressAndPrune,
	} {
		if err := fn(ctx); err != nil {
			m.logger.Warn("maintenance hook failed", "hook", name, "error", err)
		}
	}
}

// ingest groups a batch by namespace and adds each group to its
// collection. A failed group is logged and dropped; it never poisons the
// other groups or the worker.
func (m *Manager) ingest(ctx context.Context, batch []memory.MemoryItem) {
	groups := make(map[string][]vector.Document)
	for _, item := range batch {
		key := item.Namespace.Key()
		md := make(map[string]string, len(item.Metadata)+3)
		for k, v := range item.Metadata {
			md[k] = v
		}
		md["agent_id"] = m.agentID
		md["namespace"] = item.Namespace.String()
		md["namespace_key"] = key
		groups[key] = append(groups[key], vector.Document{
			ID:       item.ID,
			Text:     item.Text,
			Metadata: md,
		})
	}

	for key, docs := range groups {
		store, err := m.storeFor(key)
		if err != nil {
			m.logger.Error("dropping batch, collection unavailable",
				"namespace", key, "count", len(docs), "error", err)
			continue
		}
		if err := store.Add(ctx, docs); err != nil {
			m.logger.Error("dropping batch, add failed",
				"namespace", key, "count", len(docs), "error", err)
			continue
		}
		m.logger.Debug("ingested batch", "namespace", key, "count", len(docs))
	}
}

func (m *Manager) storeFor(nsKey string) (vector.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[nsKey]; ok {
		return s, nil
	}
	name := m.prefix + m.agentID + "_" + nsKey
	s, err := m.factory.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", name, err)
	}
	m.stores[nsKey] = s
	return s, nil
}

func (m *Manager) persistAll() error {
	m.mu.Lock()
	stores := make([]vector.Store, 0, len(m.stores))
	for _, s := range m.stores {
		stores = append(stores, s)
	}
	m.mu.Unlock()

	var firstErr error
	for _, s := range stores {
		if err := s.Persist(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func metadataMatches(md, filters map[string]string) bool {
	for k, v := range filters {
		if md[k] != v {
			return false
		}
	}
	return true
}

// fifo is the unbounded ingest queue. put is O(1) amortized and never
// blocks; the signal channel wakes the drain worker without requiring it
// to keep up.
type fifo struct {
	mu     sync.Mutex
	items  []memory.MemoryItem
	signal chan struct{}
}

func newFIFO() *fifo {
	return &fifo{signal: make(chan struct{}, 1)}
}

func (q *fifo) put(item memory.MemoryItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *fifo) take(max int) []memory.MemoryItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	n := len(q.items)
	if n > max {
		n = max
	}
	batch := make([]memory.MemoryItem, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return batch
}

func (q *fifo) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
