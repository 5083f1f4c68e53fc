package book

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/recipe/loader"
	"temporalsmith.dev/internal/recipe/serializers"
)

var ErrNoBook = errors.New("no recipe book loaded")

type ManagerConfig struct {
	Loader      *loader.Loader
	Serializers *serializers.Table
	Catalog     recipe.Catalog
	// Source is the datapack tree Reload reads.
	Source fs.FS
	// MatchCacheTTL bounds how long a lookup result is memoized. Zero disables
	// the memo.
	MatchCacheTTL time.Duration
	Logger        *log.Logger
}

// ReloadFunc is called after every successful swap with the new book and the
// batch that produced it.
type ReloadFunc func(*Book, *loader.Batch)

// Manager serves the current book. Readers never block on a reload: the
// book pointer is swapped atomically once the new one is fully built.
type Manager struct {
	cfg  ManagerConfig
	cur  atomic.Pointer[Book]
	memo *cache.Cache

	reloadMu sync.Mutex
	subsMu   sync.Mutex
	subs     []ReloadFunc

	lookups atomic.Uint64
	hits    atomic.Uint64
}

func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{cfg: cfg}
	if cfg.MatchCacheTTL > 0 {
		m.memo = cache.New(cfg.MatchCacheTTL, 2*cfg.MatchCacheTTL)
	}
	return m
}

// Book returns the current book, or nil before the first reload.
func (m *Manager) Book() *Book { return m.cur.Load() }

func (m *Manager) OnReload(fn ReloadFunc) {
	m.subsMu.Lock()
	m.subs = append(m.subs, fn)
	m.subsMu.Unlock()
}

// Reload loads Source and installs the result. Per-recipe failures do not
// fail the reload; they are reported in the returned batch.
func (m *Manager) Reload(ctx context.Context) (*loader.Batch, error) {
	if m.cfg.Source == nil {
		return nil, fmt.Errorf("reload: no datapack source")
	}
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	b, err := m.cfg.Loader.Load(ctx, m.cfg.Source)
	if err != nil {
		return nil, err
	}
	if err := m.install(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Install swaps in a batch loaded elsewhere, e.g. from a snapshot.
func (m *Manager) Install(b *loader.Batch) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	return m.install(b)
}

func (m *Manager) install(b *loader.Batch) error {
	bk, err := New(b, m.cfg.Serializers, m.cfg.Catalog)
	if err != nil {
		return err
	}
	prev := m.cur.Swap(bk)
	if m.memo != nil {
		m.memo.Flush()
	}
	if m.cfg.Logger != nil {
		old := "none"
		if prev != nil {
			old = prev.Digest()[:12]
		}
		m.cfg.Logger.Printf("recipe book %s -> %s (%d recipes, %d failures)", old, bk.Digest()[:12], bk.Len(), bk.Failures())
	}

	m.subsMu.Lock()
	subs := append([]ReloadFunc(nil), m.subs...)
	m.subsMu.Unlock()
	for _, fn := range subs {
		fn(bk, b)
	}
	return nil
}

// FindMatch looks up the first recipe of kind matching g in the current book.
func (m *Manager) FindMatch(kind recipe.Kind, g recipe.Grid) (Entry, error) {
	bk := m.cur.Load()
	if bk == nil {
		return Entry{}, ErrNoBook
	}
	m.lookups.Add(1)
	key := ""
	if m.memo != nil {
		key = bk.Digest() + "|" + string(kind) + "|" + g.Fingerprint()
		if v, ok := m.memo.Get(key); ok {
			m.hits.Add(1)
			id := v.(string)
			if id == "" {
				return Entry{}, nil
			}
			e, _ := bk.Get(id)
			return e, nil
		}
	}
	e, ok := bk.FindMatch(kind, g)
	if m.memo != nil {
		if ok {
			m.memo.SetDefault(key, e.ID)
		} else {
			m.memo.SetDefault(key, "")
		}
	}
	return e, nil
}

// Craft returns the output of the matching recipe. ok is false when nothing
// matches.
func (m *Manager) Craft(kind recipe.Kind, g recipe.Grid) (recipe.ItemStack, bool, error) {
	e, err := m.FindMatch(kind, g)
	if err != nil || e.Recipe == nil {
		return recipe.ItemStack{}, false, err
	}
	return e.Recipe.Assemble(g), true, nil
}

type Stats struct {
	Lookups   uint64 `json:"lookups"`
	CacheHits uint64 `json:"cache_hits"`
	Cached    int    `json:"cached"`
}

func (m *Manager) Stats() Stats {
	s := Stats{Lookups: m.lookups.Load(), CacheHits: m.hits.Load()}
	if m.memo != nil {
		s.Cached = m.memo.ItemCount()
	}
	return s
}
