package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"
)

var (
	ErrFrozen    = errors.New("registry frozen")
	ErrNotFrozen = errors.New("registry not frozen")
	ErrDuplicate = errors.New("duplicate id")
)

type Factory[T any] func() (T, error)

// Registry maps stable ids to values. Entries are registered as factories during
// startup and resolved once by Freeze; after that the registry is read-only and
// every entry has a dense palette index in sorted id order.
type Registry[T any] struct {
	name string

	mu        sync.RWMutex
	factories map[string]Factory[T]
	frozen    bool
	onFrozen  []func(*Registry[T])

	palette []string
	index   map[string]uint32
	values  []T
	digest  string
}

func New[T any](name string) *Registry[T] {
	return &Registry[T]{
		name:      name,
		factories: map[string]Factory[T]{},
	}
}

func (r *Registry[T]) Name() string { return r.name }

func (r *Registry[T]) Register(id string, f Factory[T]) error {
	nid, err := ParseID(id)
	if err != nil {
		return fmt.Errorf("%s: %w", r.name, err)
	}
	if f == nil {
		return fmt.Errorf("%s: %s: nil factory", r.name, nid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%s: register %s: %w", r.name, nid, ErrFrozen)
	}
	if _, ok := r.factories[nid]; ok {
		return fmt.Errorf("%s: %s: %w", r.name, nid, ErrDuplicate)
	}
	r.factories[nid] = f
	return nil
}

// RegisterValue registers an already constructed value.
func (r *Registry[T]) RegisterValue(id string, v T) error {
	return r.Register(id, func() (T, error) { return v, nil })
}

// OnFrozen queues a callback run once resolution is final. Callbacks added
// after freeze run immediately.
func (r *Registry[T]) OnFrozen(cb func(*Registry[T])) {
	r.mu.Lock()
	if !r.frozen {
		r.onFrozen = append(r.onFrozen, cb)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	cb(r)
}

func (r *Registry[T]) Freeze() error {
	r.mu.Lock()
	if r.frozen {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", r.name, ErrFrozen)
	}

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	values := make([]T, len(ids))
	index := make(map[string]uint32, len(ids))
	for i, id := range ids {
		v, err := r.factories[id]()
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("%s: resolve %s: %w", r.name, id, err)
		}
		values[i] = v
		index[id] = uint32(i)
	}

	palJSON, _ := json.Marshal(ids)
	sum := sha256.Sum256(palJSON)

	r.palette = ids
	r.index = index
	r.values = values
	r.digest = hex.EncodeToString(sum[:])
	r.factories = nil
	r.frozen = true
	cbs := r.onFrozen
	r.onFrozen = nil
	r.mu.Unlock()

	for _, cb := range cbs {
		cb(r)
	}
	return nil
}

func (r *Registry[T]) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	i, ok := r.index[id]
	if !ok {
		return zero, false
	}
	return r.values[i], true
}

func (r *Registry[T]) MustGet(id string) T {
	v, ok := r.Get(id)
	if !ok {
		panic(fmt.Sprintf("%s: unknown id %s", r.name, id))
	}
	return v
}

func (r *Registry[T]) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[id]
	return ok
}

func (r *Registry[T]) Index(id string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	return i, ok
}

func (r *Registry[T]) ByIndex(i uint32) (string, T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if int(i) >= len(r.palette) {
		return "", zero, false
	}
	return r.palette[i], r.values[i], true
}

// IDs returns the palette in index order.
func (r *Registry[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.palette...)
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.palette)
}

// Digest is the sha256 of the JSON palette; empty before freeze.
func (r *Registry[T]) Digest() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.digest
}

// Suggest returns the closest registered id to a missing one, or "" when
// nothing is near enough to be a plausible typo.
func (r *Registry[T]) Suggest(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := ""
	bestDist := suggestLimit(len(id)) + 1
	for _, cand := range r.palette {
		d := levenshtein.ComputeDistance(id, cand)
		if d < bestDist || (d == bestDist && best != "" && cand < best) {
			best, bestDist = cand, d
		}
	}
	if bestDist > suggestLimit(len(id)) {
		return ""
	}
	return best
}

func suggestLimit(n int) int {
	switch {
	case n <= 4:
		return 1
	case n <= 12:
		return 2
	default:
		return 3
	}
}
