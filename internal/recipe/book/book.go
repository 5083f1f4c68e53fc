// Package book holds the immutable set of recipes currently served and the
// manager that swaps it on reload.
package book

import (
	"fmt"
	"sort"
	"time"

	"temporalsmith.dev/internal/protocol"
	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/recipe/loader"
	"temporalsmith.dev/internal/recipe/serializers"
)

// Entry is one recipe with its wire payload precomputed for sync.
type Entry struct {
	ID      string
	Kind    recipe.Kind
	Recipe  recipe.Recipe
	Payload []byte
	Source  string
}

// Book is never mutated after New returns.
type Book struct {
	reloadID string
	loadedAt time.Time
	entries  []Entry
	byID     map[string]int
	byKind   map[recipe.Kind][]int
	digest   string
	failures int
}

// New encodes every recipe of the batch. An encode failure is a programming
// error in a codec and fails the whole book.
func New(b *loader.Batch, table *serializers.Table, c recipe.Catalog) (*Book, error) {
	bk := &Book{
		reloadID: b.ReloadID,
		loadedAt: b.FinishedAt,
		byID:     map[string]int{},
		byKind:   map[recipe.Kind][]int{},
		failures: len(b.Failures),
	}
	frame := make([]protocol.FrameRecipe, 0, len(b.Recipes))
	for _, id := range b.IDs() {
		r := b.Recipes[id]
		payload, err := table.EncodeWire(r, c)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", id, err)
		}
		i := len(bk.entries)
		bk.entries = append(bk.entries, Entry{ID: id, Kind: r.Kind(), Recipe: r, Payload: payload, Source: b.Sources[id]})
		bk.byID[id] = i
		bk.byKind[r.Kind()] = append(bk.byKind[r.Kind()], i)
		frame = append(frame, protocol.FrameRecipe{ID: id, Kind: string(r.Kind()), Payload: payload})
	}
	bk.digest = protocol.BookDigest(frame)
	return bk, nil
}

func (b *Book) ReloadID() string    { return b.reloadID }
func (b *Book) LoadedAt() time.Time { return b.loadedAt }
func (b *Book) Digest() string      { return b.digest }
func (b *Book) Len() int            { return len(b.entries) }

// Frame is the sync and snapshot form of b.
func (b *Book) Frame() protocol.BookFrame {
	f := protocol.BookFrame{Digest: b.digest, Recipes: make([]protocol.FrameRecipe, len(b.entries))}
	for i, e := range b.entries {
		f.Recipes[i] = protocol.FrameRecipe{ID: e.ID, Kind: string(e.Kind), Payload: e.Payload}
	}
	return f
}

// Failures is the number of definitions skipped by the load that built b.
func (b *Book) Failures() int { return b.failures }

// Entries returns every entry in id order. The slice must not be modified.
func (b *Book) Entries() []Entry { return b.entries }

func (b *Book) Get(id string) (Entry, bool) {
	i, ok := b.byID[id]
	if !ok {
		return Entry{}, false
	}
	return b.entries[i], true
}

func (b *Book) ByKind(kind recipe.Kind) []Entry {
	idx := b.byKind[kind]
	out := make([]Entry, len(idx))
	for i, j := range idx {
		out[i] = b.entries[j]
	}
	return out
}

// Kinds lists the kinds present in b, sorted.
func (b *Book) Kinds() []recipe.Kind {
	out := make([]recipe.Kind, 0, len(b.byKind))
	for k := range b.byKind {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FindMatch returns the first recipe of kind, in id order, that matches g.
func (b *Book) FindMatch(kind recipe.Kind, g recipe.Grid) (Entry, bool) {
	for _, j := range b.byKind[kind] {
		if b.entries[j].Recipe.Matches(g) {
			return b.entries[j], true
		}
	}
	return Entry{}, false
}
