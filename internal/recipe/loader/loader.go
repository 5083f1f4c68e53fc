// Package loader reads a datapack tree of recipe definitions into a batch.
// A definition that fails to decode is recorded against its id and the rest
// of the batch continues.
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/recipe/serializers"
	"temporalsmith.dev/internal/registry"
)

// ErrNoRecipes is returned when the tree has no data/ directory at all.
var ErrNoRecipes = errors.New("no data directory")

type Batch struct {
	ReloadID   string
	StartedAt  time.Time
	FinishedAt time.Time

	Recipes map[string]recipe.Recipe
	// Sources maps recipe id to the sha256 of its definition file.
	Sources  map[string]string
	Failures []*recipe.LoadError
}

// IDs returns recipe ids in sorted order.
func (b *Batch) IDs() []string {
	ids := make([]string, 0, len(b.Recipes))
	for id := range b.Recipes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type Loader struct {
	Serializers *serializers.Table
	Catalog     recipe.Catalog
	Logger      *log.Logger
}

// LoadDir loads the datapack rooted at dir.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Batch, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	return l.Load(ctx, os.DirFS(dir))
}

// Load walks data/<namespace>/recipes/**.json. Per-file failures land in
// Batch.Failures; only an unreadable tree or cancellation returns an error.
func (l *Loader) Load(ctx context.Context, fsys fs.FS) (*Batch, error) {
	b := &Batch{
		ReloadID:  uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Recipes:   map[string]recipe.Recipe{},
		Sources:   map[string]string{},
	}
	namespaces, err := fs.ReadDir(fsys, "data")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoRecipes
		}
		return nil, fmt.Errorf("read data: %w", err)
	}

	for _, ns := range namespaces {
		if !ns.IsDir() {
			continue
		}
		root := path.Join("data", ns.Name(), "recipes")
		if _, err := fs.Stat(fsys, root); err != nil {
			continue
		}
		err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if d.IsDir() || !strings.HasSuffix(p, ".json") {
				return nil
			}
			rel := strings.TrimSuffix(strings.TrimPrefix(p, root+"/"), ".json")
			l.loadOne(b, fsys, p, ns.Name()+":"+rel)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	sort.Slice(b.Failures, func(i, j int) bool { return b.Failures[i].ID < b.Failures[j].ID })
	b.FinishedAt = time.Now().UTC()
	if l.Logger != nil {
		l.Logger.Printf("reload %s: %d recipes, %d failures in %s",
			b.ReloadID, len(b.Recipes), len(b.Failures), b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond))
	}
	return b, nil
}

func (l *Loader) loadOne(b *Batch, fsys fs.FS, p, rawID string) {
	fail := func(id string, err error) {
		le := &recipe.LoadError{ID: id, Err: err}
		b.Failures = append(b.Failures, le)
		if l.Logger != nil {
			l.Logger.Printf("skip %v", le)
		}
	}
	id, err := registry.ParseID(rawID)
	if err != nil {
		fail(rawID, err)
		return
	}
	raw, err := fs.ReadFile(fsys, p)
	if err != nil {
		fail(id, err)
		return
	}
	if !gjson.ValidBytes(raw) {
		fail(id, fmt.Errorf("invalid json"))
		return
	}
	kind := gjson.GetBytes(raw, "type")
	if !kind.Exists() || kind.String() == "" {
		fail(id, fmt.Errorf("%w: type", recipe.ErrMissingField))
		return
	}
	r, err := l.Serializers.DecodeJSON(kind.String(), raw, l.Catalog)
	if err != nil {
		fail(id, err)
		return
	}
	sum := sha256.Sum256(raw)
	b.Recipes[id] = r
	b.Sources[id] = hex.EncodeToString(sum[:])
}
