package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"temporalsmith.dev/internal/persistence/indexdb"
	"temporalsmith.dev/internal/recipe/book"
	"temporalsmith.dev/internal/recipe/loader"
	"temporalsmith.dev/internal/sim/catalogs"
	"temporalsmith.dev/internal/sim/tuning"
)

// runtimeIndex is the read-model the server feeds. It never affects what
// the book contains.
type runtimeIndex interface {
	Close() error
	Stats() indexdb.Stats
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordReload(bk *book.Book, b *loader.Batch)
	RecordSnapshot(reloadID, path string)
	Prune(keep int)
}

func indexPath(dataDir string) string {
	return filepath.Join(dataDir, "index", "recipes.sqlite")
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(indexPath(dataDir))
	default:
		return nil, fmt.Errorf("unsupported TS_INDEX_BACKEND: %s", backend)
	}
}
