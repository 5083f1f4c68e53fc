package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	persistlog "temporalsmith.dev/internal/persistence/log"
	"temporalsmith.dev/internal/persistence/snapshot"
	"temporalsmith.dev/internal/protocol"
	"temporalsmith.dev/internal/recipe/book"
	"temporalsmith.dev/internal/recipe/loader"
	"temporalsmith.dev/internal/recipe/serializers"
	"temporalsmith.dev/internal/sim/catalogs"
	"temporalsmith.dev/internal/sim/tuning"
	"temporalsmith.dev/internal/transport/ws"
	"temporalsmith.dev/internal/viewer"
	"temporalsmith.dev/internal/worldgen/ores"
)

type serverConfig struct {
	ConfigDir  string
	DataDir    string
	RecipesDir string
	TuningPath string
	DisableDB  bool
	AnyOrigin  bool
}

// runtime owns everything one server process serves.
type runtime struct {
	cfg  serverConfig
	log  *log.Logger
	tune tuning.Tuning
	cats *catalogs.Catalogs
	tab  *serializers.Table
	ores ores.Table

	mgr     *book.Manager
	idx     runtimeIndex
	reloads *persistlog.ReloadLogger
	sync    *ws.Server
	views   *viewer.Dispatch
}

func loadTuning(path string, logger *log.Logger) (tuning.Tuning, error) {
	tune, err := tuning.Load(path)
	if err == nil {
		return tune, nil
	}
	if os.IsNotExist(err) {
		logger.Printf("tuning not found (%s); using defaults", path)
		return tuning.Defaults(), nil
	}
	return tuning.Tuning{}, err
}

func loadOres(configDir string, cats *catalogs.Catalogs) (ores.Table, error) {
	t := ores.Builtin()
	p := filepath.Join(configDir, "ores.yaml")
	if _, err := os.Stat(p); err == nil {
		if t, err = ores.Load(p); err != nil {
			return ores.Table{}, err
		}
	}
	if err := t.Validate(cats); err != nil {
		return ores.Table{}, err
	}
	return t, nil
}

// newRuntime loads configuration and catalogs, opens persistence and
// installs the first book. When the datapack cannot be loaded the newest
// snapshot is served instead.
func newRuntime(ctx context.Context, cfg serverConfig, logger *log.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: logger}

	tp := strings.TrimSpace(cfg.TuningPath)
	if tp == "" {
		tp = filepath.Join(cfg.ConfigDir, "tuning.yaml")
	}
	var err error
	if rt.tune, err = loadTuning(tp, logger); err != nil {
		return nil, fmt.Errorf("load tuning: %w", err)
	}
	if rt.cats, err = catalogs.Load(cfg.ConfigDir); err != nil {
		return nil, fmt.Errorf("load catalogs: %w", err)
	}
	if !rt.cats.HasBlock(rt.tune.ReturnPortalFrameBlock) {
		return nil, fmt.Errorf("tuning: return_portal_frame_block %q is not a known block", rt.tune.ReturnPortalFrameBlock)
	}
	if rt.ores, err = loadOres(cfg.ConfigDir, rt.cats); err != nil {
		return nil, fmt.Errorf("load ores: %w", err)
	}
	if rt.tab, err = serializers.Builtin(); err != nil {
		return nil, fmt.Errorf("serializers: %w", err)
	}
	if rt.views, err = viewer.Builtin(); err != nil {
		return nil, fmt.Errorf("viewer: %w", err)
	}

	if rt.idx, err = openRuntimeIndex(cfg.DataDir, cfg.DisableDB); err != nil {
		return nil, fmt.Errorf("open index backend: %w", err)
	}
	if rt.idx != nil {
		if err := rt.idx.UpsertCatalogs(cfg.ConfigDir, rt.cats, rt.tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}
	rt.reloads = persistlog.NewReloadLogger(cfg.DataDir)

	rt.mgr = book.NewManager(book.ManagerConfig{
		Loader:        &loader.Loader{Serializers: rt.tab, Catalog: rt.cats, Logger: logger},
		Serializers:   rt.tab,
		Catalog:       rt.cats,
		Source:        os.DirFS(cfg.RecipesDir),
		MatchCacheTTL: rt.tune.LookupCacheTTL(),
		Logger:        logger,
	})
	rt.mgr.OnReload(rt.persist)
	rt.sync = ws.NewServer(rt.mgr, ws.Config{
		Catalogs:       rt.catalogDigests(),
		WriteTimeout:   rt.tune.SyncWriteTimeout(),
		QueueSize:      rt.tune.SyncQueueSize,
		AllowAnyOrigin: cfg.AnyOrigin,
	}, logger)

	if _, err := rt.mgr.Reload(ctx); err != nil {
		logger.Printf("load datapack %s: %v", cfg.RecipesDir, err)
		path, rerr := rt.restoreLatest()
		if rerr != nil {
			rt.Close()
			return nil, fmt.Errorf("no recipe book: datapack: %v; snapshot: %w", err, rerr)
		}
		logger.Printf("serving snapshot %s", filepath.Base(path))
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.reloads != nil {
		_ = rt.reloads.Close()
	}
	if rt.idx != nil {
		_ = rt.idx.Close()
	}
}

func (rt *runtime) booksDir() string { return filepath.Join(rt.cfg.DataDir, "books") }

func (rt *runtime) palettes() snapshot.Palettes {
	return snapshot.Palettes{Serializers: rt.tab.Digest(), ItemPalette: rt.cats.Items.Digest()}
}

func (rt *runtime) catalogDigests() protocol.CatalogDigests {
	return protocol.CatalogDigests{
		ItemPalette:        protocol.DigestRef{Digest: rt.cats.Items.Digest(), Count: rt.cats.Items.Len()},
		BlockPalette:       protocol.DigestRef{Digest: rt.cats.Blocks.Digest(), Count: rt.cats.Blocks.Len()},
		EnchantmentPalette: protocol.DigestRef{Digest: rt.cats.Enchantments.Digest(), Count: rt.cats.Enchantments.Len()},
		SerializersDigest:  rt.tab.Digest(),
		TuningDigest:       rt.tune.Digest,
	}
}

// persist runs after every installed book: reload report, snapshot, index.
func (rt *runtime) persist(bk *book.Book, b *loader.Batch) {
	if err := rt.reloads.WriteReload(persistlog.EntryFromBatch(b, bk.Digest())); err != nil {
		rt.log.Printf("reload log: %v", err)
	}

	keep := rt.tune.Reload.KeepReports
	snapPath := ""
	if rt.tune.Reload.Snapshot {
		p := snapshot.Path(rt.booksDir(), bk.ReloadID())
		if _, err := os.Stat(p); err == nil {
			// Restored from this snapshot.
			snapPath = p
		} else if err := snapshot.WriteBook(p, snapshot.FromBook(bk, b, rt.palettes())); err != nil {
			rt.log.Printf("snapshot write: %v", err)
		} else {
			snapPath = p
			if n, err := snapshot.Prune(rt.booksDir(), keep); err != nil {
				rt.log.Printf("snapshot prune: %v", err)
			} else if n > 0 {
				rt.log.Printf("pruned %d snapshots", n)
			}
		}
	}

	if rt.idx != nil {
		rt.idx.RecordReload(bk, b)
		if snapPath != "" {
			rt.idx.RecordSnapshot(bk.ReloadID(), snapPath)
		}
		rt.idx.Prune(keep)
	}
}

var errNoSnapshot = errors.New("no snapshot")

// restoreLatest installs the newest snapshot whose palettes match the ones
// loaded now.
func (rt *runtime) restoreLatest() (string, error) {
	path, err := snapshot.Latest(rt.booksDir())
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", errNoSnapshot
	}
	snap, err := snapshot.ReadBook(path)
	if err != nil {
		return "", err
	}
	if p := rt.palettes(); snap.Header.SerializersDigest != p.Serializers || snap.Header.ItemPaletteDigest != p.ItemPalette {
		return "", fmt.Errorf("%s: written against other palettes", filepath.Base(path))
	}
	b, err := snap.Batch(rt.tab, rt.cats)
	if err != nil {
		return "", err
	}
	return path, rt.mgr.Install(b)
}
