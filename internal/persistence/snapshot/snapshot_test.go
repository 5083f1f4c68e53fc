package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"temporalsmith.dev/internal/recipe/book"
	"temporalsmith.dev/internal/recipe/loader"
	"temporalsmith.dev/internal/recipe/serializers"
	"temporalsmith.dev/internal/sim/catalogs"
)

type env struct {
	cats *catalogs.Catalogs
	tab  *serializers.Table
}

func newEnv(t *testing.T) env {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tab, err := serializers.Builtin()
	if err != nil {
		t.Fatalf("serializers: %v", err)
	}
	return env{cats: cats, tab: tab}
}

func (e env) manager(src fstest.MapFS) *book.Manager {
	return book.NewManager(book.ManagerConfig{
		Loader:      &loader.Loader{Serializers: e.tab, Catalog: e.cats},
		Serializers: e.tab,
		Catalog:     e.cats,
		Source:      src,
	})
}

var datapack = fstest.MapFS{
	"data/temporalsmith/recipes/ruby_helmet.json": {Data: []byte(`{
	  "type": "temporalsmith:armour_crafting_shaped",
	  "category": "helmet",
	  "pattern": ["RRR", "R R"],
	  "key": {"R": {"item": "temporalsmith:ruby"}},
	  "result": {"item": "temporalsmith:ruby_helmet"},
	  "enchantments": [{"id": "minecraft:protection", "level": 2}],
	  "hide_flags": 1
	}`)},
	"data/temporalsmith/recipes/magma_strike_pickaxe.json": {Data: []byte(`{
	  "type": "temporalsmith:ingot_fusion_tool_enhancer",
	  "left": {"item": "temporalsmith:imperium"},
	  "middle": {"item": "temporalsmith:imperium_pickaxe"},
	  "right": {"item": "temporalsmith:imperium"},
	  "result": {"item": "temporalsmith:magma_strike_pickaxe"}
	}`)},
	"data/temporalsmith/recipes/broken.json": {Data: []byte(`{"type": "temporalsmith:tool_crafting_shaped"}`)},
}

func TestBook_RoundTripAndInstall(t *testing.T) {
	e := newEnv(t)
	m := e.manager(datapack)
	batch, err := m.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	bk := m.Book()
	snap := FromBook(bk, batch, Palettes{Serializers: e.tab.Digest(), ItemPalette: e.cats.Items.Digest()})
	if snap.Header.Count != 2 || snap.Header.Failures != 1 {
		t.Fatalf("unexpected header %+v", snap.Header)
	}

	path := Path(filepath.Join(t.TempDir(), "books"), bk.ReloadID())
	if err := WriteBook(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadBook(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Digest != bk.Digest() || len(got.Recipes) != 2 || len(got.Failures) != 1 {
		t.Fatalf("unexpected snapshot %+v", got.Header)
	}
	if err := got.Frame().Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	restored, err := got.Batch(e.tab, e.cats)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	m2 := e.manager(nil)
	if err := m2.Install(restored); err != nil {
		t.Fatalf("install: %v", err)
	}
	if m2.Book().Digest() != bk.Digest() || m2.Book().Failures() != 1 {
		t.Fatalf("restored book differs")
	}
	entry, _ := m2.Book().Get("temporalsmith:ruby_helmet")
	if len(entry.Recipe.ResultItem().Enchantments) != 0 {
		t.Fatalf("result stack should carry no enchantments of its own")
	}
}

func TestBook_TamperedPayloadRejected(t *testing.T) {
	e := newEnv(t)
	m := e.manager(datapack)
	batch, err := m.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	snap := FromBook(m.Book(), batch, Palettes{})
	snap.Recipes[0].Payload = append([]byte(nil), snap.Recipes[0].Payload...)
	snap.Recipes[0].Payload[0] ^= 0xff
	if _, err := snap.Batch(e.tab, e.cats); err == nil {
		t.Fatalf("expected digest failure")
	}
}

func TestLatestAndPrune(t *testing.T) {
	dir := t.TempDir()
	if p, err := Latest(dir); err != nil || p != "" {
		t.Fatalf("empty dir: %q %v", p, err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Names sort differently from creation times.
	for i, id := range []string{"c", "a", "b"} {
		s := BookV1{Header: Header{Version: Version, ReloadID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)}}
		if err := WriteBook(Path(dir, id), s); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "junk"+Ext), []byte("not zstd"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}

	p, err := Latest(dir)
	if err != nil || p != Path(dir, "b") {
		t.Fatalf("latest=%q err=%v", p, err)
	}
	n, err := Prune(dir, 2)
	if err != nil || n != 1 {
		t.Fatalf("prune removed %d: %v", n, err)
	}
	if _, err := os.Stat(Path(dir, "c")); !os.IsNotExist(err) {
		t.Fatalf("oldest snapshot should be gone")
	}
	if _, err := os.Stat(Path(dir, "a")); err != nil {
		t.Fatalf("a should stay: %v", err)
	}
}
