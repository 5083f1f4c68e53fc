package loader

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/recipe/serializers"
	"temporalsmith.dev/internal/sim/catalogs"
)

func newLoader(t *testing.T) *Loader {
	t.Helper()
	c, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tab, err := serializers.Builtin()
	if err != nil {
		t.Fatalf("serializers: %v", err)
	}
	return &Loader{Serializers: tab, Catalog: c}
}

func swordFile(gem string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(`{
	  "type": "temporalsmith:tool_crafting_shaped",
	  "category": "sword",
	  "pattern": ["G", "G", "S"],
	  "key": {"G": {"item": "temporalsmith:` + gem + `"}, "S": {"item": "minecraft:stick"}},
	  "result": {"item": "temporalsmith:` + gem + `_sword"}
	}`)}
}

func TestLoad_PartialFailure(t *testing.T) {
	l := newLoader(t)
	fsys := fstest.MapFS{
		"data/temporalsmith/recipes/ruby_sword.json":           swordFile("ruby"),
		"data/temporalsmith/recipes/sapphire_sword.json":       swordFile("sapphire"),
		"data/temporalsmith/recipes/tools/graphite_sword.json": swordFile("graphite"),
		"data/temporalsmith/recipes/broken.json": {Data: []byte(`{
		  "type": "temporalsmith:tool_crafting_shaped",
		  "pattern": ["G"],
		  "key": {"G": {"item": "temporalsmith:ruby"}}
		}`)},
		"data/temporalsmith/recipes/README.txt": {Data: []byte("ignored")},
	}
	b, err := l.Load(context.Background(), fsys)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(b.Recipes) != 3 {
		t.Fatalf("expected 3 recipes, got %v", b.IDs())
	}
	if len(b.Failures) != 1 || b.Failures[0].ID != "temporalsmith:broken" {
		t.Fatalf("expected one failure for temporalsmith:broken, got %v", b.Failures)
	}
	if _, ok := b.Recipes["temporalsmith:tools/graphite_sword"]; !ok {
		t.Fatalf("nested path not loaded: %v", b.IDs())
	}
	if b.ReloadID == "" || b.Sources["temporalsmith:ruby_sword"] == "" {
		t.Fatalf("expected reload id and source digests")
	}
}

func TestLoad_FailureKinds(t *testing.T) {
	l := newLoader(t)
	fsys := fstest.MapFS{
		"data/temporalsmith/recipes/typo.json": {Data: []byte(`{
		  "type": "temporalsmith:tool_crafting_shaped",
		  "pattern": ["G"],
		  "key": {"G": {"item": "temporalsmith:rubyy"}},
		  "result": {"item": "temporalsmith:ruby_sword"}
		}`)},
		"data/temporalsmith/recipes/no_type.json":  {Data: []byte(`{"pattern":["G"]}`)},
		"data/temporalsmith/recipes/bad_kind.json": {Data: []byte(`{"type":"temporalsmith:smelting"}`)},
		"data/temporalsmith/recipes/not_json.json": {Data: []byte(`{`)},
		"data/temporalsmith/recipes/Upper.json":    swordFile("ruby"),
	}
	b, err := l.Load(context.Background(), fsys)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(b.Recipes) != 0 || len(b.Failures) != 5 {
		t.Fatalf("expected 5 failures, got recipes=%v failures=%v", b.IDs(), b.Failures)
	}
	byID := map[string]error{}
	for _, f := range b.Failures {
		byID[f.ID] = f.Err
	}
	if err := byID["temporalsmith:typo"]; !errors.Is(err, recipe.ErrUnknownItem) || !strings.Contains(err.Error(), "did you mean temporalsmith:ruby") {
		t.Fatalf("expected suggestion, got %v", err)
	}
	if err := byID["temporalsmith:no_type"]; !errors.Is(err, recipe.ErrMissingField) {
		t.Fatalf("no type: got %v", err)
	}
	if err := byID["temporalsmith:bad_kind"]; !errors.Is(err, recipe.ErrUnknownKind) {
		t.Fatalf("bad kind: got %v", err)
	}
}

func TestLoad_NoDataDir(t *testing.T) {
	l := newLoader(t)
	if _, err := l.Load(context.Background(), fstest.MapFS{}); !errors.Is(err, ErrNoRecipes) {
		t.Fatalf("expected ErrNoRecipes, got %v", err)
	}
}

func TestLoad_Cancelled(t *testing.T) {
	l := newLoader(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fsys := fstest.MapFS{"data/temporalsmith/recipes/ruby_sword.json": swordFile("ruby")}
	if _, err := l.Load(ctx, fsys); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoadDir_RepoDatapack(t *testing.T) {
	l := newLoader(t)
	b, err := l.LoadDir(context.Background(), "../../..")
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(b.Failures) != 0 {
		t.Fatalf("repo datapack has failures: %v", b.Failures)
	}
	if _, ok := b.Recipes["temporalsmith:magma_strike_pickaxe"]; !ok {
		t.Fatalf("missing magma strike pickaxe recipe: %v", b.IDs())
	}
}
