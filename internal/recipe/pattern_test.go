package recipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"temporalsmith.dev/internal/sim/catalogs"
	"temporalsmith.dev/internal/sim/encoding"
)

const (
	ruby  = "temporalsmith:ruby"
	stick = "minecraft:stick"
)

func loadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	c, err := catalogs.Load("../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return c
}

func mustPattern(t *testing.T, w, h int, cells ...Ingredient) Pattern {
	t.Helper()
	p, err := NewPattern(w, h, cells)
	if err != nil {
		t.Fatalf("NewPattern: %v", err)
	}
	return p
}

func mustGrid(t *testing.T, w, h int, slots ...ItemStack) Grid {
	t.Helper()
	g, err := NewGrid(w, h, slots...)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g
}

func TestPattern_ColumnOrderMatters(t *testing.T) {
	// A / A / S stacked vertically.
	p := mustPattern(t, 1, 3, Of(ruby), Of(ruby), Of(stick))

	if !p.Matches(mustGrid(t, 1, 3, Stack(ruby, 1), Stack(ruby, 1), Stack(stick, 1))) {
		t.Fatalf("expected [ruby, ruby, stick] to match")
	}
	if p.Matches(mustGrid(t, 1, 3, Stack(ruby, 1), Stack(stick, 1), Stack(ruby, 1))) {
		t.Fatalf("expected [ruby, stick, ruby] not to match")
	}
}

func TestPattern_MatchesAtAnyOffsetInLargerGrid(t *testing.T) {
	p := mustPattern(t, 1, 2, Of(ruby), Of(stick))
	g := mustGrid(t, 3, 3,
		ItemStack{}, ItemStack{}, ItemStack{},
		ItemStack{}, ItemStack{}, Stack(ruby, 1),
		ItemStack{}, ItemStack{}, Stack(stick, 1),
	)
	if !p.Matches(g) {
		t.Fatalf("expected match in bottom-right corner")
	}
	g.Slots[0] = Stack(stick, 1)
	if p.Matches(g) {
		t.Fatalf("stray item outside the footprint must prevent a match")
	}
}

func TestPattern_MirrorProperty(t *testing.T) {
	p := mustPattern(t, 2, 2, Of(ruby), Blank, Of(ruby), Of(stick))
	grids := []Grid{
		mustGrid(t, 2, 2, Stack(ruby, 1), ItemStack{}, Stack(ruby, 1), Stack(stick, 1)),
		mustGrid(t, 2, 2, ItemStack{}, Stack(ruby, 1), Stack(stick, 1), Stack(ruby, 1)),
		mustGrid(t, 3, 2, ItemStack{}, Stack(ruby, 1), ItemStack{}, ItemStack{}, Stack(ruby, 1), Stack(stick, 1)),
		mustGrid(t, 2, 2, Stack(stick, 1), ItemStack{}, Stack(ruby, 1), Stack(ruby, 1)),
	}
	for i, g := range grids {
		if p.Matches(g) != p.Matches(g.Mirror()) {
			t.Fatalf("grid %d: match differs from mirrored grid", i)
		}
		if p.Matches(g) != p.Mirror().Matches(g) {
			t.Fatalf("grid %d: match differs for mirrored pattern", i)
		}
	}
	if !p.Matches(grids[1]) {
		t.Fatalf("expected mirrored arrangement to match")
	}
	if p.Matches(grids[3]) {
		t.Fatalf("expected unrelated arrangement not to match")
	}
}

func TestPattern_TooLarge(t *testing.T) {
	cells := make([]Ingredient, 12)
	if _, err := NewPattern(4, 3, cells); !errors.Is(err, ErrPatternTooLarge) {
		t.Fatalf("expected ErrPatternTooLarge, got %v", err)
	}
	if _, err := NewPattern(2, 2, cells[:3]); !errors.Is(err, ErrMalformedPattern) {
		t.Fatalf("expected ErrMalformedPattern, got %v", err)
	}
}

func TestPattern_BlankMatchesOnlyEmptyGrid(t *testing.T) {
	p := mustPattern(t, 2, 2, Blank, Blank, Blank, Blank)
	if !p.Matches(mustGrid(t, 2, 2)) {
		t.Fatalf("blank pattern should match an empty grid")
	}
	if p.Matches(mustGrid(t, 2, 2, Stack(ruby, 1))) {
		t.Fatalf("blank pattern should not match a non-empty grid")
	}
}

func TestPattern_GridSmallerThanPattern(t *testing.T) {
	p := mustPattern(t, 3, 1, Of(ruby), Of(ruby), Of(ruby))
	if p.Matches(mustGrid(t, 2, 2, Stack(ruby, 1), Stack(ruby, 1))) {
		t.Fatalf("pattern wider than the grid cannot match")
	}
}

func TestIngredient_Count(t *testing.T) {
	in := normalizeIngredient(Ingredient{Items: []string{ruby}, Count: 3})
	if in.Test(Stack(ruby, 2)) {
		t.Fatalf("2 rubies should not satisfy count 3")
	}
	if !in.Test(Stack(ruby, 3)) || !in.Test(Stack(ruby, 5)) {
		t.Fatalf("3 or more rubies should satisfy count 3")
	}
	if in.Test(Stack(stick, 3)) {
		t.Fatalf("wrong item accepted")
	}
	if !Blank.Test(ItemStack{}) || Blank.Test(Stack(stick, 1)) {
		t.Fatalf("blank ingredient must accept exactly the empty slot")
	}
}

func TestDecodePatternJSON_ShrinksAndValidates(t *testing.T) {
	c := loadCatalogs(t)
	key := map[string]json.RawMessage{
		"R": json.RawMessage(`{"item":"temporalsmith:ruby"}`),
		"S": json.RawMessage(`{"item":"stick"}`),
	}
	p, err := DecodePatternJSON([]string{"   ", " R ", " S "}, key, c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Width != 1 || p.Height != 2 {
		t.Fatalf("expected 1x2 after shrink, got %dx%d", p.Width, p.Height)
	}
	if p.At(0, 1).Items[0] != stick {
		t.Fatalf("stick not normalized: %v", p.At(0, 1))
	}

	if _, err := DecodePatternJSON([]string{"RX"}, key, c); !errors.Is(err, ErrMalformedPattern) {
		t.Fatalf("undefined symbol: got %v", err)
	}
	if _, err := DecodePatternJSON([]string{"R"}, key, c); !errors.Is(err, ErrMalformedPattern) {
		t.Fatalf("unused key: got %v", err)
	}
	if _, err := DecodePatternJSON([]string{"RRRR"}, key, c); !errors.Is(err, ErrPatternTooLarge) {
		t.Fatalf("wide pattern: got %v", err)
	}
	if _, err := DecodePatternJSON([]string{"R", "R", "S", "S"}, key, c); !errors.Is(err, ErrPatternTooLarge) {
		t.Fatalf("tall pattern: got %v", err)
	}
	if _, err := DecodePatternJSON([]string{"  "}, map[string]json.RawMessage{}, c); !errors.Is(err, ErrMalformedPattern) {
		t.Fatalf("blank pattern: got %v", err)
	}
	bad := map[string]json.RawMessage{"R": json.RawMessage(`{"item":"temporalsmith:rubyy"}`)}
	_, err = DecodePatternJSON([]string{"R"}, bad, c)
	if !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("unknown item: got %v", err)
	}
}

func TestPatternJSON_EncodeDecode(t *testing.T) {
	c := loadCatalogs(t)
	p := mustPattern(t, 3, 2, Of(ruby), Of(ruby), Of(ruby), Blank, Of(stick), Blank)
	rows, key, err := EncodePatternJSON(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if rows[0] != "AAA" || rows[1] != " B " {
		t.Fatalf("unexpected rows %q", rows)
	}
	raw := map[string]json.RawMessage{}
	for k, in := range key {
		b, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal %s: %v", k, err)
		}
		raw[k] = b
	}
	got, err := DecodePatternJSON(rows, raw, c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(p) {
		t.Fatalf("pattern changed: %s vs %s", got, p)
	}
}

func TestPatternWire_TagAndCount(t *testing.T) {
	c := loadCatalogs(t)
	gems, _ := c.ItemTag("temporalsmith:gems")
	p := mustPattern(t, 2, 1,
		normalizeIngredient(Ingredient{Items: gems, Tag: "temporalsmith:gems", Count: 2}),
		Blank,
	)
	w := encoding.NewWriter()
	p.EncodeWire(w, c)
	if err := w.Err(); err != nil {
		t.Fatalf("encode: %v", err)
	}
	r := encoding.NewReader(w.Bytes())
	got := DecodePatternWire(r, 2, 1, c)
	if err := r.Done(); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(p) {
		t.Fatalf("pattern changed: %s vs %s", got, p)
	}
}

func TestStackWire_RejectsUnknownIndex(t *testing.T) {
	c := loadCatalogs(t)
	w := encoding.NewWriter()
	w.Uvarint(uint64(c.Items.Len()) + 10)
	w.Count(1)
	w.Count(0)
	r := encoding.NewReader(w.Bytes())
	DecodeStackWire(r, c)
	if !errors.Is(r.Err(), ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", r.Err())
	}
}

func TestDecodeResultJSON(t *testing.T) {
	c := loadCatalogs(t)
	s, err := DecodeResultJSON(json.RawMessage(`{"item":"temporalsmith:ruby_sword","enchantments":[{"id":"temporalsmith:sharpness","level":2}]}`), c)
	if err == nil {
		t.Fatalf("expected unknown enchantment namespace to fail, got %v", s)
	}
	s, err = DecodeResultJSON(json.RawMessage(`{"item":"temporalsmith:ruby_sword","enchantments":[{"id":"sharpness","level":2},{"id":"unbreaking","level":1}]}`), c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Count != 1 || len(s.Enchantments) != 2 || s.Enchantments[0].ID != "minecraft:sharpness" {
		t.Fatalf("unexpected stack %v", s)
	}
	if _, err := DecodeResultJSON(json.RawMessage(`{"item":"temporalsmith:ruby_sword","count":0}`), c); !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("count 0: got %v", err)
	}
	if _, err := DecodeResultJSON(nil, c); !errors.Is(err, ErrMissingField) {
		t.Fatalf("missing: got %v", err)
	}
}

func TestCheckIngredient_WireLimits(t *testing.T) {
	if _, err := NewPattern(1, 1, []Ingredient{{Items: []string{ruby}, Count: MaxStackCount + 1}}); err == nil {
		t.Fatalf("expected count above %d to be rejected", MaxStackCount)
	}
	many := make([]string, MaxAlternatives+1)
	for i := range many {
		many[i] = fmt.Sprintf("temporalsmith:item_%d", i)
	}
	if _, err := NewPattern(1, 1, []Ingredient{{Items: many, Count: 1}}); !errors.Is(err, ErrMalformedPattern) {
		t.Fatalf("expected too many alternatives to be rejected, got %v", err)
	}
	if _, err := CheckIngredient(Ingredient{Items: many[:MaxAlternatives], Count: MaxStackCount}); err != nil {
		t.Fatalf("limits themselves must be accepted: %v", err)
	}

	c := loadCatalogs(t)
	if _, err := DecodeIngredientJSON(json.RawMessage(`{"item":"temporalsmith:ruby","count":100}`), c); err == nil {
		t.Fatalf("expected json count 100 to be rejected")
	}
	list := make([]EnchantmentLevel, MaxEnchantments+1)
	for i := range list {
		list[i] = EnchantmentLevel{ID: fmt.Sprintf("minecraft:e%d", i), Level: 1}
	}
	if _, err := NormalizeEnchantments(list, nil); err == nil {
		t.Fatalf("expected more than %d enchantments to be rejected", MaxEnchantments)
	}
}
