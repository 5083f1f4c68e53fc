package shaped

import (
	"encoding/json"
	"errors"
	"testing"

	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/sim/catalogs"
	"temporalsmith.dev/internal/sim/encoding"
)

func loadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	c, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return c
}

const swordJSON = `{
  "type": "temporalsmith:tool_crafting_shaped",
  "category": "sword",
  "pattern": ["R", "R", "S"],
  "key": {
    "R": {"item": "temporalsmith:ruby"},
    "S": {"item": "minecraft:stick"}
  },
  "result": {"item": "temporalsmith:ruby_sword"}
}`

func TestDecodeJSON_DefaultsAndScenario(t *testing.T) {
	c := loadCatalogs(t)
	r, err := DecodeJSON(recipe.KindToolShaped, []byte(swordJSON), c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Group() != "" || r.Category() != recipe.CategorySword || !r.ShowNotification() || r.HideFlags() != 0 {
		t.Fatalf("unexpected defaults: group=%q category=%s show=%v hide=%d", r.Group(), r.Category(), r.ShowNotification(), r.HideFlags())
	}

	ruby := recipe.Stack("temporalsmith:ruby", 1)
	stick := recipe.Stack("minecraft:stick", 1)
	match, _ := recipe.NewGrid(1, 3, ruby, ruby, stick)
	if !r.Matches(match) {
		t.Fatalf("expected match")
	}
	if got := r.Assemble(match); !got.Equal(recipe.Stack("temporalsmith:ruby_sword", 1)) {
		t.Fatalf("unexpected result %v", got)
	}
	miss, _ := recipe.NewGrid(1, 3, ruby, stick, ruby)
	if r.Matches(miss) {
		t.Fatalf("expected no match")
	}
}

func TestAssemble_ReturnsCopy(t *testing.T) {
	c := loadCatalogs(t)
	r, err := DecodeJSON(recipe.KindToolShaped, []byte(`{
	  "type": "temporalsmith:tool_crafting_shaped",
	  "pattern": ["R"],
	  "key": {"R": {"item": "temporalsmith:ruby"}},
	  "result": {"item": "temporalsmith:ruby_sword", "enchantments": [{"id": "sharpness", "level": 2}]}
	}`), c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	g, _ := recipe.NewGrid(1, 1, recipe.Stack("temporalsmith:ruby", 1))
	out := r.Assemble(g)
	out.Count = 7
	out.Enchantments[0].Level = 5
	again := r.ResultItem()
	if again.Count != 1 || again.Enchantments[0].Level != 2 {
		t.Fatalf("stored result was mutated: %v", again)
	}
}

func TestDecodeJSON_CategoryFallback(t *testing.T) {
	c := loadCatalogs(t)
	for _, cat := range []string{"", "helmet", "nonsense"} {
		raw := `{"type":"temporalsmith:tool_crafting_shaped","category":"` + cat + `","pattern":["R"],"key":{"R":{"item":"temporalsmith:ruby"}},"result":{"item":"temporalsmith:ruby_sword"}}`
		r, err := DecodeJSON(recipe.KindToolShaped, []byte(raw), c)
		if err != nil {
			t.Fatalf("category %q: %v", cat, err)
		}
		if r.Category() != recipe.CategoryMisc {
			t.Fatalf("category %q: got %s, want misc", cat, r.Category())
		}
	}
}

func TestDecodeJSON_ArmourRequiresEnchantments(t *testing.T) {
	c := loadCatalogs(t)
	raw := `{"type":"temporalsmith:armour_crafting_shaped","category":"helmet","pattern":["RRR","R R"],"key":{"R":{"item":"temporalsmith:ruby"}},"result":{"item":"temporalsmith:ruby_helmet"}}`
	if _, err := DecodeJSON(recipe.KindArmourShaped, []byte(raw), c); !errors.Is(err, recipe.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	raw = `{"type":"temporalsmith:armour_crafting_shaped","category":"helmet","pattern":["RRR","R R"],"key":{"R":{"item":"temporalsmith:ruby"}},"result":{"item":"temporalsmith:ruby_helmet"},"enchantments":[]}`
	r, err := DecodeJSON(recipe.KindArmourShaped, []byte(raw), c)
	if err != nil {
		t.Fatalf("empty enchantments list should be accepted: %v", err)
	}
	if r.Category() != recipe.CategoryHelmet {
		t.Fatalf("unexpected category %s", r.Category())
	}
}

func TestDecodeJSON_Failures(t *testing.T) {
	c := loadCatalogs(t)
	cases := map[string]struct {
		raw  string
		want error
	}{
		"no result":     {`{"pattern":["R"],"key":{"R":{"item":"temporalsmith:ruby"}}}`, recipe.ErrMissingField},
		"no key":        {`{"pattern":["R"],"result":{"item":"temporalsmith:ruby"}}`, recipe.ErrMissingField},
		"unknown item":  {`{"pattern":["R"],"key":{"R":{"item":"temporalsmith:rubby"}},"result":{"item":"temporalsmith:ruby"}}`, recipe.ErrUnknownItem},
		"too wide":      {`{"pattern":["RRRR"],"key":{"R":{"item":"temporalsmith:ruby"}},"result":{"item":"temporalsmith:ruby"}}`, recipe.ErrPatternTooLarge},
		"zero count":    {`{"pattern":["R"],"key":{"R":{"item":"temporalsmith:ruby"}},"result":{"item":"temporalsmith:ruby","count":0}}`, recipe.ErrEmptyResult},
		"blank pattern": {`{"pattern":[" "],"key":{},"result":{"item":"temporalsmith:ruby"}}`, recipe.ErrMalformedPattern},
	}
	for name, tc := range cases {
		if _, err := DecodeJSON(recipe.KindToolShaped, []byte(tc.raw), c); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", name, err, tc.want)
		}
	}
}

func TestNew_RejectsEmptyResult(t *testing.T) {
	p, _ := recipe.NewPattern(1, 1, []recipe.Ingredient{recipe.Of("temporalsmith:ruby")})
	if _, err := New(recipe.KindToolShaped, p, recipe.ItemStack{}, Options{}); !errors.Is(err, recipe.ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
	if _, err := New("temporalsmith:unknown", p, recipe.Stack("temporalsmith:ruby", 1), Options{}); !errors.Is(err, recipe.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestWire_GroupEmptyCategoryTool(t *testing.T) {
	c := loadCatalogs(t)
	p, _ := recipe.NewPattern(3, 3, []recipe.Ingredient{
		recipe.Of("temporalsmith:imperium"), recipe.Of("temporalsmith:imperium"), recipe.Of("temporalsmith:imperium"),
		recipe.Blank, recipe.Of("minecraft:stick"), recipe.Blank,
		recipe.Blank, recipe.Of("minecraft:stick"), recipe.Blank,
	})
	r, err := New(recipe.KindToolShaped, p, recipe.Stack("temporalsmith:imperium_pickaxe", 1), Options{
		Category:         recipe.CategoryTool,
		ShowNotification: true,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	payload, err := recipe.EncodeWire(r, c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := recipe.DecodeWire(Serializers()[1], payload, c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	back := got.(*Recipe)
	if back.Group() != "" || back.Category() != recipe.CategoryTool || !back.ShowNotification() {
		t.Fatalf("fields changed: group=%q category=%s show=%v", back.Group(), back.Category(), back.ShowNotification())
	}
	if !back.ResultItem().Equal(r.ResultItem()) || !back.Equal(r) {
		t.Fatalf("recipe changed over the wire")
	}

	if _, err := recipe.DecodeWire(Serializers()[1], payload[:len(payload)-1], c); !errors.Is(err, encoding.ErrShortBuffer) {
		t.Fatalf("truncated: got %v", err)
	}
	if _, err := recipe.DecodeWire(Serializers()[1], append(append([]byte(nil), payload...), 0), c); !errors.Is(err, encoding.ErrTrailingBytes) {
		t.Fatalf("trailing: got %v", err)
	}
}

func TestRoundTrip_JSONAndWire(t *testing.T) {
	c := loadCatalogs(t)
	raw := `{
	  "type": "temporalsmith:armour_crafting_shaped",
	  "group": "ruby_armour",
	  "category": "chestplate",
	  "pattern": ["R R", "RGR", "RRR"],
	  "key": {
	    "R": {"item": "temporalsmith:ruby"},
	    "G": {"tag": "temporalsmith:gems", "count": 2}
	  },
	  "result": {"item": "temporalsmith:ruby_chestplate", "enchantments": [{"id": "protection", "level": 2}]},
	  "show_notification": false,
	  "enchantments": [{"id": "unbreaking", "level": 1}, {"id": "protection", "level": 2}],
	  "hide_flags": 1
	}`
	r, err := DecodeJSON(recipe.KindArmourShaped, []byte(raw), c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	enc, err := r.EncodeJSON()
	if err != nil {
		t.Fatalf("encode json: %v", err)
	}
	fromJSON, err := DecodeJSON(recipe.KindArmourShaped, enc, c)
	if err != nil {
		t.Fatalf("decode encoded json: %v\n%s", err, enc)
	}
	if !fromJSON.Equal(r) {
		t.Fatalf("json round trip changed the recipe:\n%s", enc)
	}

	payload, err := recipe.EncodeWire(r, c)
	if err != nil {
		t.Fatalf("encode wire: %v", err)
	}
	fromWire, err := recipe.DecodeWire(Serializers()[0], payload, c)
	if err != nil {
		t.Fatalf("decode wire: %v", err)
	}
	if !fromWire.(*Recipe).Equal(r) {
		t.Fatalf("wire round trip changed the recipe")
	}
	if ench := r.Enchantments(); ench[0].ID != "minecraft:protection" {
		t.Fatalf("enchantments not sorted: %v", ench)
	}
}

// Values the persisted form accepts at its limits must survive the wire.
func TestRoundTrip_Limits(t *testing.T) {
	c := loadCatalogs(t)
	all, err := json.Marshal(c.Items.IDs())
	if err != nil {
		t.Fatalf("marshal ids: %v", err)
	}
	armour := func(key, result, ench string, hide string) string {
		return `{
		  "type": "temporalsmith:armour_crafting_shaped",
		  "category": "helmet",
		  "pattern": ["RRR", "R R"],
		  "key": {"R": ` + key + `},
		  "result": ` + result + `,
		  "enchantments": ` + ench + `,
		  "hide_flags": ` + hide + `
		}`
	}
	const (
		ruby   = `{"item": "temporalsmith:ruby"}`
		helmet = `{"item": "temporalsmith:ruby_helmet"}`
		none   = `[]`
	)
	cases := []struct {
		name string
		raw  string
	}{
		{"ingredient count 99", armour(`{"item": "temporalsmith:ruby", "count": 99}`, helmet, none, "0")},
		{"tag count 99", armour(`{"tag": "temporalsmith:gems", "count": 99}`, helmet, none, "0")},
		{"every item as alternative", armour(`{"items": `+string(all)+`}`, helmet, none, "0")},
		{"result count 99", armour(ruby, `{"item": "temporalsmith:ruby_helmet", "count": 99}`, none, "0")},
		{"level 255", armour(ruby, `{"item": "temporalsmith:ruby_helmet", "enchantments": [{"id": "protection", "level": 255}]}`,
			`[{"id": "unbreaking", "level": 255}]`, "0")},
		{"hide_flags max", armour(ruby, helmet, none, "2147483647")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := DecodeJSON(recipe.KindArmourShaped, []byte(tc.raw), c)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			payload, err := recipe.EncodeWire(r, c)
			if err != nil {
				t.Fatalf("encode wire: %v", err)
			}
			got, err := recipe.DecodeWire(Serializers()[0], payload, c)
			if err != nil {
				t.Fatalf("decode wire: %v", err)
			}
			if !got.(*Recipe).Equal(r) {
				t.Fatalf("wire round trip changed the recipe")
			}
			enc, err := r.EncodeJSON()
			if err != nil {
				t.Fatalf("encode json: %v", err)
			}
			back, err := DecodeJSON(recipe.KindArmourShaped, enc, c)
			if err != nil || !back.Equal(r) {
				t.Fatalf("json round trip: %v\n%s", err, enc)
			}
		})
	}
}

func TestDecodeJSON_RejectsPastWireLimits(t *testing.T) {
	c := loadCatalogs(t)
	base := func(key, result, hide string) string {
		return `{
		  "type": "temporalsmith:tool_crafting_shaped",
		  "category": "sword",
		  "pattern": ["R", "R", "S"],
		  "key": {"R": ` + key + `, "S": {"item": "minecraft:stick"}},
		  "result": ` + result + `,
		  "hide_flags": ` + hide + `
		}`
	}
	cases := map[string]string{
		"ingredient count 100": base(`{"item": "temporalsmith:ruby", "count": 100}`, `{"item": "temporalsmith:ruby_sword"}`, "0"),
		"result count 100":     base(`{"item": "temporalsmith:ruby"}`, `{"item": "temporalsmith:ruby_sword", "count": 100}`, "0"),
		"level 256":            base(`{"item": "temporalsmith:ruby"}`, `{"item": "temporalsmith:ruby_sword", "enchantments": [{"id": "sharpness", "level": 256}]}`, "0"),
		"hide_flags 2^31":      base(`{"item": "temporalsmith:ruby"}`, `{"item": "temporalsmith:ruby_sword"}`, "2147483648"),
		"hide_flags 2^32":      base(`{"item": "temporalsmith:ruby"}`, `{"item": "temporalsmith:ruby_sword"}`, "4294967296"),
	}
	for name, raw := range cases {
		if _, err := DecodeJSON(recipe.KindToolShaped, []byte(raw), c); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}

	p, err := recipe.NewPattern(1, 1, []recipe.Ingredient{recipe.Of("temporalsmith:ruby")})
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}
	if _, err := New(recipe.KindToolShaped, p, recipe.Stack("temporalsmith:ruby_sword", 1), Options{Category: recipe.CategorySword, HideFlags: MaxHideFlags}); err != nil {
		t.Fatalf("MaxHideFlags must be accepted: %v", err)
	}
	if _, err := New(recipe.KindToolShaped, p, recipe.Stack("temporalsmith:ruby_sword", 1), Options{Category: recipe.CategorySword, HideFlags: -1}); err == nil {
		t.Fatalf("expected negative hide_flags to be rejected")
	}
}
