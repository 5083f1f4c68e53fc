// Package fusion implements the ingot fusion tool enhancer recipe: three
// positional inputs (left ingot, tool, right ingot) fused into one result.
package fusion

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/sim/encoding"
)

//go:embed schema.json
var schema []byte

// Slots is the fusion container layout: one row of three.
const Slots = 3

type Recipe struct {
	group            string
	category         recipe.Category
	inputs           [Slots]recipe.Ingredient
	result           recipe.ItemStack
	showNotification bool
}

// New builds a fusion recipe. Every input must be non-blank.
func New(group string, cat recipe.Category, left, middle, right recipe.Ingredient, result recipe.ItemStack, show bool) (*Recipe, error) {
	if !recipe.FusionCategories.Contains(cat) {
		return nil, fmt.Errorf("category %s not allowed for %s", cat, recipe.KindIngotFusion)
	}
	if result.IsEmpty() {
		return nil, recipe.ErrEmptyResult
	}
	r := &Recipe{group: group, category: cat, result: result.Clone(), showNotification: show}
	for i, in := range []recipe.Ingredient{left, middle, right} {
		if in.IsBlank() {
			return nil, fmt.Errorf("%w: %s input", recipe.ErrMissingField, slotNames[i])
		}
		in, err := recipe.CheckIngredient(in)
		if err != nil {
			return nil, fmt.Errorf("%s input: %w", slotNames[i], err)
		}
		r.inputs[i] = in
	}
	return r, nil
}

var slotNames = [Slots]string{"left", "middle", "right"}

func (r *Recipe) Kind() recipe.Kind { return recipe.KindIngotFusion }
func (r *Recipe) Group() string { return r.group }
func (r *Recipe) Category() recipe.Category { return r.category }
func (r *Recipe) ShowNotification() bool { return r.showNotification }
func (r *Recipe) Ingredients() []recipe.Ingredient {
	return append([]recipe.Ingredient(nil), r.inputs[:]...)
}

// Matches tests the three slots in order. There is no mirroring.
func (r *Recipe) Matches(g recipe.Grid) bool {
	if g.Width*g.Height != Slots || len(g.Slots) != Slots {
		return false
	}
	for i, in := range r.inputs {
		if !in.Test(g.Slots[i]) {
			return false
		}
	}
	return true
}

func (r *Recipe) Assemble(recipe.Grid) recipe.ItemStack { return r.result.Clone() }
func (r *Recipe) ResultItem() recipe.ItemStack { return r.result.Clone() }

func (r *Recipe) Equal(o *Recipe) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.group != o.group || r.category != o.category || r.showNotification != o.showNotification || !r.result.Equal(o.result) {
		return false
	}
	for i := range r.inputs {
		if !r.inputs[i].Equal(o.inputs[i]) {
			return false
		}
	}
	return true
}

type fileJSON struct {
	Type             string          `json:"type"`
	Group            string          `json:"group"`
	Category         string          `json:"category"`
	Left             json.RawMessage `json:"left"`
	Middle           json.RawMessage `json:"middle"`
	Right            json.RawMessage `json:"right"`
	Result           json.RawMessage `json:"result"`
	ShowNotification *bool           `json:"show_notification"`
}

func DecodeJSON(raw []byte, c recipe.Catalog) (*Recipe, error) {
	var f fileJSON
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.Type != "" && recipe.Kind(f.Type) != recipe.KindIngotFusion {
		return nil, fmt.Errorf("type %q does not match %s", f.Type, recipe.KindIngotFusion)
	}
	var in [Slots]recipe.Ingredient
	for i, part := range []json.RawMessage{f.Left, f.Middle, f.Right} {
		if len(part) == 0 {
			return nil, fmt.Errorf("%w: %s", recipe.ErrMissingField, slotNames[i])
		}
		v, err := recipe.DecodeIngredientJSON(part, c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", slotNames[i], err)
		}
		in[i] = v
	}
	result, err := recipe.DecodeResultJSON(f.Result, c)
	if err != nil {
		return nil, err
	}
	show := true
	if f.ShowNotification != nil {
		show = *f.ShowNotification
	}
	return New(f.Group, recipe.FusionCategories.Resolve(f.Category), in[0], in[1], in[2], result, show)
}

type encodedJSON struct {
	Type             recipe.Kind       `json:"type"`
	Group            string            `json:"group,omitempty"`
	Category         recipe.Category   `json:"category"`
	Left             recipe.Ingredient `json:"left"`
	Middle           recipe.Ingredient `json:"middle"`
	Right            recipe.Ingredient `json:"right"`
	Result           recipe.ResultJSON `json:"result"`
	ShowNotification bool              `json:"show_notification"`
}

func (r *Recipe) EncodeJSON() ([]byte, error) {
	return json.MarshalIndent(encodedJSON{
		Type:             recipe.KindIngotFusion,
		Group:            r.group,
		Category:         r.category,
		Left:             r.inputs[0],
		Middle:           r.inputs[1],
		Right:            r.inputs[2],
		Result:           recipe.EncodeResultJSON(r.result),
		ShowNotification: r.showNotification,
	}, "", "  ")
}

// EncodeWire writes group, category, left, middle, right, result and
// show_notification.
func (r *Recipe) EncodeWire(w *encoding.Writer, c recipe.Catalog) {
	w.UTF(r.group)
	w.Byte(byte(r.category))
	for _, in := range r.inputs {
		in.EncodeWire(w, c)
	}
	recipe.EncodeStackWire(w, r.result, c)
	w.Bool(r.showNotification)
}

func DecodeWire(rd *encoding.Reader, c recipe.Catalog) (*Recipe, error) {
	group := rd.UTF()
	cat := recipe.Category(rd.Byte())
	var in [Slots]recipe.Ingredient
	for i := range in {
		in[i] = recipe.DecodeIngredientWire(rd, c)
	}
	result := recipe.DecodeStackWire(rd, c)
	show := rd.Bool()
	if err := rd.Err(); err != nil {
		return nil, err
	}
	return New(group, cat, in[0], in[1], in[2], result, show)
}

func Serializer() recipe.Serializer {
	return recipe.Serializer{
		Kind:   recipe.KindIngotFusion,
		Schema: schema,
		DecodeJSON: func(raw []byte, c recipe.Catalog) (recipe.Recipe, error) {
			r, err := DecodeJSON(raw, c)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
		DecodeWire: func(rd *encoding.Reader, c recipe.Catalog) (recipe.Recipe, error) {
			r, err := DecodeWire(rd, c)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
	}
}
