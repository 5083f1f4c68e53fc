// Package shaped implements the armour and tool crafting table recipes: a
// 3x3 shaped pattern, a fixed result and the enchantments shown with it.
package shaped

import (
	_ "embed"
	"fmt"
	"math"

	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/sim/encoding"
)

//go:embed schema.json
var schema []byte

// HideEnchantments is the hide_flags bit that suppresses the enchantment
// tooltip in the recipe viewer.
const HideEnchantments = 1 << 0

// MaxHideFlags is the largest hide_flags value the wire form carries.
const MaxHideFlags = math.MaxInt32

// Recipe is immutable once built.
type Recipe struct {
	kind             recipe.Kind
	group            string
	category         recipe.Category
	pattern          recipe.Pattern
	result           recipe.ItemStack
	enchantments     []recipe.EnchantmentLevel
	showNotification bool
	hideFlags        int
}

type Options struct {
	Group            string
	Category         recipe.Category
	Enchantments     []recipe.EnchantmentLevel
	ShowNotification bool
	HideFlags        int
}

// Categories returns the category set a shaped kind accepts.
func Categories(kind recipe.Kind) (recipe.CategorySet, bool) {
	switch kind {
	case recipe.KindArmourShaped:
		return recipe.ArmourCategories, true
	case recipe.KindToolShaped:
		return recipe.ToolCategories, true
	}
	return nil, false
}

// New validates the pieces and returns the recipe. Enchantments must already
// be normalized.
func New(kind recipe.Kind, p recipe.Pattern, result recipe.ItemStack, opt Options) (*Recipe, error) {
	cats, ok := Categories(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", recipe.ErrUnknownKind, kind)
	}
	p, err := recipe.NewPattern(p.Width, p.Height, p.Cells)
	if err != nil {
		return nil, err
	}
	p, ok = recipe.Shrink(p)
	if !ok {
		return nil, fmt.Errorf("%w: empty pattern", recipe.ErrMalformedPattern)
	}
	if result.IsEmpty() {
		return nil, recipe.ErrEmptyResult
	}
	if !cats.Contains(opt.Category) {
		return nil, fmt.Errorf("category %s not allowed for %s", opt.Category, kind)
	}
	if opt.HideFlags < 0 || opt.HideFlags > MaxHideFlags {
		return nil, fmt.Errorf("hide_flags %d out of range", opt.HideFlags)
	}
	ench := opt.Enchantments
	if len(ench) == 0 {
		ench = nil
	}
	return &Recipe{
		kind:             kind,
		group:            opt.Group,
		category:         opt.Category,
		pattern:          p,
		result:           result.Clone(),
		enchantments:     append([]recipe.EnchantmentLevel(nil), ench...),
		showNotification: opt.ShowNotification,
		hideFlags:        opt.HideFlags,
	}, nil
}

func (r *Recipe) Kind() recipe.Kind { return r.kind }
func (r *Recipe) Group() string { return r.group }
func (r *Recipe) Category() recipe.Category { return r.category }
func (r *Recipe) ShowNotification() bool { return r.showNotification }
func (r *Recipe) HideFlags() int { return r.hideFlags }
func (r *Recipe) Pattern() recipe.Pattern { return r.pattern }

func (r *Recipe) Enchantments() []recipe.EnchantmentLevel {
	return append([]recipe.EnchantmentLevel(nil), r.enchantments...)
}

func (r *Recipe) Ingredients() []recipe.Ingredient {
	return append([]recipe.Ingredient(nil), r.pattern.Cells...)
}

func (r *Recipe) Matches(g recipe.Grid) bool { return r.pattern.Matches(g) }

// Assemble ignores the grid: the output is always the stored result.
func (r *Recipe) Assemble(recipe.Grid) recipe.ItemStack { return r.result.Clone() }

func (r *Recipe) ResultItem() recipe.ItemStack { return r.result.Clone() }

// Equal compares every encoded field.
func (r *Recipe) Equal(o *Recipe) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.kind != o.kind || r.group != o.group || r.category != o.category ||
		r.showNotification != o.showNotification || r.hideFlags != o.hideFlags {
		return false
	}
	if !r.pattern.Equal(o.pattern) || !r.result.Equal(o.result) || len(r.enchantments) != len(o.enchantments) {
		return false
	}
	for i := range r.enchantments {
		if r.enchantments[i] != o.enchantments[i] {
			return false
		}
	}
	return true
}

// Serializers returns the dispatch entries for both shaped kinds.
func Serializers() []recipe.Serializer {
	return []recipe.Serializer{serializer(recipe.KindArmourShaped), serializer(recipe.KindToolShaped)}
}

func serializer(kind recipe.Kind) recipe.Serializer {
	return recipe.Serializer{
		Kind:   kind,
		Schema: schema,
		DecodeJSON: func(raw []byte, c recipe.Catalog) (recipe.Recipe, error) {
			r, err := DecodeJSON(kind, raw, c)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
		DecodeWire: func(rd *encoding.Reader, c recipe.Catalog) (recipe.Recipe, error) {
			r, err := DecodeWire(kind, rd, c)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
	}
}
