package recipe

import (
	"fmt"
	"sort"

	"temporalsmith.dev/internal/registry"
)

const (
	// MaxEnchantLevel bounds levels carried on stacks and recipes.
	MaxEnchantLevel = 255
	MaxStackCount   = 99
	MaxEnchantments = 64
)

type EnchantmentLevel struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// ItemStack is an item id, a count and the enchantments attached to it.
type ItemStack struct {
	Item         string
	Count        int
	Enchantments []EnchantmentLevel
}

// Stack is shorthand for a plain stack.
func Stack(item string, count int) ItemStack {
	return ItemStack{Item: item, Count: count}
}

func (s ItemStack) IsEmpty() bool { return s.Item == "" || s.Count <= 0 }

func (s ItemStack) Clone() ItemStack {
	out := s
	if len(s.Enchantments) > 0 {
		out.Enchantments = append([]EnchantmentLevel(nil), s.Enchantments...)
	} else {
		out.Enchantments = nil
	}
	return out
}

func (s ItemStack) Equal(o ItemStack) bool {
	if s.IsEmpty() && o.IsEmpty() {
		return true
	}
	return s.Item == o.Item && s.Count == o.Count && enchantmentsEqual(s.Enchantments, o.Enchantments)
}

func (s ItemStack) String() string {
	if s.IsEmpty() {
		return "empty"
	}
	if len(s.Enchantments) == 0 {
		return fmt.Sprintf("%dx%s", s.Count, s.Item)
	}
	return fmt.Sprintf("%dx%s%v", s.Count, s.Item, s.Enchantments)
}

// NormalizeEnchantments validates ids and levels, sorts by id and rejects
// duplicates. An empty list becomes nil.
func NormalizeEnchantments(in []EnchantmentLevel, c Catalog) ([]EnchantmentLevel, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if len(in) > MaxEnchantments {
		return nil, fmt.Errorf("%d enchantments exceeds %d", len(in), MaxEnchantments)
	}
	out := make([]EnchantmentLevel, len(in))
	for i, e := range in {
		if e.ID == "" {
			return nil, fmt.Errorf("%w: enchantment id", ErrMissingField)
		}
		id, err := registry.ParseID(e.ID)
		if err != nil {
			return nil, fmt.Errorf("enchantment: %w", err)
		}
		out[i] = EnchantmentLevel{ID: id, Level: e.Level}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	for i, e := range out {
		if c != nil && !c.HasEnchantment(e.ID) {
			return nil, fmt.Errorf("%w: enchantment %s", ErrUnknownItem, e.ID)
		}
		if e.Level < 1 || e.Level > MaxEnchantLevel {
			return nil, fmt.Errorf("enchantment %s: level %d out of range", e.ID, e.Level)
		}
		if i > 0 && out[i-1].ID == e.ID {
			return nil, fmt.Errorf("duplicate enchantment %s", e.ID)
		}
	}
	return out, nil
}

func enchantmentsEqual(a, b []EnchantmentLevel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
