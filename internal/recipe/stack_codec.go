package recipe

import (
	"encoding/json"
	"fmt"

	"temporalsmith.dev/internal/sim/encoding"
)

// ResultJSON is the persisted form of a result stack.
type ResultJSON struct {
	Item         string             `json:"item"`
	Count        *int               `json:"count,omitempty"`
	Enchantments []EnchantmentLevel `json:"enchantments,omitempty"`
}

// DecodeResultJSON reads {"item", "count"?, "enchantments"?}. Count defaults
// to 1; a result must not be empty.
func DecodeResultJSON(raw json.RawMessage, c Catalog) (ItemStack, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return ItemStack{}, fmt.Errorf("%w: result", ErrMissingField)
	}
	var s ResultJSON
	if err := json.Unmarshal(raw, &s); err != nil {
		return ItemStack{}, fmt.Errorf("result: %w", err)
	}
	if s.Item == "" {
		return ItemStack{}, fmt.Errorf("%w: result.item", ErrMissingField)
	}
	id, err := resolveItem(s.Item, c)
	if err != nil {
		return ItemStack{}, fmt.Errorf("result: %w", err)
	}
	count := 1
	if s.Count != nil {
		count = *s.Count
	}
	if count < 1 || count > MaxStackCount {
		return ItemStack{}, fmt.Errorf("%w: result count %d", ErrEmptyResult, count)
	}
	ench, err := NormalizeEnchantments(s.Enchantments, c)
	if err != nil {
		return ItemStack{}, fmt.Errorf("result: %w", err)
	}
	return ItemStack{Item: id, Count: count, Enchantments: ench}, nil
}

func EncodeResultJSON(s ItemStack) ResultJSON {
	out := ResultJSON{Item: s.Item, Enchantments: s.Enchantments}
	if s.Count != 1 {
		n := s.Count
		out.Count = &n
	}
	return out
}

func EncodeEnchantmentsWire(w *encoding.Writer, list []EnchantmentLevel) {
	w.Count(len(list))
	for _, e := range list {
		w.UTF(e.ID)
		w.Count(e.Level)
	}
}

func DecodeEnchantmentsWire(r *encoding.Reader, c Catalog) []EnchantmentLevel {
	n := r.Count(MaxEnchantments)
	if r.Err() != nil || n == 0 {
		return nil
	}
	out := make([]EnchantmentLevel, 0, n)
	for i := 0; i < n; i++ {
		id := r.UTF()
		lvl := r.Count(MaxEnchantLevel)
		if r.Err() != nil {
			return nil
		}
		out = append(out, EnchantmentLevel{ID: id, Level: lvl})
	}
	norm, err := NormalizeEnchantments(out, c)
	if err != nil {
		r.Fail(err)
		return nil
	}
	return norm
}

// EncodeStackWire writes item palette index, count and enchantments.
func EncodeStackWire(w *encoding.Writer, s ItemStack, c Catalog) {
	idx, ok := c.ItemIndex(s.Item)
	if !ok {
		w.Fail(fmt.Errorf("%w: %s", ErrUnknownItem, s.Item))
		return
	}
	w.Uvarint(uint64(idx))
	w.Count(s.Count)
	EncodeEnchantmentsWire(w, s.Enchantments)
}

func DecodeStackWire(r *encoding.Reader, c Catalog) ItemStack {
	idx := r.Uvarint()
	if r.Err() != nil {
		return ItemStack{}
	}
	if idx > uint64(^uint32(0)) {
		r.Fail(fmt.Errorf("%w: palette index %d", ErrUnknownItem, idx))
		return ItemStack{}
	}
	id, ok := c.ItemAt(uint32(idx))
	if !ok {
		r.Fail(fmt.Errorf("%w: palette index %d", ErrUnknownItem, idx))
		return ItemStack{}
	}
	count := r.Count(MaxStackCount)
	ench := DecodeEnchantmentsWire(r, c)
	return ItemStack{Item: id, Count: count, Enchantments: ench}
}
