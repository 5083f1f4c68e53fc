package recipe

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"temporalsmith.dev/internal/registry"
	"temporalsmith.dev/internal/sim/encoding"
)

// MaxAlternatives bounds the item set of one ingredient on the wire.
const MaxAlternatives = 4096

// Ingredient accepts a slot when its item is one of Items and it holds at
// least Count of it. An ingredient with no items is blank and accepts only an
// empty slot.
type Ingredient struct {
	Items []string
	Tag   string
	Count int
}

var Blank = Ingredient{}

// Of builds a single or multi item ingredient requiring one of any of the items.
func Of(items ...string) Ingredient {
	return normalizeIngredient(Ingredient{Items: items, Count: 1})
}

func (in Ingredient) IsBlank() bool { return len(in.Items) == 0 }

func (in Ingredient) Test(s ItemStack) bool {
	if in.IsBlank() {
		return s.IsEmpty()
	}
	if s.IsEmpty() || s.Count < in.Count {
		return false
	}
	i := sort.SearchStrings(in.Items, s.Item)
	return i < len(in.Items) && in.Items[i] == s.Item
}

func (in Ingredient) Equal(o Ingredient) bool {
	if in.Tag != o.Tag || len(in.Items) != len(o.Items) {
		return false
	}
	if in.IsBlank() {
		return true
	}
	if in.Count != o.Count {
		return false
	}
	for i := range in.Items {
		if in.Items[i] != o.Items[i] {
			return false
		}
	}
	return true
}

func (in Ingredient) String() string {
	if in.IsBlank() {
		return "_"
	}
	if in.Tag != "" {
		return "#" + in.Tag
	}
	return strings.Join(in.Items, "|")
}

func normalizeIngredient(in Ingredient) Ingredient {
	if len(in.Items) == 0 {
		return Blank
	}
	items := append([]string(nil), in.Items...)
	sort.Strings(items)
	out := items[:0]
	for i, it := range items {
		if i > 0 && items[i-1] == it {
			continue
		}
		out = append(out, it)
	}
	in.Items = out
	if in.Count <= 0 {
		in.Count = 1
	}
	return in
}

type ingredientJSON struct {
	Item  string   `json:"item,omitempty"`
	Tag   string   `json:"tag,omitempty"`
	Items []string `json:"items,omitempty"`
	Count int      `json:"count,omitempty"`
}

// DecodeIngredientJSON accepts {"item"}, {"tag"}, {"items"} objects with an
// optional "count", or an array of item/tag objects.
func DecodeIngredientJSON(raw json.RawMessage, c Catalog) (Ingredient, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var parts []ingredientJSON
		if err := json.Unmarshal(raw, &parts); err != nil {
			return Blank, fmt.Errorf("ingredient: %w", err)
		}
		if len(parts) == 0 {
			return Blank, fmt.Errorf("%w: empty ingredient list", ErrMalformedPattern)
		}
		var items []string
		for _, p := range parts {
			if p.Count != 0 {
				return Blank, fmt.Errorf("ingredient: count not allowed inside a list")
			}
			in, err := resolveIngredient(p, c)
			if err != nil {
				return Blank, err
			}
			items = append(items, in.Items...)
		}
		return CheckIngredient(normalizeIngredient(Ingredient{Items: items, Count: 1}))
	}

	var p ingredientJSON
	if err := json.Unmarshal(raw, &p); err != nil {
		return Blank, fmt.Errorf("ingredient: %w", err)
	}
	return resolveIngredient(p, c)
}

func resolveIngredient(p ingredientJSON, c Catalog) (Ingredient, error) {
	set := 0
	for _, ok := range []bool{p.Item != "", p.Tag != "", len(p.Items) > 0} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return Blank, fmt.Errorf("%w: ingredient needs exactly one of item, tag, items", ErrMissingField)
	}
	if p.Count < 0 || p.Count > MaxStackCount {
		return Blank, fmt.Errorf("ingredient: count %d out of range", p.Count)
	}

	switch {
	case p.Tag != "":
		tag, err := registry.ParseID(p.Tag)
		if err != nil {
			return Blank, fmt.Errorf("ingredient tag: %w", err)
		}
		members, ok := c.ItemTag(tag)
		if !ok {
			return Blank, fmt.Errorf("%w: tag %s", ErrUnknownItem, tag)
		}
		if len(members) == 0 {
			return Blank, fmt.Errorf("%w: tag %s has no elements", ErrMalformedPattern, tag)
		}
		return CheckIngredient(normalizeIngredient(Ingredient{Items: members, Tag: tag, Count: p.Count}))
	default:
		ids := p.Items
		if p.Item != "" {
			ids = []string{p.Item}
		}
		items := make([]string, 0, len(ids))
		for _, raw := range ids {
			id, err := resolveItem(raw, c)
			if err != nil {
				return Blank, err
			}
			items = append(items, id)
		}
		return CheckIngredient(normalizeIngredient(Ingredient{Items: items, Count: p.Count}))
	}
}

// CheckIngredient enforces the limits the wire decoder applies, so anything
// that constructs also round-trips.
func CheckIngredient(in Ingredient) (Ingredient, error) {
	if len(in.Items) > MaxAlternatives {
		return Blank, fmt.Errorf("%w: %d alternatives exceeds %d", ErrMalformedPattern, len(in.Items), MaxAlternatives)
	}
	if in.Count > MaxStackCount {
		return Blank, fmt.Errorf("ingredient: count %d exceeds %d", in.Count, MaxStackCount)
	}
	return in, nil
}

func resolveItem(raw string, c Catalog) (string, error) {
	id, err := registry.ParseID(raw)
	if err != nil {
		return "", fmt.Errorf("item: %w", err)
	}
	if !c.HasItem(id) {
		return "", fmt.Errorf("%w: %s", ErrUnknownItem, c.UnknownItem(id))
	}
	return id, nil
}

// MarshalJSON emits the shortest object form that decodes back to in.
func (in Ingredient) MarshalJSON() ([]byte, error) {
	if in.IsBlank() {
		return nil, fmt.Errorf("blank ingredient has no json form")
	}
	p := ingredientJSON{}
	switch {
	case in.Tag != "":
		p.Tag = in.Tag
	case len(in.Items) == 1:
		p.Item = in.Items[0]
	default:
		p.Items = in.Items
	}
	if in.Count > 1 {
		p.Count = in.Count
	}
	return json.Marshal(p)
}

// EncodeWire writes tag, item palette indexes and count.
func (in Ingredient) EncodeWire(w *encoding.Writer, c Catalog) {
	w.UTF(in.Tag)
	w.Count(len(in.Items))
	for _, it := range in.Items {
		idx, ok := c.ItemIndex(it)
		if !ok {
			w.Fail(fmt.Errorf("%w: %s", ErrUnknownItem, it))
			return
		}
		w.Uvarint(uint64(idx))
	}
	if !in.IsBlank() {
		w.Count(in.Count)
	}
}

func DecodeIngredientWire(r *encoding.Reader, c Catalog) Ingredient {
	tag := r.UTF()
	n := r.Count(MaxAlternatives)
	if r.Err() != nil {
		return Blank
	}
	if n == 0 {
		if tag != "" {
			r.Fail(fmt.Errorf("%w: blank ingredient with tag %s", ErrMalformedPattern, tag))
		}
		return Blank
	}
	items := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := r.Uvarint()
		if r.Err() != nil {
			return Blank
		}
		if idx > uint64(^uint32(0)) {
			r.Fail(fmt.Errorf("%w: palette index %d", ErrUnknownItem, idx))
			return Blank
		}
		id, ok := c.ItemAt(uint32(idx))
		if !ok {
			r.Fail(fmt.Errorf("%w: palette index %d", ErrUnknownItem, idx))
			return Blank
		}
		items = append(items, id)
	}
	count := r.Count(MaxStackCount)
	return normalizeIngredient(Ingredient{Items: items, Tag: tag, Count: count})
}
