package shaped

import (
	"encoding/json"
	"fmt"

	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/sim/encoding"
)

type fileJSON struct {
	Type             string                     `json:"type"`
	Group            string                     `json:"group"`
	Category         string                     `json:"category"`
	Pattern          []string                   `json:"pattern"`
	Key              map[string]json.RawMessage `json:"key"`
	Result           json.RawMessage            `json:"result"`
	ShowNotification *bool                      `json:"show_notification"`
	Enchantments     *[]recipe.EnchantmentLevel `json:"enchantments"`
	HideFlags        int                        `json:"hide_flags"`
}

// DecodeJSON reads one persisted recipe of the given kind. Missing optional
// fields take their defaults; an unknown or disallowed category falls back to
// misc.
func DecodeJSON(kind recipe.Kind, raw []byte, c recipe.Catalog) (*Recipe, error) {
	cats, ok := Categories(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", recipe.ErrUnknownKind, kind)
	}
	var f fileJSON
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.Type != "" && recipe.Kind(f.Type) != kind {
		return nil, fmt.Errorf("type %q does not match %s", f.Type, kind)
	}
	if f.Key == nil {
		return nil, fmt.Errorf("%w: key", recipe.ErrMissingField)
	}
	p, err := recipe.DecodePatternJSON(f.Pattern, f.Key, c)
	if err != nil {
		return nil, err
	}
	result, err := recipe.DecodeResultJSON(f.Result, c)
	if err != nil {
		return nil, err
	}

	var ench []recipe.EnchantmentLevel
	switch {
	case f.Enchantments != nil:
		ench, err = recipe.NormalizeEnchantments(*f.Enchantments, c)
		if err != nil {
			return nil, err
		}
	case kind == recipe.KindArmourShaped:
		return nil, fmt.Errorf("%w: enchantments", recipe.ErrMissingField)
	}

	show := true
	if f.ShowNotification != nil {
		show = *f.ShowNotification
	}
	return New(kind, p, result, Options{
		Group:            f.Group,
		Category:         cats.Resolve(f.Category),
		Enchantments:     ench,
		ShowNotification: show,
		HideFlags:        f.HideFlags,
	})
}

type encodedJSON struct {
	Type             recipe.Kind                  `json:"type"`
	Group            string                       `json:"group,omitempty"`
	Category         recipe.Category              `json:"category"`
	Pattern          []string                     `json:"pattern"`
	Key              map[string]recipe.Ingredient `json:"key"`
	Result           recipe.ResultJSON            `json:"result"`
	ShowNotification bool                         `json:"show_notification"`
	Enchantments     *[]recipe.EnchantmentLevel   `json:"enchantments,omitempty"`
	HideFlags        int                          `json:"hide_flags,omitempty"`
}

func (r *Recipe) EncodeJSON() ([]byte, error) {
	rows, key, err := recipe.EncodePatternJSON(r.pattern)
	if err != nil {
		return nil, err
	}
	out := encodedJSON{
		Type:             r.kind,
		Group:            r.group,
		Category:         r.category,
		Pattern:          rows,
		Key:              key,
		Result:           recipe.EncodeResultJSON(r.result),
		ShowNotification: r.showNotification,
		HideFlags:        r.hideFlags,
	}
	if len(r.enchantments) > 0 || r.kind == recipe.KindArmourShaped {
		ench := r.Enchantments()
		if ench == nil {
			ench = []recipe.EnchantmentLevel{}
		}
		out.Enchantments = &ench
	}
	return json.MarshalIndent(out, "", "  ")
}

// EncodeWire writes width, height, group, category, cells, enchantments,
// result, show_notification and hide_flags in that order.
func (r *Recipe) EncodeWire(w *encoding.Writer, c recipe.Catalog) {
	w.Count(r.pattern.Width)
	w.Count(r.pattern.Height)
	w.UTF(r.group)
	w.Byte(byte(r.category))
	r.pattern.EncodeWire(w, c)
	recipe.EncodeEnchantmentsWire(w, r.enchantments)
	recipe.EncodeStackWire(w, r.result, c)
	w.Bool(r.showNotification)
	w.Count(r.hideFlags)
}

func DecodeWire(kind recipe.Kind, rd *encoding.Reader, c recipe.Catalog) (*Recipe, error) {
	cats, ok := Categories(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", recipe.ErrUnknownKind, kind)
	}
	width := rd.Count(recipe.MaxWidth)
	height := rd.Count(recipe.MaxHeight)
	group := rd.UTF()
	cat := recipe.Category(rd.Byte())
	if rd.Err() != nil {
		return nil, rd.Err()
	}
	if !cats.Contains(cat) {
		return nil, fmt.Errorf("category %s not allowed for %s", cat, kind)
	}
	p := recipe.DecodePatternWire(rd, width, height, c)
	ench := recipe.DecodeEnchantmentsWire(rd, c)
	result := recipe.DecodeStackWire(rd, c)
	show := rd.Bool()
	hide := rd.Count(MaxHideFlags)
	if rd.Err() != nil {
		return nil, rd.Err()
	}
	return New(kind, p, result, Options{
		Group:            group,
		Category:         cat,
		Enchantments:     ench,
		ShowNotification: show,
		HideFlags:        hide,
	})
}
