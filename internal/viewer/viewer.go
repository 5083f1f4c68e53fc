// Package viewer turns recipes into display layouts for recipe-browser
// clients: slot positions, the items each slot cycles through, and the
// tooltip of the output.
package viewer

import (
	"errors"
	"fmt"
	"strconv"

	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/recipe/fusion"
	"temporalsmith.dev/internal/recipe/shaped"
	"temporalsmith.dev/internal/registry"
)

var ErrNoLayout = errors.New("no layout for recipe kind")

const (
	Width  = 150
	Height = 70

	slotSize = 18
	gridX    = 30
	gridY    = 16
	outputX  = 124
	outputY  = 34
)

type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
)

type Slot struct {
	Role  Role     `json:"role"`
	X     int      `json:"x"`
	Y     int      `json:"y"`
	Items []string `json:"items,omitempty"`
	Tag   string   `json:"tag,omitempty"`
	Count int      `json:"count,omitempty"`
}

type Layout struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Title   string   `json:"title"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Inputs  []Slot   `json:"inputs"`
	Output  Slot     `json:"output"`
	Tooltip []string `json:"tooltip,omitempty"`
}

// LayoutFunc builds the layout of one recipe of the kind it is registered for.
type LayoutFunc func(id string, r recipe.Recipe) (Layout, error)

// Dispatch maps recipe kinds to layout functions.
type Dispatch struct {
	reg *registry.Registry[LayoutFunc]
}

// Builtin covers every recipe kind this server defines.
func Builtin() (*Dispatch, error) {
	reg := registry.New[LayoutFunc]("viewer layouts")
	for kind, fn := range map[recipe.Kind]LayoutFunc{
		recipe.KindArmourShaped: shapedLayout("Custom Armour Crafting Table"),
		recipe.KindToolShaped:   shapedLayout("Custom Tool Crafting Table"),
		recipe.KindIngotFusion:  fusionLayout,
	} {
		if err := reg.RegisterValue(string(kind), fn); err != nil {
			return nil, err
		}
	}
	if err := reg.Freeze(); err != nil {
		return nil, err
	}
	return &Dispatch{reg: reg}, nil
}

func (d *Dispatch) Kinds() []string { return d.reg.IDs() }

func (d *Dispatch) Layout(id string, r recipe.Recipe) (Layout, error) {
	fn, ok := d.reg.Get(string(r.Kind()))
	if !ok {
		return Layout{}, fmt.Errorf("%w: %s", ErrNoLayout, r.Kind())
	}
	return fn(id, r)
}

func inputSlot(in recipe.Ingredient, x, y int) Slot {
	s := Slot{Role: RoleInput, X: x, Y: y}
	if !in.IsBlank() {
		s.Items = append([]string(nil), in.Items...)
		s.Tag = in.Tag
		s.Count = in.Count
	}
	return s
}

func outputSlot(st recipe.ItemStack) Slot {
	return Slot{Role: RoleOutput, X: outputX, Y: outputY, Items: []string{st.Item}, Count: st.Count}
}

// shapedLayout places the pattern in the top-left of a 3x3 grid, the way
// the crafting table shows it.
func shapedLayout(title string) LayoutFunc {
	return func(id string, r recipe.Recipe) (Layout, error) {
		sr, ok := r.(*shaped.Recipe)
		if !ok {
			return Layout{}, fmt.Errorf("%s: not a shaped recipe", id)
		}
		p := sr.Pattern()
		l := Layout{
			ID:     id,
			Kind:   string(sr.Kind()),
			Title:  title,
			Width:  Width,
			Height: Height,
			Output: outputSlot(sr.ResultItem()),
		}
		for y := 0; y < 3; y++ {
			for x := 0; x < 3; x++ {
				in := recipe.Blank
				if x < p.Width && y < p.Height {
					in = p.At(x, y)
				}
				l.Inputs = append(l.Inputs, inputSlot(in, gridX+x*slotSize, gridY+y*slotSize))
			}
		}
		l.Tooltip = tooltip(sr.ResultItem(), sr.Enchantments(), sr.HideFlags()&shaped.HideEnchantments != 0)
		return l, nil
	}
}

func fusionLayout(id string, r recipe.Recipe) (Layout, error) {
	fr, ok := r.(*fusion.Recipe)
	if !ok {
		return Layout{}, fmt.Errorf("%s: not a fusion recipe", id)
	}
	l := Layout{
		ID:     id,
		Kind:   string(fr.Kind()),
		Title:  "Ingot Fusion Tool Enhancer",
		Width:  Width,
		Height: Height,
		Output: outputSlot(fr.ResultItem()),
	}
	for i, in := range fr.Ingredients() {
		l.Inputs = append(l.Inputs, inputSlot(in, 20+i*2*slotSize, outputY))
	}
	l.Tooltip = tooltip(fr.ResultItem(), nil, false)
	return l, nil
}

// tooltip is the output item followed by one line per enchantment the
// crafted item carries, unless they are hidden.
func tooltip(result recipe.ItemStack, extra []recipe.EnchantmentLevel, hide bool) []string {
	lines := []string{result.Item}
	if result.Count > 1 {
		lines[0] = fmt.Sprintf("%s x%d", result.Item, result.Count)
	}
	if hide {
		return lines
	}
	for _, set := range [][]recipe.EnchantmentLevel{result.Enchantments, extra} {
		for _, e := range set {
			lines = append(lines, e.ID+" "+roman(e.Level))
		}
	}
	return lines
}

func roman(n int) string {
	numerals := []string{"I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X"}
	if n >= 1 && n <= len(numerals) {
		return numerals[n-1]
	}
	return strconv.Itoa(n)
}
