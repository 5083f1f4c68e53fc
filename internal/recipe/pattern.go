package recipe

import (
	"fmt"
	"strings"
)

const (
	MaxWidth  = 3
	MaxHeight = 3
)

// Pattern is a row-major width×height grid of ingredient constraints.
type Pattern struct {
	Width  int
	Height int
	Cells  []Ingredient
}

// NewPattern validates the dimensions and copies cells.
func NewPattern(width, height int, cells []Ingredient) (Pattern, error) {
	if width < 1 || height < 1 || width > MaxWidth || height > MaxHeight {
		return Pattern{}, fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrPatternTooLarge, width, height, MaxWidth, MaxHeight)
	}
	if len(cells) != width*height {
		return Pattern{}, fmt.Errorf("%w: %d cells for %dx%d", ErrMalformedPattern, len(cells), width, height)
	}
	out := Pattern{Width: width, Height: height, Cells: make([]Ingredient, len(cells))}
	for i, c := range cells {
		in, err := CheckIngredient(normalizeIngredient(c))
		if err != nil {
			return Pattern{}, fmt.Errorf("cell %d: %w", i, err)
		}
		out.Cells[i] = in
	}
	return out, nil
}

func (p Pattern) At(x, y int) Ingredient { return p.Cells[y*p.Width+x] }

// Mirror flips the pattern horizontally.
func (p Pattern) Mirror() Pattern {
	out := Pattern{Width: p.Width, Height: p.Height, Cells: make([]Ingredient, len(p.Cells))}
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			out.Cells[y*p.Width+x] = p.At(p.Width-1-x, y)
		}
	}
	return out
}

func (p Pattern) IsBlank() bool {
	for _, c := range p.Cells {
		if !c.IsBlank() {
			return false
		}
	}
	return true
}

// Symmetric reports whether mirroring leaves the pattern unchanged.
func (p Pattern) Symmetric() bool {
	m := p.Mirror()
	for i := range p.Cells {
		if !p.Cells[i].Equal(m.Cells[i]) {
			return false
		}
	}
	return true
}

func (p Pattern) Equal(o Pattern) bool {
	if p.Width != o.Width || p.Height != o.Height || len(p.Cells) != len(o.Cells) {
		return false
	}
	for i := range p.Cells {
		if !p.Cells[i].Equal(o.Cells[i]) {
			return false
		}
	}
	return true
}

// Matches reports whether the grid's non-empty slots line up with the pattern
// at some offset, as-is or mirrored, with every slot outside the pattern's
// footprint empty.
func (p Pattern) Matches(g Grid) bool {
	if p.Width > g.Width || p.Height > g.Height {
		return false
	}
	checkMirror := !p.Symmetric()
	for dy := 0; dy <= g.Height-p.Height; dy++ {
		for dx := 0; dx <= g.Width-p.Width; dx++ {
			if p.matchesAt(g, dx, dy, false) {
				return true
			}
			if checkMirror && p.matchesAt(g, dx, dy, true) {
				return true
			}
		}
	}
	return false
}

func (p Pattern) matchesAt(g Grid, dx, dy int, mirrored bool) bool {
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			px, py := x-dx, y-dy
			in := Blank
			if px >= 0 && py >= 0 && px < p.Width && py < p.Height {
				if mirrored {
					in = p.At(p.Width-1-px, py)
				} else {
					in = p.At(px, py)
				}
			}
			if !in.Test(g.At(x, y)) {
				return false
			}
		}
	}
	return true
}

func (p Pattern) String() string {
	var b strings.Builder
	for y := 0; y < p.Height; y++ {
		if y > 0 {
			b.WriteByte('/')
		}
		for x := 0; x < p.Width; x++ {
			if x > 0 {
				b.WriteByte(',')
			}
			b.WriteString(p.At(x, y).String())
		}
	}
	return b.String()
}

// Grid is the read-only container a pattern is matched against.
type Grid struct {
	Width  int
	Height int
	Slots  []ItemStack
}

func NewGrid(width, height int, slots ...ItemStack) (Grid, error) {
	if width < 1 || height < 1 || width > MaxWidth || height > MaxHeight {
		return Grid{}, fmt.Errorf("grid %dx%d outside 1..%dx1..%d", width, height, MaxWidth, MaxHeight)
	}
	if len(slots) > width*height {
		return Grid{}, fmt.Errorf("grid %dx%d: %d slots", width, height, len(slots))
	}
	g := Grid{Width: width, Height: height, Slots: make([]ItemStack, width*height)}
	copy(g.Slots, slots)
	return g, nil
}

func (g Grid) At(x, y int) ItemStack {
	i := y*g.Width + x
	if i < 0 || i >= len(g.Slots) {
		return ItemStack{}
	}
	return g.Slots[i]
}

func (g Grid) Mirror() Grid {
	out := Grid{Width: g.Width, Height: g.Height, Slots: make([]ItemStack, g.Width*g.Height)}
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			out.Slots[y*g.Width+x] = g.At(g.Width-1-x, y)
		}
	}
	return out
}

func (g Grid) IsEmpty() bool {
	for _, s := range g.Slots {
		if !s.IsEmpty() {
			return false
		}
	}
	return true
}

// Fingerprint is a stable textual key of the grid contents.
func (g Grid) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%dx%d", g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			s := g.At(x, y)
			b.WriteByte('|')
			if !s.IsEmpty() {
				fmt.Fprintf(&b, "%s*%d", s.Item, s.Count)
			}
		}
	}
	return b.String()
}
