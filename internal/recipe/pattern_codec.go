package recipe

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"temporalsmith.dev/internal/sim/encoding"
)

const keySymbols = "ABCDEFGHI"

// DecodePatternJSON builds a pattern from "pattern" rows and a "key" map.
// Space is a blank cell. Every symbol must be defined, every key used, and
// the result is shrunk to the bounding box of non-blank cells.
func DecodePatternJSON(rows []string, key map[string]json.RawMessage, c Catalog) (Pattern, error) {
	if len(rows) == 0 {
		return Pattern{}, fmt.Errorf("%w: pattern", ErrMissingField)
	}
	if len(rows) > MaxHeight {
		return Pattern{}, fmt.Errorf("%w: %d rows, max %d", ErrPatternTooLarge, len(rows), MaxHeight)
	}
	width := utf8.RuneCountInString(rows[0])
	if width == 0 {
		return Pattern{}, fmt.Errorf("%w: empty row", ErrMalformedPattern)
	}
	if width > MaxWidth {
		return Pattern{}, fmt.Errorf("%w: %d columns, max %d", ErrPatternTooLarge, width, MaxWidth)
	}
	for i, r := range rows {
		if utf8.RuneCountInString(r) != width {
			return Pattern{}, fmt.Errorf("%w: row %d has width %d, want %d", ErrMalformedPattern, i, utf8.RuneCountInString(r), width)
		}
	}

	defs := map[rune]Ingredient{}
	for k, raw := range key {
		if utf8.RuneCountInString(k) != 1 {
			return Pattern{}, fmt.Errorf("%w: key %q is not a single character", ErrMalformedPattern, k)
		}
		sym, _ := utf8.DecodeRuneInString(k)
		if sym == ' ' {
			return Pattern{}, fmt.Errorf("%w: space is reserved for blank cells", ErrMalformedPattern)
		}
		in, err := DecodeIngredientJSON(raw, c)
		if err != nil {
			return Pattern{}, fmt.Errorf("key %q: %w", k, err)
		}
		defs[sym] = in
	}

	used := map[rune]bool{}
	cells := make([]Ingredient, 0, width*len(rows))
	for _, r := range rows {
		for _, sym := range r {
			if sym == ' ' {
				cells = append(cells, Blank)
				continue
			}
			in, ok := defs[sym]
			if !ok {
				return Pattern{}, fmt.Errorf("%w: symbol %q not defined in key", ErrMalformedPattern, sym)
			}
			used[sym] = true
			cells = append(cells, in)
		}
	}
	var unused []string
	for sym := range defs {
		if !used[sym] {
			unused = append(unused, string(sym))
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		return Pattern{}, fmt.Errorf("%w: key defines unused symbols %s", ErrMalformedPattern, strings.Join(unused, ","))
	}

	p, err := NewPattern(width, len(rows), cells)
	if err != nil {
		return Pattern{}, err
	}
	p, ok := Shrink(p)
	if !ok {
		return Pattern{}, fmt.Errorf("%w: empty pattern", ErrMalformedPattern)
	}
	return p, nil
}

// Shrink trims blank border rows and columns. It reports false for an
// all-blank pattern.
func Shrink(p Pattern) (Pattern, bool) {
	minX, minY, maxX, maxY := p.Width, p.Height, -1, -1
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			if p.At(x, y).IsBlank() {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < 0 {
		return Pattern{}, false
	}
	w, h := maxX-minX+1, maxY-minY+1
	out := Pattern{Width: w, Height: h, Cells: make([]Ingredient, 0, w*h)}
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			out.Cells = append(out.Cells, p.At(x, y))
		}
	}
	return out, true
}

// EncodePatternJSON assigns symbols A, B, ... to distinct ingredients in
// first-appearance order.
func EncodePatternJSON(p Pattern) ([]string, map[string]Ingredient, error) {
	if p.Width < 1 || p.Height < 1 || len(p.Cells) != p.Width*p.Height {
		return nil, nil, fmt.Errorf("%w: %dx%d with %d cells", ErrMalformedPattern, p.Width, p.Height, len(p.Cells))
	}
	var distinct []Ingredient
	key := map[string]Ingredient{}
	rows := make([]string, p.Height)
	for y := 0; y < p.Height; y++ {
		var b strings.Builder
		for x := 0; x < p.Width; x++ {
			in := p.At(x, y)
			if in.IsBlank() {
				b.WriteByte(' ')
				continue
			}
			idx := -1
			for i, d := range distinct {
				if d.Equal(in) {
					idx = i
					break
				}
			}
			if idx < 0 {
				distinct = append(distinct, in)
				idx = len(distinct) - 1
				key[string(keySymbols[idx])] = in
			}
			b.WriteByte(keySymbols[idx])
		}
		rows[y] = b.String()
	}
	return rows, key, nil
}

// EncodeWire writes every cell in row-major order. Dimensions are written by
// the enclosing recipe.
func (p Pattern) EncodeWire(w *encoding.Writer, c Catalog) {
	for _, in := range p.Cells {
		in.EncodeWire(w, c)
	}
}

func DecodePatternWire(r *encoding.Reader, width, height int, c Catalog) Pattern {
	if width < 1 || height < 1 || width > MaxWidth || height > MaxHeight {
		r.Fail(fmt.Errorf("%w: %dx%d", ErrPatternTooLarge, width, height))
		return Pattern{}
	}
	cells := make([]Ingredient, width*height)
	for i := range cells {
		cells[i] = DecodeIngredientWire(r, c)
		if r.Err() != nil {
			return Pattern{}
		}
	}
	return Pattern{Width: width, Height: height, Cells: cells}
}
