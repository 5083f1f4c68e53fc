package recipe

import (
	"errors"
	"fmt"

	"temporalsmith.dev/internal/sim/encoding"
)

// Kind is the serialization identity of a recipe type.
type Kind string

const (
	KindArmourShaped Kind = "temporalsmith:armour_crafting_shaped"
	KindToolShaped   Kind = "temporalsmith:tool_crafting_shaped"
	KindIngotFusion  Kind = "temporalsmith:ingot_fusion_tool_enhancer"
)

var (
	ErrPatternTooLarge  = errors.New("pattern too large")
	ErrMissingField     = errors.New("missing required field")
	ErrUnknownItem      = errors.New("unknown item identity")
	ErrEmptyResult      = errors.New("empty result")
	ErrMalformedPattern = errors.New("malformed pattern")
	ErrUnknownKind      = errors.New("unknown recipe kind")
)

// Catalog is the read-only view of the item registry the codecs need.
type Catalog interface {
	HasItem(id string) bool
	ItemIndex(id string) (uint32, bool)
	ItemAt(i uint32) (string, bool)
	ItemTag(tag string) ([]string, bool)
	HasEnchantment(id string) bool
	UnknownItem(id string) string
}

type Matchable interface {
	Matches(g Grid) bool
}

type Assembleable interface {
	// Assemble returns the crafted stack for a grid that Matches accepted.
	Assemble(g Grid) ItemStack
	// ResultItem is the display result.
	ResultItem() ItemStack
}

type WireCodable interface {
	EncodeWire(w *encoding.Writer, c Catalog)
}

type PersistCodable interface {
	EncodeJSON() ([]byte, error)
}

// Recipe is the full capability set every recipe kind implements.
type Recipe interface {
	Matchable
	Assembleable
	WireCodable
	PersistCodable

	Kind() Kind
	Group() string
	Category() Category
	ShowNotification() bool
	Ingredients() []Ingredient
}

// Serializer decodes one recipe kind from either representation.
type Serializer struct {
	Kind       Kind
	Schema     []byte
	DecodeJSON func(raw []byte, c Catalog) (Recipe, error)
	DecodeWire func(r *encoding.Reader, c Catalog) (Recipe, error)
}

// EncodeWire returns the wire payload of r.
func EncodeWire(r Recipe, c Catalog) ([]byte, error) {
	w := encoding.NewWriter()
	r.EncodeWire(w, c)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", r.Kind(), err)
	}
	return w.Bytes(), nil
}

// DecodeWire decodes a payload and requires it to be consumed exactly.
func DecodeWire(s Serializer, payload []byte, c Catalog) (Recipe, error) {
	rd := encoding.NewReader(payload)
	r, err := s.DecodeWire(rd, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Kind, err)
	}
	if err := rd.Done(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Kind, err)
	}
	return r, nil
}

// LoadError attributes a decode failure to one recipe id.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("recipe %s: %v", e.ID, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }
