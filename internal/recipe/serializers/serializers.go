// Package serializers is the dispatch table from recipe kind to the codecs
// and schema of that kind.
package serializers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/recipe/fusion"
	"temporalsmith.dev/internal/recipe/shaped"
	"temporalsmith.dev/internal/registry"
)

// Table is frozen; lookups are safe from any goroutine.
type Table struct {
	reg     *registry.Registry[recipe.Serializer]
	schemas map[recipe.Kind]*jsonschema.Schema
}

// Builtin returns the table of every kind this server knows.
func Builtin() (*Table, error) {
	return New(append(shaped.Serializers(), fusion.Serializer())...)
}

func New(list ...recipe.Serializer) (*Table, error) {
	reg := registry.New[recipe.Serializer]("recipe_serializers")
	for _, s := range list {
		if err := reg.RegisterValue(string(s.Kind), s); err != nil {
			return nil, err
		}
	}
	t := &Table{reg: reg, schemas: map[recipe.Kind]*jsonschema.Schema{}}
	var compileErr error
	reg.OnFrozen(func(r *registry.Registry[recipe.Serializer]) {
		for _, id := range r.IDs() {
			s := r.MustGet(id)
			if len(s.Schema) == 0 {
				continue
			}
			sch, err := compileSchema(s.Kind, s.Schema)
			if err != nil {
				compileErr = err
				return
			}
			t.schemas[s.Kind] = sch
		}
	})
	if err := reg.Freeze(); err != nil {
		return nil, err
	}
	if compileErr != nil {
		return nil, compileErr
	}
	return t, nil
}

func compileSchema(kind recipe.Kind, raw []byte) (*jsonschema.Schema, error) {
	url := "mem://recipes/" + string(kind) + ".schema.json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema %s: %w", kind, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", kind, err)
	}
	return s, nil
}

func (t *Table) Kinds() []string { return t.reg.IDs() }

func (t *Table) Digest() string { return t.reg.Digest() }

// Lookup resolves a kind. Unknown kinds carry a suggestion when one is close.
func (t *Table) Lookup(kind string) (recipe.Serializer, error) {
	id, err := registry.ParseID(kind)
	if err != nil {
		return recipe.Serializer{}, fmt.Errorf("%w: %q", recipe.ErrUnknownKind, kind)
	}
	s, ok := t.reg.Get(id)
	if !ok {
		if near := t.reg.Suggest(id); near != "" {
			return recipe.Serializer{}, fmt.Errorf("%w: %s (did you mean %s?)", recipe.ErrUnknownKind, id, near)
		}
		return recipe.Serializer{}, fmt.Errorf("%w: %s", recipe.ErrUnknownKind, id)
	}
	return s, nil
}

// Validate checks raw against the kind's schema.
func (t *Table) Validate(kind recipe.Kind, raw []byte) error {
	sch, ok := t.schemas[kind]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return sch.Validate(v)
}

// DecodeJSON runs lookup, schema validation and decode for one file.
func (t *Table) DecodeJSON(kind string, raw []byte, c recipe.Catalog) (recipe.Recipe, error) {
	s, err := t.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if err := t.Validate(s.Kind, raw); err != nil {
		return nil, err
	}
	return s.DecodeJSON(raw, c)
}

func (t *Table) DecodeWire(kind string, payload []byte, c recipe.Catalog) (recipe.Recipe, error) {
	s, err := t.Lookup(kind)
	if err != nil {
		return nil, err
	}
	return recipe.DecodeWire(s, payload, c)
}

// EncodeWire is the inverse of DecodeWire; the kind travels alongside.
func (t *Table) EncodeWire(r recipe.Recipe, c recipe.Catalog) ([]byte, error) {
	if _, err := t.Lookup(string(r.Kind())); err != nil {
		return nil, err
	}
	return recipe.EncodeWire(r, c)
}
