package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestBookFrame_RoundTrip(t *testing.T) {
	in := BookFrame{
		Digest: "abc123",
		Recipes: []FrameRecipe{
			{ID: "temporalsmith:ruby_sword_recipe", Kind: "temporalsmith:tool_crafting_shaped", Payload: []byte{1, 3, 0, 5}},
			{ID: "temporalsmith:magma_strike_pickaxe", Kind: "temporalsmith:ingot_fusion_tool_enhancer", Payload: []byte{}},
		},
	}
	b, err := EncodeBookFrame(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b[0] != BookFrameMagic {
		t.Fatalf("missing magic")
	}
	out, err := DecodeBookFrame(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Digest != in.Digest || len(out.Recipes) != 2 {
		t.Fatalf("unexpected frame %+v", out)
	}
	for i := range in.Recipes {
		if out.Recipes[i].ID != in.Recipes[i].ID || out.Recipes[i].Kind != in.Recipes[i].Kind || !bytes.Equal(out.Recipes[i].Payload, in.Recipes[i].Payload) {
			t.Fatalf("recipe %d changed: %+v", i, out.Recipes[i])
		}
	}
}

func TestBookFrame_Mismatch(t *testing.T) {
	b, err := EncodeBookFrame(BookFrame{Digest: "d", Recipes: []FrameRecipe{{ID: "a:b", Kind: "a:k", Payload: []byte{9, 9}}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cases := map[string][]byte{
		"truncated": b[:len(b)-1],
		"trailing":  append(append([]byte(nil), b...), 0),
		"magic":     append([]byte{0x00}, b[1:]...),
		"empty":     nil,
	}
	for name, frame := range cases {
		if _, err := DecodeBookFrame(frame); !errors.Is(err, ErrDecodeMismatch) {
			t.Fatalf("%s: expected ErrDecodeMismatch, got %v", name, err)
		}
	}
}

func TestBookDigest_VerifiesContent(t *testing.T) {
	f := BookFrame{Recipes: []FrameRecipe{{ID: "a:b", Kind: "a:k", Payload: []byte{1}}}}
	f.Digest = BookDigest(f.Recipes)
	if err := f.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	// Length prefixes keep shifted boundaries from colliding.
	g := BookFrame{Digest: f.Digest, Recipes: []FrameRecipe{{ID: "a:", Kind: "ba:k", Payload: []byte{1}}}}
	if err := g.Verify(); !errors.Is(err, ErrDecodeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}
