package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"temporalsmith.dev/internal/sim/encoding"
)

// BookFrameMagic is the first byte of every binary RECIPE_BOOK frame.
const BookFrameMagic byte = 0xB7

// MaxBookRecipes bounds the count a client accepts in one frame.
const MaxBookRecipes = 1 << 16

// ErrDecodeMismatch means a frame or a recipe payload inside it did not decode
// to exactly what was sent. It is fatal for the connection.
var ErrDecodeMismatch = errors.New("recipe book decode mismatch")

type FrameRecipe struct {
	ID      string
	Kind    string
	Payload []byte
}

// BookFrame is one full recipe book push.
type BookFrame struct {
	Digest  string
	Recipes []FrameRecipe
}

// EncodeBookFrame writes magic, digest, count and then id, kind and
// length-prefixed payload per recipe.
func EncodeBookFrame(f BookFrame) ([]byte, error) {
	w := encoding.NewWriter()
	w.Byte(BookFrameMagic)
	w.UTF(f.Digest)
	w.Count(len(f.Recipes))
	for _, r := range f.Recipes {
		w.UTF(r.ID)
		w.UTF(r.Kind)
		w.Raw(r.Payload)
	}
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeBookFrame(b []byte) (BookFrame, error) {
	r := encoding.NewReader(b)
	if m := r.Byte(); r.Err() == nil && m != BookFrameMagic {
		return BookFrame{}, fmt.Errorf("%w: bad magic 0x%02x", ErrDecodeMismatch, m)
	}
	f := BookFrame{Digest: r.UTF()}
	n := r.Count(MaxBookRecipes)
	if r.Err() == nil {
		f.Recipes = make([]FrameRecipe, 0, n)
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		fr := FrameRecipe{ID: r.UTF(), Kind: r.UTF()}
		fr.Payload = r.Raw()
		f.Recipes = append(f.Recipes, fr)
	}
	if err := r.Done(); err != nil {
		return BookFrame{}, fmt.Errorf("%w: %v", ErrDecodeMismatch, err)
	}
	return f, nil
}

// BookDigest hashes id, kind and payload of every recipe, each length
// prefixed, in the order given. Books list recipes in id order, so equal
// content gives an equal digest.
func BookDigest(recipes []FrameRecipe) string {
	h := sha256.New()
	var n [binary.MaxVarintLen64]byte
	for _, r := range recipes {
		for _, part := range [][]byte{[]byte(r.ID), []byte(r.Kind), r.Payload} {
			h.Write(n[:binary.PutUvarint(n[:], uint64(len(part)))])
			h.Write(part)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks that the frame digest matches its content.
func (f BookFrame) Verify() error {
	if got := BookDigest(f.Recipes); got != f.Digest {
		return fmt.Errorf("%w: digest %s, content hashes to %s", ErrDecodeMismatch, f.Digest, got)
	}
	return nil
}
