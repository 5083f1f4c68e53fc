package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"temporalsmith.dev/internal/protocol"
	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/recipe/book"
	"temporalsmith.dev/internal/recipe/loader"
	"temporalsmith.dev/internal/recipe/serializers"
)

const (
	Version = 1
	Ext     = ".book.zst"
)

type Header struct {
	Version   int       `json:"version"`
	ReloadID  string    `json:"reload_id"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
	Count     int       `json:"count"`
	Failures  int       `json:"failures"`

	// Palettes the payloads were encoded against; a snapshot is only
	// decodable with the same ones.
	SerializersDigest string `json:"serializers_digest"`
	ItemPaletteDigest string `json:"item_palette_digest"`
}

type BookV1 struct {
	Header   Header
	Recipes  []RecipeV1
	Failures []FailureV1
}

type RecipeV1 struct {
	ID      string
	Kind    string
	Payload []byte
	Source  string
}

type FailureV1 struct {
	ID    string
	Error string
}

// Palettes identifies what the payloads of a snapshot depend on.
type Palettes struct {
	Serializers string
	ItemPalette string
}

// FromBook captures bk and the failures of the batch that built it.
func FromBook(bk *book.Book, b *loader.Batch, p Palettes) BookV1 {
	s := BookV1{Header: Header{
		Version:           Version,
		ReloadID:          bk.ReloadID(),
		Digest:            bk.Digest(),
		CreatedAt:         bk.LoadedAt().UTC(),
		Count:             bk.Len(),
		SerializersDigest: p.Serializers,
		ItemPaletteDigest: p.ItemPalette,
	}}
	for _, e := range bk.Entries() {
		s.Recipes = append(s.Recipes, RecipeV1{ID: e.ID, Kind: string(e.Kind), Payload: e.Payload, Source: e.Source})
	}
	if b != nil {
		for _, f := range b.Failures {
			s.Failures = append(s.Failures, FailureV1{ID: f.ID, Error: f.Err.Error()})
		}
	}
	s.Header.Failures = len(s.Failures)
	return s
}

func (s BookV1) Frame() protocol.BookFrame {
	f := protocol.BookFrame{Digest: s.Header.Digest, Recipes: make([]protocol.FrameRecipe, len(s.Recipes))}
	for i, r := range s.Recipes {
		f.Recipes[i] = protocol.FrameRecipe{ID: r.ID, Kind: r.Kind, Payload: r.Payload}
	}
	return f
}

// Batch decodes the snapshot back into a loader batch that book.Manager can
// install. Failures are carried over with their recorded text.
func (s BookV1) Batch(table *serializers.Table, c recipe.Catalog) (*loader.Batch, error) {
	if err := s.Frame().Verify(); err != nil {
		return nil, err
	}
	b := &loader.Batch{
		ReloadID:   s.Header.ReloadID,
		StartedAt:  s.Header.CreatedAt,
		FinishedAt: s.Header.CreatedAt,
		Recipes:    make(map[string]recipe.Recipe, len(s.Recipes)),
		Sources:    make(map[string]string, len(s.Recipes)),
	}
	for _, r := range s.Recipes {
		dec, err := table.DecodeWire(r.Kind, r.Payload, c)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", r.ID, err)
		}
		b.Recipes[r.ID] = dec
		b.Sources[r.ID] = r.Source
	}
	for _, f := range s.Failures {
		b.Failures = append(b.Failures, &recipe.LoadError{ID: f.ID, Err: errors.New(f.Error)})
	}
	return b, nil
}

// Path is where the snapshot of reloadID lives under dir.
func Path(dir, reloadID string) string {
	return filepath.Join(dir, reloadID+Ext)
}

func WriteBook(path string, snap BookV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeBody(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeBody(f *os.File, snap BookV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadBook(path string) (BookV1, error) {
	var snap BookV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Digest != h.Digest || snap.Header.ReloadID != h.ReloadID {
		return snap, fmt.Errorf("header line does not match body")
	}
	return snap, nil
}

// ReadHeader reads only the first line of a snapshot.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

type listed struct {
	path string
	at   time.Time
}

// list returns readable snapshots in dir, newest first.
func list(dir string) ([]listed, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []listed
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		h, err := ReadHeader(p)
		if err != nil {
			continue
		}
		out = append(out, listed{path: p, at: h.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.After(out[j].at)
		}
		return out[i].path > out[j].path
	})
	return out, nil
}

// Latest returns the newest snapshot in dir by header time, or "" if none.
func Latest(dir string) (string, error) {
	l, err := list(dir)
	if err != nil || len(l) == 0 {
		return "", err
	}
	return l[0].path, nil
}

// Prune removes all but the keep newest snapshots. keep <= 0 keeps everything.
func Prune(dir string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	l, err := list(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range l[min(keep, len(l)):] {
		if err := os.Remove(s.path); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
