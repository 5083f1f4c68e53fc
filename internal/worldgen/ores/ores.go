// Package ores is the ore placement table: which host blocks each ore
// replaces, how large a vein is and how often it is attempted per chunk.
// The world generator owns the actual search; Vein and Origins give a
// deterministic preview of what a row would place.
package ores

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"temporalsmith.dev/internal/registry"
	"temporalsmith.dev/internal/worldgen/mathx"
)

const (
	ChunkSize = 16
	MaxSize   = 64
)

type Dimension string

const (
	Overworld Dimension = "overworld"
	Nether    Dimension = "nether"
	End       Dimension = "end"
)

// Rule selects host blocks, either by block tag or by one block id.
type Rule struct {
	Tag   string `yaml:"tag,omitempty" json:"tag,omitempty"`
	Block string `yaml:"block,omitempty" json:"block,omitempty"`
}

// Target replaces hosts matching Rule with State.
type Target struct {
	Rule  `yaml:",inline"`
	State string `yaml:"state" json:"state"`
}

type Row struct {
	ID        string    `yaml:"id" json:"id"`
	Dimension Dimension `yaml:"dimension" json:"dimension"`
	Targets   []Target  `yaml:"targets" json:"targets"`
	Size      int       `yaml:"size" json:"size"`
	Attempts  int       `yaml:"attempts" json:"attempts"`
	MinY      int       `yaml:"min_y" json:"min_y"`
	MaxY      int       `yaml:"max_y" json:"max_y"`
}

type Table struct {
	Rows []Row `yaml:"ores" json:"ores"`
}

// BlockSource is the catalog view Validate and Target need.
type BlockSource interface {
	HasBlock(id string) bool
	BlockTag(tag string) ([]string, bool)
}

var (
	stoneReplaceables     = Rule{Tag: "minecraft:stone_ore_replaceables"}
	deepslateReplaceables = Rule{Tag: "minecraft:deepslate_ore_replaceables"}
	endStone              = Rule{Block: "minecraft:end_stone"}
)

func overworldGem(gem string, size, attempts int) Row {
	return Row{
		ID:        "temporalsmith:" + gem + "_ore",
		Dimension: Overworld,
		Targets: []Target{
			{Rule: stoneReplaceables, State: "temporalsmith:" + gem + "_ore"},
			{Rule: deepslateReplaceables, State: "temporalsmith:deepslate_" + gem + "_ore"},
		},
		Size:     size,
		Attempts: attempts,
		MinY:     -64,
		MaxY:     64,
	}
}

// Builtin is the table shipped with the mod.
func Builtin() Table {
	return Table{Rows: []Row{
		overworldGem("ruby", 4, 10),
		overworldGem("sapphire", 3, 8),
		overworldGem("graphite", 4, 10),
		overworldGem("aqumarine", 4, 8),
		overworldGem("rainbow", 3, 4),
		{
			ID:        "temporalsmith:enderite_ore",
			Dimension: End,
			Targets:   []Target{{Rule: endStone, State: "temporalsmith:enderite_ore"}},
			Size:      4,
			Attempts:  6,
			MinY:      10,
			MaxY:      70,
		},
	}}
}

// Load reads a yaml table that replaces the built-in one.
func Load(path string) (Table, error) {
	var t Table
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("ores.yaml: %w", err)
	}
	if len(t.Rows) == 0 {
		return t, fmt.Errorf("ores.yaml: no ores")
	}
	return t, nil
}

func (t Table) Get(id string) (Row, bool) {
	for _, r := range t.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// Validate checks row shape and that every referenced block and tag exists.
func (t Table) Validate(blocks BlockSource) error {
	seen := map[string]bool{}
	for _, r := range t.Rows {
		if _, err := registry.ParseID(r.ID); err != nil {
			return fmt.Errorf("ore %q: %w", r.ID, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("ore %s: duplicate row", r.ID)
		}
		seen[r.ID] = true
		switch r.Dimension {
		case Overworld, Nether, End:
		default:
			return fmt.Errorf("ore %s: unknown dimension %q", r.ID, r.Dimension)
		}
		if r.Size < 1 || r.Size > MaxSize {
			return fmt.Errorf("ore %s: size %d outside 1..%d", r.ID, r.Size, MaxSize)
		}
		if r.Attempts < 0 {
			return fmt.Errorf("ore %s: negative attempts", r.ID)
		}
		if r.MinY > r.MaxY {
			return fmt.Errorf("ore %s: min_y %d > max_y %d", r.ID, r.MinY, r.MaxY)
		}
		if len(r.Targets) == 0 {
			return fmt.Errorf("ore %s: no targets", r.ID)
		}
		for _, tg := range r.Targets {
			switch {
			case tg.Tag != "" && tg.Block != "":
				return fmt.Errorf("ore %s: target sets both tag and block", r.ID)
			case tg.Tag != "":
				if _, ok := blocks.BlockTag(tg.Tag); !ok {
					return fmt.Errorf("ore %s: unknown block tag %s", r.ID, tg.Tag)
				}
			case tg.Block != "":
				if !blocks.HasBlock(tg.Block) {
					return fmt.Errorf("ore %s: unknown host block %s", r.ID, tg.Block)
				}
			default:
				return fmt.Errorf("ore %s: target has no rule", r.ID)
			}
			if !blocks.HasBlock(tg.State) {
				return fmt.Errorf("ore %s: unknown target block %s", r.ID, tg.State)
			}
		}
	}
	return nil
}

// Target returns the block that replaces host, using the first matching
// target of r.
func (r Row) Target(host string, blocks BlockSource) (string, bool) {
	for _, tg := range r.Targets {
		if tg.Block != "" && tg.Block == host {
			return tg.State, true
		}
		if tg.Tag != "" {
			members, ok := blocks.BlockTag(tg.Tag)
			if !ok {
				continue
			}
			if i := sort.SearchStrings(members, host); i < len(members) && members[i] == host {
				return tg.State, true
			}
		}
	}
	return "", false
}

type Pos [3]int

// Origins returns the vein origins r attempts in chunk (cx, cz).
func (r Row) Origins(seed int64, cx, cz int) []mgl64.Vec3 {
	if r.Attempts <= 0 {
		return nil
	}
	rng := mathx.NewRand(int64(mathx.Hash2(mathx.HashString(seed, r.ID), cx, cz)))
	out := make([]mgl64.Vec3, 0, r.Attempts)
	for i := 0; i < r.Attempts; i++ {
		x := cx*ChunkSize + rng.Intn(ChunkSize)
		z := cz*ChunkSize + rng.Intn(ChunkSize)
		y := r.MinY + rng.Intn(r.MaxY-r.MinY+1)
		out = append(out, mgl64.Vec3{float64(x), float64(y), float64(z)})
	}
	return out
}

// Vein returns the sorted block positions of one vein of size blocks around
// origin. Blobs of decreasing radius are swept along a random segment
// through origin; the same seed and origin always give the same vein. The
// block at origin is always part of it.
func Vein(seed int64, origin mgl64.Vec3, size int) []Pos {
	if size <= 0 {
		return nil
	}
	size = min(size, MaxSize)
	rng := mathx.NewRand(int64(mathx.Hash3(seed, int(origin.X()), int(origin.Y()), int(origin.Z()))))

	angle := rng.Float64() * math.Pi
	spread := float64(size) / 8
	dir := mgl64.Vec3{math.Sin(angle) * spread, 0, math.Cos(angle) * spread}
	a := origin.Add(dir).Add(mgl64.Vec3{0, float64(rng.Intn(3) - 2), 0})
	b := origin.Sub(dir).Add(mgl64.Vec3{0, float64(rng.Intn(3) - 2), 0})

	seen := map[Pos]bool{
		{int(math.Floor(origin.X())), int(math.Floor(origin.Y())), int(math.Floor(origin.Z()))}: true,
	}
	for i := 0; i < size; i++ {
		t := float64(i) / float64(size)
		c := a.Add(b.Sub(a).Mul(t))
		radius := ((math.Sin(math.Pi*t)+1)*rng.Float64()*float64(size)/16 + 1) / 2

		lo := c.Sub(mgl64.Vec3{radius, radius, radius})
		hi := c.Add(mgl64.Vec3{radius, radius, radius})
		for x := int(math.Floor(lo.X())); x <= int(math.Floor(hi.X())); x++ {
			for y := int(math.Floor(lo.Y())); y <= int(math.Floor(hi.Y())); y++ {
				for z := int(math.Floor(lo.Z())); z <= int(math.Floor(hi.Z())); z++ {
					d := mgl64.Vec3{float64(x) + 0.5, float64(y) + 0.5, float64(z) + 0.5}.Sub(c).Mul(1 / radius)
					if d.Dot(d) < 1 {
						seen[Pos{x, y, z}] = true
					}
				}
			}
		}
	}
	out := make([]Pos, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		for k := 0; k < 3; k++ {
			if out[i][k] != out[j][k] {
				return out[i][k] < out[j][k]
			}
		}
		return false
	})
	return out
}
