package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"temporalsmith.dev/internal/registry"
)

// Catalogs holds the frozen registries every recipe, ore row and viewer layout
// refers to by id. It is built once at startup and read-only afterwards.
type Catalogs struct {
	Items        *registry.Registry[ItemDef]
	Blocks       *registry.Registry[BlockDef]
	Effects      *registry.Registry[EffectDef]
	Enchantments *registry.Registry[EnchantmentDef]
	Tags         TagCatalog

	// Digests maps catalog file name to the sha256 of its raw bytes.
	Digests map[string]string
}

type ItemDef struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"` // "MATERIAL","TOOL","ARMOUR","BLOCK","TRIDENT","FOOD"
	MaxStack   int    `json:"max_stack,omitempty"`
	Durability int    `json:"durability,omitempty"`
	Tier       string `json:"tier,omitempty"`
	ArmourSlot string `json:"armour_slot,omitempty"` // "HEAD","CHEST","LEGS","FEET"
	PlaceAs    string `json:"place_as,omitempty"`
}

type BlockDef struct {
	ID       string  `json:"id"`
	Hardness float64 `json:"hardness"`
	Drops    string  `json:"drops,omitempty"`
}

type EffectDef struct {
	ID       string `json:"id"`
	Category string `json:"category"` // "BENEFICIAL","HARMFUL","NEUTRAL"
	Color    int    `json:"color"`
}

type EnchantmentDef struct {
	ID       string `json:"id"`
	MaxLevel int    `json:"max_level"`
}

type TagCatalog struct {
	Items  map[string][]string `json:"items"`
	Blocks map[string][]string `json:"blocks"`
}

// Defs is the raw catalog content, used by Build.
type Defs struct {
	Items        []ItemDef
	Blocks       []BlockDef
	Effects      []EffectDef
	Enchantments []EnchantmentDef
	Tags         TagCatalog
}

const (
	itemsFile        = "items.json"
	blocksFile       = "blocks.json"
	effectsFile      = "effects.json"
	enchantmentsFile = "enchantments.json"
	tagsFile         = "tags.json"
)

func Load(configDir string) (*Catalogs, error) {
	var d Defs
	digests := map[string]string{}

	if err := readJSON(filepath.Join(configDir, itemsFile), &d.Items, digests, false); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(configDir, blocksFile), &d.Blocks, digests, false); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(configDir, effectsFile), &d.Effects, digests, true); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(configDir, enchantmentsFile), &d.Enchantments, digests, true); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(configDir, tagsFile), &d.Tags, digests, true); err != nil {
		return nil, err
	}

	c, err := Build(d)
	if err != nil {
		return nil, err
	}
	c.Digests = digests
	return c, nil
}

// Build registers and freezes every definition. Tags may only name known
// entries of their registry.
func Build(d Defs) (*Catalogs, error) {
	c := &Catalogs{
		Items:        registry.New[ItemDef]("items"),
		Blocks:       registry.New[BlockDef]("blocks"),
		Effects:      registry.New[EffectDef]("effects"),
		Enchantments: registry.New[EnchantmentDef]("enchantments"),
		Digests:      map[string]string{},
	}

	for _, it := range d.Items {
		id, err := registry.ParseID(it.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", itemsFile, err)
		}
		it.ID = id
		if it.MaxStack <= 0 {
			it.MaxStack = defaultMaxStack(it.Kind)
		}
		if err := c.Items.RegisterValue(id, it); err != nil {
			return nil, fmt.Errorf("%s: %w", itemsFile, err)
		}
	}
	for _, b := range d.Blocks {
		id, err := registry.ParseID(b.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", blocksFile, err)
		}
		b.ID = id
		if err := c.Blocks.RegisterValue(id, b); err != nil {
			return nil, fmt.Errorf("%s: %w", blocksFile, err)
		}
	}
	for _, e := range d.Effects {
		id, err := registry.ParseID(e.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", effectsFile, err)
		}
		e.ID = id
		if err := c.Effects.RegisterValue(id, e); err != nil {
			return nil, fmt.Errorf("%s: %w", effectsFile, err)
		}
	}
	for _, e := range d.Enchantments {
		id, err := registry.ParseID(e.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", enchantmentsFile, err)
		}
		e.ID = id
		if e.MaxLevel <= 0 {
			e.MaxLevel = 1
		}
		if err := c.Enchantments.RegisterValue(id, e); err != nil {
			return nil, fmt.Errorf("%s: %w", enchantmentsFile, err)
		}
	}

	for _, r := range []interface{ Freeze() error }{c.Items, c.Blocks, c.Effects, c.Enchantments} {
		if err := r.Freeze(); err != nil {
			return nil, err
		}
	}

	for _, it := range c.Items.IDs() {
		def := c.Items.MustGet(it)
		if def.PlaceAs != "" && !c.Blocks.Has(def.PlaceAs) {
			return nil, fmt.Errorf("%s: %s places unknown block %s", itemsFile, it, def.PlaceAs)
		}
	}
	for _, b := range c.Blocks.IDs() {
		def := c.Blocks.MustGet(b)
		if def.Drops != "" && !c.Items.Has(def.Drops) {
			return nil, fmt.Errorf("%s: %s drops unknown item %s", blocksFile, b, def.Drops)
		}
	}

	tags, err := normalizeTags(d.Tags, c)
	if err != nil {
		return nil, err
	}
	c.Tags = tags
	return c, nil
}

// HasItem reports whether id names a registered item.
func (c *Catalogs) HasItem(id string) bool { return c.Items.Has(id) }

// ItemIndex is the dense palette index used on the wire.
func (c *Catalogs) ItemIndex(id string) (uint32, bool) { return c.Items.Index(id) }

func (c *Catalogs) ItemAt(i uint32) (string, bool) {
	id, _, ok := c.Items.ByIndex(i)
	return id, ok
}

func (c *Catalogs) HasEnchantment(id string) bool { return c.Enchantments.Has(id) }

func (c *Catalogs) HasBlock(id string) bool { return c.Blocks.Has(id) }

// ItemTag returns the sorted members of an item tag.
func (c *Catalogs) ItemTag(tag string) ([]string, bool) {
	v, ok := c.Tags.Items[tag]
	return v, ok
}

// BlockTag returns the sorted members of a block tag.
func (c *Catalogs) BlockTag(tag string) ([]string, bool) {
	v, ok := c.Tags.Blocks[tag]
	return v, ok
}

// UnknownItem formats the error text for a missing item id, with a
// suggestion when one is close.
func (c *Catalogs) UnknownItem(id string) string {
	if s := c.Items.Suggest(id); s != "" {
		return fmt.Sprintf("%s (did you mean %s?)", id, s)
	}
	return id
}

func normalizeTags(in TagCatalog, c *Catalogs) (TagCatalog, error) {
	out := TagCatalog{Items: map[string][]string{}, Blocks: map[string][]string{}}
	norm := func(kind string, src map[string][]string, dst map[string][]string, has func(string) bool) error {
		for tag, members := range src {
			tid, err := registry.ParseID(tag)
			if err != nil {
				return fmt.Errorf("%s: %s tag: %w", tagsFile, kind, err)
			}
			seen := map[string]struct{}{}
			list := make([]string, 0, len(members))
			for _, m := range members {
				mid, err := registry.ParseID(m)
				if err != nil {
					return fmt.Errorf("%s: %s: %w", tagsFile, tid, err)
				}
				if !has(mid) {
					return fmt.Errorf("%s: %s: unknown %s %s", tagsFile, tid, kind, mid)
				}
				if _, dup := seen[mid]; dup {
					continue
				}
				seen[mid] = struct{}{}
				list = append(list, mid)
			}
			sort.Strings(list)
			dst[tid] = list
		}
		return nil
	}
	if err := norm("item", in.Items, out.Items, c.Items.Has); err != nil {
		return out, err
	}
	if err := norm("block", in.Blocks, out.Blocks, c.Blocks.Has); err != nil {
		return out, err
	}
	return out, nil
}

func defaultMaxStack(kind string) int {
	switch kind {
	case "TOOL", "ARMOUR", "TRIDENT":
		return 1
	default:
		return 64
	}
}

func readJSON(path string, out any, digests map[string]string, optional bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		// Optional catalogs may be absent in minimal deployments.
		if optional && os.IsNotExist(err) {
			digests[filepath.Base(path)] = sha256Hex(nil)
			return nil
		}
		return err
	}
	digests[filepath.Base(path)] = sha256Hex(raw)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
