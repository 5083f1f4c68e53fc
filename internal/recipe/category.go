package recipe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Category is the recipe-book tab a recipe is listed under.
type Category uint8

const (
	CategoryMisc Category = iota
	CategoryHelmet
	CategoryChestplate
	CategoryLeggings
	CategoryBoots
	CategorySword
	CategoryPickaxe
	CategoryAxe
	CategoryShovel
	CategoryHoe
	CategoryTrident
	CategoryTool
	CategoryArmour

	categoryCount
)

var categoryNames = [categoryCount]string{
	"misc", "helmet", "chestplate", "leggings", "boots",
	"sword", "pickaxe", "axe", "shovel", "hoe", "trident",
	"tool", "armour",
}

func (c Category) String() string {
	if c >= categoryCount {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryNames[c]
}

func (c Category) Valid() bool { return c < categoryCount }

func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range categoryNames {
		if n == s {
			return Category(i), true
		}
	}
	return CategoryMisc, false
}

func (c Category) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", uint8(c))
	}
	return json.Marshal(c.String())
}

// CategorySet is the set of categories one recipe kind accepts.
type CategorySet []Category

func (s CategorySet) Contains(c Category) bool {
	for _, v := range s {
		if v == c {
			return true
		}
	}
	return false
}

// Resolve maps a persisted value onto the set; unknown or absent values fall
// back to misc.
func (s CategorySet) Resolve(name string) Category {
	c, ok := ParseCategory(name)
	if !ok || !s.Contains(c) {
		return CategoryMisc
	}
	return c
}

var (
	ArmourCategories = CategorySet{CategoryMisc, CategoryHelmet, CategoryChestplate, CategoryLeggings, CategoryBoots}
	ToolCategories   = CategorySet{CategoryMisc, CategorySword, CategoryPickaxe, CategoryAxe, CategoryShovel, CategoryHoe, CategoryTrident, CategoryTool}
	FusionCategories = CategorySet{CategoryMisc, CategoryTool, CategoryArmour}
)
