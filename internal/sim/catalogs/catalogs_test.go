package catalogs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voxelstream.io/internal/sim/block"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

func writeBlocks(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "blocks.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return dir
}

func TestLoad_RepoConfigs(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Blocks.Defs) != len(block.All()) {
		t.Fatalf("defs=%d", len(c.Blocks.Defs))
	}
	if c.Blocks.Palette[0] != "air" {
		t.Fatalf("palette[0]=%q", c.Blocks.Palette[0])
	}
	if c.Blocks.Digest == "" {
		t.Fatalf("missing digest")
	}
	if got := c.Blocks.Texture(block.Grass, voxel.Up); got != "grass_top" {
		t.Fatalf("grass top=%q", got)
	}
	if got := c.Blocks.Texture(block.Grass, voxel.East); got != "grass_side" {
		t.Fatalf("grass side=%q", got)
	}
	if got := c.Blocks.Texture(block.Stone, voxel.Down); got != "stone" {
		t.Fatalf("stone bottom=%q", got)
	}
	if got := c.Blocks.Texture(block.Air, voxel.Up); got != "" {
		t.Fatalf("air texture=%q", got)
	}
	tops := c.Blocks.TopTextures()
	if len(tops) != len(c.Blocks.Palette) || tops[block.Grass] != "grass_top" || tops[block.Air] != "" {
		t.Fatalf("top textures=%v", tops)
	}
}

const validTail = `
  { "name": "grass", "solid": true, "textures": { "all": "g" } },
  { "name": "dirt", "solid": true, "textures": { "all": "d" } },
  { "name": "stone", "solid": true, "textures": { "all": "s" } },
  { "name": "sand", "solid": true, "textures": { "all": "a" } },
  { "name": "water", "solid": false, "textures": { "all": "w" } }
]`

func TestLoad_UnknownNameIsHardError(t *testing.T) {
	dir := writeBlocks(t, `[
  { "name": "air", "solid": false },
  { "name": "obsidian", "solid": true, "textures": { "all": "o" } },`+validTail)
	_, err := Load(dir)
	if !errors.Is(err, block.ErrUnknownBlock) {
		t.Fatalf("expected ErrUnknownBlock, got %v", err)
	}
	if !strings.Contains(err.Error(), "obsidian") {
		t.Fatalf("error should name the block: %v", err)
	}
}

func TestLoad_MissingBlock(t *testing.T) {
	dir := writeBlocks(t, `[
  { "name": "grass", "solid": true, "textures": { "all": "g" } }
]`)
	_, err := Load(dir)
	if !errors.Is(err, ErrMissingBlock) {
		t.Fatalf("expected ErrMissingBlock, got %v", err)
	}
}

func TestLoad_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"not array":      `{"name":"air"}`,
		"missing solid":  `[{ "name": "air" }]`,
		"extra field":    `[{ "name": "air", "solid": false, "hardness": 3 }]`,
		"mixed textures": `[{ "name": "dirt", "solid": true, "textures": { "all": "d", "top": "t" } }]`,
		"partial faces":  `[{ "name": "dirt", "solid": true, "textures": { "top": "t" } }]`,
		"uppercase name": `[{ "name": "AIR", "solid": false }]`,
		"malformed json": `[{`,
	}
	for name, body := range cases {
		if _, err := Load(writeBlocks(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoad_Duplicate(t *testing.T) {
	dir := writeBlocks(t, `[
  { "name": "air", "solid": false },
  { "name": "air", "solid": false },`+validTail)
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestLoad_SolidMismatch(t *testing.T) {
	dir := writeBlocks(t, `[
  { "name": "air", "solid": true },`+validTail)
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected solid mismatch error")
	}
}
