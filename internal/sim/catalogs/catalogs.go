package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelstream.io/internal/sim/block"
	"voxelstream.io/internal/sim/world/terrain/voxel"
)

//go:embed blocks.schema.json
var blocksSchemaJSON []byte

type Catalogs struct {
	Blocks BlockCatalog
}

type BlockCatalog struct {
	Defs    []BlockDef // ordered by block id
	ByID    map[block.ID]BlockDef
	Palette []string
	Digest  string
}

type BlockDef struct {
	ID       block.ID `json:"-"`
	Name     string   `json:"name"`
	Solid    bool     `json:"solid"`
	Textures Textures `json:"textures"`
}

// Textures names the image for each face. All, when set, covers every face.
type Textures struct {
	All    string `json:"all,omitempty"`
	Top    string `json:"top,omitempty"`
	Side   string `json:"side,omitempty"`
	Bottom string `json:"bottom,omitempty"`
}

// Face returns the texture for the face pointing in d.
func (t Textures) Face(d voxel.Direction) string {
	if t.All != "" {
		return t.All
	}
	switch d {
	case voxel.Up:
		return t.Top
	case voxel.Down:
		return t.Bottom
	default:
		return t.Side
	}
}

var ErrMissingBlock = errors.New("catalogs: block has no descriptor")

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return parseBlocks(raw, out)
}

func blocksSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("blocks.schema.json", bytes.NewReader(blocksSchemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("blocks.schema.json")
}

func parseBlocks(raw []byte, out *BlockCatalog) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	schema, err := blocksSchema()
	if err != nil {
		return fmt.Errorf("blocks.schema.json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	byID := make(map[block.ID]BlockDef, len(defs))
	for _, d := range defs {
		id, err := block.Parse(d.Name)
		if err != nil {
			return fmt.Errorf("blocks.json: %w", err)
		}
		if _, dup := byID[id]; dup {
			return fmt.Errorf("blocks.json: duplicate block %q", d.Name)
		}
		if d.Solid != id.IsSolid() {
			return fmt.Errorf("blocks.json: %s: solid=%v disagrees with engine", d.Name, d.Solid)
		}
		if !id.IsAir() && d.Textures == (Textures{}) {
			return fmt.Errorf("blocks.json: %s: no textures", d.Name)
		}
		d.ID = id
		byID[id] = d
	}
	for _, id := range block.All() {
		if _, ok := byID[id]; !ok {
			return fmt.Errorf("blocks.json: %w: %s", ErrMissingBlock, id)
		}
	}

	out.ByID = byID
	out.Defs = make([]BlockDef, 0, len(byID))
	for _, d := range byID {
		out.Defs = append(out.Defs, d)
	}
	sort.Slice(out.Defs, func(i, j int) bool { return out.Defs[i].ID < out.Defs[j].ID })
	out.Palette = make([]string, len(out.Defs))
	for i, d := range out.Defs {
		out.Palette[i] = d.Name
	}
	out.Digest = sha256Hex(raw)
	return nil
}

// Texture returns the texture of id's face pointing in d, or "" for blocks
// without one.
func (c *BlockCatalog) Texture(id block.ID, d voxel.Direction) string {
	def, ok := c.ByID[id]
	if !ok {
		return ""
	}
	return def.Textures.Face(d)
}

// TopTextures lists the upward face texture of every block, indexed like
// Palette.
func (c *BlockCatalog) TopTextures() []string {
	out := make([]string, len(c.Defs))
	for i, d := range c.Defs {
		out[i] = c.Texture(d.ID, voxel.Up)
	}
	return out
}
