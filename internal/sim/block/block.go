package block

import (
	"errors"
	"fmt"
)

// ID identifies a block kind. The zero value is Air.
type ID uint8

const (
	Air ID = iota
	Grass
	Dirt
	Stone
	Sand
	Water

	count
)

var ErrUnknownBlock = errors.New("unknown block")

var names = [count]string{
	Air:   "air",
	Grass: "grass",
	Dirt:  "dirt",
	Stone: "stone",
	Sand:  "sand",
	Water: "water",
}

var byName = func() map[string]ID {
	m := make(map[string]ID, len(names))
	for i, n := range names {
		m[n] = ID(i)
	}
	return m
}()

// Parse maps a registry name to its ID. Unknown names are an error, never a default.
func Parse(name string) (ID, error) {
	id, ok := byName[name]
	if !ok {
		return Air, fmt.Errorf("%w: %q", ErrUnknownBlock, name)
	}
	return id, nil
}

func (id ID) Valid() bool { return id < count }

func (id ID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("block(%d)", uint8(id))
	}
	return names[id]
}

func (id ID) IsAir() bool { return id == Air }

func (id ID) IsSolid() bool {
	switch id {
	case Air, Water:
		return false
	default:
		return id.Valid()
	}
}

// All returns every known block kind in ID order.
func All() []ID {
	out := make([]ID, 0, count)
	for i := ID(0); i < count; i++ {
		out = append(out, i)
	}
	return out
}
