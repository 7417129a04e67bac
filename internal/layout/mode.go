package layout

import "fmt"

type Mode int

const (
	ModeTiled Mode = iota
	ModeFloating
	ModeTabbed
	ModeStacked
)

type TileKind int

const (
	TileVertical TileKind = iota
	TileHorizontal
	TileGrid
	TileSpiral
)

func (m Mode) String() string {
	switch m {
	case ModeFloating:
		return "floating"
	case ModeTabbed:
		return "tabbed"
	case ModeStacked:
		return "stacked"
	default:
		return "tiled"
	}
}

func (k TileKind) String() string {
	switch k {
	case TileVertical:
		return "vertical"
	case TileHorizontal:
		return "horizontal"
	case TileGrid:
		return "grid"
	default:
		return "spiral"
	}
}

// ParseLayoutName maps a user-facing layout name to a mode. Grid keeps the
// engine's current column count.
func ParseLayoutName(name string) (Mode, TileKind, error) {
	switch name {
	case "vertical":
		return ModeTiled, TileVertical, nil
	case "horizontal":
		return ModeTiled, TileHorizontal, nil
	case "grid":
		return ModeTiled, TileGrid, nil
	case "spiral":
		return ModeTiled, TileSpiral, nil
	case "floating":
		return ModeFloating, TileVertical, nil
	case "tabbed":
		return ModeTabbed, TileVertical, nil
	case "stacked":
		return ModeStacked, TileVertical, nil
	default:
		return ModeTiled, TileVertical, fmt.Errorf("unknown layout %q", name)
	}
}

// LayoutName is the inverse of ParseLayoutName for persistence.
func LayoutName(mode Mode, tile TileKind) string {
	if mode == ModeTiled {
		return tile.String()
	}
	return mode.String()
}
