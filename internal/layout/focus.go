package layout

type Direction int

const (
	DirLeft Direction = iota
	DirRight
	DirUp
	DirDown
)

func (d Direction) String() string {
	switch d {
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	case DirUp:
		return "up"
	default:
		return "down"
	}
}

// FocusNeighbor picks the leaf whose center lies closest to the current one
// in the given direction, using the rectangles from the last ComputeRects.
// It returns None when no leaf lies that way.
func FocusNeighbor(rects map[ContainerID]Rect, from ContainerID, dir Direction) ContainerID {
	origin, ok := rects[from]
	if !ok {
		return None
	}
	ox := origin.X + origin.Width/2
	oy := origin.Y + origin.Height/2

	best := None
	bestDist := 0
	for id, r := range rects {
		if id == from {
			continue
		}
		cx := r.X + r.Width/2
		cy := r.Y + r.Height/2

		ahead := false
		switch dir {
		case DirLeft:
			ahead = cx < ox
		case DirRight:
			ahead = cx > ox
		case DirUp:
			ahead = cy < oy
		case DirDown:
			ahead = cy > oy
		}
		if !ahead {
			continue
		}

		dx := cx - ox
		dy := cy - oy
		dist := dx*dx + dy*dy
		if best == None || dist < bestDist {
			best = id
			bestDist = dist
		}
	}
	return best
}
