package layout

// ComputeRects maps every visible leaf to a screen rectangle for the current
// mode. Leaves that cannot fit once every minimum size is honored are
// returned as hidden, newest first to be hidden, and get no rectangle.
// active selects the foreground leaf in stacked mode; None falls back to the
// newest leaf.
func (e *Engine) ComputeRects(viewport Rect, active ContainerID) (map[ContainerID]Rect, []ContainerID) {
	rects := make(map[ContainerID]Rect)
	leaves := e.Leaves()
	if len(leaves) == 0 {
		return rects, nil
	}
	if viewport.Width <= 0 || viewport.Height <= 0 {
		return rects, leaves
	}

	switch e.mode {
	case ModeFloating:
		e.floatingRects(viewport, leaves, rects)
		return rects, nil
	case ModeTabbed:
		for _, id := range leaves {
			rects[id] = viewport
		}
		return rects, nil
	case ModeStacked:
		e.stackedRects(viewport, leaves, active, rects)
		return rects, nil
	}

	switch e.tile {
	case TileGrid:
		return e.gridRects(viewport, leaves)
	case TileSpiral:
		return e.spiralRects(viewport, leaves)
	default:
		return e.treeRects(viewport)
	}
}

// treeRects performs the recursive proportional split over the container
// tree. Infeasible viewports shed the newest leaves first.
func (e *Engine) treeRects(viewport Rect) (map[ContainerID]Rect, []ContainerID) {
	rects := make(map[ContainerID]Rect)
	hidden := make(map[ContainerID]bool)
	var hiddenOrder []ContainerID

	for {
		min := e.minFootprint(e.root, hidden)
		if min.Width <= viewport.Width && min.Height <= viewport.Height {
			break
		}
		newest := e.newestVisibleLeaf(hidden)
		if newest == None {
			return rects, hiddenOrder
		}
		hidden[newest] = true
		hiddenOrder = append(hiddenOrder, newest)
		if e.countVisibleLeaves(hidden) == 0 {
			return rects, hiddenOrder
		}
	}

	e.assignRects(e.root, viewport, hidden, rects)
	return rects, hiddenOrder
}

func (e *Engine) assignRects(id ContainerID, rect Rect, hidden map[ContainerID]bool, rects map[ContainerID]Rect) {
	n := e.nodes[id]
	if n == nil {
		return
	}
	if n.leaf {
		if !hidden[id] {
			rects[id] = rect
		}
		return
	}

	visible := make([]ContainerID, 0, len(n.children))
	for _, child := range n.children {
		if e.hasVisibleLeaf(child, hidden) {
			visible = append(visible, child)
		}
	}
	if len(visible) == 0 {
		return
	}
	if len(visible) == 1 {
		e.assignRects(visible[0], rect, hidden, rects)
		return
	}

	length := rect.Width
	if n.orientation == Vertical {
		length = rect.Height
	}

	shares := e.divide(length, visible, n.orientation, hidden)

	offset := 0
	for i, child := range visible {
		childRect := rect
		if n.orientation == Horizontal {
			childRect.X = rect.X + offset
			childRect.Width = shares[i]
		} else {
			childRect.Y = rect.Y + offset
			childRect.Height = shares[i]
		}
		offset += shares[i]
		e.assignRects(child, childRect, hidden, rects)
	}
}

// divide splits length among children in proportion to weight, then raises
// undersized children to their minimum by compressing the most recently
// added children first. Callers guarantee the minimums fit.
func (e *Engine) divide(length int, children []ContainerID, axis Orientation, hidden map[ContainerID]bool) []int {
	total := 0.0
	for _, id := range children {
		total += e.nodes[id].weight
	}
	if total <= 0 {
		total = float64(len(children))
	}

	shares := make([]int, len(children))
	used := 0
	for i, id := range children {
		shares[i] = int(float64(length) * e.nodes[id].weight / total)
		used += shares[i]
	}
	for i := 0; used < length; i = (i + 1) % len(children) {
		shares[i]++
		used++
	}

	mins := make([]int, len(children))
	for i, id := range children {
		footprint := e.minFootprint(id, hidden)
		if axis == Horizontal {
			mins[i] = footprint.Width
		} else {
			mins[i] = footprint.Height
		}
	}

	// Oldest subtrees claim their minimum first; the newest give it up.
	order := make([]int, len(children))
	for i := range order {
		order[i] = i
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && e.subtreeSeq(children[order[j]]) < e.subtreeSeq(children[order[j-1]]); j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	for _, i := range order {
		if shares[i] >= mins[i] {
			continue
		}
		need := mins[i] - shares[i]
		for k := len(order) - 1; k >= 0 && need > 0; k-- {
			donor := order[k]
			if donor == i {
				continue
			}
			spare := shares[donor] - mins[donor]
			if spare <= 0 {
				continue
			}
			take := spare
			if take > need {
				take = need
			}
			shares[donor] -= take
			shares[i] += take
			need -= take
		}
	}
	return shares
}

func (e *Engine) minFootprint(id ContainerID, hidden map[ContainerID]bool) Size {
	n := e.nodes[id]
	if n == nil {
		return Size{}
	}
	if n.leaf {
		if hidden[id] {
			return Size{}
		}
		return n.min
	}

	var out Size
	for _, child := range n.children {
		if !e.hasVisibleLeaf(child, hidden) {
			continue
		}
		childMin := e.minFootprint(child, hidden)
		if n.orientation == Horizontal {
			out.Width += childMin.Width
			if childMin.Height > out.Height {
				out.Height = childMin.Height
			}
		} else {
			out.Height += childMin.Height
			if childMin.Width > out.Width {
				out.Width = childMin.Width
			}
		}
	}
	return out
}

func (e *Engine) hasVisibleLeaf(id ContainerID, hidden map[ContainerID]bool) bool {
	n := e.nodes[id]
	if n == nil {
		return false
	}
	if n.leaf {
		return !hidden[id]
	}
	for _, child := range n.children {
		if e.hasVisibleLeaf(child, hidden) {
			return true
		}
	}
	return false
}

func (e *Engine) countVisibleLeaves(hidden map[ContainerID]bool) int {
	count := 0
	for id, n := range e.nodes {
		if n.leaf && !hidden[id] {
			count++
		}
	}
	return count
}

func (e *Engine) newestVisibleLeaf(hidden map[ContainerID]bool) ContainerID {
	newest := None
	var newestSeq uint64
	for id, n := range e.nodes {
		if !n.leaf || hidden[id] {
			continue
		}
		if newest == None || n.seq > newestSeq {
			newest = id
			newestSeq = n.seq
		}
	}
	return newest
}

func (e *Engine) subtreeSeq(id ContainerID) uint64 {
	n := e.nodes[id]
	if n == nil {
		return 0
	}
	if n.leaf {
		return n.seq
	}
	var min uint64
	for i, child := range n.children {
		seq := e.subtreeSeq(child)
		if i == 0 || seq < min {
			min = seq
		}
	}
	return min
}

// gridRects arranges leaves row-major; the last row stretches its leaves to
// fill the full width.
func (e *Engine) gridRects(viewport Rect, leaves []ContainerID) (map[ContainerID]Rect, []ContainerID) {
	rects := make(map[ContainerID]Rect)
	var hidden []ContainerID

	cols := e.gridCols
	if cols > len(leaves) {
		cols = len(leaves)
	}
	if cols < 1 {
		cols = 1
	}

	visible := leaves
	for len(visible) > 1 {
		effective := cols
		if effective > len(visible) {
			effective = len(visible)
		}
		rows := (len(visible) + effective - 1) / effective
		if rows*e.minSize.Height <= viewport.Height && effective*e.minSize.Width <= viewport.Width {
			break
		}
		hidden = append(hidden, visible[len(visible)-1])
		visible = visible[:len(visible)-1]
	}
	if cols > len(visible) {
		cols = len(visible)
	}

	rows := (len(visible) + cols - 1) / cols
	rowHeights := splitEven(viewport.Height, rows)

	index := 0
	y := viewport.Y
	for row := 0; row < rows; row++ {
		remaining := len(visible) - index
		inRow := cols
		if remaining < inRow {
			inRow = remaining
		}
		colWidths := splitEven(viewport.Width, inRow)
		x := viewport.X
		for col := 0; col < inRow; col++ {
			rects[visible[index]] = Rect{X: x, Y: y, Width: colWidths[col], Height: rowHeights[row]}
			x += colWidths[col]
			index++
		}
		y += rowHeights[row]
	}
	return rects, hidden
}

// spiralRects halves the remaining space for each leaf, alternating
// orientation, starting with a side-by-side split.
func (e *Engine) spiralRects(viewport Rect, leaves []ContainerID) (map[ContainerID]Rect, []ContainerID) {
	rects := make(map[ContainerID]Rect)
	var hidden []ContainerID

	remaining := viewport
	orientation := Horizontal
	for i, id := range leaves {
		last := i == len(leaves)-1
		if last {
			rects[id] = remaining
			break
		}

		var first, rest Rect
		fits := false
		if orientation == Horizontal {
			half := remaining.Width / 2
			if half >= e.minSize.Width && remaining.Width-half >= e.minSize.Width {
				first = Rect{X: remaining.X, Y: remaining.Y, Width: half, Height: remaining.Height}
				rest = Rect{X: remaining.X + half, Y: remaining.Y, Width: remaining.Width - half, Height: remaining.Height}
				fits = true
			}
		} else {
			half := remaining.Height / 2
			if half >= e.minSize.Height && remaining.Height-half >= e.minSize.Height {
				first = Rect{X: remaining.X, Y: remaining.Y, Width: remaining.Width, Height: half}
				rest = Rect{X: remaining.X, Y: remaining.Y + half, Width: remaining.Width, Height: remaining.Height - half}
				fits = true
			}
		}

		if !fits {
			// No room to halve again: current leaf takes the rest and the
			// remainder of the list is hidden, not destroyed.
			rects[id] = remaining
			hidden = append(hidden, leaves[i+1:]...)
			break
		}

		rects[id] = first
		remaining = rest
		if orientation == Horizontal {
			orientation = Vertical
		} else {
			orientation = Horizontal
		}
	}
	return rects, hidden
}

// floatingRects cascades windows with a small diagonal offset.
func (e *Engine) floatingRects(viewport Rect, leaves []ContainerID, rects map[ContainerID]Rect) {
	const step = 2
	for i, id := range leaves {
		xOffset := 0
		yOffset := 0
		if viewport.Width >= 4 {
			xOffset = (i * step) % (viewport.Width / 4)
		}
		if viewport.Height >= 4 {
			yOffset = (i * step) % (viewport.Height / 4)
		}

		width := viewport.Width - xOffset*2
		if width < e.minSize.Width {
			width = e.minSize.Width
		}
		if width > viewport.Width {
			width = viewport.Width
		}
		height := viewport.Height - yOffset*2
		if height < e.minSize.Height {
			height = e.minSize.Height
		}
		if height > viewport.Height {
			height = viewport.Height
		}

		rects[id] = Rect{X: viewport.X + xOffset, Y: viewport.Y + yOffset, Width: width, Height: height}
	}
}

// stackedRects reserves a title row per background leaf and hands the rest
// to the active one.
func (e *Engine) stackedRects(viewport Rect, leaves []ContainerID, active ContainerID, rects map[ContainerID]Rect) {
	const titleHeight = 2

	foreground := active
	if _, ok := e.LeafSession(foreground); !ok {
		foreground = leaves[len(leaves)-1]
	}

	y := viewport.Y
	for _, id := range leaves {
		if id == foreground {
			continue
		}
		height := titleHeight
		if y+height > viewport.Y+viewport.Height {
			height = 0
		}
		rects[id] = Rect{X: viewport.X, Y: y, Width: viewport.Width, Height: height}
		y += height
	}

	remaining := viewport.Height - (y - viewport.Y)
	if remaining < 0 {
		remaining = 0
	}
	rects[foreground] = Rect{X: viewport.X, Y: y, Width: viewport.Width, Height: remaining}
}

func splitEven(length, parts int) []int {
	if parts <= 0 {
		return nil
	}
	out := make([]int, parts)
	base := length / parts
	rem := length % parts
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}
