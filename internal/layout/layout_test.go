package layout

import (
	"testing"
)

func newTestEngine(tile TileKind) *Engine {
	return NewEngine(Options{Mode: ModeTiled, Tile: tile, GridCols: 2, MinPane: Size{Width: 10, Height: 3}})
}

func TestInsertLeafBuildsSplitAboveRoot(t *testing.T) {
	e := newTestEngine(TileHorizontal)

	a := e.InsertLeaf("a", None)
	if e.Root() != a {
		t.Fatalf("single leaf should be root")
	}

	b := e.InsertLeaf("b", None)
	if e.Root() == a || e.Root() == b {
		t.Fatalf("root should now be a split")
	}
	if got := e.LeafCount(); got != 2 {
		t.Fatalf("expected 2 leaves, got %d", got)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLeavesKeepInsertionOrder(t *testing.T) {
	e := newTestEngine(TileHorizontal)
	a := e.InsertLeaf("a", None)
	b := e.InsertLeaf("b", None)
	c := e.InsertLeaf("c", None)

	leaves := e.Leaves()
	want := []ContainerID{a, b, c}
	if len(leaves) != len(want) {
		t.Fatalf("expected %d leaves, got %d", len(want), len(leaves))
	}
	for i := range want {
		if leaves[i] != want[i] {
			t.Fatalf("leaf %d: expected %d, got %d", i, want[i], leaves[i])
		}
	}
}

func TestSplitReplacesLeafWithPair(t *testing.T) {
	e := newTestEngine(TileHorizontal)
	a := e.InsertLeaf("a", None)
	e.InsertLeaf("b", None)

	c, err := e.Split(a, Vertical, "c")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if _, ok := e.LeafSession(c); !ok {
		t.Fatalf("new leaf missing")
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, err := e.Split(e.Root(), Vertical, "d"); err != ErrNotALeaf {
		t.Fatalf("expected ErrNotALeaf splitting the root split, got %v", err)
	}
}

func TestRemoveLeafCollapsesSingleChildSplit(t *testing.T) {
	e := newTestEngine(TileHorizontal)
	a := e.InsertLeaf("a", None)
	b := e.InsertLeaf("b", None)

	if err := e.RemoveLeaf(b); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if e.Root() != a {
		t.Fatalf("expected surviving leaf to become root")
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if err := e.RemoveLeaf(a); err != nil {
		t.Fatalf("remove last: %v", err)
	}
	if e.Root() != None || e.LeafCount() != 0 {
		t.Fatalf("expected empty tree")
	}
	if err := e.RemoveLeaf(a); err != ErrContainerNotFound {
		t.Fatalf("expected ErrContainerNotFound, got %v", err)
	}
}

func TestResizeNormalizesSiblings(t *testing.T) {
	e := newTestEngine(TileHorizontal)
	a := e.InsertLeaf("a", None)
	b := e.InsertLeaf("b", None)

	if err := e.Resize(a, 1.0); err != nil {
		t.Fatalf("resize: %v", err)
	}

	wa := e.nodes[a].weight
	wb := e.nodes[b].weight
	sum := wa + wb
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("weights should normalize to 1, got %f", sum)
	}
	if wa <= wb {
		t.Fatalf("resized leaf should carry more weight: %f vs %f", wa, wb)
	}
}

func TestHorizontalTilePartitionsViewport(t *testing.T) {
	e := newTestEngine(TileHorizontal)
	a := e.InsertLeaf("a", None)
	b := e.InsertLeaf("b", None)

	rects, hidden := e.ComputeRects(Rect{Width: 100, Height: 30}, None)
	if len(hidden) != 0 {
		t.Fatalf("nothing should be hidden: %v", hidden)
	}
	ra, rb := rects[a], rects[b]
	if ra.Width+rb.Width != 100 {
		t.Fatalf("widths must cover the viewport: %d + %d", ra.Width, rb.Width)
	}
	if ra.Height != 30 || rb.Height != 30 {
		t.Fatalf("heights must span the viewport")
	}
	if rb.X != ra.X+ra.Width {
		t.Fatalf("panes must tile without gaps")
	}
}

func TestTightViewportHidesNewestLeaf(t *testing.T) {
	e := newTestEngine(TileHorizontal)
	e.InsertLeaf("a", None)
	e.InsertLeaf("b", None)
	c := e.InsertLeaf("c", None)

	// Only two 10-wide minimums fit side by side.
	rects, hidden := e.ComputeRects(Rect{Width: 25, Height: 10}, None)
	if len(hidden) != 1 || hidden[0] != c {
		t.Fatalf("expected newest leaf hidden, got %v", hidden)
	}
	if len(rects) != 2 {
		t.Fatalf("expected 2 visible rects, got %d", len(rects))
	}
	for id, r := range rects {
		if r.Width < 10 || r.Height < 3 {
			t.Fatalf("rect for %d below minimum: %+v", id, r)
		}
	}
}

func TestGridStretchesLastRow(t *testing.T) {
	e := newTestEngine(TileGrid)
	a := e.InsertLeaf("a", None)
	b := e.InsertLeaf("b", None)
	c := e.InsertLeaf("c", None)

	rects, hidden := e.ComputeRects(Rect{Width: 100, Height: 40}, None)
	if len(hidden) != 0 {
		t.Fatalf("nothing should be hidden: %v", hidden)
	}

	ra, rb, rc := rects[a], rects[b], rects[c]
	if ra.Y != rb.Y {
		t.Fatalf("first two leaves share the top row")
	}
	if ra.Width+rb.Width != 100 {
		t.Fatalf("top row must cover the width")
	}
	if rc.Width != 100 {
		t.Fatalf("lone leaf on the last row should stretch to full width, got %d", rc.Width)
	}
	if rc.Y <= ra.Y {
		t.Fatalf("last row below the first")
	}
}

func TestSpiralAlternatesOrientation(t *testing.T) {
	e := newTestEngine(TileSpiral)
	a := e.InsertLeaf("a", None)
	b := e.InsertLeaf("b", None)
	c := e.InsertLeaf("c", None)

	rects, hidden := e.ComputeRects(Rect{Width: 100, Height: 40}, None)
	if len(hidden) != 0 {
		t.Fatalf("nothing should be hidden: %v", hidden)
	}

	ra, rb, rc := rects[a], rects[b], rects[c]
	if ra.Width != 50 || ra.Height != 40 {
		t.Fatalf("first leaf takes the left half, got %+v", ra)
	}
	if rb.X != 50 || rb.Height != 20 {
		t.Fatalf("second leaf takes the top of the right half, got %+v", rb)
	}
	if rc.X != 50 || rc.Y != 20 {
		t.Fatalf("third leaf takes the remainder, got %+v", rc)
	}
}

func TestSpiralHidesOverflowWhenTooSmallToHalve(t *testing.T) {
	e := newTestEngine(TileSpiral)
	e.InsertLeaf("a", None)
	b := e.InsertLeaf("b", None)

	rects, hidden := e.ComputeRects(Rect{Width: 15, Height: 4}, None)
	if len(hidden) != 1 || hidden[0] != b {
		t.Fatalf("expected trailing leaf hidden, got %v", hidden)
	}
	if len(rects) != 1 {
		t.Fatalf("expected the first leaf to keep the full area")
	}
}

func TestStackedReservesTitleRows(t *testing.T) {
	e := NewEngine(Options{Mode: ModeStacked, MinPane: Size{Width: 10, Height: 3}})
	a := e.InsertLeaf("a", None)
	b := e.InsertLeaf("b", None)

	rects, _ := e.ComputeRects(Rect{Width: 80, Height: 24}, b)
	if rects[a].Height != 2 {
		t.Fatalf("background leaf gets a title bar, got %+v", rects[a])
	}
	if rects[b].Height != 22 || rects[b].Y != 2 {
		t.Fatalf("active leaf fills the remainder, got %+v", rects[b])
	}
}

func TestFloatingCascades(t *testing.T) {
	e := NewEngine(Options{Mode: ModeFloating, MinPane: Size{Width: 10, Height: 3}})
	a := e.InsertLeaf("a", None)
	b := e.InsertLeaf("b", None)

	rects, _ := e.ComputeRects(Rect{Width: 80, Height: 24}, None)
	if rects[b].X <= rects[a].X || rects[b].Y <= rects[a].Y {
		t.Fatalf("later windows cascade down-right: %+v vs %+v", rects[a], rects[b])
	}
}

func TestFocusNeighborPicksNearestInDirection(t *testing.T) {
	rects := map[ContainerID]Rect{
		1: {X: 0, Y: 0, Width: 40, Height: 20},
		2: {X: 40, Y: 0, Width: 40, Height: 10},
		3: {X: 40, Y: 10, Width: 40, Height: 10},
	}

	if got := FocusNeighbor(rects, 1, DirRight); got != 2 {
		t.Fatalf("expected 2 to the right, got %d", got)
	}
	if got := FocusNeighbor(rects, 3, DirUp); got != 2 {
		t.Fatalf("expected 2 above, got %d", got)
	}
	if got := FocusNeighbor(rects, 1, DirLeft); got != None {
		t.Fatalf("expected no neighbor to the left, got %d", got)
	}
}

func TestDescribeRebuildRoundTrip(t *testing.T) {
	e := newTestEngine(TileHorizontal)
	a := e.InsertLeaf("a", None)
	e.InsertLeaf("b", None)
	if _, err := e.Split(a, Vertical, "c"); err != nil {
		t.Fatalf("split: %v", err)
	}

	spec := e.Describe()

	restored := newTestEngine(TileHorizontal)
	if err := restored.Rebuild(spec, nil); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if restored.LeafCount() != 3 {
		t.Fatalf("expected 3 leaves after rebuild, got %d", restored.LeafCount())
	}
	for _, session := range []string{"a", "b", "c"} {
		if _, ok := restored.SessionLeaf(session); !ok {
			t.Fatalf("session %q lost in round trip", session)
		}
	}
}

func TestRebuildDropsUnmappedLeaves(t *testing.T) {
	e := newTestEngine(TileHorizontal)
	e.InsertLeaf("a", None)
	e.InsertLeaf("b", None)
	spec := e.Describe()

	restored := newTestEngine(TileHorizontal)
	err := restored.Rebuild(spec, func(session string) string {
		if session == "b" {
			return ""
		}
		return session
	})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if restored.LeafCount() != 1 {
		t.Fatalf("expected dropped leaf, got %d leaves", restored.LeafCount())
	}
	if err := restored.Validate(); err != nil {
		t.Fatalf("validate after drop: %v", err)
	}
}
