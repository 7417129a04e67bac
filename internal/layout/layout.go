package layout

import (
	"errors"
	"fmt"
)

var (
	ErrContainerNotFound = errors.New("layout container not found")
	ErrNotALeaf          = errors.New("layout container is not a leaf")
)

type ContainerID int

// None marks the absence of a container reference (parent of the root).
const None ContainerID = 0

type Orientation int

const (
	Horizontal Orientation = iota // children side by side
	Vertical                      // children stacked top to bottom
)

func (o Orientation) String() string {
	if o == Vertical {
		return "vertical"
	}
	return "horizontal"
}

type Rect struct {
	X, Y          int
	Width, Height int
}

type Size struct {
	Width  int
	Height int
}

// node lives in the engine's arena. Parent and children are ids, never
// pointers, so the tree carries no ownership cycles.
type node struct {
	id          ContainerID
	parent      ContainerID
	orientation Orientation
	children    []ContainerID
	weight      float64
	leaf        bool
	session     string
	min         Size
	seq         uint64
}

// Engine owns the container tree and computes screen rectangles for it.
// It is not safe for concurrent use; the core loop is its only caller.
type Engine struct {
	mode     Mode
	tile     TileKind
	gridCols int
	minSize  Size

	nodes   map[ContainerID]*node
	root    ContainerID
	nextID  ContainerID
	nextSeq uint64
}

type Options struct {
	Mode     Mode
	Tile     TileKind
	GridCols int
	MinPane  Size
}

func NewEngine(opts Options) *Engine {
	cols := opts.GridCols
	if cols <= 0 {
		cols = 2
	}
	min := opts.MinPane
	if min.Width <= 0 {
		min.Width = 10
	}
	if min.Height <= 0 {
		min.Height = 3
	}
	return &Engine{
		mode:     opts.Mode,
		tile:     opts.Tile,
		gridCols: cols,
		minSize:  min,
		nodes:    make(map[ContainerID]*node),
	}
}

func (e *Engine) Mode() Mode      { return e.mode }
func (e *Engine) Tile() TileKind  { return e.tile }
func (e *Engine) GridCols() int   { return e.gridCols }
func (e *Engine) Root() ContainerID { return e.root }

func (e *Engine) SetMode(mode Mode, tile TileKind, gridCols int) {
	e.mode = mode
	if mode == ModeTiled {
		e.tile = tile
		if tile == TileGrid && gridCols > 0 {
			e.gridCols = gridCols
		}
	}
}

func (e *Engine) alloc() *node {
	e.nextID++
	e.nextSeq++
	n := &node{id: e.nextID, weight: 1, seq: e.nextSeq}
	e.nodes[n.id] = n
	return n
}

// InsertLeaf adds a leaf bound to the session. parentHint names the split to
// insert under; when it is not a usable split the leaf joins the root level.
// The new leaf is always the trailing sibling.
func (e *Engine) InsertLeaf(sessionID string, parentHint ContainerID) ContainerID {
	leaf := e.alloc()
	leaf.leaf = true
	leaf.session = sessionID
	leaf.min = e.minSize

	if e.root == None {
		e.root = leaf.id
		return leaf.id
	}

	parent := e.nodes[parentHint]
	if parent == nil || parent.leaf {
		parent = e.nodes[e.root]
	}

	if parent.leaf {
		// Root is a single leaf: grow a split above it.
		split := e.alloc()
		split.orientation = e.defaultOrientation()
		split.children = []ContainerID{parent.id, leaf.id}
		parent.parent = split.id
		leaf.parent = split.id
		e.root = split.id
		e.normalize(split)
		return leaf.id
	}

	parent.children = append(parent.children, leaf.id)
	leaf.parent = parent.id
	e.normalize(parent)
	return leaf.id
}

// Split replaces the leaf with a split of the given orientation holding the
// old leaf and a new leaf bound to newSessionID, which becomes the trailing
// sibling.
func (e *Engine) Split(id ContainerID, orientation Orientation, newSessionID string) (ContainerID, error) {
	target := e.nodes[id]
	if target == nil {
		return None, ErrContainerNotFound
	}
	if !target.leaf {
		return None, ErrNotALeaf
	}

	split := e.alloc()
	split.orientation = orientation
	split.parent = target.parent
	split.weight = target.weight

	leaf := e.alloc()
	leaf.leaf = true
	leaf.session = newSessionID
	leaf.min = e.minSize

	split.children = []ContainerID{target.id, leaf.id}
	target.parent = split.id
	leaf.parent = split.id

	if split.parent == None {
		e.root = split.id
	} else {
		parent := e.nodes[split.parent]
		for i, child := range parent.children {
			if child == target.id {
				parent.children[i] = split.id
				break
			}
		}
	}
	e.normalize(split)
	return leaf.id, nil
}

// RemoveLeaf detaches the leaf and collapses any split left with a single
// child, so no internal node ever has exactly one child.
func (e *Engine) RemoveLeaf(id ContainerID) error {
	target := e.nodes[id]
	if target == nil {
		return ErrContainerNotFound
	}
	if !target.leaf {
		return ErrNotALeaf
	}

	parentID := target.parent
	delete(e.nodes, id)

	if parentID == None {
		e.root = None
		return nil
	}

	parent := e.nodes[parentID]
	parent.children = removeID(parent.children, id)

	if len(parent.children) == 1 {
		e.collapse(parent)
	} else {
		e.normalize(parent)
	}
	return nil
}

// collapse replaces a single-child split with its child.
func (e *Engine) collapse(split *node) {
	childID := split.children[0]
	child := e.nodes[childID]
	child.parent = split.parent
	child.weight = split.weight

	if split.parent == None {
		e.root = childID
	} else {
		grand := e.nodes[split.parent]
		for i, id := range grand.children {
			if id == split.id {
				grand.children[i] = childID
				break
			}
		}
	}
	delete(e.nodes, split.id)
}

// Resize shifts the node's relative weight by delta and renormalizes its
// siblings to sum to 1. Weights are clamped so no sibling vanishes.
func (e *Engine) Resize(id ContainerID, delta float64) error {
	target := e.nodes[id]
	if target == nil {
		return ErrContainerNotFound
	}
	if target.parent == None {
		return nil
	}
	target.weight += delta
	if target.weight < 0.05 {
		target.weight = 0.05
	}
	e.normalize(e.nodes[target.parent])
	return nil
}

func (e *Engine) normalize(parent *node) {
	total := 0.0
	for _, id := range parent.children {
		total += e.nodes[id].weight
	}
	if total <= 0 {
		share := 1.0 / float64(len(parent.children))
		for _, id := range parent.children {
			e.nodes[id].weight = share
		}
		return
	}
	for _, id := range parent.children {
		e.nodes[id].weight /= total
	}
}

// Leaves returns leaf ids in insertion order.
func (e *Engine) Leaves() []ContainerID {
	out := make([]ContainerID, 0, len(e.nodes))
	for id, n := range e.nodes {
		if n.leaf {
			out = append(out, id)
		}
	}
	sortBySeq(e, out)
	return out
}

// LeafSession reports the session bound to the leaf.
func (e *Engine) LeafSession(id ContainerID) (string, bool) {
	n := e.nodes[id]
	if n == nil || !n.leaf {
		return "", false
	}
	return n.session, true
}

// SessionLeaf finds the leaf bound to the session.
func (e *Engine) SessionLeaf(sessionID string) (ContainerID, bool) {
	for id, n := range e.nodes {
		if n.leaf && n.session == sessionID {
			return id, true
		}
	}
	return None, false
}

func (e *Engine) LeafCount() int {
	count := 0
	for _, n := range e.nodes {
		if n.leaf {
			count++
		}
	}
	return count
}

func (e *Engine) defaultOrientation() Orientation {
	if e.mode == ModeTiled && e.tile == TileVertical {
		return Vertical
	}
	return Horizontal
}

func removeID(ids []ContainerID, target ContainerID) []ContainerID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func sortBySeq(e *Engine, ids []ContainerID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && e.nodes[ids[j]].seq < e.nodes[ids[j-1]].seq; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// Validate checks structural invariants: every leaf maps to a distinct
// session and no split has fewer than two children.
func (e *Engine) Validate() error {
	seen := make(map[string]ContainerID)
	for id, n := range e.nodes {
		if n.leaf {
			if other, dup := seen[n.session]; dup {
				return fmt.Errorf("session %q bound to containers %d and %d", n.session, other, id)
			}
			seen[n.session] = id
			continue
		}
		if len(n.children) < 2 {
			return fmt.Errorf("split %d has %d children", id, len(n.children))
		}
	}
	return nil
}
