package layout

import "fmt"

// NodeSpec is the serializable shape of the container tree. Leaves carry the
// session id they were bound to; splits carry orientation and children.
type NodeSpec struct {
	Split       bool       `yaml:"split,omitempty"`
	Orientation string     `yaml:"orientation,omitempty"`
	Weight      float64    `yaml:"weight,omitempty"`
	Session     string     `yaml:"session,omitempty"`
	Children    []NodeSpec `yaml:"children,omitempty"`
}

// Describe snapshots the tree for persistence. An empty tree yields nil.
func (e *Engine) Describe() *NodeSpec {
	if e.root == None {
		return nil
	}
	spec := e.describe(e.root)
	return &spec
}

func (e *Engine) describe(id ContainerID) NodeSpec {
	n := e.nodes[id]
	if n.leaf {
		return NodeSpec{Weight: n.weight, Session: n.session}
	}
	spec := NodeSpec{
		Split:       true,
		Orientation: n.orientation.String(),
		Weight:      n.weight,
		Children:    make([]NodeSpec, 0, len(n.children)),
	}
	for _, child := range n.children {
		spec.Children = append(spec.Children, e.describe(child))
	}
	return spec
}

// Rebuild replaces the tree with the spec's shape. remap translates each
// persisted session id to its replacement; returning "" drops that leaf.
// A nil remap keeps the persisted ids.
func (e *Engine) Rebuild(spec *NodeSpec, remap func(string) string) error {
	e.nodes = make(map[ContainerID]*node)
	e.root = None
	e.nextID = 0
	e.nextSeq = 0

	if spec == nil {
		return nil
	}
	rootID, err := e.rebuild(*spec, None, remap)
	if err != nil {
		return err
	}
	e.root = rootID
	if rootID != None {
		// Dropped leaves can leave single-child splits behind.
		e.pruneDegenerate(rootID)
	}
	return e.Validate()
}

func (e *Engine) rebuild(spec NodeSpec, parent ContainerID, remap func(string) string) (ContainerID, error) {
	weight := spec.Weight
	if weight <= 0 {
		weight = 1
	}

	if !spec.Split {
		session := spec.Session
		if remap != nil {
			session = remap(session)
		}
		if session == "" {
			return None, nil
		}
		leaf := e.alloc()
		leaf.leaf = true
		leaf.session = session
		leaf.min = e.minSize
		leaf.parent = parent
		leaf.weight = weight
		return leaf.id, nil
	}

	orientation := Horizontal
	switch spec.Orientation {
	case "vertical":
		orientation = Vertical
	case "horizontal", "":
	default:
		return None, fmt.Errorf("unknown orientation %q", spec.Orientation)
	}

	split := e.alloc()
	split.orientation = orientation
	split.parent = parent
	split.weight = weight

	for _, childSpec := range spec.Children {
		childID, err := e.rebuild(childSpec, split.id, remap)
		if err != nil {
			return None, err
		}
		if childID != None {
			split.children = append(split.children, childID)
		}
	}

	if len(split.children) == 0 {
		delete(e.nodes, split.id)
		return None, nil
	}
	e.normalize(split)
	return split.id, nil
}

func (e *Engine) pruneDegenerate(id ContainerID) {
	n := e.nodes[id]
	if n == nil || n.leaf {
		return
	}
	for _, child := range append([]ContainerID(nil), n.children...) {
		e.pruneDegenerate(child)
	}
	n = e.nodes[id]
	if n != nil && !n.leaf && len(n.children) == 1 {
		e.collapse(n)
	}
}
