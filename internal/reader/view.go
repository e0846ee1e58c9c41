package reader

// Node is an element of the rendered view. The tree is a projection of the
// line index held by LineStore; identities that matter (line numbers,
// annotation ids) are resolved through that index rather than parsed out of
// node ids.
type Node struct {
	ID    string
	Class string
	Text  string
	Data  map[string]string

	parent   *Node
	children []*Node
}

func NewNode(id, class, text string) *Node {
	return &Node{ID: id, Class: class, Text: text}
}

func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Append adds child as the last child of n, detaching it from any previous parent.
func (n *Node) Append(child *Node) *Node {
	child.Remove()
	child.parent = n
	n.children = append(n.children, child)
	return child
}

// InsertBefore places child directly before ref. A nil or foreign ref appends.
func (n *Node) InsertBefore(ref, child *Node) *Node {
	if ref == child {
		return child
	}
	idx := n.indexOf(ref)
	if idx < 0 {
		return n.Append(child)
	}
	child.Remove()
	idx = n.indexOf(ref)
	child.parent = n
	n.children = append(n.children, nil)
	copy(n.children[idx+1:], n.children[idx:])
	n.children[idx] = child
	return child
}

// InsertAfter places child directly after ref. A nil or foreign ref appends.
func (n *Node) InsertAfter(ref, child *Node) *Node {
	idx := n.indexOf(ref)
	if idx < 0 || idx == len(n.children)-1 {
		return n.Append(child)
	}
	if n.children[idx+1] == child {
		return child
	}
	return n.InsertBefore(n.children[idx+1], child)
}

// Next returns the sibling directly after n, or nil.
func (n *Node) Next() *Node {
	if n.parent == nil {
		return nil
	}
	idx := n.parent.indexOf(n)
	if idx < 0 || idx+1 >= len(n.parent.children) {
		return nil
	}
	return n.parent.children[idx+1]
}

// Remove detaches n from its parent. Detached nodes are left untouched.
func (n *Node) Remove() {
	if n.parent == nil {
		return
	}
	p := n.parent
	if idx := p.indexOf(n); idx >= 0 {
		p.children = append(p.children[:idx], p.children[idx+1:]...)
	}
	n.parent = nil
}

// Clone returns a detached deep copy of n.
func (n *Node) Clone() *Node {
	c := &Node{ID: n.ID, Class: n.Class, Text: n.Text}
	if n.Data != nil {
		c.Data = make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	for _, child := range n.children {
		c.Append(child.Clone())
	}
	return c
}

// Clear drops the text and every child of n.
func (n *Node) Clear() {
	for _, child := range n.children {
		child.parent = nil
	}
	n.children = nil
	n.Text = ""
}

// Find returns the first node in n's subtree (n included) with the given id.
func (n *Node) Find(id string) *Node {
	var found *Node
	n.Walk(func(node *Node) bool {
		if node.ID == id {
			found = node
			return false
		}
		return true
	})
	return found
}

// FindClass returns every node in n's subtree carrying class, in document order.
func (n *Node) FindClass(class string) []*Node {
	var out []*Node
	n.Walk(func(node *Node) bool {
		if node.Class == class {
			out = append(out, node)
		}
		return true
	})
	return out
}

// Walk visits n and its descendants in document order until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, child := range n.children {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// Contains reports whether other is n or one of its descendants.
func (n *Node) Contains(other *Node) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == n {
			return true
		}
	}
	return false
}

func (n *Node) indexOf(child *Node) int {
	if child == nil {
		return -1
	}
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}
