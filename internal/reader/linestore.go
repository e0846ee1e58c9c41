package reader

import (
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Line is a line as delivered by the server.
type Line struct {
	Num  int    `json:"num"`
	Enum string `json:"enum"`
	Text string `json:"line"`
}

// LineNode is a resident line of the store.
type LineNode struct {
	Num      int
	Enum     string
	Text     string
	Selected bool

	node *Node
}

// Separator reports whether the line is a structural divider.
func (l *LineNode) Separator() bool {
	return l.Enum == "hr"
}

// Node returns the line's container in the view.
func (l *LineNode) Node() *Node {
	return l.node
}

// LineStore is the ordered set of resident lines. Order is by line number and
// numbers are unique. Every resident line owns one container node under the
// region; owners maps containers back to line numbers.
type LineStore struct {
	region *Node
	lines  []*LineNode
	byNum  map[int]*LineNode
	owners map[*Node]int
}

func NewLineStore(region *Node) *LineStore {
	return &LineStore{
		region: region,
		byNum:  make(map[int]*LineNode),
		owners: make(map[*Node]int),
	}
}

// Insert adds a line at its ordered position and mounts its container.
func (s *LineStore) Insert(line Line) (*LineNode, error) {
	if line.Num < 1 {
		return nil, fmt.Errorf("insert line %d: line numbers start at 1", line.Num)
	}
	if _, ok := s.byNum[line.Num]; ok {
		return nil, fmt.Errorf("insert line %d: %w", line.Num, ErrDuplicateLine)
	}

	text := norm.NFC.String(line.Text)
	container := NewNode(strconv.Itoa(line.Num), "line", "")
	if line.Enum == "hr" {
		container.Class = "line hr"
	}
	container.Append(NewNode("", "text", text))
	item := &LineNode{Num: line.Num, Enum: line.Enum, Text: text, node: container}

	idx := sort.Search(len(s.lines), func(i int) bool { return s.lines[i].Num > line.Num })
	if idx < len(s.lines) {
		s.region.InsertBefore(s.lines[idx].node, container)
	} else {
		s.region.Append(container)
	}
	s.lines = append(s.lines, nil)
	copy(s.lines[idx+1:], s.lines[idx:])
	s.lines[idx] = item

	s.byNum[line.Num] = item
	s.owners[container] = line.Num
	return item, nil
}

// Remove evicts a line and unmounts its container along with any live
// annotation instances shown directly after it. Absent lines are ignored.
func (s *LineStore) Remove(num int) bool {
	item, ok := s.byNum[num]
	if !ok {
		return false
	}
	idx := sort.Search(len(s.lines), func(i int) bool { return s.lines[i].Num >= num })
	s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
	delete(s.byNum, num)
	delete(s.owners, item.node)
	for next := item.node.Next(); next != nil && isLive(next); next = item.node.Next() {
		next.Remove()
	}
	item.node.Remove()
	return true
}

// tail returns the last node of the line's group: its container or the last
// live annotation instance shown after it.
func (s *LineStore) tail(item *LineNode) *Node {
	end := item.node
	for next := end.Next(); next != nil && isLive(next); next = end.Next() {
		end = next
	}
	return end
}

func (s *LineStore) Get(num int) (*LineNode, bool) {
	item, ok := s.byNum[num]
	return item, ok
}

func (s *LineStore) Has(num int) bool {
	_, ok := s.byNum[num]
	return ok
}

func (s *LineStore) Len() int {
	return len(s.lines)
}

// Lines returns the resident lines in order.
func (s *LineStore) Lines() []*LineNode {
	out := make([]*LineNode, len(s.lines))
	copy(out, s.lines)
	return out
}

// Nums returns the resident line numbers in order.
func (s *LineStore) Nums() []int {
	out := make([]int, len(s.lines))
	for i, item := range s.lines {
		out[i] = item.Num
	}
	return out
}

func (s *LineStore) First() *LineNode {
	if len(s.lines) == 0 {
		return nil
	}
	return s.lines[0]
}

func (s *LineStore) Last() *LineNode {
	if len(s.lines) == 0 {
		return nil
	}
	return s.lines[len(s.lines)-1]
}

// Owner returns the line whose container holds n.
func (s *LineStore) Owner(n *Node) (*LineNode, error) {
	for cur := n; cur != nil; cur = cur.parent {
		if num, ok := s.owners[cur]; ok {
			return s.byNum[num], nil
		}
	}
	return nil, ErrOutsideLines
}

// charOffset converts a container-relative offset into a rune offset from the
// start of the line's text, counting text-bearing nodes in document order.
// For an element container (no text of its own) the offset is a child index.
func (s *LineStore) charOffset(line *LineNode, container *Node, offset int) int {
	total := 0
	line.node.Walk(func(node *Node) bool {
		if node != container {
			total += utf8.RuneCountInString(node.Text)
			return true
		}
		if node.Text == "" && len(node.children) > 0 {
			for i := 0; i < offset && i < len(node.children); i++ {
				total += textLen(node.children[i])
			}
			return false
		}
		total += offset
		return false
	})
	return total
}

func textLen(n *Node) int {
	total := 0
	n.Walk(func(node *Node) bool {
		total += utf8.RuneCountInString(node.Text)
		return true
	})
	return total
}
