// Package reader holds the client-side state of an annotated, incrementally
// loaded, line-addressed document: the line store, anchor resolution, context
// window expansion, vote reconciliation and the annotation overlay.
//
// All mutations of a Document are serialized by its mutex. Collaborator calls
// (line fetch, vote, flash) run without the lock held; their completion
// handlers take it again and re-derive state from line numbers and entity ids.
package reader

import (
	"fmt"
	"sync"
)

// DocRef identifies the text, edition and table-of-contents section a
// document window belongs to.
type DocRef struct {
	Text    string
	Edition string
	TOC     string
}

// Document is the live view of one text window.
type Document struct {
	mu sync.Mutex

	ref       DocRef
	total     int
	root      *Node
	region    *Node
	templates *Node
	store     *LineStore
}

// NewDocument creates an empty document. total is the line count of the
// whole edition and bounds every fetch.
func NewDocument(ref DocRef, total int) *Document {
	root := NewNode("document", "document", "")
	region := root.Append(NewNode("lines", "lines", ""))
	templates := root.Append(NewNode("annotations", "annotations hidden", ""))
	return &Document{
		ref:       ref,
		total:     total,
		root:      root,
		region:    region,
		templates: templates,
		store:     NewLineStore(region),
	}
}

// Load inserts server-rendered lines.
func (d *Document) Load(lines []Line) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, line := range lines {
		if _, err := d.store.Insert(line); err != nil {
			return fmt.Errorf("load document: %w", err)
		}
	}
	return nil
}

// AddTemplate registers a hidden annotation template. The template id is the
// base annotation id (for example "a3").
func (d *Document) AddTemplate(template *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.templates.Append(template)
}

func (d *Document) Ref() DocRef {
	return d.ref
}

func (d *Document) Total() int {
	return d.total
}

func (d *Document) Root() *Node {
	return d.root
}

// LineContainer returns the container node of a resident line. The node is
// shared with the document; change it only through WithLine.
func (d *Document) LineContainer(num int) (*Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	item, ok := d.store.Get(num)
	if !ok {
		return nil, false
	}
	return item.node, true
}

// LineView is a read-only copy of a resident line.
type LineView struct {
	Num       int
	Enum      string
	Text      string
	Selected  bool
	Separator bool
}

// Lines returns a snapshot of the resident lines in order.
func (d *Document) Lines() []LineView {
	d.mu.Lock()
	defer d.mu.Unlock()
	items := d.store.Lines()
	out := make([]LineView, len(items))
	for i, item := range items {
		out[i] = LineView{
			Num:       item.Num,
			Enum:      item.Enum,
			Text:      item.Text,
			Selected:  item.Selected,
			Separator: item.Separator(),
		}
	}
	return out
}

// WithLine calls fn with the container of a resident line under the document
// lock and reports whether the line was resident. fn must not call back into
// the document.
func (d *Document) WithLine(num int, fn func(container *Node)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	item, ok := d.store.Get(num)
	if !ok {
		return false
	}
	fn(item.node)
	return true
}

// Inspect calls fn with the line region under the document lock. fn must
// not call back into the document.
func (d *Document) Inspect(fn func(region *Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.region)
}

// Find looks up a node by id anywhere in the document.
func (d *Document) Find(id string) *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root.Find(id)
}
