package reader

import "fmt"

// Anchor addresses a span of text: start is inclusive, end is exclusive.
// Char offsets are rune offsets within their line.
type Anchor struct {
	StartLine int `json:"startLine"`
	StartChar int `json:"startChar"`
	EndLine   int `json:"endLine"`
	EndChar   int `json:"endChar"`
}

// Normalize clamps line numbers below 1 to 1 and swaps reversed boundaries so
// that start never follows end.
func (a Anchor) Normalize() Anchor {
	if a.StartLine < 1 {
		a.StartLine = 1
	}
	if a.EndLine < 1 {
		a.EndLine = 1
	}
	if a.EndLine < a.StartLine || (a.EndLine == a.StartLine && a.EndChar < a.StartChar) {
		a.StartLine, a.EndLine = a.EndLine, a.StartLine
		a.StartChar, a.EndChar = a.EndChar, a.StartChar
	}
	return a
}

func (a Anchor) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", a.StartLine, a.StartChar, a.EndLine, a.EndChar)
}

// Range is one contiguous piece of a selection. Offsets are relative to their
// container: a rune offset into a text node, or a child index for an element.
type Range struct {
	StartContainer *Node
	StartOffset    int
	EndContainer   *Node
	EndOffset      int
}

// Selection is the user's current selection. A single visual selection may
// report several ranges when it crosses inline boundaries.
type Selection struct {
	Text   string
	Ranges []Range
}

// Resolver turns selections into anchors. It only reads the document.
type Resolver struct {
	doc *Document
}

func NewResolver(doc *Document) *Resolver {
	return &Resolver{doc: doc}
}

// Resolve returns nil with no error for an empty selection. Boundaries come
// from the first range's start and the last range's end.
func (r *Resolver) Resolve(sel Selection) (*Anchor, error) {
	if sel.Text == "" || len(sel.Ranges) == 0 {
		return nil, nil
	}
	first := sel.Ranges[0]
	last := sel.Ranges[len(sel.Ranges)-1]

	r.doc.mu.Lock()
	defer r.doc.mu.Unlock()

	startLine, err := r.doc.store.Owner(first.StartContainer)
	if err != nil {
		return nil, fmt.Errorf("resolve selection start: %w", err)
	}
	endLine, err := r.doc.store.Owner(last.EndContainer)
	if err != nil {
		return nil, fmt.Errorf("resolve selection end: %w", err)
	}

	anchor := Anchor{
		StartLine: startLine.Num,
		StartChar: r.doc.store.charOffset(startLine, first.StartContainer, first.StartOffset),
		EndLine:   endLine.Num,
		EndChar:   r.doc.store.charOffset(endLine, last.EndContainer, last.EndOffset),
	}
	anchor = anchor.Normalize()
	return &anchor, nil
}
