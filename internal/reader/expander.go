package reader

import (
	"context"
	"fmt"
	"log/slog"
)

// MaxPadding is the number of unselected context lines kept beyond the
// selection on each side.
const MaxPadding = 3

// Direction is the side of the window an operation acts on.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func (d Direction) Valid() bool {
	return d == Up || d == Down
}

// LineFetcher loads a single line. found is false when the edition has no
// such line.
type LineFetcher interface {
	FetchLine(ctx context.Context, ref DocRef, num int) (line Line, found bool, err error)
}

// Window is the selected span of an expansion UI.
type Window struct {
	FirstLine int `json:"firstLine"`
	LastLine  int `json:"lastLine"`
	Total     int `json:"total"`
}

// Expander grows and shrinks the selected window one line at a time.
type Expander struct {
	doc     *Document
	fetcher LineFetcher
	log     *slog.Logger

	window   Window
	inflight map[Direction]bool
	top      *Node
	bottom   *Node
}

// NewExpander selects first..last, which must already be resident, and
// places the boundary dividers around them.
func NewExpander(doc *Document, fetcher LineFetcher, first, last int, logger *slog.Logger) (*Expander, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if first > last {
		first, last = last, first
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()
	for num := first; num <= last; num++ {
		if !doc.store.Has(num) {
			return nil, fmt.Errorf("select line %d: %w", num, ErrLineNotResident)
		}
	}

	e := &Expander{
		doc:      doc,
		fetcher:  fetcher,
		log:      logger,
		window:   Window{FirstLine: first, LastLine: last, Total: doc.total},
		inflight: make(map[Direction]bool),
		top:      NewNode("divider-top", "divider", ""),
		bottom:   NewNode("divider-bottom", "divider", ""),
	}
	for _, item := range doc.store.Lines() {
		item.Selected = item.Num >= first && item.Num <= last
	}
	e.placeDividers()
	return e, nil
}

// Window returns the current boundary inputs.
func (e *Expander) Window() Window {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.window
}

// Contract moves the boundary on dir one line inward. It never shrinks the
// selection below one line and never touches the network. The released line
// becomes padding; the padding on dir is then trimmed back to the level it had
// before the call, so Contract undoes a preceding Expand on the same side.
func (e *Expander) Contract(dir Direction) bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	if !dir.Valid() || e.window.FirstLine == e.window.LastLine {
		return false
	}
	level := len(e.padding(dir))
	var released int
	if dir == Up {
		released = e.window.FirstLine
		e.window.FirstLine++
	} else {
		released = e.window.LastLine
		e.window.LastLine--
	}
	if item, ok := e.doc.store.Get(released); ok {
		item.Selected = false
	}
	e.placeDividers()
	e.trim(dir, min(level, MaxPadding))
	return true
}

// Expand moves the boundary on dir one line outward and reports whether it
// moved. Each call issues at most one fetch: the candidate line itself when it
// is not resident, otherwise the line beyond the outer edge so the context on
// that side keeps its depth. Out-of-range candidates and lines the server does
// not have are silent no-ops.
func (e *Expander) Expand(ctx context.Context, dir Direction) (bool, error) {
	if !dir.Valid() {
		return false, fmt.Errorf("expand: invalid direction %q", dir)
	}

	e.doc.mu.Lock()
	candidate, ok := e.candidate(dir)
	if !ok {
		e.doc.mu.Unlock()
		return false, nil
	}
	if e.inflight[dir] {
		e.doc.mu.Unlock()
		return false, ErrExpandInFlight
	}
	target := candidate
	if e.doc.store.Has(candidate) {
		target = e.beyondEdge(dir)
		if target < 1 || target > e.window.Total {
			e.include(dir, candidate)
			e.doc.mu.Unlock()
			return true, nil
		}
	}
	e.inflight[dir] = true
	ref := e.doc.ref
	e.doc.mu.Unlock()

	line, found, err := e.fetcher.FetchLine(ctx, ref, target)

	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	delete(e.inflight, dir)
	if err != nil {
		return false, fmt.Errorf("fetch line %d: %w", target, err)
	}

	// The window may have moved while the fetch was pending.
	if next, ok := e.candidate(dir); !ok || next != candidate {
		e.log.Debug("discarding stale line", slog.Int("line", target), slog.String("direction", string(dir)))
		return false, nil
	}
	if found && !e.doc.store.Has(target) && target == e.beyondEdge(dir) {
		line.Num = target
		if _, err := e.doc.store.Insert(line); err != nil {
			return false, err
		}
	}
	if !e.doc.store.Has(candidate) {
		e.log.Debug("document boundary reached", slog.Int("line", candidate))
		return false, nil
	}
	e.include(dir, candidate)
	return true, nil
}

// Padding returns the number of unselected lines beyond the boundary on dir.
func (e *Expander) Padding(dir Direction) int {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return len(e.padding(dir))
}

func (e *Expander) candidate(dir Direction) (int, bool) {
	var next int
	if dir == Up {
		next = e.window.FirstLine - 1
	} else {
		next = e.window.LastLine + 1
	}
	if next < 1 || next > e.window.Total {
		return 0, false
	}
	return next, true
}

// beyondEdge is the first line past the resident lines on dir.
func (e *Expander) beyondEdge(dir Direction) int {
	if dir == Up {
		return e.doc.store.First().Num - 1
	}
	return e.doc.store.Last().Num + 1
}

func (e *Expander) include(dir Direction, num int) {
	item, _ := e.doc.store.Get(num)
	item.Selected = true
	if dir == Up {
		e.window.FirstLine = num
	} else {
		e.window.LastLine = num
	}
	e.placeDividers()
	e.evict(dir)
}

// padding lists the unselected lines on dir, nearest the boundary first.
func (e *Expander) padding(dir Direction) []*LineNode {
	var out []*LineNode
	lines := e.doc.store.Lines()
	if dir == Up {
		for i := len(lines) - 1; i >= 0; i-- {
			if lines[i].Num < e.window.FirstLine {
				out = append(out, lines[i])
			}
		}
		return out
	}
	for _, item := range lines {
		if item.Num > e.window.LastLine {
			out = append(out, item)
		}
	}
	return out
}

// evict drops the outermost line on dir while the lines strictly between the
// store edge and the boundary number MaxPadding or more.
func (e *Expander) evict(dir Direction) {
	e.trim(dir, MaxPadding)
}

// trim drops outermost padding lines on dir until at most keep remain.
func (e *Expander) trim(dir Direction, keep int) {
	for {
		pad := e.padding(dir)
		if len(pad) <= keep {
			return
		}
		outer := pad[len(pad)-1]
		e.doc.store.Remove(outer.Num)
		e.log.Debug("evicted padding line", slog.Int("line", outer.Num), slog.String("direction", string(dir)))
	}
}

func (e *Expander) placeDividers() {
	first, ok := e.doc.store.Get(e.window.FirstLine)
	if ok {
		e.doc.region.InsertBefore(first.node, e.top)
	}
	last, ok := e.doc.store.Get(e.window.LastLine)
	if ok {
		e.doc.region.InsertAfter(e.doc.store.tail(last), e.bottom)
	}
}
