package reader

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

var testRef = DocRef{Text: "hamlet", Edition: "1", TOC: "act-3"}

func lineText(num int) string {
	return fmt.Sprintf("line %d", num)
}

// newTestDocument loads lines first..last of a document with total lines.
func newTestDocument(t *testing.T, total, first, last int) *Document {
	t.Helper()
	doc := NewDocument(testRef, total)
	var lines []Line
	for num := first; num <= last; num++ {
		lines = append(lines, Line{Num: num, Enum: "l", Text: lineText(num)})
	}
	if err := doc.Load(lines); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return doc
}

func residentNums(doc *Document) []int {
	var out []int
	for _, line := range doc.Lines() {
		out = append(out, line.Num)
	}
	return out
}

func numRange(first, last int) []int {
	var out []int
	for num := first; num <= last; num++ {
		out = append(out, num)
	}
	return out
}

// fakeFetcher serves lines 1..max. Lines listed in block wait for release.
type fakeFetcher struct {
	mu      sync.Mutex
	max     int
	calls   []int
	err     error
	block   map[int]chan struct{}
	started chan int
}

func newFakeFetcher(max int) *fakeFetcher {
	return &fakeFetcher{max: max, block: make(map[int]chan struct{}), started: make(chan int, 16)}
}

func (f *fakeFetcher) FetchLine(ctx context.Context, ref DocRef, num int) (Line, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, num)
	gate := f.block[num]
	err := f.err
	f.mu.Unlock()

	f.started <- num
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Line{}, false, ctx.Err()
		}
	}
	if err != nil {
		return Line{}, false, err
	}
	if num < 1 || num > f.max {
		return Line{}, false, nil
	}
	return Line{Num: num, Enum: "l", Text: lineText(num)}, true, nil
}

func (f *fakeFetcher) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.calls))
	copy(out, f.calls)
	return out
}
