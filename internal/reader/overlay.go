package reader

import (
	"fmt"
	"strconv"
	"strings"
)

// Classes the overlay looks for inside an annotation template.
const (
	classCollapse = "collapse"
	classDismiss  = "dismiss"
	classContent  = "content"
	classFootnote = "footnote"
	classLock     = "lock"

	liveSuffix = "-live"
)

// Overlay shows live copies of hidden annotation templates inline.
type Overlay struct {
	doc *Document
}

func NewOverlay(doc *Document) *Overlay {
	return &Overlay{doc: doc}
}

// LiveID is the id of the live instance of a base annotation.
func LiveID(baseID string) string {
	return baseID + liveSuffix
}

func isLive(n *Node) bool {
	return strings.HasSuffix(n.ID, liveSuffix)
}

// BaseID derives the annotation id from footnote marker text such as "[3]".
func BaseID(marker string) (string, error) {
	inner := strings.TrimSpace(marker)
	inner = strings.TrimPrefix(inner, "[")
	inner = strings.TrimSuffix(inner, "]")
	n, err := strconv.Atoi(strings.TrimSpace(inner))
	if err != nil || n < 0 {
		return "", fmt.Errorf("footnote marker %q is not a bracketed index", marker)
	}
	return "a" + strconv.Itoa(n), nil
}

// Show inserts the live instance for the annotation named by trigger's
// footnote marker right after the trigger's line. Showing an annotation that
// is already live returns the existing instance.
func (o *Overlay) Show(trigger *Node) (*Node, error) {
	baseID, err := BaseID(trigger.Text)
	if err != nil {
		return nil, err
	}
	liveID := LiveID(baseID)

	o.doc.mu.Lock()
	defer o.doc.mu.Unlock()

	if live := o.doc.region.Find(liveID); live != nil {
		return live, nil
	}
	line, err := o.doc.store.Owner(trigger)
	if err != nil {
		return nil, fmt.Errorf("show %s: %w", baseID, err)
	}
	template := o.doc.templates.Find(baseID)
	if template == nil {
		return nil, fmt.Errorf("show %s: %w", baseID, ErrNoTemplate)
	}

	clone := template.Clone()
	clone.ID = liveID
	for _, affordance := range clone.FindClass(classCollapse) {
		affordance.Class = classDismiss
		if affordance.Data == nil {
			affordance.Data = make(map[string]string)
		}
		affordance.Data["target"] = liveID
	}
	for _, content := range clone.FindClass(classContent) {
		for _, child := range content.Children() {
			if child.Class == classFootnote || child.Class == classLock {
				continue
			}
			child.Clear()
		}
	}
	o.doc.region.InsertAfter(line.node, clone)
	return clone, nil
}

// Activate handles a click on a dismiss affordance inside a live instance.
func (o *Overlay) Activate(affordance *Node) bool {
	if affordance.Class != classDismiss || affordance.Data == nil {
		return false
	}
	return o.Dismiss(affordance.Data["target"])
}

// Dismiss removes the live instance with the given id. It looks the instance
// up again so a clone that is already gone is a no-op.
func (o *Overlay) Dismiss(liveID string) bool {
	if !strings.HasSuffix(liveID, liveSuffix) {
		return false
	}
	o.doc.mu.Lock()
	defer o.doc.mu.Unlock()
	live := o.doc.region.Find(liveID)
	if live == nil {
		return false
	}
	live.Remove()
	return true
}

// LiveCount returns how many live instances of baseID are in the document.
func (o *Overlay) LiveCount(baseID string) int {
	o.doc.mu.Lock()
	defer o.doc.mu.Unlock()
	count := 0
	o.doc.region.Walk(func(n *Node) bool {
		if n.ID == LiveID(baseID) {
			count++
		}
		return true
	})
	return count
}
