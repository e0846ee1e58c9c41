package reader

import (
	"context"
	"errors"
	"slices"
	"testing"
)

// annotationTemplate mirrors the hidden markup rendered for each annotation.
func annotationTemplate(id string) *Node {
	root := NewNode(id, "annotation", "")
	root.Append(NewNode("", "collapse", "[-]"))
	content := root.Append(NewNode("", "content", ""))
	content.Append(NewNode("", "heading", "Horatio"))
	content.Append(NewNode("", "footnote", "[3]"))
	content.Append(NewNode("", "lock", "locked"))
	root.Append(NewNode("", "body", "An aside on the text."))
	return root
}

// attachMarker puts a footnote marker on a resident line.
func attachMarker(t *testing.T, doc *Document, num int, text string) *Node {
	t.Helper()
	var trigger *Node
	if !doc.WithLine(num, func(container *Node) { trigger = container.Append(NewNode("", "marker", text)) }) {
		t.Fatalf("line %d not resident", num)
	}
	return trigger
}

func regionIDs(doc *Document) []string {
	var ids []string
	doc.Inspect(func(region *Node) { ids = childIDs(region) })
	return ids
}

func newOverlayDocument(t *testing.T) (*Document, *Node) {
	t.Helper()
	doc := newTestDocument(t, 50, 10, 12)
	doc.AddTemplate(annotationTemplate("a3"))
	return doc, attachMarker(t, doc, 11, "[3]")
}

func showLive(t *testing.T, overlay *Overlay, trigger *Node) *Node {
	t.Helper()
	live, err := overlay.Show(trigger)
	if err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	return live
}

func TestBaseID(t *testing.T) {
	for marker, want := range map[string]string{"[3]": "a3", " [ 12 ] ": "a12"} {
		got, err := BaseID(marker)
		if err != nil || got != want {
			t.Fatalf("BaseID(%q) = %q, %v, want %q", marker, got, err, want)
		}
	}
	if _, err := BaseID("note"); err == nil {
		t.Fatal("expected BaseID() to reject an unbracketed marker")
	}
	if got := LiveID("a3"); got != "a3-live" {
		t.Fatalf("LiveID() = %q", got)
	}
}

func TestOverlayShow(t *testing.T) {
	doc, trigger := newOverlayDocument(t)
	live := showLive(t, NewOverlay(doc), trigger)
	if live.ID != "a3-live" {
		t.Fatalf("live id = %q", live.ID)
	}
	if got := regionIDs(doc); !slices.Equal(got, []string{"10", "11", "a3-live", "12"}) {
		t.Fatalf("region = %v", got)
	}

	dismiss := live.FindClass("dismiss")
	if len(dismiss) != 1 || dismiss[0].Data["target"] != "a3-live" {
		t.Fatalf("dismiss affordances = %+v", dismiss)
	}
	if len(live.FindClass("collapse")) != 0 {
		t.Fatal("live instance kept its collapse affordance")
	}

	content := live.FindClass("content")[0]
	var kept []string
	for _, child := range content.Children() {
		kept = append(kept, child.Class+":"+child.Text)
	}
	if want := []string{"heading:", "footnote:[3]", "lock:locked"}; !slices.Equal(kept, want) {
		t.Fatalf("content children = %v, want %v", kept, want)
	}
	if body := live.FindClass("body"); len(body) != 1 || body[0].Text != "An aside on the text." {
		t.Fatalf("body outside the header must survive, got %+v", body)
	}

	template := doc.Find("a3")
	if template == nil {
		t.Fatal("template removed")
	}
	if len(template.FindClass("collapse")) != 1 || len(template.FindClass("heading")) != 1 ||
		template.FindClass("heading")[0].Text != "Horatio" {
		t.Fatal("template was modified by Show()")
	}
}

func TestOverlayShowIsIdempotent(t *testing.T) {
	doc, trigger := newOverlayDocument(t)
	overlay := NewOverlay(doc)

	first := showLive(t, overlay, trigger)
	second := showLive(t, overlay, trigger)
	if first != second {
		t.Fatal("second Show() created another instance")
	}
	if n := overlay.LiveCount("a3"); n != 1 {
		t.Fatalf("LiveCount() = %d, want 1", n)
	}
}

func TestOverlayDismiss(t *testing.T) {
	doc, trigger := newOverlayDocument(t)
	overlay := NewOverlay(doc)
	live := showLive(t, overlay, trigger)

	affordance := live.FindClass("dismiss")[0]
	if !overlay.Activate(affordance) {
		t.Fatal("Activate() = false")
	}
	if doc.Find("a3-live") != nil || overlay.LiveCount("a3") != 0 {
		t.Fatal("live instance still present after dismiss")
	}

	// A second click on a stale affordance is harmless.
	if overlay.Activate(affordance) || overlay.Dismiss("a3") {
		t.Fatal("stale dismiss reported a removal")
	}
	if doc.Find("a3") == nil {
		t.Fatal("dismiss removed the template")
	}

	showLive(t, overlay, trigger)
	if n := overlay.LiveCount("a3"); n != 1 {
		t.Fatalf("LiveCount() after reshow = %d, want 1", n)
	}
}

func TestOverlayErrors(t *testing.T) {
	doc, _ := newOverlayDocument(t)
	overlay := NewOverlay(doc)

	missing := attachMarker(t, doc, 10, "[8]")
	if _, err := overlay.Show(missing); !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("Show(no template) error = %v, want ErrNoTemplate", err)
	}
	stray := doc.Root().Append(NewNode("", "marker", "[3]"))
	if _, err := overlay.Show(stray); !errors.Is(err, ErrOutsideLines) {
		t.Fatalf("Show(stray) error = %v, want ErrOutsideLines", err)
	}
	if overlay.Activate(NewNode("", "collapse", "[-]")) {
		t.Fatal("Activate() accepted a collapse affordance")
	}
}

func TestEvictedLineTakesItsLiveInstance(t *testing.T) {
	doc := newTestDocument(t, 50, 7, 15)
	doc.AddTemplate(annotationTemplate("a3"))
	e := newTestExpander(t, doc, newFakeFetcher(50), 10, 12)
	overlay := NewOverlay(doc)
	showLive(t, overlay, attachMarker(t, doc, 15, "[3]"))

	if !e.Contract(Down) {
		t.Fatal("Contract(Down) = false")
	}
	if got := residentNums(doc); !slices.Equal(got, numRange(7, 14)) {
		t.Fatalf("resident after contract = %v", got)
	}
	if doc.Find("a3-live") != nil {
		t.Fatal("live instance outlived its evicted line")
	}

	moved, err := e.Expand(context.Background(), Down)
	if err != nil || !moved {
		t.Fatalf("Expand(Down) = %v, %v", moved, err)
	}
	want := []string{"7", "8", "9", "divider-top", "10", "11", "12", "divider-bottom", "13", "14", "15"}
	if got := regionIDs(doc); !slices.Equal(got, want) {
		t.Fatalf("region after refetch = %v, want %v", got, want)
	}

	showLive(t, overlay, attachMarker(t, doc, 15, "[3]"))
	if got := regionIDs(doc); !slices.Equal(got[len(got)-2:], []string{"15", "a3-live"}) {
		t.Fatalf("live instance not after its line: %v", got)
	}
}

func TestBottomDividerFollowsLiveInstance(t *testing.T) {
	doc := newTestDocument(t, 50, 10, 14)
	doc.AddTemplate(annotationTemplate("a3"))
	e := newTestExpander(t, doc, newFakeFetcher(50), 10, 12)
	showLive(t, NewOverlay(doc), attachMarker(t, doc, 12, "[3]"))

	if !e.Contract(Down) {
		t.Fatal("Contract(Down) = false")
	}
	if _, err := e.Expand(context.Background(), Down); err != nil {
		t.Fatalf("Expand(Down) error = %v", err)
	}
	want := []string{"divider-top", "10", "11", "12", "a3-live", "divider-bottom", "13", "14"}
	if got := regionIDs(doc); !slices.Equal(got, want) {
		t.Fatalf("region = %v, want %v", got, want)
	}
}
