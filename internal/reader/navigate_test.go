package reader

import "testing"

func TestAnnotateURL(t *testing.T) {
	a := Anchor{StartLine: 10, StartChar: 3, EndLine: 14, EndChar: 4}
	if got, want := AnnotateURL(testRef, a), "/annotate/hamlet/edition/1/act-3/10/14?fc=3&lc=4"; got != want {
		t.Fatalf("AnnotateURL() = %q, want %q", got, want)
	}

	ref := DocRef{Text: "king lear", Edition: "folio"}
	got := AnnotateURL(ref, Anchor{StartLine: 1, EndLine: 1, EndChar: 2})
	if want := "/annotate/king%20lear/edition/folio/-/1/1?fc=0&lc=2"; got != want {
		t.Fatalf("AnnotateURL() = %q, want %q", got, want)
	}
}

func TestLoginURL(t *testing.T) {
	got := LoginURL("/login", "/ajax/vote", VoteRequest{ID: "4", Entity: "annotation", Up: true}, "/text/hamlet")
	want := "/login?next=%2Fajax%2Fvote%3Fentity%3Dannotation%26id%3D4%26next%3D%252Ftext%252Fhamlet%26up%3Dtrue"
	if got != want {
		t.Fatalf("LoginURL() = %q, want %q", got, want)
	}
}
