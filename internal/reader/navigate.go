package reader

import (
	"fmt"
	"net/url"
	"strconv"
)

// Navigator performs a full-page navigation.
type Navigator interface {
	Navigate(target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string)

func (f NavigatorFunc) Navigate(target string) { f(target) }

// AnnotateURL is the navigation target that opens the annotation form for a.
func AnnotateURL(ref DocRef, a Anchor) string {
	toc := ref.TOC
	if toc == "" {
		toc = "-"
	}
	return fmt.Sprintf("/annotate/%s/edition/%s/%s/%d/%d?fc=%d&lc=%d",
		url.PathEscape(ref.Text),
		url.PathEscape(ref.Edition),
		url.PathEscape(toc),
		a.StartLine,
		a.EndLine,
		a.StartChar,
		a.EndChar,
	)
}

// LoginURL sends the user to the login page with a return URL that replays
// the vote and then comes back to currentPath.
func LoginURL(loginPath, votePath string, req VoteRequest, currentPath string) string {
	replay := url.Values{}
	replay.Set("id", req.ID)
	replay.Set("entity", req.Entity)
	replay.Set("up", strconv.FormatBool(req.Up))
	replay.Set("next", currentPath)
	next := votePath + "?" + replay.Encode()
	return loginPath + "?next=" + url.QueryEscape(next)
}
