package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"annotext/internal/reader"
)

// Render writes the resident window: a header, then every line in order with
// selected lines marked, boundary dividers, and open annotations inline.
func (c *Console) Render(w io.Writer) error {
	lines := c.doc.Lines()
	window := c.expander.Window()
	bw := bufio.NewWriter(w)

	title := c.edition.Title
	if title == "" {
		title = "edition " + c.ref.Edition
	}
	fmt.Fprintf(bw, "%s, %s: lines %d-%d of %d\n", c.ref.Text, title, window.FirstLine, window.LastLine, window.Total)

	next := 0
	c.doc.Inspect(func(region *reader.Node) {
		for _, node := range region.Children() {
			switch {
			case node.Class == "divider":
				fmt.Fprintf(bw, "       %s\n", strings.Repeat("-", 24))
			case strings.HasPrefix(node.Class, "line"):
				if next < len(lines) {
					writeLine(bw, lines[next], node)
					next++
				}
			case node.Class == "annotation":
				writeLive(bw, node)
			}
		}
	})
	return bw.Flush()
}

func writeLine(w io.Writer, line reader.LineView, container *reader.Node) {
	gutter := " "
	if line.Selected {
		gutter = ">"
	}
	text := line.Text
	if line.Separator {
		text = "* * *"
	}
	for _, m := range container.FindClass("marker") {
		text += " " + m.Text
	}
	fmt.Fprintf(w, "%s %5d  %s\n", gutter, line.Num, strings.TrimRight(text, " "))
}

func writeLive(w io.Writer, live *reader.Node) {
	var parts []string
	for _, class := range []string{"footnote", "body", "lock"} {
		for _, n := range live.FindClass(class) {
			if n.Text != "" {
				parts = append(parts, n.Text)
			}
		}
	}
	dismiss := ""
	if len(live.FindClass("dismiss")) > 0 {
		dismiss = "  (dismiss)"
	}
	fmt.Fprintf(w, "        | %s%s\n", strings.Join(parts, "  "), dismiss)
}
