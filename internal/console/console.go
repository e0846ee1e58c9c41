// Package console drives the reader core from a terminal: it loads a window
// of an edition, then expands, selects, votes and opens annotations in
// response to typed commands.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"annotext/internal/client"
	"annotext/internal/reader"
)

const entityAnnotation = "annotation"

// Backend is the server as seen from the console.
type Backend interface {
	reader.LineFetcher
	reader.VoteSender
	Login(ctx context.Context, name, password string) (client.Session, error)
	Window(ctx context.Context, text string, edition, first, last int) (client.WindowPage, error)
	Flashed(ctx context.Context) ([][2]string, error)
	SuggestTags(ctx context.Context, typed string) ([]client.TagSuggestion, error)
	Annotate(ctx context.Context, ref reader.DocRef, anchor reader.Anchor, body, tags string) (client.Annotation, error)
	SearchLines(ctx context.Context, q, text string, limit int) ([]client.LineHit, int, error)
}

type Console struct {
	backend Backend
	out     io.Writer
	logger  *slog.Logger

	edition  client.Edition
	ref      reader.DocRef
	doc      *reader.Document
	expander *reader.Expander
	resolver *reader.Resolver
	overlay  *reader.Overlay
	votes    *reader.Reconciler

	annotations map[int64]client.Annotation
	anchor      *reader.Anchor
}

func New(backend Backend, out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{backend: backend, out: out, logger: logger}
}

// Open loads lines first..last of an edition plus up to MaxPadding lines of
// context on each side and selects first..last.
func (c *Console) Open(ctx context.Context, text string, edition, first, last int) error {
	if first > last {
		first, last = last, first
	}
	first = max(first, 1)
	page, err := c.backend.Window(ctx, text, edition, first-reader.MaxPadding, last+reader.MaxPadding)
	if err != nil {
		return fmt.Errorf("open %s: %w", text, err)
	}
	if len(page.Lines) == 0 {
		return fmt.Errorf("open %s: no lines in %d..%d", text, first, last)
	}
	last = min(last, page.Lines[len(page.Lines)-1].Num)

	c.edition = page.Edition
	c.ref = reader.DocRef{Text: text, Edition: strconv.Itoa(edition)}
	c.doc = reader.NewDocument(c.ref, page.Edition.Total)
	if err := c.doc.Load(page.Lines); err != nil {
		return err
	}
	c.expander, err = reader.NewExpander(c.doc, c.backend, first, last, c.logger)
	if err != nil {
		return err
	}
	c.resolver = reader.NewResolver(c.doc)
	c.overlay = reader.NewOverlay(c.doc)
	c.votes = reader.NewReconciler(c.backend, reader.NavigatorFunc(c.navigate), reader.FlasherFunc(c.flash),
		reader.ReconcilerOptions{
			LoginPath:   "/login",
			VotePath:    "/ajax/vote",
			CurrentPath: c.currentPath,
			Logger:      c.logger,
		})
	c.annotations = make(map[int64]client.Annotation, len(page.Annotations))
	c.anchor = nil
	for _, a := range page.Annotations {
		c.addAnnotation(a)
	}
	return nil
}

func (c *Console) addAnnotation(a client.Annotation) {
	c.annotations[a.ID] = a
	c.doc.AddTemplate(annotationTemplate(a))
	c.votes.Track(entityAnnotation, strconv.FormatInt(a.ID, 10), a.Weight, "")
	c.attachMarkers()
}

// annotationTemplate builds the hidden markup of one annotation.
func annotationTemplate(a client.Annotation) *reader.Node {
	root := reader.NewNode(fmt.Sprintf("a%d", a.ID), "annotation", "")
	root.Append(reader.NewNode("", "collapse", "[-]"))
	content := root.Append(reader.NewNode("", "content", ""))
	content.Append(reader.NewNode("", "footnote", marker(a.ID)))
	lock := ""
	if a.Locked {
		lock = "locked"
	}
	content.Append(reader.NewNode("", "lock", lock))
	root.Append(reader.NewNode("", "body", a.Body))
	return root
}

func marker(id int64) string {
	return fmt.Sprintf("[%d]", id)
}

// attachMarkers puts a footnote marker on the first line of every annotation
// whose line is resident and not yet marked.
func (c *Console) attachMarkers() {
	ids := make([]int64, 0, len(c.annotations))
	for id := range c.annotations {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		c.doc.WithLine(c.annotations[id].FirstLine, func(container *reader.Node) {
			if markerNode(container, id) == nil {
				container.Append(reader.NewNode("", "marker", marker(id)))
			}
		})
	}
}

func markerNode(container *reader.Node, id int64) *reader.Node {
	for _, n := range container.FindClass("marker") {
		if n.Text == marker(id) {
			return n
		}
	}
	return nil
}

func (c *Console) currentPath() string {
	w := c.expander.Window()
	return fmt.Sprintf("/text/%s/edition/%s/lines?first=%d&last=%d", c.ref.Text, c.ref.Edition, w.FirstLine, w.LastLine)
}

func (c *Console) navigate(target string) {
	fmt.Fprintf(c.out, "login required, continue at %s\n", target)
}

func (c *Console) flash(ctx context.Context) error {
	messages, err := c.backend.Flashed(ctx)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		fmt.Fprintf(c.out, "(%s) %s\n", msg[0], msg[1])
	}
	return nil
}

var errQuit = errors.New("quit")

// Run reads commands from in until EOF or "quit".
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		err := c.Exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Exec runs a single command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]
	if c.doc == nil && cmd != "open" && cmd != "login" && cmd != "help" && cmd != "quit" {
		return errors.New("no text open; use: open <text> <edition> <first> <last>")
	}
	switch cmd {
	case "help":
		fmt.Fprint(c.out, helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "open":
		return c.cmdOpen(ctx, args)
	case "login":
		return c.cmdLogin(ctx, args)
	case "show":
		return c.Render(c.out)
	case "expand":
		return c.cmdExpand(ctx, args)
	case "contract":
		return c.cmdContract(args)
	case "select":
		return c.cmdSelect(args)
	case "annotate":
		return c.cmdAnnotate(ctx, args)
	case "note":
		return c.cmdNote(args)
	case "dismiss":
		return c.cmdDismiss(args)
	case "vote":
		return c.cmdVote(ctx, args)
	case "tags":
		return c.cmdTags(ctx, strings.Join(args, " "))
	case "search":
		return c.cmdSearch(ctx, strings.Join(args, " "))
	default:
		return fmt.Errorf("unknown command %q; try help", cmd)
	}
}

const helpText = `commands:
  open <text> <edition> <first> <last>
  login <name> <password>
  show
  expand up|down, contract up|down
  select <line>:<char> <line>:<char>
  annotate [#tag ...] <text>
  note <n>, dismiss <n>
  vote <n> up|down
  tags <typed>
  search <query>
  quit
`

func (c *Console) cmdOpen(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return errors.New("usage: open <text> <edition> <first> <last>")
	}
	nums, err := atois(args[1:])
	if err != nil {
		return err
	}
	if err := c.Open(ctx, args[0], nums[0], nums[1], nums[2]); err != nil {
		return err
	}
	return c.Render(c.out)
}

func (c *Console) cmdLogin(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: login <name> <password>")
	}
	session, err := c.backend.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "signed in as %s\n", session.UserName)
	return nil
}

func parseDirection(args []string) (reader.Direction, error) {
	if len(args) != 1 {
		return "", errors.New("expected up or down")
	}
	dir := reader.Direction(args[0])
	if !dir.Valid() {
		return "", fmt.Errorf("expected up or down, got %q", args[0])
	}
	return dir, nil
}

func (c *Console) cmdExpand(ctx context.Context, args []string) error {
	dir, err := parseDirection(args)
	if err != nil {
		return err
	}
	moved, err := c.expander.Expand(ctx, dir)
	if err != nil {
		return err
	}
	if !moved {
		fmt.Fprintln(c.out, "no more lines")
	}
	c.attachMarkers()
	return c.Render(c.out)
}

func (c *Console) cmdContract(args []string) error {
	dir, err := parseDirection(args)
	if err != nil {
		return err
	}
	if !c.expander.Contract(dir) {
		fmt.Fprintln(c.out, "selection is a single line")
	}
	return c.Render(c.out)
}

// cmdSelect turns two line:char positions into a selection over the text
// nodes of those lines and resolves it.
func (c *Console) cmdSelect(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: select <line>:<char> <line>:<char>")
	}
	start, err := c.position(args[0])
	if err != nil {
		return err
	}
	end, err := c.position(args[1])
	if err != nil {
		return err
	}
	sel := reader.Selection{
		Text: args[0] + " " + args[1],
		Ranges: []reader.Range{{
			StartContainer: start.node,
			StartOffset:    start.char,
			EndContainer:   end.node,
			EndOffset:      end.char,
		}},
	}
	anchor, err := c.resolver.Resolve(sel)
	if err != nil {
		return err
	}
	c.anchor = anchor
	fmt.Fprintf(c.out, "anchor %s\n", anchor)
	fmt.Fprintf(c.out, "annotate at %s\n", reader.AnnotateURL(c.ref, *anchor))
	return nil
}

type position struct {
	node *reader.Node
	char int
}

func (c *Console) position(arg string) (position, error) {
	lineArg, charArg, ok := strings.Cut(arg, ":")
	if !ok {
		return position{}, fmt.Errorf("position %q: expected <line>:<char>", arg)
	}
	nums, err := atois([]string{lineArg, charArg})
	if err != nil {
		return position{}, err
	}
	var text []*reader.Node
	if !c.doc.WithLine(nums[0], func(container *reader.Node) { text = container.FindClass("text") }) {
		return position{}, fmt.Errorf("line %d is not loaded", nums[0])
	}
	if len(text) == 0 {
		return position{}, fmt.Errorf("line %d has no text", nums[0])
	}
	return position{node: text[0], char: nums[1]}, nil
}

func (c *Console) cmdAnnotate(ctx context.Context, args []string) error {
	if c.anchor == nil {
		return errors.New("nothing selected; use select first")
	}
	var tags, words []string
	for _, arg := range args {
		if tag, ok := strings.CutPrefix(arg, "#"); ok && tag != "" {
			tags = append(tags, tag)
			continue
		}
		words = append(words, arg)
	}
	if len(words) == 0 {
		return errors.New("usage: annotate [#tag ...] <text>")
	}
	created, err := c.backend.Annotate(ctx, c.ref, *c.anchor, strings.Join(words, " "), strings.Join(tags, " "))
	if errors.Is(err, client.ErrUnauthorized) {
		c.navigate("/login?next=" + reader.AnnotateURL(c.ref, *c.anchor))
		return nil
	}
	if err != nil {
		return err
	}
	c.anchor = nil
	c.addAnnotation(created)
	if err := c.flash(ctx); err != nil {
		c.logger.Warn("poll flash messages failed", "error", err)
	}
	fmt.Fprintf(c.out, "annotation %s saved\n", marker(created.ID))
	return nil
}

func (c *Console) cmdNote(args []string) error {
	id, err := annotationID(args)
	if err != nil {
		return err
	}
	a, ok := c.annotations[id]
	if !ok {
		return fmt.Errorf("no annotation %s", marker(id))
	}
	var trigger *reader.Node
	if !c.doc.WithLine(a.FirstLine, func(container *reader.Node) { trigger = markerNode(container, id) }) {
		return fmt.Errorf("line %d of annotation %s is not loaded", a.FirstLine, marker(id))
	}
	if trigger == nil {
		return fmt.Errorf("annotation %s has no marker", marker(id))
	}
	if _, err := c.overlay.Show(trigger); err != nil {
		return err
	}
	return c.Render(c.out)
}

func (c *Console) cmdDismiss(args []string) error {
	id, err := annotationID(args)
	if err != nil {
		return err
	}
	if !c.overlay.Dismiss(reader.LiveID(fmt.Sprintf("a%d", id))) {
		fmt.Fprintf(c.out, "annotation %s is not open\n", marker(id))
		return nil
	}
	return c.Render(c.out)
}

func annotationID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errors.New("expected an annotation number")
	}
	id, err := strconv.ParseInt(strings.Trim(args[0], "[]"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("annotation number %q: %w", args[0], err)
	}
	return id, nil
}

func (c *Console) cmdVote(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: vote <n> up|down")
	}
	id, err := annotationID(args[:1])
	if err != nil {
		return err
	}
	dir, err := parseDirection(args[1:])
	if err != nil {
		return err
	}
	key := strconv.FormatInt(id, 10)
	outcome, err := c.votes.Vote(ctx, entityAnnotation, key, dir)
	if err != nil {
		return err
	}
	ballot, _ := c.votes.Ballot(entityAnnotation, key)
	fmt.Fprintf(c.out, "vote %s: %s, %s\n", marker(id), outcome, formatBallot(ballot))
	return nil
}

func formatBallot(b reader.Ballot) string {
	up, down := "-", "-"
	if b.Up != "" {
		up = b.Up
	}
	if b.Down != "" {
		down = b.Down
	}
	return fmt.Sprintf("weight %s (%s) up:%s down:%s", reader.ReadableWeight(b.Weight.Total), b.Weight.Class, up, down)
}

func (c *Console) cmdTags(ctx context.Context, typed string) error {
	suggestions, err := c.backend.SuggestTags(ctx, typed)
	if err != nil {
		return err
	}
	if len(suggestions) == 0 {
		fmt.Fprintln(c.out, "no tags")
		return nil
	}
	for _, s := range suggestions {
		if s.Description == "" {
			fmt.Fprintf(c.out, "  %s\n", s.Tag)
			continue
		}
		fmt.Fprintf(c.out, "  %s  %s\n", s.Tag, s.Description)
	}
	return nil
}

func (c *Console) cmdSearch(ctx context.Context, q string) error {
	hits, total, err := c.backend.SearchLines(ctx, q, c.ref.Text, 10)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d matches\n", total)
	for _, hit := range hits {
		fmt.Fprintf(c.out, "  %4d  %s\n", hit.Num, hit.Snippet)
	}
	return nil
}

func atois(values []string) ([]int, error) {
	out := make([]int, len(values))
	for i, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v)
		}
		out[i] = n
	}
	return out, nil
}
