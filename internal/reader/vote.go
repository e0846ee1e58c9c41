package reader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// VoteRequest is what the vote endpoint receives.
type VoteRequest struct {
	ID     string `json:"id"`
	Entity string `json:"entity"`
	Up     bool   `json:"up"`
}

// VoteResult is the vote response normalized from either wire shape.
type VoteResult struct {
	RequiresAuth bool
	Rollback     bool
	Success      bool
	Delta        *int
}

// VoteSender delivers a vote to the server.
type VoteSender interface {
	Vote(ctx context.Context, req VoteRequest) (VoteResult, error)
}

// Flasher renders pending flash messages. Its result is not consumed.
type Flasher interface {
	Flash(ctx context.Context) error
}

// FlasherFunc adapts a function to Flasher.
type FlasherFunc func(ctx context.Context) error

func (f FlasherFunc) Flash(ctx context.Context) error { return f(ctx) }

// Outcome describes what a vote did to its ballot.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeSwitched Outcome = "switched"
	OutcomeCleared  Outcome = "cleared"
	OutcomeFailed   Outcome = "failed"
	OutcomeLogin    Outcome = "login"
)

// Ballot is the pair of vote controls of one entity plus its weight. Up and
// Down hold the visual class of each control; at most one is non-empty.
type Ballot struct {
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId"`
	Up         string `json:"up"`
	Down       string `json:"down"`
	Weight     Weight `json:"weight"`
}

// Active returns the direction of the active control, or "" when neither is.
func (b Ballot) Active() Direction {
	switch {
	case b.Up != "":
		return Up
	case b.Down != "":
		return Down
	default:
		return ""
	}
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	LoginPath   string
	VotePath    string
	CurrentPath func() string
	// LegacyUpClass gives the control the "up" class on every plain success,
	// whatever the direction. Off by default.
	LegacyUpClass bool
	Logger        *slog.Logger
}

// Reconciler sends votes and reconciles ballots with the server's answer.
type Reconciler struct {
	sender    VoteSender
	navigator Navigator
	flasher   Flasher
	opts      ReconcilerOptions
	log       *slog.Logger

	mu      sync.Mutex
	ballots map[string]*Ballot
	pending map[string]struct{}
}

func NewReconciler(sender VoteSender, navigator Navigator, flasher Flasher, opts ReconcilerOptions) *Reconciler {
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.VotePath == "" {
		opts.VotePath = "/vote"
	}
	if opts.CurrentPath == nil {
		opts.CurrentPath = func() string { return "/" }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		sender:    sender,
		navigator: navigator,
		flasher:   flasher,
		opts:      opts,
		log:       logger,
		ballots:   make(map[string]*Ballot),
		pending:   make(map[string]struct{}),
	}
}

// Track registers the server-rendered state of an entity's vote controls.
func (r *Reconciler) Track(kind, id string, total int, active Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &Ballot{EntityKind: kind, EntityID: id, Weight: NewWeight(total)}
	switch active {
	case Up:
		b.Up = string(Up)
	case Down:
		b.Down = string(Down)
	}
	r.ballots[ballotKey(kind, id)] = b
}

// Ballot returns a copy of the tracked ballot.
func (r *Reconciler) Ballot(kind, id string) (Ballot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.ballots[ballotKey(kind, id)]
	if !ok {
		return Ballot{}, false
	}
	return *b, true
}

// Vote sends one vote and reconciles the ballot from the response. Nothing is
// changed before the response arrives. A second identical vote while the first
// is pending is rejected with ErrVoteInFlight.
func (r *Reconciler) Vote(ctx context.Context, kind, id string, dir Direction) (Outcome, error) {
	if !dir.Valid() {
		return "", fmt.Errorf("vote: invalid direction %q", dir)
	}
	key := ballotKey(kind, id)
	pendingKey := key + "/" + string(dir)

	r.mu.Lock()
	if _, ok := r.ballots[key]; !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("vote %s: %w", key, ErrUnknownBallot)
	}
	if _, busy := r.pending[pendingKey]; busy {
		r.mu.Unlock()
		return "", ErrVoteInFlight
	}
	r.pending[pendingKey] = struct{}{}
	r.mu.Unlock()

	req := VoteRequest{ID: id, Entity: kind, Up: dir == Up}
	result, err := r.sender.Vote(ctx, req)

	r.mu.Lock()
	delete(r.pending, pendingKey)
	if err != nil {
		if b, ok := r.ballots[key]; ok {
			setControl(b, dir, "")
		}
		r.mu.Unlock()
		return OutcomeFailed, fmt.Errorf("vote %s: %w", key, err)
	}
	if result.RequiresAuth {
		r.mu.Unlock()
		r.navigator.Navigate(LoginURL(r.opts.LoginPath, r.opts.VotePath, req, r.opts.CurrentPath()))
		return OutcomeLogin, nil
	}
	outcome := OutcomeFailed
	if b, ok := r.ballots[key]; ok {
		outcome = r.reconcile(b, dir, result)
	}
	r.mu.Unlock()

	if r.flasher != nil {
		if err := r.flasher.Flash(ctx); err != nil {
			r.log.Warn("flash messages unavailable", slog.String("error", err.Error()))
		}
	}
	return outcome, nil
}

func (r *Reconciler) reconcile(b *Ballot, dir Direction, result VoteResult) Outcome {
	var outcome Outcome
	switch {
	case result.Rollback && result.Success:
		setControl(b, dir, string(dir))
		setControl(b, opposite(dir), "")
		outcome = OutcomeSwitched
	case result.Rollback:
		setControl(b, dir, "")
		outcome = OutcomeCleared
	case result.Success:
		class := string(dir)
		if r.opts.LegacyUpClass {
			class = string(Up)
		}
		setControl(b, opposite(dir), "")
		setControl(b, dir, class)
		outcome = OutcomeApplied
	default:
		setControl(b, dir, "")
		outcome = OutcomeFailed
	}
	if result.Delta != nil {
		b.Weight = ModWeight(b.Weight.Total, *result.Delta)
	}
	return outcome
}

func setControl(b *Ballot, dir Direction, class string) {
	if dir == Up {
		b.Up = class
		return
	}
	b.Down = class
}

func opposite(dir Direction) Direction {
	if dir == Up {
		return Down
	}
	return Up
}

func ballotKey(kind, id string) string {
	return kind + "/" + id
}
