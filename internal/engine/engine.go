package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"valsort/internal/board"
	"valsort/internal/config"
	"valsort/internal/domain"
	"valsort/internal/events"
	"valsort/internal/replay"
	"valsort/internal/repo"
)

// Engine wires the persistence layer and clock/randomness sources. It
// is stateless; per-session state lives on SessionEngine instances, so
// multiple sessions can be driven independently.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Rand   *rand.Rand
	Logger *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) rng() *rand.Rand {
	if e.Rand != nil {
		return e.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// SessionEngine owns one session's in-memory state: the session record,
// the current round with its append-only command log, and the board.
// All mutating operations are serialized through it; it is not safe for
// concurrent use from multiple goroutines.
type SessionEngine struct {
	eng     Engine
	session domain.Session
	round   domain.Round
	board   board.Board
}

// CreateSessionOptions are parameters for starting a session.
type CreateSessionOptions struct {
	Name    string
	Target  int
	Values  []domain.Value
	ActorID string
}

// CreateSession starts a session and its first round atomically. The
// pool is shuffled once here; the shuffled order is persisted as the
// round's starting state so replay never has to reproduce it.
func (e Engine) CreateSession(ctx context.Context, opts CreateSessionOptions) (*SessionEngine, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	if opts.Target == 0 {
		opts.Target = e.Config.Rounds.DefaultTarget
	}
	if opts.Target < 1 || opts.Target > config.MaxTarget {
		return nil, fmt.Errorf("target must be 1..%d", config.MaxTarget)
	}
	if len(opts.Values) == 0 {
		opts.Values = e.Config.Values()
	}
	if len(opts.Values) < opts.Target {
		return nil, fmt.Errorf("deck has %d cards, need at least %d", len(opts.Values), opts.Target)
	}
	seen := map[string]bool{}
	for _, v := range opts.Values {
		if v.ID == "" || v.Title == "" {
			return nil, errors.New("every value needs id and title")
		}
		if seen[v.ID] {
			return nil, fmt.Errorf("duplicate value id %s", v.ID)
		}
		seen[v.ID] = true
	}

	now := e.now()
	pool := make([]domain.Value, len(opts.Values))
	copy(pool, opts.Values)
	e.rng().Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	valid := e.Config.Policy()(len(pool), opts.Target)
	s := domain.Session{
		ID:              e.sessionID(opts.Name, now),
		Name:            opts.Name,
		Target:          opts.Target,
		CurrentRound:    1,
		InitialValues:   opts.Values,
		RemainingValues: pool,
		CreatedAt:       domain.Timestamp(now),
		UpdatedAt:       domain.Timestamp(now),
	}
	r := domain.Round{
		SessionID:       s.ID,
		RoundNumber:     1,
		Commands:        []domain.Command{},
		Categories:      domain.NewCategories(),
		ValidCategories: valid,
		CreatedAt:       domain.Timestamp(now),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSessionTx(ctx, tx, s); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if err := e.Repo.UpsertRoundTx(ctx, tx, r); err != nil {
		return nil, fmt.Errorf("insert round 1: %w", err)
	}
	if err := e.Repo.UpsertSessionConfigTx(ctx, tx, s.ID, e.Config); err != nil {
		return nil, fmt.Errorf("insert session config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "session.created", s.ID, "session", s.ID, opts.ActorID, events.EventPayload{
		"target": s.Target,
		"cards":  len(pool),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &SessionEngine{
		eng:     e,
		session: s,
		round:   r,
		board:   board.New(pool, valid),
	}, nil
}

func (e Engine) sessionID(name string, now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), e.rng())
	slug := slugify(name)
	if slug == "" {
		return strings.ToLower(id.String())
	}
	return slug + "-" + strings.ToLower(id.String()[20:])
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// Load resumes a session from its persisted current round.
func (e Engine) Load(ctx context.Context, sessionID string) (*SessionEngine, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	r, err := e.Repo.GetRound(ctx, s.ID, s.CurrentRound)
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", s.CurrentRound, err)
	}
	b, err := replay.Resume(s, r)
	if err != nil {
		return nil, err
	}
	eng := e
	if cfg, err := e.Repo.GetSessionConfig(ctx, s.ID); err == nil {
		eng.Config = cfg
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return &SessionEngine{eng: eng, session: s, round: r, board: b}, nil
}

// DeleteSession removes a session and, via cascade, its rounds and
// completed record.
func (e Engine) DeleteSession(ctx context.Context, sessionID, actorID string) error {
	if err := e.Repo.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "session.deleted", "", "session", sessionID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// Playback reconstructs every round of a session for step-by-step
// visual replay.
func (e Engine) Playback(ctx context.Context, sessionID string) ([]replay.RoundPlayback, error) {
	rounds, err := e.Repo.GetRoundsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return nil, repo.ErrNotFound
	}
	return replay.Reconstruct(rounds), nil
}

// --- accessors ---

func (se *SessionEngine) Session() domain.Session { return se.session }
func (se *SessionEngine) Round() domain.Round     { return se.round }
func (se *SessionEngine) Board() board.Board      { return se.board.Clone() }

// Progress returns the current round-health flags.
func (se *SessionEngine) Progress() board.Progress {
	return board.Evaluate(se.board, se.session.Target)
}

// Stage names the controller state the session is in.
type Stage string

const (
	StageSorting      Stage = "sorting"
	StageRefining     Stage = "refining"
	StageReadyForNext Stage = "ready-for-next-round"
	StageEndGameReady Stage = "end-game-ready"
	StageCompleted    Stage = "completed"
)

// Status derives the stage from the board and session; it is never
// stored separately.
func (se *SessionEngine) Status() (Stage, board.Progress) {
	prog := se.Progress()
	switch {
	case se.session.Completed:
		return StageCompleted, prog
	case prog.RemainingCount > 0:
		return StageSorting, prog
	case prog.ShouldEndGame:
		return StageEndGameReady, prog
	case prog.CanAdvance:
		return StageReadyForNext, prog
	default:
		return StageRefining, prog
	}
}

// ApplyResult reports one drop/move operation. Applied is false for the
// defensive no-op cases (stale card id, invalid index or category).
type ApplyResult struct {
	Applied  bool
	Command  *domain.Command
	Progress board.Progress
}

func (se *SessionEngine) stamp(cmd domain.Command) domain.Command {
	now := se.eng.now()
	cmd.ID = strings.ToLower(ulid.MustNew(ulid.Timestamp(now), se.eng.rng()).String())
	cmd.TS = domain.Timestamp(now)
	return cmd
}

// Drop places a card from the remaining pool into a category.
func (se *SessionEngine) Drop(ctx context.Context, valueID string, target domain.Category, actorID string) (ApplyResult, error) {
	return se.apply(ctx, actorID, func(b board.Board) (board.Board, *domain.Command) {
		return b.Drop(valueID, target)
	})
}

// MoveWithin reorders a card inside one category.
func (se *SessionEngine) MoveWithin(ctx context.Context, cat domain.Category, fromIndex, toIndex int, actorID string) (ApplyResult, error) {
	return se.apply(ctx, actorID, func(b board.Board) (board.Board, *domain.Command) {
		return b.MoveWithin(cat, fromIndex, toIndex)
	})
}

// MoveBetween moves a card from one category to another.
func (se *SessionEngine) MoveBetween(ctx context.Context, valueID string, from, to domain.Category, actorID string) (ApplyResult, error) {
	return se.apply(ctx, actorID, func(b board.Board) (board.Board, *domain.Command) {
		return b.MoveBetween(valueID, from, to)
	})
}

// apply runs a board operation, appends the emitted command to the
// round log and persists the full log plus the latest snapshot. The
// in-memory state keeps the optimistic mutation even if persistence
// fails; the caller decides whether to re-issue or reload.
func (se *SessionEngine) apply(ctx context.Context, actorID string, op func(board.Board) (board.Board, *domain.Command)) (ApplyResult, error) {
	if se.session.Completed {
		return ApplyResult{Progress: se.Progress()}, ErrSessionCompleted
	}
	next, cmd := op(se.board)
	if cmd == nil {
		// Stale or invalid input from the caller; the board is
		// untouched and nothing is logged to the round.
		se.eng.logger().Printf("warn: session %s round %d: command ignored", se.session.ID, se.round.RoundNumber)
		return ApplyResult{Applied: false, Progress: se.Progress()}, nil
	}
	stamped := se.stamp(*cmd)
	se.board = next
	se.round.Commands = append(se.round.Commands, stamped)
	se.round.Categories = next.Categories.Clone()
	se.session.RemainingValues = next.Remaining
	se.session.UpdatedAt = domain.Timestamp(se.eng.now())

	if err := se.persist(ctx, "command.applied", actorID, events.EventPayload{
		"command": string(stamped.Type),
		"card":    stamped.Payload.CardID,
	}); err != nil {
		return ApplyResult{Applied: true, Command: &stamped, Progress: se.Progress()}, err
	}
	return ApplyResult{Applied: true, Command: &stamped, Progress: se.Progress()}, nil
}

// persist writes the whole round (full command log + snapshot) and the
// session record in one transaction, with an audit event.
func (se *SessionEngine) persist(ctx context.Context, evtType, actorID string, payload events.EventPayload) error {
	tx, err := se.eng.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := se.eng.Repo.UpsertRoundTx(ctx, tx, se.round); err != nil {
		return fmt.Errorf("save round: %w", err)
	}
	if err := se.eng.Repo.UpdateSessionTx(ctx, tx, se.session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := se.eng.Events.Append(ctx, tx, evtType, se.session.ID, "round", fmt.Sprintf("%d", se.round.RoundNumber), actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// AdvanceResult reports a round transition.
type AdvanceResult struct {
	EndGame         bool
	FinalValues     []domain.Value
	RoundNumber     int
	ValidCategories []domain.Category
}

// Advance moves to the next round, or reports end-game when Very
// Important already holds exactly the target count. Rejected with a
// ValidationError, mutating nothing, unless the round can advance.
func (se *SessionEngine) Advance(ctx context.Context, actorID string) (AdvanceResult, error) {
	if se.session.Completed {
		return AdvanceResult{}, ErrSessionCompleted
	}
	prog := se.Progress()
	if !prog.CanAdvance {
		return AdvanceResult{}, &ValidationError{Reason: advanceBlockReason(prog), Progress: prog}
	}
	if prog.ShouldEndGame {
		finals := append([]domain.Value{}, se.board.Categories[domain.CategoryVeryImportant]...)
		return AdvanceResult{EndGame: true, FinalValues: finals, RoundNumber: se.round.RoundNumber}, nil
	}

	pool := se.board.ActiveValues()
	if len(pool) < se.session.Target {
		return AdvanceResult{}, &InvariantError{Msg: fmt.Sprintf("next round would start with %d cards, target is %d", len(pool), se.session.Target)}
	}
	now := se.eng.now()
	se.eng.rng().Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	policy := se.policy()
	valid := board.Shrink(se.board.Valid, policy(len(pool), se.session.Target))
	next := domain.Round{
		SessionID:       se.session.ID,
		RoundNumber:     se.round.RoundNumber + 1,
		Commands:        []domain.Command{},
		Categories:      domain.NewCategories(),
		ValidCategories: valid,
		CreatedAt:       domain.Timestamp(now),
	}
	session := se.session
	session.CurrentRound = next.RoundNumber
	session.RemainingValues = pool
	session.UpdatedAt = domain.Timestamp(now)

	tx, err := se.eng.DB.BeginTx(ctx, nil)
	if err != nil {
		return AdvanceResult{}, err
	}
	defer tx.Rollback()
	if err := se.eng.Repo.UpsertRoundTx(ctx, tx, next); err != nil {
		return AdvanceResult{}, fmt.Errorf("create round %d: %w", next.RoundNumber, err)
	}
	if err := se.eng.Repo.UpdateSessionTx(ctx, tx, session); err != nil {
		return AdvanceResult{}, fmt.Errorf("save session: %w", err)
	}
	if err := se.eng.Events.Append(ctx, tx, "round.advanced", se.session.ID, "round", fmt.Sprintf("%d", next.RoundNumber), actorID, events.EventPayload{
		"cards":      len(pool),
		"categories": len(valid),
	}); err != nil {
		return AdvanceResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AdvanceResult{}, err
	}

	se.session = session
	se.round = next
	se.board = board.New(pool, valid)
	return AdvanceResult{RoundNumber: next.RoundNumber, ValidCategories: valid}, nil
}

func (se *SessionEngine) policy() board.SchedulePolicy {
	if se.eng.Config != nil {
		return se.eng.Config.Policy()
	}
	return board.DefaultPolicy
}

func advanceBlockReason(p board.Progress) string {
	switch {
	case p.RemainingCount > 0:
		return fmt.Sprintf("%d cards still unsorted", p.RemainingCount)
	case !p.HasMinimumDiscard:
		return "at least one card must land in Not Important each round"
	default:
		return "not enough cards left to reach the target"
	}
}

// EarlyFinish forces the active set down to exactly the target count:
// Very Important is kept, lower categories fill the remaining slots in
// priority order, overflow is demoted to Not Important. One move
// command per card, each persisted before the next, so a crash
// mid-pass leaves a consistent, resumable round.
func (se *SessionEngine) EarlyFinish(ctx context.Context, actorID string) (AdvanceResult, error) {
	if se.session.Completed {
		return AdvanceResult{}, ErrSessionCompleted
	}
	prog := se.Progress()
	if prog.RemainingCount > 0 {
		return AdvanceResult{}, &ValidationError{Reason: fmt.Sprintf("%d cards still unsorted", prog.RemainingCount), Progress: prog}
	}
	if prog.ActiveCount < se.session.Target {
		return AdvanceResult{}, &ValidationError{Reason: "not enough active cards to finish early", Progress: prog}
	}

	type planned struct {
		valueID string
		from    domain.Category
		to      domain.Category
	}
	var plan []planned
	slots := se.session.Target - se.board.Categories.Count(domain.CategoryVeryImportant)
	for _, cat := range domain.CategoryOrder[1:] {
		if cat == domain.CategoryNotImportant {
			continue
		}
		for _, v := range se.board.Categories[cat] {
			if slots > 0 {
				plan = append(plan, planned{v.ID, cat, domain.CategoryVeryImportant})
				slots--
			} else {
				plan = append(plan, planned{v.ID, cat, domain.CategoryNotImportant})
			}
		}
	}
	for _, p := range plan {
		res, err := se.MoveBetween(ctx, p.valueID, p.from, p.to, actorID)
		if err != nil {
			return AdvanceResult{}, err
		}
		if !res.Applied {
			return AdvanceResult{}, &InvariantError{Msg: fmt.Sprintf("early-finish move of %s from %s ignored", p.valueID, p.from)}
		}
	}

	tx, err := se.eng.DB.BeginTx(ctx, nil)
	if err != nil {
		return AdvanceResult{}, err
	}
	defer tx.Rollback()
	if err := se.eng.Events.Append(ctx, tx, "session.early_finished", se.session.ID, "session", se.session.ID, actorID, events.EventPayload{
		"moves": len(plan),
	}); err != nil {
		return AdvanceResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AdvanceResult{}, err
	}

	finals := append([]domain.Value{}, se.board.Categories[domain.CategoryVeryImportant]...)
	return AdvanceResult{EndGame: true, FinalValues: finals, RoundNumber: se.round.RoundNumber}, nil
}

// CompleteReasoning persists the CompletedSession exactly once and
// marks the session done. Only reachable from the end-game state:
// every card sorted and Very Important holding exactly the target
// count (as after an end-game advance or an early finish). Reasons are
// matched to the final values by card id; values without a reason keep
// an empty one.
func (se *SessionEngine) CompleteReasoning(ctx context.Context, reasons map[string]string, actorID string) (domain.CompletedSession, error) {
	if se.session.Completed {
		return domain.CompletedSession{}, ErrSessionCompleted
	}
	if _, err := se.eng.Repo.GetCompletedSession(ctx, se.session.ID); err == nil {
		return domain.CompletedSession{}, ErrSessionCompleted
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.CompletedSession{}, err
	}
	prog := se.Progress()
	if !prog.ShouldEndGame {
		return domain.CompletedSession{}, &ValidationError{Reason: "very important must hold exactly the target count with nothing left unsorted", Progress: prog}
	}
	finals := se.board.Categories[domain.CategoryVeryImportant]
	now := se.eng.now()
	cs := domain.CompletedSession{
		SessionID: se.session.ID,
		CreatedAt: domain.Timestamp(now),
	}
	for _, v := range finals {
		cs.FinalValues = append(cs.FinalValues, domain.ValueWithReason{Value: v, Reason: reasons[v.ID]})
	}
	session := se.session
	session.Completed = true
	session.UpdatedAt = domain.Timestamp(now)

	tx, err := se.eng.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CompletedSession{}, err
	}
	defer tx.Rollback()
	if err := se.eng.Repo.InsertCompletedSessionTx(ctx, tx, cs); err != nil {
		return domain.CompletedSession{}, fmt.Errorf("save completed session: %w", err)
	}
	if err := se.eng.Repo.UpdateSessionTx(ctx, tx, session); err != nil {
		return domain.CompletedSession{}, fmt.Errorf("save session: %w", err)
	}
	if err := se.eng.Events.Append(ctx, tx, "session.completed", se.session.ID, "session", se.session.ID, actorID, events.EventPayload{
		"final_values": len(cs.FinalValues),
	}); err != nil {
		return domain.CompletedSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CompletedSession{}, err
	}
	se.session = session
	return cs, nil
}

// FinalCategories returns the category layout with Not Important
// emptied out, for display after completion. All five keys stay
// present.
func (se *SessionEngine) FinalCategories() domain.Categories {
	out := se.board.Categories.Clone()
	out[domain.CategoryNotImportant] = []domain.Value{}
	return out
}
