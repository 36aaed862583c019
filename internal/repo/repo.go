package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"valsort/internal/config"
	"valsort/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(b), nil
}

// --- sessions ---

func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	initial, err := marshal(s.InitialValues)
	if err != nil {
		return err
	}
	remaining, err := marshal(s.RemainingValues)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sessions(id,name,target,current_round,completed,initial_values_json,remaining_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, nullable(s.Name), s.Target, s.CurrentRound, boolInt(s.Completed), initial, remaining, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),target,current_round,completed,initial_values_json,remaining_json,created_at,updated_at FROM sessions WHERE id=?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (domain.Session, error) {
	var s domain.Session
	var completed int
	var initial, remaining string
	err := row.Scan(&s.ID, &s.Name, &s.Target, &s.CurrentRound, &completed, &initial, &remaining, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Completed = completed != 0
	if err := json.Unmarshal([]byte(initial), &s.InitialValues); err != nil {
		return s, fmt.Errorf("session %s initial values: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(remaining), &s.RemainingValues); err != nil {
		return s, fmt.Errorf("session %s remaining values: %w", s.ID, err)
	}
	return s, nil
}

func (r Repo) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),target,current_round,completed,initial_values_json,remaining_json,created_at,updated_at FROM sessions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Session
	for rows.Next() {
		var s domain.Session
		var completed int
		var initial, remaining string
		if err := rows.Scan(&s.ID, &s.Name, &s.Target, &s.CurrentRound, &completed, &initial, &remaining, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Completed = completed != 0
		if err := json.Unmarshal([]byte(initial), &s.InitialValues); err != nil {
			return nil, fmt.Errorf("session %s initial values: %w", s.ID, err)
		}
		if err := json.Unmarshal([]byte(remaining), &s.RemainingValues); err != nil {
			return nil, fmt.Errorf("session %s remaining values: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SingleSession returns the only open session, for CLI default
// resolution when --session is not given.
func (r Repo) SingleSession(ctx context.Context) (domain.Session, error) {
	sessions, err := r.ListSessions(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	var open []domain.Session
	for _, s := range sessions {
		if !s.Completed {
			open = append(open, s)
		}
	}
	if len(open) == 0 {
		return domain.Session{}, ErrNotFound
	}
	if len(open) > 1 {
		return domain.Session{}, fmt.Errorf("multiple open sessions exist; specify --session")
	}
	return open[0], nil
}

// UpdateSessionTx overwrites the mutable session fields.
func (r Repo) UpdateSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	remaining, err := marshal(s.RemainingValues)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET name=?,current_round=?,completed=?,remaining_json=?,updated_at=? WHERE id=?`,
		nullable(s.Name), s.CurrentRound, boolInt(s.Completed), remaining, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSession(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- rounds ---

// UpsertRoundTx writes a round with full-log overwrite semantics: the
// entire command log plus the latest snapshot every time, never a
// delta, so a partial write can never leave an unreadable round.
func (r Repo) UpsertRoundTx(ctx context.Context, tx *sql.Tx, round domain.Round) error {
	return upsertRound(ctx, tx, round)
}

func (r Repo) UpsertRound(ctx context.Context, round domain.Round) error {
	return upsertRound(ctx, r.DB, round)
}

func upsertRound(ctx context.Context, ex execer, round domain.Round) error {
	cmds := round.Commands
	if cmds == nil {
		cmds = []domain.Command{}
	}
	commands, err := marshal(cmds)
	if err != nil {
		return err
	}
	categories, err := marshal(round.Categories)
	if err != nil {
		return err
	}
	valid, err := marshal(round.ValidCategories)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO rounds(session_id,round_number,commands_json,categories_json,valid_categories_json,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(session_id,round_number) DO UPDATE SET commands_json=excluded.commands_json, categories_json=excluded.categories_json, valid_categories_json=excluded.valid_categories_json`,
		round.SessionID, round.RoundNumber, commands, categories, valid, round.CreatedAt)
	return err
}

func (r Repo) GetRound(ctx context.Context, sessionID string, roundNumber int) (domain.Round, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT session_id,round_number,commands_json,categories_json,valid_categories_json,created_at FROM rounds WHERE session_id=? AND round_number=?`, sessionID, roundNumber)
	var round domain.Round
	var commands, categories, valid string
	err := row.Scan(&round.SessionID, &round.RoundNumber, &commands, &categories, &valid, &round.CreatedAt)
	if err == sql.ErrNoRows {
		return round, ErrNotFound
	}
	if err != nil {
		return round, err
	}
	return decodeRound(round, commands, categories, valid)
}

func (r Repo) GetRoundsBySession(ctx context.Context, sessionID string) ([]domain.Round, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT session_id,round_number,commands_json,categories_json,valid_categories_json,created_at FROM rounds WHERE session_id=? ORDER BY round_number ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Round
	for rows.Next() {
		var round domain.Round
		var commands, categories, valid string
		if err := rows.Scan(&round.SessionID, &round.RoundNumber, &commands, &categories, &valid, &round.CreatedAt); err != nil {
			return nil, err
		}
		round, err = decodeRound(round, commands, categories, valid)
		if err != nil {
			return nil, err
		}
		out = append(out, round)
	}
	return out, rows.Err()
}

func decodeRound(round domain.Round, commands, categories, valid string) (domain.Round, error) {
	if err := json.Unmarshal([]byte(commands), &round.Commands); err != nil {
		return round, fmt.Errorf("round %d commands: %w", round.RoundNumber, err)
	}
	if err := json.Unmarshal([]byte(categories), &round.Categories); err != nil {
		return round, fmt.Errorf("round %d categories: %w", round.RoundNumber, err)
	}
	if err := json.Unmarshal([]byte(valid), &round.ValidCategories); err != nil {
		return round, fmt.Errorf("round %d valid categories: %w", round.RoundNumber, err)
	}
	return round, nil
}

// --- completed sessions ---

func (r Repo) InsertCompletedSessionTx(ctx context.Context, tx *sql.Tx, cs domain.CompletedSession) error {
	finals, err := marshal(cs.FinalValues)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO completed_sessions(session_id,final_values_json,created_at) VALUES (?,?,?)`,
		cs.SessionID, finals, cs.CreatedAt)
	return err
}

func (r Repo) GetCompletedSession(ctx context.Context, sessionID string) (domain.CompletedSession, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT session_id,final_values_json,created_at FROM completed_sessions WHERE session_id=?`, sessionID)
	var cs domain.CompletedSession
	var finals string
	err := row.Scan(&cs.SessionID, &finals, &cs.CreatedAt)
	if err == sql.ErrNoRows {
		return cs, ErrNotFound
	}
	if err != nil {
		return cs, err
	}
	if err := json.Unmarshal([]byte(finals), &cs.FinalValues); err != nil {
		return cs, fmt.Errorf("completed session %s: %w", cs.SessionID, err)
	}
	return cs, nil
}

// --- session configs ---

func (r Repo) UpsertSessionConfig(ctx context.Context, sessionID string, cfg *config.Config) error {
	return upsertSessionConfig(ctx, r.DB, sessionID, cfg)
}

func (r Repo) UpsertSessionConfigTx(ctx context.Context, tx *sql.Tx, sessionID string, cfg *config.Config) error {
	return upsertSessionConfig(ctx, tx, sessionID, cfg)
}

func upsertSessionConfig(ctx context.Context, ex execer, sessionID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := marshal(cfg)
	if err != nil {
		return err
	}
	now := nowRFC3339()
	_, err = ex.ExecContext(ctx, `INSERT INTO session_configs(session_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(session_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, sessionID, payload, now, now)
	return err
}

func (r Repo) GetSessionConfig(ctx context.Context, sessionID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM session_configs WHERE session_id=?`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

// --- events ---

func (r Repo) ListEvents(ctx context.Context, sessionID string, limit int, cursorID int64) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if sessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, sessionID)
	}
	if cursorID > 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, cursorID)
	}
	query := `SELECT id,ts,type,COALESCE(session_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SessionID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
