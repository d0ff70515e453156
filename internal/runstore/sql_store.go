package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kandev/claude-runner/internal/db/dialect"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type sqlStore struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader
	driver string
}

var _ Store = (*sqlStore)(nil)

// Provide creates the run store on the given writer and reader pools.
// The returned cleanup is a no-op; the pools belong to the caller.
func Provide(writer, reader *sqlx.DB) (*sqlStore, func() error, error) {
	store := &sqlStore{db: writer, ro: reader, driver: writer.DriverName()}
	if err := store.initSchema(); err != nil {
		return nil, nil, fmt.Errorf("runstore schema init: %w", err)
	}
	return store, store.Close, nil
}

func (s *sqlStore) initSchema() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS runs (
		id             TEXT PRIMARY KEY,
		thread_id      TEXT NOT NULL,
		status         TEXT NOT NULL,
		model          TEXT NOT NULL DEFAULT '',
		prompt         TEXT NOT NULL DEFAULT '',
		num_turns      INTEGER NOT NULL DEFAULT 0,
		total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		usage          TEXT NOT NULL DEFAULT '{}',
		error          TEXT NOT NULL DEFAULT '',
		started_at     TIMESTAMP NOT NULL,
		finished_at    TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_thread_started ON runs(thread_id, started_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id         %s,
		session_id TEXT NOT NULL,
		thread_id  TEXT NOT NULL DEFAULT '',
		run_id     TEXT NOT NULL DEFAULT '',
		rating     TEXT NOT NULL,
		comment    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback(session_id);

	CREATE TABLE IF NOT EXISTS corrections (
		id              %s,
		session_id      TEXT NOT NULL,
		correction_type TEXT NOT NULL,
		agent_action    TEXT NOT NULL,
		user_correction TEXT NOT NULL,
		context         TEXT NOT NULL DEFAULT '{}',
		created_at      TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_corrections_session ON corrections(session_id);
	`, dialect.SerialKey(s.driver), dialect.SerialKey(s.driver))
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqlStore) Close() error {
	return nil
}

type runRow struct {
	ID           string       `db:"id"`
	ThreadID     string       `db:"thread_id"`
	Status       string       `db:"status"`
	Model        string       `db:"model"`
	Prompt       string       `db:"prompt"`
	NumTurns     int          `db:"num_turns"`
	TotalCostUSD float64      `db:"total_cost_usd"`
	Usage        string       `db:"usage"`
	Error        string       `db:"error"`
	StartedAt    time.Time    `db:"started_at"`
	FinishedAt   sql.NullTime `db:"finished_at"`
}

func (r *runRow) toRun() *Run {
	run := &Run{
		ID:           r.ID,
		ThreadID:     r.ThreadID,
		Status:       Status(r.Status),
		Model:        r.Model,
		Prompt:       r.Prompt,
		NumTurns:     r.NumTurns,
		TotalCostUSD: r.TotalCostUSD,
		Error:        r.Error,
		StartedAt:    r.StartedAt.UTC(),
	}
	if r.Usage != "" && r.Usage != "{}" {
		_ = json.Unmarshal([]byte(r.Usage), &run.Usage)
	}
	if r.FinishedAt.Valid {
		finished := r.FinishedAt.Time.UTC()
		run.FinishedAt = &finished
	}
	return run
}

const runColumns = `id, thread_id, status, model, prompt, num_turns, total_cost_usd, usage, error, started_at, finished_at`

func encodeJSONMap(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func (s *sqlStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO runs (id, thread_id, status, model, prompt, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		run.ID, run.ThreadID, string(run.Status), run.Model, run.Prompt, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *sqlStore) FinishRun(ctx context.Context, run *Run) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE runs
		SET status = ?, model = ?, num_turns = ?, total_cost_usd = ?, usage = ?, error = ?, finished_at = ?
		WHERE id = ?`),
		string(run.Status), run.Model, run.NumTurns, run.TotalCostUSD, encodeJSONMap(run.Usage),
		run.Error, *run.FinishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

func (s *sqlStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var row runRow
	err := s.ro.GetContext(ctx, &row, s.ro.Rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return row.toRun(), nil
}

func (s *sqlStore) ListRuns(ctx context.Context, threadID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var rows []runRow
	err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(`
		SELECT `+runColumns+` FROM runs
		WHERE thread_id = ?
		ORDER BY started_at DESC
		LIMIT ?`), threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]*Run, 0, len(rows))
	for i := range rows {
		runs = append(runs, rows[i].toRun())
	}
	return runs, nil
}

func (s *sqlStore) ThreadSummary(ctx context.Context, threadID string) (*ThreadSummary, error) {
	summary := &ThreadSummary{ThreadID: threadID}
	query := `
		SELECT COUNT(*), COALESCE(SUM(num_turns), 0), COALESCE(SUM(total_cost_usd), 0), ` +
		dialect.JSONSumInt(s.driver, "usage", "output_tokens") + `
		FROM runs WHERE thread_id = ?`
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(query), threadID).
		Scan(&summary.Runs, &summary.Turns, &summary.TotalCostUSD, &summary.OutputTokens)
	if err != nil {
		return nil, fmt.Errorf("thread summary: %w", err)
	}
	return summary, nil
}

func (s *sqlStore) RecordFeedback(ctx context.Context, fb *Feedback) error {
	if !fb.Rating.Valid() {
		return fmt.Errorf("invalid rating %q", fb.Rating)
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	id, err := dialect.InsertReturningID(ctx, s.db, `
		INSERT INTO feedback (session_id, thread_id, run_id, rating, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fb.SessionID, fb.ThreadID, fb.RunID, string(fb.Rating), fb.Comment, fb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	fb.ID = id
	return nil
}

type feedbackRow struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	ThreadID  string    `db:"thread_id"`
	RunID     string    `db:"run_id"`
	Rating    string    `db:"rating"`
	Comment   string    `db:"comment"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *sqlStore) ListFeedback(ctx context.Context, sessionID string) ([]*Feedback, error) {
	var rows []feedbackRow
	err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(`
		SELECT id, session_id, thread_id, run_id, rating, comment, created_at
		FROM feedback WHERE session_id = ?
		ORDER BY id`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	out := make([]*Feedback, 0, len(rows))
	for _, r := range rows {
		out = append(out, &Feedback{
			ID:        r.ID,
			SessionID: r.SessionID,
			ThreadID:  r.ThreadID,
			RunID:     r.RunID,
			Rating:    Rating(r.Rating),
			Comment:   r.Comment,
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (s *sqlStore) RecordCorrection(ctx context.Context, c *Correction) error {
	if !c.CorrectionType.Valid() {
		return fmt.Errorf("invalid correction type %q", c.CorrectionType)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	id, err := dialect.InsertReturningID(ctx, s.db, `
		INSERT INTO corrections (session_id, correction_type, agent_action, user_correction, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.SessionID, string(c.CorrectionType), c.AgentAction, c.UserCorrection, encodeJSONMap(c.Context), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	c.ID = id
	return nil
}

type correctionRow struct {
	ID             int64     `db:"id"`
	SessionID      string    `db:"session_id"`
	CorrectionType string    `db:"correction_type"`
	AgentAction    string    `db:"agent_action"`
	UserCorrection string    `db:"user_correction"`
	Context        string    `db:"context"`
	CreatedAt      time.Time `db:"created_at"`
}

func (s *sqlStore) ListCorrections(ctx context.Context, sessionID string) ([]*Correction, error) {
	var rows []correctionRow
	err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(`
		SELECT id, session_id, correction_type, agent_action, user_correction, context, created_at
		FROM corrections WHERE session_id = ?
		ORDER BY id`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	out := make([]*Correction, 0, len(rows))
	for _, r := range rows {
		c := &Correction{
			ID:             r.ID,
			SessionID:      r.SessionID,
			CorrectionType: CorrectionType(r.CorrectionType),
			AgentAction:    r.AgentAction,
			UserCorrection: r.UserCorrection,
			CreatedAt:      r.CreatedAt.UTC(),
		}
		if r.Context != "" && r.Context != "{}" {
			_ = json.Unmarshal([]byte(r.Context), &c.Context)
		}
		out = append(out, c)
	}
	return out, nil
}
