package trace

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	"github.com/m-mizutani/goerr/v2"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxSessions = 500

var ErrNotFound = goerr.New("trace record not found")

// Store persists trace data to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to a PostgreSQL trace database at connStr and applies
// pending migrations.
func Open(ctx context.Context, connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, goerr.Wrap(err, "trace open")
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "trace ping")
	}
	if err = migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return goerr.Wrap(err, "read migrations dir")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return goerr.Wrap(err, "create migration provider")
	}
	if _, err = provider.Up(ctx); err != nil {
		return goerr.Wrap(err, "trace migrate")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session and prunes the oldest beyond maxSessions.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, call_sid, stream_sid, mode, started_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.CallSID, sess.StreamSID, sess.Mode, sess.StartedAt.UTC(),
	)
	if err != nil {
		return goerr.Wrap(err, "insert session", goerr.V("session_id", sess.ID))
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id NOT IN (SELECT id FROM sessions ORDER BY started_at DESC LIMIT $1)`,
		maxSessions,
	)
	if err != nil {
		return goerr.Wrap(err, "prune sessions")
	}
	return nil
}

// EndSession records the call identifiers learned during the call and the end time.
func (s *Store) EndSession(ctx context.Context, sess Session) error {
	end := time.Now().UTC()
	if sess.EndedAt != nil {
		end = sess.EndedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = $1, call_sid = $2, stream_sid = $3 WHERE id = $4`,
		end, sess.CallSID, sess.StreamSID, sess.ID,
	)
	if err != nil {
		return goerr.Wrap(err, "end session", goerr.V("session_id", sess.ID))
	}
	return nil
}

// UpsertSpan writes the span's current state.
func (s *Store) UpsertSpan(ctx context.Context, sp Span) error {
	input, err := jsonColumn(sp.Input)
	if err != nil {
		return goerr.Wrap(err, "marshal span input", goerr.V("span_id", sp.ID))
	}
	output, err := jsonColumn(sp.Output)
	if err != nil {
		return goerr.Wrap(err, "marshal span output", goerr.V("span_id", sp.ID))
	}
	usage, err := jsonColumn(sp.Usage)
	if err != nil {
		return goerr.Wrap(err, "marshal span usage", goerr.V("span_id", sp.ID))
	}
	var cost sql.NullFloat64
	if sp.Cost != nil {
		cost = sql.NullFloat64{Float64: sp.Cost.Total, Valid: true}
	}
	var ended sql.NullTime
	if sp.EndedAt != nil {
		ended = sql.NullTime{Time: sp.EndedAt.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO spans (id, session_id, correlation_id, kind, input, output, error_msg, level, model, usage, cost_usd, forced, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		   output = EXCLUDED.output, error_msg = EXCLUDED.error_msg, level = EXCLUDED.level,
		   usage = EXCLUDED.usage, cost_usd = EXCLUDED.cost_usd, forced = EXCLUDED.forced,
		   ended_at = EXCLUDED.ended_at`,
		sp.ID, sp.SessionID, sp.CorrelationID, string(sp.Kind), input, output,
		sp.Error, string(sp.Level), sp.Model, usage, cost, sp.Forced, sp.StartedAt.UTC(), ended,
	)
	if err != nil {
		return goerr.Wrap(err, "upsert span", goerr.V("span_id", sp.ID))
	}
	return nil
}

// ListSessions returns sessions ordered newest first, with span counts.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]Session, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, goerr.Wrap(err, "count sessions")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.call_sid, s.stream_sid, s.mode, s.started_at, s.ended_at, COUNT(sp.id)
		FROM sessions s
		LEFT JOIN spans sp ON sp.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "list sessions")
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var endedAt sql.NullTime
		if err = rows.Scan(&sess.ID, &sess.CallSID, &sess.StreamSID, &sess.Mode, &sess.StartedAt, &endedAt, &sess.SpanCount); err != nil {
			return nil, 0, goerr.Wrap(err, "scan session")
		}
		if endedAt.Valid {
			sess.EndedAt = &endedAt.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// GetSession returns a single session with its spans in start order.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, []Span, error) {
	var sess Session
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, call_sid, stream_sid, mode, started_at, ended_at FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.CallSID, &sess.StreamSID, &sess.Mode, &sess.StartedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, goerr.Wrap(ErrNotFound, "get session", goerr.V("session_id", id))
	}
	if err != nil {
		return nil, nil, goerr.Wrap(err, "get session", goerr.V("session_id", id))
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, correlation_id, kind, input, output, error_msg, level, model, usage, cost_usd, forced, started_at, ended_at
		FROM spans WHERE session_id = $1 ORDER BY started_at ASC
	`, id)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "list spans", goerr.V("session_id", id))
	}
	defer rows.Close()

	spans := []Span{}
	for rows.Next() {
		sp, scanErr := scanSpan(rows)
		if scanErr != nil {
			return nil, nil, scanErr
		}
		spans = append(spans, sp)
	}
	sess.SpanCount = len(spans)
	return &sess, spans, rows.Err()
}

func scanSpan(rows *sql.Rows) (Span, error) {
	var (
		sp                   Span
		kind, level          string
		input, output, usage []byte
		cost                 sql.NullFloat64
		ended                sql.NullTime
	)
	err := rows.Scan(&sp.ID, &sp.SessionID, &sp.CorrelationID, &kind, &input, &output,
		&sp.Error, &level, &sp.Model, &usage, &cost, &sp.Forced, &sp.StartedAt, &ended)
	if err != nil {
		return Span{}, goerr.Wrap(err, "scan span")
	}
	sp.Kind, sp.Level = Kind(kind), Level(level)
	if len(input) > 0 {
		sp.Input = json.RawMessage(input)
	}
	if len(output) > 0 {
		sp.Output = json.RawMessage(output)
	}
	if len(usage) > 0 {
		var u Usage
		if json.Unmarshal(usage, &u) == nil {
			sp.Usage = &u
		}
	}
	if cost.Valid {
		sp.Cost = &Cost{Total: cost.Float64}
	}
	if ended.Valid {
		sp.EndedAt = &ended.Time
	}
	return sp, nil
}

// jsonColumn marshals v for a JSONB column; nil stays SQL NULL.
func jsonColumn(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if u, ok := v.(*Usage); ok && u == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
