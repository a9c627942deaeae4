package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tdprio/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// SweepFilters narrows ListSweeps.
type SweepFilters struct {
	Dataset string
	Limit   int
}

func (r Repo) InsertSweep(ctx context.Context, tx *sql.Tx, s domain.Sweep) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO sweeps(id,dataset,max_simulations,exploration_weight,seed,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.Dataset, s.MaxSimulations, s.ExplorationWeight, s.Seed, s.CreatedAt); err != nil {
		return fmt.Errorf("insert sweep: %w", err)
	}
	for _, run := range s.Runs {
		order, err := json.Marshal(run.Order)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO sweep_runs(sweep_id,simulations,order_json,reward) VALUES (?,?,?,?)`,
			s.ID, run.Simulations, string(order), run.Reward); err != nil {
			return fmt.Errorf("insert sweep run %d: %w", run.Simulations, err)
		}
	}
	return nil
}

func scanSweep(row interface{ Scan(...any) error }) (domain.Sweep, error) {
	var s domain.Sweep
	err := row.Scan(&s.ID, &s.Dataset, &s.MaxSimulations, &s.ExplorationWeight, &s.Seed, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// GetSweep loads a sweep with its runs ordered by simulation count.
func (r Repo) GetSweep(ctx context.Context, id string) (domain.Sweep, error) {
	s, err := scanSweep(r.DB.QueryRowContext(ctx, `SELECT id,dataset,max_simulations,exploration_weight,seed,created_at FROM sweeps WHERE id=?`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s, fmt.Errorf("sweep %s: %w", id, ErrNotFound)
		}
		return s, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT simulations,order_json,reward FROM sweep_runs WHERE sweep_id=? ORDER BY simulations`, id)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var run domain.Run
		var order string
		if err := rows.Scan(&run.Simulations, &order, &run.Reward); err != nil {
			return s, err
		}
		if err := json.Unmarshal([]byte(order), &run.Order); err != nil {
			return s, fmt.Errorf("decode run order: %w", err)
		}
		s.Runs = append(s.Runs, run)
	}
	return s, rows.Err()
}

// ListSweeps returns sweep headers, newest first, without runs.
func (r Repo) ListSweeps(ctx context.Context, f SweepFilters) ([]domain.Sweep, error) {
	query := `SELECT id,dataset,max_simulations,exploration_weight,seed,created_at FROM sweeps`
	var (
		where []string
		args  []any
	)
	if f.Dataset != "" {
		where = append(where, "dataset=?")
		args = append(args, f.Dataset)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sweep
	for rows.Next() {
		s, err := scanSweep(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// DeleteSweep removes a sweep and, by cascade, its runs.
func (r Repo) DeleteSweep(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM sweeps WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sweep %s: %w", id, ErrNotFound)
	}
	return nil
}

// LatestEvents returns up to n events, newest first.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events`
	var (
		where []string
		args  []any
	)
	if evtType != "" {
		where = append(where, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		where = append(where, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		where = append(where, "entity_id=?")
		args = append(args, entityID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to n events with id greater than afterID, oldest first.
func (r Repo) EventsAfter(ctx context.Context, n int, afterID int64) ([]domain.Event, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE id>? ORDER BY id LIMIT ?`, afterID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, zero for an empty log.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
