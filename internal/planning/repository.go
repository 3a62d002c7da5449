package planning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-strategy/internal/platform/db"
)

// Repository persists goals and initiatives.
type Repository interface {
	ListGoals(ctx context.Context, filter ListFilter) ([]Goal, error)
	GetGoal(ctx context.Context, id int64) (Goal, error)
	InsertGoal(ctx context.Context, in GoalInput) (Goal, error)
	UpdateGoal(ctx context.Context, id int64, in GoalInput) (Goal, error)
	DeleteGoal(ctx context.Context, id int64) error
	ListInitiatives(ctx context.Context, filter ListFilter) ([]Initiative, error)
	InsertInitiative(ctx context.Context, in InitiativeInput) (Initiative, error)
	UpdateInitiative(ctx context.Context, id int64, in InitiativeInput) (Initiative, error)
	DeleteInitiative(ctx context.Context, id int64) error
	Summary(ctx context.Context, today time.Time) (Summary, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const goalColumns = `id, title, description, status, progress, owner_id, due_date, created_at, updated_at`

const initiativeColumns = `id, goal_id, title, description, status, owner_id, start_date, end_date, created_at, updated_at`

func scanGoal(row pgx.Row) (Goal, error) {
	var (
		g       Goal
		owner   pgtype.Int8
		due     pgtype.Date
		created pgtype.Timestamptz
		updated pgtype.Timestamptz
	)
	if err := row.Scan(&g.ID, &g.Title, &g.Description, &g.Status, &g.Progress, &owner, &due, &created, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Goal{}, ErrGoalNotFound
		}
		return Goal{}, err
	}
	g.OwnerID = fromInt8(owner)
	g.DueDate = fromDate(due)
	g.CreatedAt = created.Time
	g.UpdatedAt = updated.Time
	return g, nil
}

func scanInitiative(row pgx.Row) (Initiative, error) {
	var (
		in      Initiative
		owner   pgtype.Int8
		start   pgtype.Date
		end     pgtype.Date
		created pgtype.Timestamptz
		updated pgtype.Timestamptz
	)
	if err := row.Scan(&in.ID, &in.GoalID, &in.Title, &in.Description, &in.Status, &owner, &start, &end, &created, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Initiative{}, ErrInitiativeNotFound
		}
		return Initiative{}, err
	}
	in.OwnerID = fromInt8(owner)
	in.StartDate = fromDate(start)
	in.EndDate = fromDate(end)
	in.CreatedAt = created.Time
	in.UpdatedAt = updated.Time
	return in, nil
}

// ListGoals returns goals ordered by due date.
func (r *PGRepository) ListGoals(ctx context.Context, filter ListFilter) ([]Goal, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+goalColumns+` FROM goals
WHERE ($1::text IS NULL OR status = $1)
ORDER BY due_date NULLS LAST, id
OFFSET $2 LIMIT $3`, optionalText(filter.Status), filter.Offset, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGoal fetches one goal.
func (r *PGRepository) GetGoal(ctx context.Context, id int64) (Goal, error) {
	return scanGoal(r.pool.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1`, id))
}

// InsertGoal creates a goal.
func (r *PGRepository) InsertGoal(ctx context.Context, in GoalInput) (Goal, error) {
	return scanGoal(r.pool.QueryRow(ctx, `INSERT INTO goals (title, description, status, progress, owner_id, due_date)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+goalColumns,
		in.Title, in.Description, in.Status, in.Progress, toInt8(in.OwnerID), toDate(in.DueDate)))
}

// UpdateGoal replaces the writable fields of a goal.
func (r *PGRepository) UpdateGoal(ctx context.Context, id int64, in GoalInput) (Goal, error) {
	return scanGoal(r.pool.QueryRow(ctx, `UPDATE goals
SET title = $2, description = $3, status = $4, progress = $5, owner_id = $6, due_date = $7, updated_at = NOW()
WHERE id = $1
RETURNING `+goalColumns,
		id, in.Title, in.Description, in.Status, in.Progress, toInt8(in.OwnerID), toDate(in.DueDate)))
}

// DeleteGoal removes a goal and its initiatives.
func (r *PGRepository) DeleteGoal(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM initiatives WHERE goal_id = $1`, id); err != nil {
			return fmt.Errorf("planning: delete initiatives: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM goals WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrGoalNotFound
		}
		return nil
	})
}

// ListInitiatives returns initiatives, optionally for a single goal.
func (r *PGRepository) ListInitiatives(ctx context.Context, filter ListFilter) ([]Initiative, error) {
	goal := pgtype.Int8{Int64: filter.GoalID, Valid: filter.GoalID > 0}
	rows, err := r.pool.Query(ctx, `SELECT `+initiativeColumns+` FROM initiatives
WHERE ($1::bigint IS NULL OR goal_id = $1)
  AND ($2::text IS NULL OR status = $2)
ORDER BY start_date NULLS LAST, id
OFFSET $3 LIMIT $4`, goal, optionalText(filter.Status), filter.Offset, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Initiative
	for rows.Next() {
		in, err := scanInitiative(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// InsertInitiative creates an initiative under an existing goal.
func (r *PGRepository) InsertInitiative(ctx context.Context, in InitiativeInput) (Initiative, error) {
	var created Initiative
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockGoal(ctx, tx, in.GoalID); err != nil {
			return err
		}
		var err error
		created, err = scanInitiative(tx.QueryRow(ctx, `INSERT INTO initiatives (goal_id, title, description, status, owner_id, start_date, end_date)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+initiativeColumns,
			in.GoalID, in.Title, in.Description, in.Status, toInt8(in.OwnerID), toDate(in.StartDate), toDate(in.EndDate)))
		return err
	})
	return created, err
}

// UpdateInitiative replaces the writable fields of an initiative.
func (r *PGRepository) UpdateInitiative(ctx context.Context, id int64, in InitiativeInput) (Initiative, error) {
	var updated Initiative
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockGoal(ctx, tx, in.GoalID); err != nil {
			return err
		}
		var err error
		updated, err = scanInitiative(tx.QueryRow(ctx, `UPDATE initiatives
SET goal_id = $2, title = $3, description = $4, status = $5, owner_id = $6, start_date = $7, end_date = $8, updated_at = NOW()
WHERE id = $1
RETURNING `+initiativeColumns,
			id, in.GoalID, in.Title, in.Description, in.Status, toInt8(in.OwnerID), toDate(in.StartDate), toDate(in.EndDate)))
		return err
	})
	return updated, err
}

// DeleteInitiative removes an initiative.
func (r *PGRepository) DeleteInitiative(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM initiatives WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInitiativeNotFound
	}
	return nil
}

// Summary aggregates counts for the dashboard.
func (r *PGRepository) Summary(ctx context.Context, today time.Time) (Summary, error) {
	sum := Summary{GoalsByStatus: map[string]int{}, InitiativesByState: map[string]int{}}
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*), COALESCE(SUM(progress), 0),
	COUNT(*) FILTER (WHERE due_date < $1 AND status <> 'completed')
FROM goals GROUP BY status`, pgtype.Date{Time: today, Valid: true})
	if err != nil {
		return Summary{}, err
	}
	var progress int64
	for rows.Next() {
		var (
			status         string
			count, overdue int
			total          int64
		)
		if err := rows.Scan(&status, &count, &total, &overdue); err != nil {
			rows.Close()
			return Summary{}, err
		}
		sum.GoalsByStatus[status] = count
		sum.Goals += count
		sum.OverdueGoals += overdue
		progress += total
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}
	if sum.Goals > 0 {
		sum.AverageProgress = float64(progress) / float64(sum.Goals)
	}

	rows, err = r.pool.Query(ctx, `SELECT status, COUNT(*) FROM initiatives GROUP BY status`)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Summary{}, err
		}
		sum.InitiativesByState[status] = count
		sum.Initiatives += count
	}
	return sum, rows.Err()
}

func lockGoal(ctx context.Context, tx pgx.Tx, goalID int64) error {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM goals WHERE id = $1 FOR SHARE`, goalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrGoalNotFound
	}
	return err
}

func optionalText(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

func toInt8(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func fromInt8(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func toDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: t.UTC(), Valid: true}
}

func fromDate(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

var _ Repository = (*PGRepository)(nil)
