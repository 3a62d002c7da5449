package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists and queries security events.
type Repository interface {
	InsertEvent(ctx context.Context, ev Event) error
	ListEvents(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error)
}

// PGRepository stores events in security_audit_events.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InsertEvent writes one event row.
func (r *PGRepository) InsertEvent(ctx context.Context, ev Event) error {
	meta, err := EncodeMetadata(ev.Metadata)
	if err != nil {
		return fmt.Errorf("audit: encode metadata: %w", err)
	}
	const query = `INSERT INTO security_audit_events
		(id, occurred_at, action, resource, resource_id, description, user_id, severity, metadata)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`
	_, err = r.pool.Exec(ctx, query,
		ev.ID.String(),
		ev.OccurredAt,
		ev.Action,
		ev.Resource,
		optionalText(ev.ResourceID),
		ev.Description,
		optionalText(ev.UserID),
		string(ev.Severity),
		meta,
	)
	return err
}

// ListEvents returns events newest first.
func (r *PGRepository) ListEvents(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	const query = `SELECT id::text, occurred_at, COALESCE(user_id, ''), action, resource,
			COALESCE(resource_id, ''), severity, description, metadata
		FROM security_audit_events
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at < $2)
		  AND ($3::text IS NULL OR user_id = $3)
		  AND ($4::text IS NULL OR action = $4)
		  AND ($5::text IS NULL OR severity = $5)
		ORDER BY occurred_at DESC, id
		OFFSET $6 LIMIT $7`
	rows, err := r.pool.Query(ctx, query,
		toPgTime(filters.From),
		toPgTime(filters.To),
		optionalText(filters.UserID),
		optionalText(filters.Action),
		optionalText(string(filters.Severity)),
		offset,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TimelineRow
	for rows.Next() {
		var (
			row      TimelineRow
			severity string
			rawMeta  []byte
		)
		if err := rows.Scan(&row.ID, &row.At, &row.UserID, &row.Action, &row.Resource, &row.ResourceID, &severity, &row.Description, &rawMeta); err != nil {
			return nil, err
		}
		row.Severity = Severity(severity)
		meta, err := DecodeMetadata(rawMeta)
		if err != nil {
			return nil, fmt.Errorf("audit: decode metadata for %s: %w", row.ID, err)
		}
		row.Metadata = meta
		result = append(result, row)
	}
	return result, rows.Err()
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

var _ Repository = (*PGRepository)(nil)
