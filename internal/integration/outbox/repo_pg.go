package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
	"github.com/haniot/mhealth-sub002/internal/platform/db"
)

type outboxRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &outboxRepoPG{pool: pool}
}

func (r *outboxRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *outboxRepoPG) Create(ctx context.Context, rec *Record) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO integration_event (id, event_name, timestamp, event)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		rec.ID, rec.EventName, rec.Timestamp, []byte(rec.Event)).Scan(&rec.CreatedAt)
	if err != nil {
		return apperr.Repository(fmt.Errorf("insert integration event: %w", err))
	}
	return nil
}

func (r *outboxRepoPG) Find(ctx context.Context, after *Cursor, limit int) ([]Record, error) {
	query := `SELECT id, event_name, timestamp, event, created_at FROM integration_event`
	args := []interface{}{limit}
	if after != nil {
		query += ` WHERE (created_at, id) > ($2, $3)`
		args = append(args, after.CreatedAt, after.ID)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT $1`
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Repository(fmt.Errorf("find integration events: %w", err))
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		var event []byte
		err := row.Scan(&rec.ID, &rec.EventName, &rec.Timestamp, &event, &rec.CreatedAt)
		rec.Event = event
		return rec, err
	})
	if err != nil {
		return nil, apperr.Repository(fmt.Errorf("scan integration events: %w", err))
	}
	return items, nil
}

func (r *outboxRepoPG) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM integration_event WHERE id = $1`, id)
	if err != nil {
		return false, apperr.Repository(fmt.Errorf("delete integration event: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}
