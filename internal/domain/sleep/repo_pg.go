package sleep

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
	"github.com/haniot/mhealth-sub002/internal/platform/db"
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

type sleepRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &sleepRepoPG{pool: pool}
}

func (r *sleepRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *sleepRepoPG) Upsert(ctx context.Context, s Sleep) (Sleep, error) {
	start, err := validator.ParseDatetime(s.StartTime)
	if err != nil {
		return s, err
	}
	end, err := validator.ParseDatetime(s.EndTime)
	if err != nil {
		return s, err
	}
	var pattern []byte
	if s.Pattern != nil {
		if pattern, err = json.Marshal(s.Pattern); err != nil {
			return s, fmt.Errorf("encode sleep pattern: %w", err)
		}
	}

	var id string
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO sleep (id, patient_id, start_time, end_time, duration, type, pattern)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (patient_id, start_time) DO UPDATE SET
			end_time = EXCLUDED.end_time, duration = EXCLUDED.duration,
			type = EXCLUDED.type, pattern = EXCLUDED.pattern
		RETURNING id`,
		validator.NewObjectID(), s.PatientID, start, end, s.Duration, s.Type, pattern).Scan(&id)
	if err != nil {
		return s, apperr.Repository(fmt.Errorf("upsert sleep: %w", err))
	}
	s.ID = strings.TrimSpace(id)
	return s, nil
}

func (r *sleepRepoPG) RemoveAllByPatient(ctx context.Context, patientID string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM sleep WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, apperr.Repository(fmt.Errorf("remove sleep of patient: %w", err))
	}
	return tag.RowsAffected(), nil
}
