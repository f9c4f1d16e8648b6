package activity

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

type activityRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &activityRepoPG{pool: pool}
}

func (r *activityRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *activityRepoPG) Upsert(ctx context.Context, a PhysicalActivity) (PhysicalActivity, error) {
	start, err := validator.ParseDatetime(a.StartTime)
	if err != nil {
		return a, err
	}
	end, err := validator.ParseDatetime(a.EndTime)
	if err != nil {
		return a, err
	}
	var levels []byte
	if a.Levels != nil {
		if levels, err = json.Marshal(a.Levels); err != nil {
			return a, fmt.Errorf("encode levels: %w", err)
		}
	}
	var heartRate []byte
	if len(a.HeartRate) > 0 {
		heartRate = a.HeartRate
	}

	var id string
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO physical_activity (id, patient_id, name, start_time, end_time, duration,
			calories, steps, distance, levels, heart_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (patient_id, start_time) DO UPDATE SET
			name = EXCLUDED.name, end_time = EXCLUDED.end_time, duration = EXCLUDED.duration,
			calories = EXCLUDED.calories, steps = EXCLUDED.steps, distance = EXCLUDED.distance,
			levels = EXCLUDED.levels, heart_rate = EXCLUDED.heart_rate
		RETURNING id`,
		validator.NewObjectID(), a.PatientID, a.Name, start, end, a.Duration,
		a.Calories, a.Steps, a.Distance, levels, heartRate).Scan(&id)
	if err != nil {
		return a, apperr.Repository(fmt.Errorf("upsert physical activity: %w", err))
	}
	a.ID = strings.TrimSpace(id)
	return a, nil
}

func (r *activityRepoPG) RemoveAllByPatient(ctx context.Context, patientID string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM physical_activity WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, apperr.Repository(fmt.Errorf("remove physical activities of patient: %w", err))
	}
	return tag.RowsAffected(), nil
}
