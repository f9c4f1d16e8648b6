package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
	"github.com/haniot/mhealth-sub002/internal/platform/db"
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

type deviceRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &deviceRepoPG{pool: pool}
}

func (r *deviceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const deviceCols = `id, name, address, type, model, manufacturer, patient_ids, created_at`

func (r *deviceRepoPG) scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.Name, &d.Address, &d.Type, &d.Model,
		&d.Manufacturer, &d.PatientIDs, &d.CreatedAt)
	d.ID = strings.TrimSpace(d.ID)
	return &d, err
}

func (r *deviceRepoPG) Create(ctx context.Context, d *Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d.ID = validator.NewObjectID()
	if d.PatientIDs == nil {
		d.PatientIDs = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO device (id, name, address, type, model, manufacturer, patient_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		d.ID, d.Name, d.Address, d.Type, d.Model, d.Manufacturer, d.PatientIDs).Scan(&d.CreatedAt)
	if err != nil {
		return apperr.Repository(fmt.Errorf("insert device: %w", err))
	}
	return nil
}

func (r *deviceRepoPG) GetByID(ctx context.Context, id string) (*Device, error) {
	d, err := r.scanDevice(r.conn(ctx).QueryRow(ctx, `SELECT `+deviceCols+` FROM device WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Device not found!", fmt.Sprintf("Device with ID: %s is not registered on the platform.", id))
		}
		return nil, apperr.Repository(err)
	}
	return d, nil
}

func (r *deviceRepoPG) CheckExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM device WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, apperr.Repository(fmt.Errorf("check device: %w", err))
	}
	return exists, nil
}
