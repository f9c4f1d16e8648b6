package measurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
	"github.com/haniot/mhealth-sub002/internal/platform/db"
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

type measurementRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &measurementRepoPG{pool: pool}
}

func (r *measurementRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const measurementCols = `id, payload`

// SortColumns maps the sortable query fields to columns.
var SortColumns = map[string]string{
	"timestamp":  "timestamp",
	"type":       "type",
	"unit":       "unit",
	"created_at": "created_at",
}

func scanMeasurement(row pgx.Row) (Measurement, error) {
	var (
		id      string
		payload []byte
	)
	if err := row.Scan(&id, &payload); err != nil {
		return nil, err
	}
	m, err := Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode measurement %s: %w", id, err)
	}
	return WithID(m, strings.TrimSpace(id)), nil
}

// rowValues derives the indexed columns of m.
func rowValues(m Measurement) (deviceID *string, ts *time.Time, payload []byte, err error) {
	h := m.Header()
	if h.DeviceID != "" {
		d := h.DeviceID
		deviceID = &d
	}
	if raw := m.Time(); raw != "" {
		t, perr := validator.ParseDatetime(raw)
		if perr != nil {
			return nil, nil, nil, perr
		}
		ts = &t
	}
	payload, err = Encode(m)
	return deviceID, ts, payload, err
}

func (r *measurementRepoPG) Create(ctx context.Context, m Measurement) (Measurement, error) {
	stored := WithID(m, validator.NewObjectID())
	deviceID, ts, payload, err := rowValues(stored)
	if err != nil {
		return nil, err
	}
	h := stored.Header()
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO measurement (id, type, patient_id, device_id, unit, timestamp, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, string(h.Type), h.PatientID, deviceID, h.Unit, ts, payload)
	if err != nil {
		return nil, apperr.Repository(fmt.Errorf("insert measurement: %w", err))
	}
	return stored, nil
}

func whereClause(q Query) (string, []interface{}) {
	conds := []string{"patient_id = $1"}
	args := []interface{}{q.PatientID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Type != "" {
		add("type = $%d", string(q.Type))
	}
	if q.DeviceID != "" {
		add("device_id = $%d", q.DeviceID)
	}
	if q.Start != nil {
		add("timestamp >= $%d", *q.Start)
	}
	if q.End != nil {
		add("timestamp <= $%d", *q.End)
	}
	return strings.Join(conds, " AND "), args
}

func (r *measurementRepoPG) Find(ctx context.Context, q Query) ([]Measurement, error) {
	where, args := whereClause(q)
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "timestamp DESC NULLS LAST"
	}
	sql := `SELECT ` + measurementCols + ` FROM measurement WHERE ` + where + ` ORDER BY ` + orderBy
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Offset)
	}
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Repository(fmt.Errorf("find measurements: %w", err))
	}
	defer rows.Close()
	var items []Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, apperr.Repository(err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Repository(err)
	}
	return items, nil
}

func (r *measurementRepoPG) Count(ctx context.Context, q Query) (int, error) {
	where, args := whereClause(q)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM measurement WHERE `+where, args...).Scan(&total); err != nil {
		return 0, apperr.Repository(fmt.Errorf("count measurements: %w", err))
	}
	return total, nil
}

func (r *measurementRepoPG) FindOne(ctx context.Context, patientID, id string) (Measurement, error) {
	m, err := scanMeasurement(r.conn(ctx).QueryRow(ctx,
		`SELECT `+measurementCols+` FROM measurement WHERE id = $1 AND patient_id = $2`, id, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Measurement not found!",
				"Measurement not found or already removed. A new operation for the same resource is not required.")
		}
		return nil, apperr.Repository(err)
	}
	return m, nil
}

func (r *measurementRepoPG) FindLast(ctx context.Context, patientID string, t Type, before *time.Time) (Measurement, error) {
	sql := `SELECT ` + measurementCols + ` FROM measurement
		WHERE patient_id = $1 AND type = $2 AND ($3::timestamptz IS NULL OR timestamp <= $3)
		ORDER BY timestamp DESC NULLS LAST, created_at DESC LIMIT 1`
	m, err := scanMeasurement(r.conn(ctx).QueryRow(ctx, sql, patientID, string(t), before))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Repository(err)
	}
	return m, nil
}

func (r *measurementRepoPG) Update(ctx context.Context, m Measurement) error {
	deviceID, ts, payload, err := rowValues(m)
	if err != nil {
		return err
	}
	h := m.Header()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE measurement SET device_id = $3, unit = $4, timestamp = $5, payload = $6
		WHERE id = $1 AND patient_id = $2`,
		h.ID, h.PatientID, deviceID, h.Unit, ts, payload)
	if err != nil {
		return apperr.Repository(fmt.Errorf("update measurement: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Measurement not found!", "Measurement not found or already removed.")
	}
	return nil
}

func (r *measurementRepoPG) Delete(ctx context.Context, patientID, id string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM measurement WHERE id = $1 AND patient_id = $2`, id, patientID)
	if err != nil {
		return false, apperr.Repository(fmt.Errorf("delete measurement: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

// FindDuplicate matches object fields of key by jsonb containment. Array
// fields, such as a heart rate dataset, must be equal: a record holding more
// samples than key is not a duplicate of it.
func (r *measurementRepoPG) FindDuplicate(ctx context.Context, key DuplicateKey) (string, error) {
	var deviceID *string
	if key.DeviceID != "" {
		deviceID = &key.DeviceID
	}
	fields, err := json.Marshal(key.Fields)
	if err != nil {
		return "", fmt.Errorf("encode duplicate key: %w", err)
	}
	query := `
		SELECT id FROM measurement
		WHERE patient_id = $1 AND type = $2
		  AND device_id IS NOT DISTINCT FROM $3
		  AND timestamp IS NOT DISTINCT FROM $4
		  AND payload @> $5::jsonb`
	args := []interface{}{key.PatientID, string(key.Type), deviceID, key.Timestamp, string(fields)}
	for _, name := range sortedKeys(key.Fields) {
		raw, err := json.Marshal(key.Fields[name])
		if err != nil {
			return "", fmt.Errorf("encode duplicate key field %s: %w", name, err)
		}
		if len(raw) == 0 || raw[0] != '[' {
			continue
		}
		args = append(args, name, string(raw))
		query += fmt.Sprintf(` AND payload -> $%d::text = $%d::jsonb`, len(args)-1, len(args))
	}
	query += ` LIMIT 1`

	var id string
	err = r.conn(ctx).QueryRow(ctx, query, args...).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", apperr.Repository(fmt.Errorf("check duplicate measurement: %w", err))
	}
	return strings.TrimSpace(id), nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UpsertLatest must run inside a transaction: the advisory lock serialises
// concurrent syncs of the same (patient, type) until commit.
func (r *measurementRepoPG) UpsertLatest(ctx context.Context, m Measurement) (Measurement, bool, error) {
	h := m.Header()
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, h.PatientID+":"+string(h.Type)); err != nil {
		return nil, false, apperr.Repository(fmt.Errorf("lock measurement key: %w", err))
	}

	var (
		storedID string
		storedTS *time.Time
	)
	err := q.QueryRow(ctx, `
		SELECT id, timestamp FROM measurement
		WHERE patient_id = $1 AND type = $2
		ORDER BY timestamp DESC NULLS LAST, created_at DESC LIMIT 1`,
		h.PatientID, string(h.Type)).Scan(&storedID, &storedTS)
	if errors.Is(err, pgx.ErrNoRows) {
		created, err := r.Create(ctx, m)
		return created, err == nil, err
	}
	if err != nil {
		return nil, false, apperr.Repository(fmt.Errorf("find latest measurement: %w", err))
	}

	updated := WithID(m, strings.TrimSpace(storedID))
	_, ts, _, err := rowValues(updated)
	if err != nil {
		return nil, false, err
	}
	if ts != nil && storedTS != nil && ts.Before(*storedTS) {
		return updated, false, nil
	}
	if err := r.Update(ctx, updated); err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

func (r *measurementRepoPG) RemoveAllByPatient(ctx context.Context, patientID string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM measurement WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, apperr.Repository(fmt.Errorf("remove measurements of patient: %w", err))
	}
	return tag.RowsAffected(), nil
}
