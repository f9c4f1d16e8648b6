package measurement

import (
	"context"
	"time"
)

// Query filters the measurements of one patient.
type Query struct {
	PatientID string
	Type      Type
	DeviceID  string
	Start     *time.Time
	End       *time.Time
	OrderBy   string
	Limit     int
	Offset    int
}

// DuplicateKey identifies a measurement on the direct-write path: same owner,
// type, device and instant, and the same value-defining fields.
type DuplicateKey struct {
	PatientID string
	Type      Type
	DeviceID  string
	Timestamp *time.Time
	Fields    map[string]interface{}
}

type Repository interface {
	// Create stores m under a freshly generated id and returns the stored copy.
	Create(ctx context.Context, m Measurement) (Measurement, error)
	Find(ctx context.Context, q Query) ([]Measurement, error)
	Count(ctx context.Context, q Query) (int, error)
	FindOne(ctx context.Context, patientID, id string) (Measurement, error)
	// FindLast returns the newest record of t for the patient, optionally at or
	// before a given instant. It returns nil when there is none.
	FindLast(ctx context.Context, patientID string, t Type, before *time.Time) (Measurement, error)
	Update(ctx context.Context, m Measurement) error
	Delete(ctx context.Context, patientID, id string) (bool, error)
	// FindDuplicate returns the id of a record matching key, or "".
	FindDuplicate(ctx context.Context, key DuplicateKey) (string, error)
	// UpsertLatest reconciles m with the newest record of its type for the
	// patient. It reports false when m is older than what is stored.
	UpsertLatest(ctx context.Context, m Measurement) (Measurement, bool, error)
	RemoveAllByPatient(ctx context.Context, patientID string) (int64, error)
}
