package sleep

import "context"

type Repository interface {
	// Upsert inserts s or replaces the session sharing its (patient_id,
	// start_time), returning the stored copy.
	Upsert(ctx context.Context, s Sleep) (Sleep, error)
	RemoveAllByPatient(ctx context.Context, patientID string) (int64, error)
}
