package activity

import "context"

type Repository interface {
	// Upsert inserts a or replaces the record sharing its (patient_id,
	// start_time), returning the stored copy.
	Upsert(ctx context.Context, a PhysicalActivity) (PhysicalActivity, error)
	RemoveAllByPatient(ctx context.Context, patientID string) (int64, error)
}
