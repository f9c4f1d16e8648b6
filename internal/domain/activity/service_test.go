package activity

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

const testPatientID = "5a62be07de34500146d9c544"

// -- Mock Repository --

type mockActivityRepo struct {
	store map[string]PhysicalActivity
}

func newMockActivityRepo() *mockActivityRepo {
	return &mockActivityRepo{store: make(map[string]PhysicalActivity)}
}

func (m *mockActivityRepo) Upsert(_ context.Context, a PhysicalActivity) (PhysicalActivity, error) {
	key := a.PatientID + "|" + a.StartTime
	if prev, ok := m.store[key]; ok {
		a.ID = prev.ID
	} else {
		a.ID = validator.NewObjectID()
	}
	m.store[key] = a
	return a, nil
}

func (m *mockActivityRepo) RemoveAllByPatient(_ context.Context, patientID string) (int64, error) {
	var n int64
	for k, a := range m.store {
		if a.PatientID == patientID {
			delete(m.store, k)
			n++
		}
	}
	return n, nil
}

func int64Ptr(v int64) *int64       { return &v }
func float64Ptr(v float64) *float64 { return &v }

func validActivity() PhysicalActivity {
	return PhysicalActivity{
		PatientID: testPatientID,
		Name:      "walk",
		StartTime: "2020-11-21T10:00:00.000Z",
		EndTime:   "2020-11-21T10:30:00.000Z",
		Duration:  int64Ptr(1800000),
		Calories:  float64Ptr(120),
		Steps:     int64Ptr(2500),
		Levels:    []Level{{Name: "lightly", Duration: 1200000}, {Name: "fairly", Duration: 600000}},
		HeartRate: json.RawMessage(`{"average":98}`),
	}
}

func TestSync_Success(t *testing.T) {
	svc := NewService(newMockActivityRepo())
	a, err := svc.Sync(context.Background(), validActivity())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == "" {
		t.Error("expected id")
	}
}

func TestSync_IsIdempotentOnStartTime(t *testing.T) {
	repo := newMockActivityRepo()
	svc := NewService(repo)
	first, _ := svc.Sync(context.Background(), validActivity())
	changed := validActivity()
	changed.Steps = int64Ptr(3000)
	second, err := svc.Sync(context.Background(), changed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.store) != 1 || first.ID != second.ID {
		t.Errorf("expected a single upserted record, got %d", len(repo.store))
	}
}

func TestValidate_MissingFields(t *testing.T) {
	err := PhysicalActivity{PatientID: testPatientID}.Validate()
	if got := apperr.Body(err).Description; got != "PhysicalActivity validation: start_time, end_time, duration required!" {
		t.Errorf("unexpected description %q", got)
	}
}

func TestValidate_EndBeforeStart(t *testing.T) {
	a := validActivity()
	a.EndTime = "2020-11-21T09:00:00.000Z"
	if err := a.Validate(); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidate_NegativeSteps(t *testing.T) {
	a := validActivity()
	a.Steps = int64Ptr(-1)
	if err := a.Validate(); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidate_UnknownLevel(t *testing.T) {
	a := validActivity()
	a.Levels = []Level{{Name: "extreme", Duration: 10}}
	if err := a.Validate(); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWithPatient_Copies(t *testing.T) {
	a := validActivity()
	b := a.WithPatient("5a62be07de34500146d9c599")
	b.Levels[0].Name = "very"
	if a.PatientID != testPatientID || a.Levels[0].Name != "lightly" {
		t.Error("WithPatient must not alias the original")
	}
}

func TestRemoveAllByPatient(t *testing.T) {
	repo := newMockActivityRepo()
	svc := NewService(repo)
	svc.Sync(context.Background(), validActivity())
	other := validActivity().WithPatient("5a62be07de34500146d9c599")
	svc.Sync(context.Background(), other)
	n, err := svc.RemoveAllByPatient(context.Background(), testPatientID)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 removed, got %d (%v)", n, err)
	}
	if len(repo.store) != 1 {
		t.Errorf("other patient's activity must survive")
	}
	if _, err := svc.RemoveAllByPatient(context.Background(), "bad"); err == nil {
		t.Error("expected invalid id error")
	}
}
