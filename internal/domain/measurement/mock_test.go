package measurement

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

// -- Mock Repository --

type mockMeasurementRepo struct {
	store   []Measurement
	failOn  map[Type]error
	creates int
}

func newMockMeasurementRepo() *mockMeasurementRepo {
	return &mockMeasurementRepo{failOn: map[Type]error{}}
}

func (r *mockMeasurementRepo) Create(_ context.Context, m Measurement) (Measurement, error) {
	if err := r.failOn[m.Header().Type]; err != nil {
		return nil, err
	}
	r.creates++
	stored := WithID(m, validator.NewObjectID())
	r.store = append(r.store, stored)
	return stored, nil
}

func (r *mockMeasurementRepo) matching(q Query) []Measurement {
	var out []Measurement
	for _, m := range r.store {
		h := m.Header()
		if h.PatientID != q.PatientID || (q.Type != "" && h.Type != q.Type) || (q.DeviceID != "" && h.DeviceID != q.DeviceID) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (r *mockMeasurementRepo) Find(_ context.Context, q Query) ([]Measurement, error) {
	return r.matching(q), nil
}

func (r *mockMeasurementRepo) Count(_ context.Context, q Query) (int, error) {
	return len(r.matching(q)), nil
}

func (r *mockMeasurementRepo) FindOne(_ context.Context, patientID, id string) (Measurement, error) {
	for _, m := range r.store {
		if m.Header().ID == id && m.Header().PatientID == patientID {
			return m, nil
		}
	}
	return nil, apperr.NotFound("Measurement not found!", "")
}

func (r *mockMeasurementRepo) FindLast(_ context.Context, patientID string, t Type, before *time.Time) (Measurement, error) {
	var candidates []Measurement
	for _, m := range r.matching(Query{PatientID: patientID, Type: t}) {
		if before != nil && m.Time() != "" {
			ts, _ := validator.ParseDatetime(m.Time())
			if ts.After(*before) {
				continue
			}
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return instant(candidates[i]).After(instant(candidates[j])) })
	return candidates[0], nil
}

func (r *mockMeasurementRepo) Update(_ context.Context, m Measurement) error {
	for i, s := range r.store {
		if s.Header().ID == m.Header().ID {
			r.store[i] = m
			return nil
		}
	}
	return apperr.NotFound("Measurement not found!", "")
}

func (r *mockMeasurementRepo) Delete(_ context.Context, patientID, id string) (bool, error) {
	for i, m := range r.store {
		if m.Header().ID == id && m.Header().PatientID == patientID {
			r.store = append(r.store[:i], r.store[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *mockMeasurementRepo) FindDuplicate(_ context.Context, key DuplicateKey) (string, error) {
	want, err := toGeneric(key.Fields)
	if err != nil {
		return "", err
	}
	for _, m := range r.matching(Query{PatientID: key.PatientID, Type: key.Type}) {
		if m.Header().DeviceID != key.DeviceID {
			continue
		}
		if (key.Timestamp == nil) != (m.Time() == "") {
			continue
		}
		if key.Timestamp != nil {
			ts, _ := validator.ParseDatetime(m.Time())
			if !ts.Equal(*key.Timestamp) {
				continue
			}
		}
		have, err := toGeneric(m)
		if err != nil {
			return "", err
		}
		if contains(have, want) {
			return m.Header().ID, nil
		}
	}
	return "", nil
}

func (r *mockMeasurementRepo) UpsertLatest(ctx context.Context, m Measurement) (Measurement, bool, error) {
	h := m.Header()
	last, _ := r.FindLast(ctx, h.PatientID, h.Type, nil)
	if last == nil {
		created, err := r.Create(ctx, m)
		return created, err == nil, err
	}
	updated := WithID(m, last.Header().ID)
	if instant(m).Before(instant(last)) {
		return updated, false, nil
	}
	return updated, true, r.Update(ctx, updated)
}

func (r *mockMeasurementRepo) RemoveAllByPatient(_ context.Context, patientID string) (int64, error) {
	var kept []Measurement
	var removed int64
	for _, m := range r.store {
		if m.Header().PatientID == patientID {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	r.store = kept
	return removed, nil
}

// toGeneric round-trips v through JSON so it can be compared structurally.
func toGeneric(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var out interface{}
	err = json.Unmarshal(raw, &out)
	return out, err
}

// instant is the stored timestamp column of m, zero when m has none.
func instant(m Measurement) time.Time {
	t, _ := validator.ParseDatetime(m.Time())
	return t
}

// contains mirrors FindDuplicate: objects match by containment, arrays and
// scalars must be equal.
func contains(have, want interface{}) bool {
	wm, ok := want.(map[string]interface{})
	if !ok {
		return reflect.DeepEqual(have, want)
	}
	hm, ok := have.(map[string]interface{})
	if !ok {
		return false
	}
	for k, wv := range wm {
		if !contains(hm[k], wv) {
			return false
		}
	}
	return true
}

type inlineTx struct{ calls int }

func (t *inlineTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

type stubDevices struct{ known map[string]bool }

func (d stubDevices) CheckExists(_ context.Context, id string) (bool, error) {
	return d.known[id], nil
}

type recordingNotifier struct{ notified []Measurement }

func (n *recordingNotifier) NotifyLastSave(_ context.Context, m Measurement) {
	n.notified = append(n.notified, m)
}
