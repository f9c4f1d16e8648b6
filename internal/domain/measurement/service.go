package measurement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
	"github.com/haniot/mhealth-sub002/internal/platform/db"
	"github.com/haniot/mhealth-sub002/internal/platform/metrics"
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

// DeviceChecker reports whether a device is registered.
type DeviceChecker interface {
	CheckExists(ctx context.Context, id string) (bool, error)
}

// LastSaveNotifier is told about a Weight or Height that became the newest
// record of its patient. Implementations own their delivery failures.
type LastSaveNotifier interface {
	NotifyLastSave(ctx context.Context, m Measurement)
}

const (
	sourceAPI  = "api"
	sourceSync = "sync"
)

type Service struct {
	repo     Repository
	devices  DeviceChecker
	tx       db.TxRunner
	notifier LastSaveNotifier
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

func NewService(repo Repository, devices DeviceChecker, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, devices: devices, tx: tx, logger: logger}
}

// SetNotifier attaches the last-save notifier used after API writes.
func (s *Service) SetNotifier(n LastSaveNotifier) { s.notifier = n }

// SetMetrics attaches an optional metrics collector.
func (s *Service) SetMetrics(c *metrics.Collector) { s.metrics = c }

// StatusSuccess is one created item of a multi-status result.
type StatusSuccess struct {
	Code int         `json:"code"`
	Item Measurement `json:"item"`
}

// StatusError is one rejected item; Item is the input exactly as received.
type StatusError struct {
	Code        int             `json:"code"`
	Message     string          `json:"message"`
	Description string          `json:"description,omitempty"`
	Item        json.RawMessage `json:"item"`
}

// MultiStatus reports the outcome of every item of a batch.
type MultiStatus struct {
	Success []StatusSuccess `json:"success"`
	Error   []StatusError   `json:"error"`
}

// Add creates a single measurement for patientID and returns the first error.
func (s *Service) Add(ctx context.Context, patientID string, raw json.RawMessage) (Measurement, error) {
	if err := validator.ObjectID(patientID); err != nil {
		return nil, err
	}
	m, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, WithPatient(m, patientID))
}

// AddMany processes items sequentially; a failed item never aborts the batch.
func (s *Service) AddMany(ctx context.Context, patientID string, items []json.RawMessage) MultiStatus {
	result := MultiStatus{Success: []StatusSuccess{}, Error: []StatusError{}}
	for _, raw := range items {
		created, err := s.Add(ctx, patientID, raw)
		if err != nil {
			body := apperr.Body(err)
			result.Error = append(result.Error, StatusError{
				Code:        apperr.StatusCode(err),
				Message:     body.Message,
				Description: body.Description,
				Item:        raw,
			})
			continue
		}
		result.Success = append(result.Success, StatusSuccess{Code: http.StatusCreated, Item: created})
	}
	return result
}

// Create validates and stores an already decoded measurement.
func (s *Service) Create(ctx context.Context, m Measurement) (Measurement, error) {
	if w, ok := m.(*Weight); ok {
		m = InheritFat(w)
	}
	if err := Validate(m); err != nil {
		return nil, err
	}
	if err := s.checkDevice(ctx, m.Header().DeviceID); err != nil {
		return nil, err
	}
	if err := s.checkDuplicate(ctx, m); err != nil {
		return nil, err
	}

	var created Measurement
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if w, ok := m.(*Weight); ok && w.Fat != nil {
			fat, err := s.repo.Create(ctx, w.Fat)
			if err != nil {
				return err
			}
			m = w.WithFat(fat.(*Fat))
		}
		var err error
		created, err = s.repo.Create(ctx, m)
		return err
	})
	if err != nil {
		return nil, err
	}

	h := created.Header()
	s.metrics.MeasurementCreated(string(h.Type), sourceAPI)
	s.logger.Debug().Str("measurement_id", h.ID).Str("type", string(h.Type)).Msg("measurement created")
	s.notifyIfLatest(ctx, created)
	return created, nil
}

func (s *Service) checkDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" || s.devices == nil {
		return nil
	}
	exists, err := s.devices.CheckExists(ctx, deviceID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("Device not found!",
			fmt.Sprintf("Device with ID: %s is not registered on the platform.", deviceID))
	}
	return nil
}

func duplicateKey(m Measurement) DuplicateKey {
	h := m.Header()
	key := DuplicateKey{PatientID: h.PatientID, Type: h.Type, DeviceID: h.DeviceID, Fields: m.naturalKey()}
	if raw := m.Time(); raw != "" {
		if t, err := validator.ParseDatetime(raw); err == nil {
			key.Timestamp = &t
		}
	}
	return key
}

// checkDuplicate rejects m when an equal record exists. A Weight carrying fat
// is only a duplicate when its fat is one too.
func (s *Service) checkDuplicate(ctx context.Context, m Measurement) error {
	key := duplicateKey(m)
	if w, ok := m.(*Weight); ok && w.Fat != nil {
		fatID, err := s.repo.FindDuplicate(ctx, duplicateKey(w.Fat))
		if err != nil {
			return err
		}
		if fatID == "" {
			return nil
		}
		key.Fields["fat"] = map[string]interface{}{"id": fatID}
	}
	id, err := s.repo.FindDuplicate(ctx, key)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	device := key.DeviceID
	if device == "" {
		device = "none"
	}
	return apperr.Conflict("Measurement already registered!",
		fmt.Sprintf("A %s measurement from patient %s, device %s and timestamp %s is already registered.",
			key.Type, key.PatientID, device, m.Time()))
}

func (s *Service) notifyIfLatest(ctx context.Context, m Measurement) {
	h := m.Header()
	if s.notifier == nil || (h.Type != TypeWeight && h.Type != TypeHeight) {
		return
	}
	last, err := s.repo.FindLast(ctx, h.PatientID, h.Type, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("measurement_id", h.ID).Msg("could not resolve last measurement")
		return
	}
	if last != nil && last.Header().ID == h.ID {
		s.notifier.NotifyLastSave(ctx, m)
	}
}

// GetAll lists measurements of q.PatientID with the total match count.
func (s *Service) GetAll(ctx context.Context, q Query) ([]Measurement, int, error) {
	if err := validator.ObjectID(q.PatientID); err != nil {
		return nil, 0, err
	}
	if q.DeviceID != "" {
		if err := validator.ObjectID(q.DeviceID); err != nil {
			return nil, 0, err
		}
	}
	if q.Type != "" {
		if err := ValidateMeasurementType(string(q.Type)); err != nil {
			return nil, 0, err
		}
	}
	items, err := s.repo.Find(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) GetByID(ctx context.Context, patientID, id string) (Measurement, error) {
	if err := validateIDs(patientID, id); err != nil {
		return nil, err
	}
	return s.repo.FindOne(ctx, patientID, id)
}

// Remove deletes one measurement; removing a missing one is not an error.
func (s *Service) Remove(ctx context.Context, patientID, id string) error {
	if err := validateIDs(patientID, id); err != nil {
		return err
	}
	_, err := s.repo.Delete(ctx, patientID, id)
	return err
}

// Update merges the partial payload raw over the stored record.
func (s *Service) Update(ctx context.Context, patientID, id string, raw json.RawMessage) (Measurement, error) {
	if err := validateIDs(patientID, id); err != nil {
		return nil, err
	}
	stored, err := s.repo.FindOne(ctx, patientID, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateUpdate(stored.Header().Type, raw); err != nil {
		return nil, err
	}
	merged, err := merge(stored, raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(merged); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func merge(stored Measurement, raw json.RawMessage) (Measurement, error) {
	base, err := Encode(stored)
	if err != nil {
		return nil, err
	}
	var fields, patch map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, apperr.Validation("Invalid measurement payload!", err.Error())
	}
	for k, v := range patch {
		fields[k] = v
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	m, err := Decode(out)
	if err != nil {
		return nil, err
	}
	return WithID(m, stored.Header().ID), nil
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if err := validator.ObjectID(id); err != nil {
			return err
		}
	}
	return nil
}

// LastMeasurements collects the newest record of each tracked type,
// optionally as of the end of a given day.
func (s *Service) LastMeasurements(ctx context.Context, patientID string, asOf *time.Time) (LastMeasurements, error) {
	var result LastMeasurements
	if err := validator.ObjectID(patientID); err != nil {
		return result, err
	}
	found := make([]Measurement, len(LastMeasurementTypes))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range LastMeasurementTypes {
		i, t := i, t
		g.Go(func() error {
			m, err := s.repo.FindLast(gctx, patientID, t, asOf)
			found[i] = m
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	for _, m := range found {
		if m != nil {
			result.set(m)
		}
	}
	return result, nil
}

// Sync reconciles a measurement received from an external system using the
// most-recent-wins policy. A Weight carrying fat also refreshes the patient's
// body_fat record. The returned bool is false when m was older than the
// stored record.
func (s *Service) Sync(ctx context.Context, m Measurement) (Measurement, bool, error) {
	if w, ok := m.(*Weight); ok {
		m = InheritFat(w)
	}
	if err := Validate(m); err != nil {
		return nil, false, err
	}
	var (
		saved   Measurement
		changed bool
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if w, ok := m.(*Weight); ok {
			if bf := bodyFatOf(w); bf != nil {
				if _, _, err := s.repo.UpsertLatest(ctx, bf); err != nil {
					return err
				}
			}
		}
		var err error
		saved, changed, err = s.repo.UpsertLatest(ctx, m)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.metrics.MeasurementCreated(string(saved.Header().Type), sourceSync)
	}
	return saved, changed, nil
}

// bodyFatOf derives the body_fat record stored alongside a synced weight.
func bodyFatOf(w *Weight) *BodyFat {
	value := copyFloat(w.BodyFat)
	if value == nil && w.Fat != nil {
		value = copyFloat(w.Fat.Value)
	}
	if value == nil {
		return nil
	}
	return &BodyFat{Scalar: Scalar{
		Base: Base{
			Type:      TypeBodyFat,
			Unit:      UnitPercentage,
			DeviceID:  w.DeviceID,
			PatientID: w.PatientID,
		},
		Value:     value,
		Timestamp: w.Timestamp,
	}}
}

// RemoveAllByPatient deletes every measurement of patientID.
func (s *Service) RemoveAllByPatient(ctx context.Context, patientID string) (int64, error) {
	if err := validator.ObjectID(patientID); err != nil {
		return 0, err
	}
	return s.repo.RemoveAllByPatient(ctx, patientID)
}
