package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/haniot/mhealth-sub002/internal/domain/activity"
	"github.com/haniot/mhealth-sub002/internal/domain/measurement"
	"github.com/haniot/mhealth-sub002/internal/domain/sleep"
	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
	"github.com/haniot/mhealth-sub002/internal/platform/bus"
	"github.com/haniot/mhealth-sub002/internal/platform/metrics"
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

type MeasurementSyncer interface {
	Sync(ctx context.Context, m measurement.Measurement) (measurement.Measurement, bool, error)
}

type ActivitySyncer interface {
	Sync(ctx context.Context, a activity.PhysicalActivity) (activity.PhysicalActivity, error)
}

type SleepSyncer interface {
	Sync(ctx context.Context, s sleep.Sleep) (sleep.Sleep, error)
}

// PatientDataRemover deletes every record of one kind owned by a patient.
type PatientDataRemover interface {
	RemoveAllByPatient(ctx context.Context, patientID string) (int64, error)
}

// DerivedPublisher publishes follow-on events without reporting failure.
type DerivedPublisher interface {
	Publish(ctx context.Context, et EventType, payload interface{})
}

// batch tracks the per-item outcome of one event. Successes are only
// counted; failures are logged one by one.
type batch struct {
	et        EventType
	logger    zerolog.Logger
	metrics   *metrics.Collector
	succeeded int
	failed    int
}

func newBatch(et EventType, logger zerolog.Logger, m *metrics.Collector) *batch {
	return &batch{et: et, logger: logger.With().Str("event_name", et.Name).Logger(), metrics: m}
}

func (b *batch) ok() {
	b.succeeded++
	b.metrics.EventHandled(b.et.Name, true)
}

func (b *batch) fail(index int, item json.RawMessage, err error) {
	b.failed++
	b.metrics.EventHandled(b.et.Name, false)
	body := apperr.Body(err)
	b.logger.Warn().Int("item", index).Str("message", body.Message).Str("description", body.Description).
		RawJSON("payload", item).Msg("event item not processed")
}

func (b *batch) summary() {
	b.logger.Info().Int("succeeded", b.succeeded).Int("failed", b.failed).
		Msgf("%s processed: %d succeeded / %d failed", b.et.Name, b.succeeded, b.failed)
}

// WeightSyncHandler upserts synchronised weights and announces the newest one.
type WeightSyncHandler struct {
	measurements MeasurementSyncer
	publisher    DerivedPublisher
	metrics      *metrics.Collector
	logger       zerolog.Logger
}

func NewWeightSyncHandler(ms MeasurementSyncer, pub DerivedPublisher, m *metrics.Collector, logger zerolog.Logger) *WeightSyncHandler {
	return &WeightSyncHandler{measurements: ms, publisher: pub, metrics: m, logger: logger}
}

func (h *WeightSyncHandler) Handle(ctx context.Context, body []byte) error {
	env, err := ParseEnvelope(WeightSyncEvent, body)
	if err != nil {
		return err
	}
	items, err := env.Items()
	if err != nil {
		return err
	}

	b := newBatch(WeightSyncEvent, h.logger, h.metrics)
	var (
		newest   measurement.Measurement
		newestAt time.Time
	)
	for i, item := range items {
		saved, changed, err := h.syncItem(ctx, item)
		if err != nil {
			b.fail(i, item, err)
			continue
		}
		b.ok()
		if !changed {
			continue
		}
		// Strictly newer only: on a tie the first occurrence wins.
		at, _ := validator.ParseDatetime(saved.Time())
		if newest == nil || at.After(newestAt) {
			newest, newestAt = saved, at
		}
	}
	b.summary()

	if newest != nil {
		h.publisher.Publish(ctx, WeightLastSaveEvent, newest)
	}
	return nil
}

func (h *WeightSyncHandler) syncItem(ctx context.Context, item json.RawMessage) (measurement.Measurement, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return nil, false, apperr.Validation("Invalid weight!", "Each weight must be a JSON object.")
	}
	if _, ok := fields["type"]; !ok {
		fields["type"], _ = json.Marshal(measurement.TypeWeight)
	}
	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, false, err
	}
	m, err := measurement.Decode(normalized)
	if err != nil {
		return nil, false, err
	}
	if _, ok := m.(*measurement.Weight); !ok {
		return nil, false, apperr.Validation(
			fmt.Sprintf("Value not mapped for type: %s", m.Header().Type),
			"The type of this measurement must be: weight.")
	}
	return h.measurements.Sync(ctx, m)
}

// PhysicalActivitySyncHandler upserts synchronised activities.
type PhysicalActivitySyncHandler struct {
	activities ActivitySyncer
	metrics    *metrics.Collector
	logger     zerolog.Logger
}

func NewPhysicalActivitySyncHandler(as ActivitySyncer, m *metrics.Collector, logger zerolog.Logger) *PhysicalActivitySyncHandler {
	return &PhysicalActivitySyncHandler{activities: as, metrics: m, logger: logger}
}

func (h *PhysicalActivitySyncHandler) Handle(ctx context.Context, body []byte) error {
	env, err := ParseEnvelope(PhysicalActivitySyncEvent, body)
	if err != nil {
		return err
	}
	items, err := env.Items()
	if err != nil {
		return err
	}
	b := newBatch(PhysicalActivitySyncEvent, h.logger, h.metrics)
	for i, item := range items {
		var a activity.PhysicalActivity
		if err := decodeItem(item, &a); err != nil {
			b.fail(i, item, err)
			continue
		}
		if _, err := h.activities.Sync(ctx, a); err != nil {
			b.fail(i, item, err)
			continue
		}
		b.ok()
	}
	b.summary()
	return nil
}

// SleepSyncHandler upserts synchronised sleep sessions.
type SleepSyncHandler struct {
	sleep   SleepSyncer
	metrics *metrics.Collector
	logger  zerolog.Logger
}

func NewSleepSyncHandler(ss SleepSyncer, m *metrics.Collector, logger zerolog.Logger) *SleepSyncHandler {
	return &SleepSyncHandler{sleep: ss, metrics: m, logger: logger}
}

func (h *SleepSyncHandler) Handle(ctx context.Context, body []byte) error {
	env, err := ParseEnvelope(SleepSyncEvent, body)
	if err != nil {
		return err
	}
	items, err := env.Items()
	if err != nil {
		return err
	}
	b := newBatch(SleepSyncEvent, h.logger, h.metrics)
	for i, item := range items {
		var s sleep.Sleep
		if err := decodeItem(item, &s); err != nil {
			b.fail(i, item, err)
			continue
		}
		if _, err := h.sleep.Sync(ctx, s); err != nil {
			b.fail(i, item, err)
			continue
		}
		b.ok()
	}
	b.summary()
	return nil
}

// decodeItem unmarshals item into dst, accepting user_id for patient_id.
func decodeItem(item json.RawMessage, dst interface{}) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return apperr.Validation("Invalid event item!", "Each item must be a JSON object.")
	}
	if uid, ok := fields["user_id"]; ok {
		if _, has := fields["patient_id"]; !has {
			fields["patient_id"] = uid
		}
	}
	normalized, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(normalized, dst); err != nil {
		return apperr.Validation("Invalid event item!", err.Error())
	}
	return nil
}

// UserDeleteHandler cascades a user deletion to every record of the patient.
type UserDeleteHandler struct {
	removers map[string]PatientDataRemover
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

func NewUserDeleteHandler(measurements, sleeps, activities PatientDataRemover, m *metrics.Collector, logger zerolog.Logger) *UserDeleteHandler {
	return &UserDeleteHandler{
		removers: map[string]PatientDataRemover{
			"measurements": measurements,
			"sleep":        sleeps,
			"activities":   activities,
		},
		metrics: m,
		logger:  logger.With().Str("event_name", UserDeleteEvent.Name).Logger(),
	}
}

type deletedUser struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (h *UserDeleteHandler) Handle(ctx context.Context, body []byte) error {
	env, err := ParseEnvelope(UserDeleteEvent, body)
	if err != nil {
		return err
	}
	var user deletedUser
	if err := json.Unmarshal(env.Payload, &user); err != nil {
		return apperr.Validation("Invalid event!", "user must be a JSON object.")
	}
	if err := validator.NewRequired("User").CheckString("id", user.ID).CheckString("type", user.Type).Err(); err != nil {
		return err
	}
	if err := validator.ObjectID(user.ID); err != nil {
		return err
	}

	// Every delete runs to completion regardless of the others.
	var g errgroup.Group
	for name, remover := range h.removers {
		name, remover := name, remover
		g.Go(func() error {
			n, err := remover.RemoveAllByPatient(ctx, user.ID)
			if err != nil {
				h.metrics.EventHandled(UserDeleteEvent.Name, false)
				h.logger.Error().Err(err).Str("patient_id", user.ID).Str("collection", name).Msg("cascade delete failed")
				return nil
			}
			h.metrics.EventHandled(UserDeleteEvent.Name, true)
			h.logger.Info().Str("patient_id", user.ID).Str("collection", name).Int64("removed", n).Msg("patient data removed")
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// Handlers bundles the subscriptions of the service.
type Handlers struct {
	WeightSync           *WeightSyncHandler
	PhysicalActivitySync *PhysicalActivitySyncHandler
	SleepSync            *SleepSyncHandler
	UserDelete           *UserDeleteHandler
}

// Subscriber is the subscribe side of the event bus.
type Subscriber interface {
	Subscribe(routingKey string, h bus.Handler)
}

// Register binds every handler to its routing key.
func (h Handlers) Register(s Subscriber) {
	s.Subscribe(WeightSyncEvent.RoutingKey, h.WeightSync.Handle)
	s.Subscribe(PhysicalActivitySyncEvent.RoutingKey, h.PhysicalActivitySync.Handle)
	s.Subscribe(SleepSyncEvent.RoutingKey, h.SleepSync.Handle)
	s.Subscribe(UserDeleteEvent.RoutingKey, h.UserDelete.Handle)
}
