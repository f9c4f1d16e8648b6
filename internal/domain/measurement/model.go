// Package measurement implements the health measurement variants, their
// validation, persistence and the dispatch service used by the REST API and
// the sync event handlers.
package measurement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

// Context qualifies a measurement, e.g. the carbohydrate intake around a
// glucose reading.
type Context struct {
	Value string `json:"value,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Base carries the fields shared by every variant.
type Base struct {
	ID        string    `json:"id,omitempty"`
	Type      Type      `json:"type,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	PatientID string    `json:"patient_id,omitempty"`
	Contexts  []Context `json:"contexts,omitempty"`
}

func (b Base) Header() Base { return b }

func (b Base) clone() Base {
	if b.Contexts != nil {
		b.Contexts = append([]Context(nil), b.Contexts...)
	}
	return b
}

// Measurement is the closed set of variants. Values are treated as
// immutable; use the With* helpers to derive modified copies.
type Measurement interface {
	Header() Base
	// Time is the ISO-8601 instant the measurement refers to, "" if unset.
	Time() string
	with(Base) Measurement
	// naturalKey lists the value-defining fields used for duplicate detection.
	naturalKey() map[string]interface{}
}

// Scalar is the shape shared by single-value measurements.
type Scalar struct {
	Base
	Value     *float64 `json:"value,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

func (s Scalar) Time() string { return s.Timestamp }

func (s Scalar) naturalKey() map[string]interface{} {
	key := map[string]interface{}{"unit": s.Unit}
	if s.Value != nil {
		key["value"] = *s.Value
	}
	return key
}

func (s Scalar) cloneScalar(b Base) Scalar {
	s.Base = b.clone()
	if s.Value != nil {
		v := *s.Value
		s.Value = &v
	}
	return s
}

type BloodGlucose struct {
	Scalar
	Meal string `json:"meal,omitempty"`
}

func (m *BloodGlucose) with(b Base) Measurement {
	c := *m
	c.Scalar = m.cloneScalar(b)
	return &c
}

func (m *BloodGlucose) naturalKey() map[string]interface{} {
	key := m.Scalar.naturalKey()
	key["meal"] = m.Meal
	return key
}

type BloodPressure struct {
	Base
	Systolic  *float64 `json:"systolic,omitempty"`
	Diastolic *float64 `json:"diastolic,omitempty"`
	Pulse     *float64 `json:"pulse,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

func (m *BloodPressure) Time() string { return m.Timestamp }

func (m *BloodPressure) with(b Base) Measurement {
	c := *m
	c.Base = b.clone()
	c.Systolic, c.Diastolic, c.Pulse = copyFloat(m.Systolic), copyFloat(m.Diastolic), copyFloat(m.Pulse)
	return &c
}

func (m *BloodPressure) naturalKey() map[string]interface{} {
	key := map[string]interface{}{"unit": m.Unit}
	for name, v := range map[string]*float64{"systolic": m.Systolic, "diastolic": m.Diastolic, "pulse": m.Pulse} {
		if v != nil {
			key[name] = *v
		}
	}
	return key
}

type BodyTemperature struct{ Scalar }

func (m *BodyTemperature) with(b Base) Measurement {
	return &BodyTemperature{Scalar: m.cloneScalar(b)}
}

type Height struct{ Scalar }

func (m *Height) with(b Base) Measurement { return &Height{Scalar: m.cloneScalar(b)} }

type WaistCircumference struct{ Scalar }

func (m *WaistCircumference) with(b Base) Measurement {
	return &WaistCircumference{Scalar: m.cloneScalar(b)}
}

type BodyFat struct{ Scalar }

func (m *BodyFat) with(b Base) Measurement { return &BodyFat{Scalar: m.cloneScalar(b)} }

// Fat is the body fat percentage recorded alongside a Weight.
type Fat struct{ Scalar }

func (m *Fat) with(b Base) Measurement { return &Fat{Scalar: m.cloneScalar(b)} }

type Weight struct {
	Scalar
	Fat             *Fat     `json:"fat,omitempty"`
	AnnualVariation string   `json:"annual_variation,omitempty"`
	BodyFat         *float64 `json:"body_fat,omitempty"`
}

func (m *Weight) with(b Base) Measurement {
	c := *m
	c.Scalar = m.cloneScalar(b)
	c.BodyFat = copyFloat(m.BodyFat)
	if m.Fat != nil {
		c.Fat = m.Fat.with(m.Fat.Base).(*Fat)
	}
	return &c
}

// WithFat returns a copy of w holding fat.
func (m *Weight) WithFat(fat *Fat) *Weight {
	c := m.with(m.Base).(*Weight)
	c.Fat = fat
	return c
}

func (m *Weight) naturalKey() map[string]interface{} {
	key := m.Scalar.naturalKey()
	if m.AnnualVariation != "" {
		key["annual_variation"] = m.AnnualVariation
	}
	return key
}

// DataSetItem is one heart rate sample.
type DataSetItem struct {
	Value     *float64 `json:"value,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

type HeartRate struct {
	Base
	Dataset []DataSetItem `json:"dataset,omitempty"`
}

// Time is the timestamp of the newest sample, compared as instants so
// mixed offsets order correctly. Unparseable samples are ignored.
func (m *HeartRate) Time() string {
	var (
		latest   string
		latestAt time.Time
	)
	for _, item := range m.Dataset {
		at, err := validator.ParseDatetime(item.Timestamp)
		if err != nil {
			continue
		}
		if latest == "" || at.After(latestAt) {
			latest, latestAt = item.Timestamp, at
		}
	}
	return latest
}

func (m *HeartRate) with(b Base) Measurement {
	c := *m
	c.Base = b.clone()
	if m.Dataset != nil {
		c.Dataset = make([]DataSetItem, len(m.Dataset))
		for i, item := range m.Dataset {
			c.Dataset[i] = DataSetItem{Value: copyFloat(item.Value), Timestamp: item.Timestamp}
		}
	}
	return &c
}

func (m *HeartRate) naturalKey() map[string]interface{} {
	return map[string]interface{}{"unit": m.Unit, "dataset": m.Dataset}
}

type HandGrip struct {
	Scalar
	Hand string `json:"hand,omitempty"`
}

func (m *HandGrip) with(b Base) Measurement {
	c := *m
	c.Scalar = m.cloneScalar(b)
	return &c
}

func (m *HandGrip) naturalKey() map[string]interface{} {
	key := m.Scalar.naturalKey()
	key["hand"] = m.Hand
	return key
}

type CalfCircumference struct {
	Scalar
	Leg string `json:"leg,omitempty"`
}

func (m *CalfCircumference) with(b Base) Measurement {
	c := *m
	c.Scalar = m.cloneScalar(b)
	return &c
}

func (m *CalfCircumference) naturalKey() map[string]interface{} {
	key := m.Scalar.naturalKey()
	key["leg"] = m.Leg
	return key
}

// WithID returns a copy of m carrying id.
func WithID(m Measurement, id string) Measurement {
	b := m.Header()
	b.ID = id
	return m.with(b)
}

// WithPatient returns a copy of m owned by patientID.
func WithPatient(m Measurement, patientID string) Measurement {
	b := m.Header()
	b.PatientID = patientID
	return m.with(b)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float is a helper for building measurements in code and tests.
func Float(v float64) *float64 { return &v }

// LastMeasurements is the newest record of each tracked type for a patient.
type LastMeasurements struct {
	BloodGlucose       *BloodGlucose
	BloodPressure      *BloodPressure
	BodyTemperature    *BodyTemperature
	Height             *Height
	WaistCircumference *WaistCircumference
	Weight             *Weight
	HeartRate          *HeartRate
	HandGrip           *HandGrip
	CalfCircumference  *CalfCircumference
}

// LastMeasurementTypes are the types collected into LastMeasurements.
var LastMeasurementTypes = []Type{
	TypeBloodGlucose, TypeBloodPressure, TypeBodyTemperature, TypeHeight,
	TypeWaistCircumference, TypeWeight, TypeHeartRate, TypeHandGrip, TypeCalfCircumference,
}

func (l *LastMeasurements) set(m Measurement) {
	switch v := m.(type) {
	case *BloodGlucose:
		l.BloodGlucose = v
	case *BloodPressure:
		l.BloodPressure = v
	case *BodyTemperature:
		l.BodyTemperature = v
	case *Height:
		l.Height = v
	case *WaistCircumference:
		l.WaistCircumference = v
	case *Weight:
		l.Weight = v
	case *HeartRate:
		l.HeartRate = v
	case *HandGrip:
		l.HandGrip = v
	case *CalfCircumference:
		l.CalfCircumference = v
	}
}

type lastEntry struct {
	key     string
	present bool
	value   Measurement
}

func (l LastMeasurements) entries() []lastEntry {
	return []lastEntry{
		{"blood_glucose", l.BloodGlucose != nil, l.BloodGlucose},
		{"blood_pressure", l.BloodPressure != nil, l.BloodPressure},
		{"body_temperature", l.BodyTemperature != nil, l.BodyTemperature},
		{"height", l.Height != nil, l.Height},
		{"waist_circumference", l.WaistCircumference != nil, l.WaistCircumference},
		{"weight", l.Weight != nil, l.Weight},
		{"heart_rate", l.HeartRate != nil, l.HeartRate},
		{"hand_grip", l.HandGrip != nil, l.HandGrip},
		{"calf_circumference", l.CalfCircumference != nil, l.CalfCircumference},
	}
}

// MarshalJSON renders missing types as empty objects rather than null.
func (l LastMeasurements) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range l.entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"` + e.key + `":`)
		if !e.present {
			buf.WriteString("{}")
			continue
		}
		raw, err := json.Marshal(e.value)
		if err != nil {
			return nil, fmt.Errorf("marshal last %s: %w", e.key, err)
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
