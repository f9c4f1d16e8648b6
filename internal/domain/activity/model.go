// Package activity stores the physical activities synchronised from external
// trackers.
package activity

import (
	"encoding/json"
	"fmt"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

// Level is the time spent at one intensity, e.g. "sedentary" or "very".
type Level struct {
	Name     string `json:"name"`
	Duration int64  `json:"duration"`
}

var LevelNames = []string{"sedentary", "lightly", "fairly", "very"}

// PhysicalActivity is one tracked session. Durations are in milliseconds.
type PhysicalActivity struct {
	ID        string          `json:"id,omitempty"`
	PatientID string          `json:"patient_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	StartTime string          `json:"start_time,omitempty"`
	EndTime   string          `json:"end_time,omitempty"`
	Duration  *int64          `json:"duration,omitempty"`
	Calories  *float64        `json:"calories,omitempty"`
	Steps     *int64          `json:"steps,omitempty"`
	Distance  *float64        `json:"distance,omitempty"`
	Levels    []Level         `json:"levels,omitempty"`
	HeartRate json.RawMessage `json:"heart_rate,omitempty"`
}

// WithPatient returns a copy of a owned by patientID.
func (a PhysicalActivity) WithPatient(patientID string) PhysicalActivity {
	a.PatientID = patientID
	if a.Levels != nil {
		a.Levels = append([]Level(nil), a.Levels...)
	}
	return a
}

// Validate applies the create rules of a synchronised activity.
func (a PhysicalActivity) Validate() error {
	if err := validator.NewRequired("PhysicalActivity").
		CheckString("patient_id", a.PatientID).
		CheckString("start_time", a.StartTime).
		CheckString("end_time", a.EndTime).
		Check("duration", a.Duration != nil).Err(); err != nil {
		return err
	}
	if err := validator.ObjectID(a.PatientID); err != nil {
		return err
	}
	if err := validator.Interval(a.StartTime, a.EndTime); err != nil {
		return err
	}
	if err := validator.NonNegative("PhysicalActivity", "duration", float64(*a.Duration)); err != nil {
		return err
	}
	checks := map[string]*float64{"calories": a.Calories, "distance": a.Distance}
	if a.Steps != nil {
		steps := float64(*a.Steps)
		checks["steps"] = &steps
	}
	for _, field := range []string{"calories", "steps", "distance"} {
		if v := checks[field]; v != nil {
			if err := validator.NonNegative("PhysicalActivity", field, *v); err != nil {
				return err
			}
		}
	}
	for _, l := range a.Levels {
		if err := validator.OneOf("level name", l.Name, LevelNames); err != nil {
			return err
		}
		if l.Duration < 0 {
			return apperr.Validation("PhysicalActivity validation: level duration must not be negative.",
				fmt.Sprintf("The duration of level %s was %d.", l.Name, l.Duration))
		}
	}
	return nil
}
