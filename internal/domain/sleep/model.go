// Package sleep stores the sleep sessions synchronised from external
// trackers.
package sleep

import (
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

const (
	TypeClassic = "classic"
	TypeStages  = "stages"
)

var Types = []string{TypeClassic, TypeStages}

// patternNames lists the phase names allowed for each sleep type.
var patternNames = map[string][]string{
	TypeClassic: {"asleep", "restless", "awake"},
	TypeStages:  {"deep", "light", "rem", "awake"},
}

// PatternItem is one contiguous phase of a session.
type PatternItem struct {
	StartTime string `json:"start_time,omitempty"`
	Name      string `json:"name,omitempty"`
	Duration  *int64 `json:"duration,omitempty"`
}

// PhaseSummary aggregates the phases sharing a name.
type PhaseSummary struct {
	Count    int   `json:"count"`
	Duration int64 `json:"duration"`
}

type Pattern struct {
	DataSet []PatternItem           `json:"data_set"`
	Summary map[string]PhaseSummary `json:"summary,omitempty"`
}

// Sleep is one session. Durations are in milliseconds.
type Sleep struct {
	ID        string   `json:"id,omitempty"`
	PatientID string   `json:"patient_id,omitempty"`
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`
	Duration  *int64   `json:"duration,omitempty"`
	Type      string   `json:"type,omitempty"`
	Pattern   *Pattern `json:"pattern,omitempty"`
}

// WithPatient returns a copy of s owned by patientID.
func (s Sleep) WithPatient(patientID string) Sleep {
	s.PatientID = patientID
	if s.Pattern != nil {
		p := *s.Pattern
		p.DataSet = append([]PatternItem(nil), p.DataSet...)
		s.Pattern = &p
	}
	return s
}

// WithSummary returns a copy of s whose pattern summary is recomputed from
// the data set.
func (s Sleep) WithSummary() Sleep {
	if s.Pattern == nil {
		return s
	}
	c := s.WithPatient(s.PatientID)
	summary := make(map[string]PhaseSummary, len(patternNames[s.Type]))
	for _, item := range c.Pattern.DataSet {
		ps := summary[item.Name]
		ps.Count++
		if item.Duration != nil {
			ps.Duration += *item.Duration
		}
		summary[item.Name] = ps
	}
	c.Pattern.Summary = summary
	return c
}

// Validate applies the create rules of a synchronised sleep session.
func (s Sleep) Validate() error {
	if err := validator.NewRequired("Sleep").
		CheckString("patient_id", s.PatientID).
		CheckString("start_time", s.StartTime).
		CheckString("end_time", s.EndTime).
		Check("duration", s.Duration != nil).
		CheckString("type", s.Type).Err(); err != nil {
		return err
	}
	if err := validator.ObjectID(s.PatientID); err != nil {
		return err
	}
	if err := validator.Interval(s.StartTime, s.EndTime); err != nil {
		return err
	}
	if err := validator.NonNegative("Sleep", "duration", float64(*s.Duration)); err != nil {
		return err
	}
	if err := validator.OneOf("type", s.Type, Types); err != nil {
		return err
	}
	if s.Pattern == nil {
		return nil
	}
	for _, item := range s.Pattern.DataSet {
		if err := validator.NewRequired("Sleep pattern item").
			CheckString("start_time", item.StartTime).
			CheckString("name", item.Name).
			Check("duration", item.Duration != nil).Err(); err != nil {
			return err
		}
		if err := validator.Datetime(item.StartTime); err != nil {
			return err
		}
		if err := validator.OneOf("pattern name", item.Name, patternNames[s.Type]); err != nil {
			return err
		}
		if err := validator.NonNegative("Sleep pattern item", "duration", float64(*item.Duration)); err != nil {
			return err
		}
	}
	return nil
}
