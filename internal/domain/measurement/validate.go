package measurement

import (
	"encoding/json"
	"fmt"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

// Validate runs the create validator owned by the variant of m.
func Validate(m Measurement) error {
	switch v := m.(type) {
	case *Weight:
		return ValidateCreateWeight(v)
	case *BloodGlucose:
		return ValidateCreateBloodGlucose(v)
	case *BloodPressure:
		return ValidateCreateBloodPressure(v)
	case *HeartRate:
		return ValidateCreateHeartRate(v)
	case *Height:
		return validateScalar("Height", TypeHeight, v.Scalar)
	case *WaistCircumference:
		return validateScalar("WaistCircumference", TypeWaistCircumference, v.Scalar)
	case *BodyTemperature:
		return validateScalar("BodyTemperature", TypeBodyTemperature, v.Scalar)
	case *BodyFat:
		return validateScalar("BodyFat", TypeBodyFat, v.Scalar)
	case *Fat:
		return ValidateCreateFat(v)
	case *HandGrip:
		return ValidateCreateHandGrip(v)
	case *CalfCircumference:
		return ValidateCreateCalfCircumference(v)
	default:
		return apperr.Validation(fmt.Sprintf("Measurement type not mapped: %T", m), "")
	}
}

// scalarRequired declares the required fields of single-value measurements.
func scalarRequired(entity string, s Scalar) *validator.Required {
	return validator.NewRequired(entity).
		Check("value", s.Value != nil).
		CheckString("unit", s.Unit).
		CheckString("type", string(s.Type)).
		CheckString("timestamp", s.Timestamp).
		CheckString("patient_id", s.PatientID)
}

// validateCommon checks the rules every variant shares once required
// fields are known to be present.
func validateCommon(expected Type, b Base, timestamp string) error {
	if err := ValidateMeasurementType(string(b.Type)); err != nil {
		return err
	}
	if b.Type != expected {
		return apperr.Validation(
			fmt.Sprintf("Value not mapped for type: %s", b.Type),
			fmt.Sprintf("The type of this measurement must be: %s.", expected))
	}
	if timestamp != "" {
		if err := validator.Datetime(timestamp); err != nil {
			return err
		}
	}
	if err := validator.ObjectID(b.PatientID); err != nil {
		return err
	}
	if b.DeviceID != "" {
		if err := validator.ObjectID(b.DeviceID); err != nil {
			return err
		}
	}
	if err := ValidateUnitFor(expected, b.Unit); err != nil {
		return err
	}
	return validateContexts(b.Contexts)
}

func validateContexts(contexts []Context) error {
	for _, c := range contexts {
		if err := validator.NewRequired("Context").
			CheckString("value", c.Value).
			CheckString("type", c.Type).Err(); err != nil {
			return err
		}
		if err := ValidateContextType(c.Type); err != nil {
			return err
		}
	}
	return nil
}

func validateScalar(entity string, expected Type, s Scalar) error {
	if err := scalarRequired(entity, s).Err(); err != nil {
		return err
	}
	return validateCommon(expected, s.Base, s.Timestamp)
}

func ValidateCreateBloodGlucose(m *BloodGlucose) error {
	if err := validator.NewRequired("BloodGlucose").
		Check("value", m.Value != nil).
		CheckString("unit", m.Unit).
		CheckString("meal", m.Meal).
		CheckString("type", string(m.Type)).
		CheckString("timestamp", m.Timestamp).
		CheckString("patient_id", m.PatientID).Err(); err != nil {
		return err
	}
	if err := validateCommon(TypeBloodGlucose, m.Base, m.Timestamp); err != nil {
		return err
	}
	return ValidateMealType(m.Meal)
}

func ValidateCreateBloodPressure(m *BloodPressure) error {
	if err := validator.NewRequired("BloodPressure").
		Check("systolic", m.Systolic != nil).
		Check("diastolic", m.Diastolic != nil).
		CheckString("unit", m.Unit).
		CheckString("type", string(m.Type)).
		CheckString("timestamp", m.Timestamp).
		CheckString("patient_id", m.PatientID).Err(); err != nil {
		return err
	}
	return validateCommon(TypeBloodPressure, m.Base, m.Timestamp)
}

func ValidateCreateFat(m *Fat) error {
	return validateScalar("Fat", TypeFat, m.Scalar)
}

// ValidateCreateWeight also validates the embedded fat, which inherits the
// owner fields of the weight (see InheritFat).
func ValidateCreateWeight(m *Weight) error {
	if err := validateScalar("Weight", TypeWeight, m.Scalar); err != nil {
		return err
	}
	if m.AnnualVariation != "" {
		if err := ValidateChoiceType(m.AnnualVariation); err != nil {
			return err
		}
	}
	if m.BodyFat != nil {
		if err := validator.NonNegative("Weight", "body_fat", *m.BodyFat); err != nil {
			return err
		}
	}
	if m.Fat != nil {
		return ValidateCreateFat(InheritFat(m).Fat)
	}
	return nil
}

func ValidateCreateHeartRate(m *HeartRate) error {
	if err := validator.NewRequired("HeartRate").
		Check("dataset", len(m.Dataset) > 0).
		CheckString("unit", m.Unit).
		CheckString("type", string(m.Type)).
		CheckString("patient_id", m.PatientID).Err(); err != nil {
		return err
	}
	for _, item := range m.Dataset {
		if err := validator.NewRequired("HeartRate dataset item").
			Check("value", item.Value != nil).
			CheckString("timestamp", item.Timestamp).Err(); err != nil {
			return err
		}
		if err := validator.Datetime(item.Timestamp); err != nil {
			return err
		}
	}
	return validateCommon(TypeHeartRate, m.Base, "")
}

func ValidateCreateHandGrip(m *HandGrip) error {
	if err := scalarRequired("HandGrip", m.Scalar).CheckString("hand", m.Hand).Err(); err != nil {
		return err
	}
	if err := validateCommon(TypeHandGrip, m.Base, m.Timestamp); err != nil {
		return err
	}
	return ValidateHandType(m.Hand)
}

func ValidateCreateCalfCircumference(m *CalfCircumference) error {
	if err := scalarRequired("CalfCircumference", m.Scalar).CheckString("leg", m.Leg).Err(); err != nil {
		return err
	}
	if err := validateCommon(TypeCalfCircumference, m.Base, m.Timestamp); err != nil {
		return err
	}
	return ValidateBodyMemberSide(m.Leg)
}

// InheritFat returns a copy of w whose embedded fat shares the weight's
// patient, device and timestamp and carries the fat type and unit defaults.
func InheritFat(w *Weight) *Weight {
	if w.Fat == nil {
		return w
	}
	fb := w.Fat.Base
	if fb.Type == "" {
		fb.Type = TypeFat
	}
	if fb.Unit == "" {
		fb.Unit = UnitPercentage
	}
	fb.PatientID = w.PatientID
	fb.DeviceID = w.DeviceID
	fat := w.Fat.with(fb).(*Fat)
	if fat.Timestamp == "" {
		fat.Timestamp = w.Timestamp
	}
	return w.WithFat(fat)
}

// immutableOnUpdate lists the keys whose presence rejects an update.
var immutableOnUpdate = []string{"id", "type", "device_id", "patient_id", "user_id"}

// ValidateUpdate checks a partial update payload. Owner and device fields
// cannot change after creation, so their mere presence is an error.
func ValidateUpdate(t Type, raw json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return apperr.Validation("Invalid measurement payload!", "A JSON object was expected.")
	}
	for _, key := range immutableOnUpdate {
		if _, ok := fields[key]; ok {
			return apperr.Validation(
				fmt.Sprintf("%s cannot be updated!", key),
				fmt.Sprintf("The %s of a measurement is defined at creation and cannot be changed.", key))
		}
	}
	if rawUnit, ok := fields["unit"]; ok {
		var unit string
		if err := json.Unmarshal(rawUnit, &unit); err != nil {
			return apperr.Validation("Invalid measurement payload!", "unit must be a string.")
		}
		if err := ValidateUnitFor(t, unit); err != nil {
			return err
		}
	}
	if rawTS, ok := fields["timestamp"]; ok {
		var ts string
		if err := json.Unmarshal(rawTS, &ts); err != nil {
			return apperr.Validation("Invalid measurement payload!", "timestamp must be a string.")
		}
		if err := validator.Datetime(ts); err != nil {
			return err
		}
	}
	if rawCtx, ok := fields["contexts"]; ok {
		var contexts []Context
		if err := json.Unmarshal(rawCtx, &contexts); err != nil {
			return apperr.Validation("Invalid measurement payload!", "contexts must be a list of {value, type}.")
		}
		if err := validateContexts(contexts); err != nil {
			return err
		}
	}
	return nil
}
