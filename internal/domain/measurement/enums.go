package measurement

import (
	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

// Type discriminates the measurement variants.
type Type string

const (
	TypeWeight             Type = "weight"
	TypeBloodGlucose       Type = "blood_glucose"
	TypeHeartRate          Type = "heart_rate"
	TypeBloodPressure      Type = "blood_pressure"
	TypeHeight             Type = "height"
	TypeWaistCircumference Type = "waist_circumference"
	TypeBodyTemperature    Type = "body_temperature"
	TypeFat                Type = "fat"
	TypeBodyFat            Type = "body_fat"
	TypeCalfCircumference  Type = "calf_circumference"
	TypeHandGrip           Type = "hand_grip"
)

// Types lists every measurement type in declaration order.
var Types = []Type{
	TypeWeight, TypeBloodGlucose, TypeHeartRate, TypeBloodPressure, TypeHeight,
	TypeWaistCircumference, TypeBodyTemperature, TypeFat, TypeBodyFat,
	TypeCalfCircumference, TypeHandGrip,
}

const (
	UnitKilogram   = "kg"
	UnitMgDl       = "mg/dl"
	UnitMmHg       = "mmHg"
	UnitCentimeter = "cm"
	UnitCelsius    = "°C"
	UnitPercentage = "%"
	UnitBPM        = "bpm"
	UnitKgf        = "kgf"
)

var Units = []string{UnitKilogram, UnitMgDl, UnitMmHg, UnitCentimeter, UnitCelsius, UnitPercentage, UnitBPM, UnitKgf}

// fixedUnits holds the types that only accept a single physical unit.
var fixedUnits = map[Type]string{
	TypeWeight:             UnitKilogram,
	TypeBloodGlucose:       UnitMgDl,
	TypeBloodPressure:      UnitMmHg,
	TypeHeight:             UnitCentimeter,
	TypeWaistCircumference: UnitCentimeter,
	TypeCalfCircumference:  UnitCentimeter,
	TypeBodyTemperature:    UnitCelsius,
}

// FixedUnit returns the canonical unit of t, if it has one.
func FixedUnit(t Type) (string, bool) {
	u, ok := fixedUnits[t]
	return u, ok
}

var (
	MealTypes       = []string{"preprandial", "postprandial", "fasting", "casual", "bedtime"}
	HandTypes       = []string{"left", "right"}
	BodyMemberSides = []string{"left", "right"}
	ContextTypes    = []string{
		"glucose_carbohydrate", "glucose_meal", "glucose_exercise",
		"glucose_medication", "glucose_health", "glucose_location",
	}
	ChoiceTypes = []string{"yes", "no", "undefined"}
)

func typeNames() []string {
	out := make([]string, len(Types))
	for i, t := range Types {
		out[i] = string(t)
	}
	return out
}

func ValidateMeasurementType(v string) error { return validator.OneOf("type", v, typeNames()) }
func ValidateMeasurementUnit(v string) error { return validator.OneOf("unit", v, Units) }
func ValidateMealType(v string) error        { return validator.OneOf("meal", v, MealTypes) }
func ValidateHandType(v string) error        { return validator.OneOf("hand", v, HandTypes) }
func ValidateBodyMemberSide(v string) error  { return validator.OneOf("leg", v, BodyMemberSides) }
func ValidateContextType(v string) error     { return validator.OneOf("context type", v, ContextTypes) }
func ValidateChoiceType(v string) error {
	return validator.OneOf("annual_variation", v, ChoiceTypes)
}

// ValidateUnitFor applies the unit rule of t: a dedicated unit error for
// fixed-unit types, enum membership otherwise.
func ValidateUnitFor(t Type, unit string) error {
	if expected, ok := fixedUnits[t]; ok {
		return validator.Unit(string(t), expected, unit)
	}
	return ValidateMeasurementUnit(unit)
}
