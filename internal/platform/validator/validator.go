// Package validator holds the primitive checks that every measurement, sync
// payload and query parameter is composed from. Validators never mutate their
// input and report failures as apperr validation errors.
package validator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
)

const (
	MsgRequiredFields   = "Required fields were not provided..."
	MsgInvalidID        = "Some ID provided does not have a valid format!"
	DescInvalidID       = "A 24-byte hex ID similar to this: 507f191e810c19729de860ea is expected."
	DescInvalidDatetime = "Date must be in the format: yyyy-MM-dd'T'HH:mm:ss.SSSZ"
	DescInvalidDate     = "Date must be in the format: yyyy-MM-dd"
)

// datetimePattern rejects gross format errors before the calendar check.
var datetimePattern = regexp.MustCompile(
	`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])T([01]\d|2[0-3]):[0-5]\d:[0-5]\d(\.\d{1,9})?(Z|[+-]([01]\d|2[0-3]):[0-5]\d)$`)

var datePattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])$`)

// Required accumulates missing field names for one entity so that a single
// error lists all of them in declaration order.
type Required struct {
	entity  string
	missing []string
}

func NewRequired(entity string) *Required {
	return &Required{entity: entity}
}

// Check records field as missing when present is false.
func (r *Required) Check(field string, present bool) *Required {
	if !present {
		r.missing = append(r.missing, field)
	}
	return r
}

// CheckString records field as missing when value is empty.
func (r *Required) CheckString(field, value string) *Required {
	return r.Check(field, value != "")
}

// Err returns nil when nothing is missing.
func (r *Required) Err() error {
	if len(r.missing) == 0 {
		return nil
	}
	return apperr.Validation(MsgRequiredFields,
		fmt.Sprintf("%s validation: %s required!", r.entity, strings.Join(r.missing, ", ")))
}

// ParseDatetime checks value against the ISO-8601 pattern and then against the
// calendar, returning the parsed instant.
func ParseDatetime(value string) (time.Time, error) {
	if !datetimePattern.MatchString(value) {
		return time.Time{}, datetimeError(value)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, datetimeError(value)
	}
	return t, nil
}

// Datetime is ParseDatetime without the result.
func Datetime(value string) error {
	_, err := ParseDatetime(value)
	return err
}

func datetimeError(value string) error {
	return apperr.Validation(
		fmt.Sprintf("Datetime: %s, is not in valid ISO 8601 format.", value),
		DescInvalidDatetime)
}

// ParseDate validates a calendar date (yyyy-MM-dd) and returns it at UTC midnight.
func ParseDate(value string) (time.Time, error) {
	if !datePattern.MatchString(value) {
		return time.Time{}, dateError(value)
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, dateError(value)
	}
	return t, nil
}

func dateError(value string) error {
	return apperr.Validation(fmt.Sprintf("Date: %s, is not in valid format.", value), DescInvalidDate)
}

// ObjectID requires a 24-character hex identifier.
func ObjectID(value string) error {
	if len(value) != 24 || !primitive.IsValidObjectID(value) {
		return apperr.Validation(MsgInvalidID, DescInvalidID)
	}
	return nil
}

// NewObjectID generates an identifier that passes ObjectID.
func NewObjectID() string {
	return primitive.NewObjectID().Hex()
}

// OneOf checks membership of value in a closed set and lists the whole set
// on failure.
func OneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if a == value {
			return nil
		}
	}
	return apperr.Validation(
		fmt.Sprintf("Value not mapped for %s: %s", field, value),
		fmt.Sprintf("The mapped values are: %s.", strings.Join(allowed, ", ")))
}

// NonNegative rejects negative numbers for the named field.
func NonNegative(entity, field string, value float64) error {
	if value < 0 {
		return apperr.Validation(
			fmt.Sprintf("%s validation: %s must not be negative.", entity, field),
			fmt.Sprintf("The value provided for %s was %v.", field, value))
	}
	return nil
}

// UnitError is reported when a measurement type with a single physical unit
// carries a different one. It unwraps to an apperr validation error so the
// HTTP layer maps it to 400.
type UnitError struct {
	MeasurementType string
	Expected        string
	Got             string
}

func (e *UnitError) Error() string {
	return e.appErr().Error()
}

func (e *UnitError) Unwrap() error { return e.appErr() }

func (e *UnitError) appErr() *apperr.Error {
	return apperr.Validation(
		fmt.Sprintf("Value not mapped for unit: %s", e.Got),
		fmt.Sprintf("The unit of %s must be: %s.", e.MeasurementType, e.Expected))
}

// Unit compares got with the canonical unit of measurementType.
func Unit(measurementType, expected, got string) error {
	if got != expected {
		return &UnitError{MeasurementType: measurementType, Expected: expected, Got: got}
	}
	return nil
}

// Interval checks that both bounds are valid datetimes and that end is not
// before start.
func Interval(start, end string) error {
	s, err := ParseDatetime(start)
	if err != nil {
		return err
	}
	e, err := ParseDatetime(end)
	if err != nil {
		return err
	}
	if e.Before(s) {
		return apperr.Validation(
			"Date field is invalid...",
			"The end_time parameter can not contain an older date than that the start_time parameter!")
	}
	return nil
}
