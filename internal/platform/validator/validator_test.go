package validator

import (
	"errors"
	"net/http"
	"testing"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
)

func description(t *testing.T, err error) string {
	t.Helper()
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apperr.Error, got %T (%v)", err, err)
	}
	return ae.Description
}

func TestRequired_ListsAllMissingInOrder(t *testing.T) {
	err := NewRequired("Weight").
		CheckString("timestamp", "").
		Check("value", false).
		CheckString("unit", "kg").
		CheckString("type", "").
		Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if got, want := description(t, err), "Weight validation: timestamp, value, type required!"; got != want {
		t.Errorf("description = %q, want %q", got, want)
	}
}

func TestRequired_NothingMissing(t *testing.T) {
	if err := NewRequired("Weight").CheckString("unit", "kg").Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDatetime_Valid(t *testing.T) {
	for _, v := range []string{
		"2020-11-21T14:40:00.000Z",
		"2020-11-21T14:40:00Z",
		"2020-02-29T23:59:59.5-03:00",
		"2019-12-31T00:00:00+05:30",
	} {
		if err := Datetime(v); err != nil {
			t.Errorf("Datetime(%q) unexpected error: %v", v, err)
		}
	}
}

func TestDatetime_RegexRejects(t *testing.T) {
	for _, v := range []string{
		"",
		"2020-13-01T10:00:00Z",
		"2020-11-21 14:40:00",
		"21/11/2020",
		"2020-11-21T24:00:00Z",
		"2020-11-21T14:40:00",
	} {
		if err := Datetime(v); err == nil {
			t.Errorf("Datetime(%q) expected error", v)
		}
	}
}

func TestDatetime_CalendarRejects(t *testing.T) {
	// Matches the pattern but June has 30 days.
	err := Datetime("2020-06-31T10:00:00.000Z")
	if err == nil {
		t.Fatal("expected error for June 31")
	}
	if got := description(t, err); got != DescInvalidDatetime {
		t.Errorf("description = %q", got)
	}
	if err := Datetime("2021-02-29T10:00:00Z"); err == nil {
		t.Error("expected error for Feb 29 in a non-leap year")
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2021-03-04")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Year() != 2021 || d.Month() != 3 || d.Day() != 4 {
		t.Errorf("unexpected date %v", d)
	}
	if _, err := ParseDate("2021-04-31"); err == nil {
		t.Error("expected error for April 31")
	}
	if _, err := ParseDate("2021-4-3"); err == nil {
		t.Error("expected error for unpadded date")
	}
}

func TestObjectID(t *testing.T) {
	if err := ObjectID("507f191e810c19729de860ea"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, v := range []string{"", "123", "507f191e810c19729de860eg", "507f191e810c19729de860ea00"} {
		err := ObjectID(v)
		if err == nil {
			t.Errorf("ObjectID(%q) expected error", v)
			continue
		}
		if got := description(t, err); got != DescInvalidID {
			t.Errorf("description = %q", got)
		}
	}
}

func TestNewObjectID_Valid(t *testing.T) {
	id := NewObjectID()
	if err := ObjectID(id); err != nil {
		t.Errorf("generated id %q failed validation: %v", id, err)
	}
}

func TestOneOf(t *testing.T) {
	allowed := []string{"left", "right"}
	if err := OneOf("hand", "left", allowed); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := OneOf("hand", "middle", allowed)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := description(t, err); got != "The mapped values are: left, right." {
		t.Errorf("description = %q", got)
	}
}

func TestUnit_DistinctError(t *testing.T) {
	err := Unit("weight", "kg", "lb")
	var ue *UnitError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnitError, got %T", err)
	}
	if ue.Expected != "kg" {
		t.Errorf("expected unit kg, got %q", ue.Expected)
	}
	if apperr.StatusCode(err) != http.StatusBadRequest {
		t.Error("unit error should map to 400")
	}
	if got := description(t, err); got != "The unit of weight must be: kg." {
		t.Errorf("description = %q", got)
	}
	if Unit("weight", "kg", "kg") != nil {
		t.Error("matching unit should pass")
	}
}

func TestNonNegative(t *testing.T) {
	if NonNegative("Sleep", "duration", 0) != nil {
		t.Error("zero should pass")
	}
	if NonNegative("Sleep", "duration", -1) == nil {
		t.Error("negative should fail")
	}
}

func TestInterval(t *testing.T) {
	if err := Interval("2020-11-21T10:00:00.000Z", "2020-11-21T11:00:00.000Z"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Interval("2020-11-21T11:00:00.000Z", "2020-11-21T10:00:00.000Z"); err == nil {
		t.Error("expected error for end before start")
	}
	if err := Interval("2020-11-21", "2020-11-21T10:00:00.000Z"); err == nil {
		t.Error("expected error for malformed start")
	}
}
