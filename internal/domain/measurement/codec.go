package measurement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haniot/mhealth-sub002/internal/platform/apperr"
)

// variants is the dispatch table from the type discriminator to a fresh value.
var variants = map[Type]func() Measurement{
	TypeWeight:             func() Measurement { return &Weight{} },
	TypeBloodGlucose:       func() Measurement { return &BloodGlucose{} },
	TypeHeartRate:          func() Measurement { return &HeartRate{} },
	TypeBloodPressure:      func() Measurement { return &BloodPressure{} },
	TypeHeight:             func() Measurement { return &Height{} },
	TypeWaistCircumference: func() Measurement { return &WaistCircumference{} },
	TypeBodyTemperature:    func() Measurement { return &BodyTemperature{} },
	TypeFat:                func() Measurement { return &Fat{} },
	TypeBodyFat:            func() Measurement { return &BodyFat{} },
	TypeCalfCircumference:  func() Measurement { return &CalfCircumference{} },
	TypeHandGrip:           func() Measurement { return &HandGrip{} },
}

// Decode resolves the concrete variant of raw from its "type" field. The
// legacy "user_id" key is accepted as an alias of "patient_id".
func Decode(raw json.RawMessage) (Measurement, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, apperr.Validation("Invalid measurement payload!", "A JSON object was expected.")
	}

	var t string
	if rt, ok := fields["type"]; ok {
		_ = json.Unmarshal(rt, &t)
	}
	newVariant, ok := variants[Type(t)]
	if !ok {
		return nil, apperr.Validation(
			fmt.Sprintf("Measurement type not mapped: %s", t),
			fmt.Sprintf("The mapped types are: %s.", strings.Join(typeNames(), ", ")))
	}

	if uid, ok := fields["user_id"]; ok {
		if _, has := fields["patient_id"]; !has {
			fields["patient_id"] = uid
		}
		delete(fields, "user_id")
		normalized, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("normalize measurement: %w", err)
		}
		raw = normalized
	}

	m := newVariant()
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, apperr.Validation("Invalid measurement payload!", err.Error())
	}
	return m, nil
}

// Encode is the inverse of Decode.
func Encode(m Measurement) (json.RawMessage, error) {
	return json.Marshal(m)
}

// SplitPayload returns the elements of a JSON array, or the payload itself as
// the single element when it is an object. The bool reports whether the
// payload was an array.
func SplitPayload(body []byte) ([]json.RawMessage, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, apperr.Validation("Invalid payload!", "The request body is empty.")
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{json.RawMessage(trimmed)}, false, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, true, apperr.Validation("Invalid payload!", err.Error())
	}
	return items, true, nil
}
