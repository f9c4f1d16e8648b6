// Package device tracks the measuring devices measurements may refer to.
package device

import (
	"time"

	"github.com/haniot/mhealth-sub002/internal/platform/validator"
)

// Device maps to the device table.
type Device struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Address      *string   `json:"address,omitempty"`
	Type         *string   `json:"type,omitempty"`
	Model        *string   `json:"model_number,omitempty"`
	Manufacturer *string   `json:"manufacturer,omitempty"`
	PatientIDs   []string  `json:"patient_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks the fields required to register a device.
func (d *Device) Validate() error {
	if err := validator.NewRequired("Device").CheckString("name", d.Name).Err(); err != nil {
		return err
	}
	for _, id := range d.PatientIDs {
		if err := validator.ObjectID(id); err != nil {
			return err
		}
	}
	return nil
}
