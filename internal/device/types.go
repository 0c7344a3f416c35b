package device

import (
	"time"

	"github.com/yenshow/ba-backend-sub000/internal/modbus"
)

// Kind classifies which polling family a device belongs to.
type Kind string

// Device kinds.
const (
	KindController Kind = "controller"
	KindSensor     Kind = "sensor"
	KindLighting   Kind = "lighting"
)

// Valid reports whether the kind is one of the known families.
func (k Kind) Valid() bool {
	switch k {
	case KindController, KindSensor, KindLighting:
		return true
	}
	return false
}

// Device is one pollable endpoint on the field bus.
type Device struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`

	// Bus addressing.
	Host   string `json:"host"`
	Port   int    `json:"port"`
	UnitID uint8  `json:"unit_id"`

	// PollInterval overrides the global tick for this device, in
	// seconds. Nil means "poll on every global tick".
	PollInterval *int `json:"poll_interval,omitempty"`

	// ErrorThreshold overrides the configured consecutive-failure
	// threshold. Nil means "use the default".
	ErrorThreshold *int `json:"error_threshold,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Endpoint returns the bus address of the device.
func (d *Device) Endpoint() modbus.Endpoint {
	return modbus.NewEndpoint(d.Host, d.Port, d.UnitID)
}

// DisplayName returns the name used in alert messages, falling back
// to the ID for unnamed devices.
func (d *Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}
