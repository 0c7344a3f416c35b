package device

import "errors"

// Domain errors for the device package.
var (
	// ErrDeviceNotFound is returned when a lookup matches no device.
	ErrDeviceNotFound = errors.New("device: device not found")

	// ErrDeviceExists is returned when creating a device whose ID is
	// already taken.
	ErrDeviceExists = errors.New("device: device already exists")

	// ErrInvalidDevice is returned when a device fails validation.
	ErrInvalidDevice = errors.New("device: invalid device")
)
