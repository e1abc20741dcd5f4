package driver

import "github.com/cockroachdb/errors"

var (
	// ErrDeviceLost marks errors caused by the device being removed, hung or reset
	ErrDeviceLost = errors.New("device lost")
	// ErrOutOfDeviceMemory marks errors caused by device or host memory exhaustion
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	// ErrUnsupported marks errors returned when a backend cannot express an operation
	ErrUnsupported = errors.New("operation not supported by this backend")
)
