package miio

import (
	"errors"
	"fmt"
)

// Sentinel errors for device communication.
var (
	// ErrDeviceUnreachable indicates the device did not answer within the
	// deadline after all retries.
	ErrDeviceUnreachable = errors.New("miio: device unreachable")

	// ErrMalformedReply indicates the device sent a packet that failed
	// decoding, checksum verification, or decryption.
	ErrMalformedReply = errors.New("miio: malformed reply")

	// ErrInvalidToken indicates the configured token is not 32 hex
	// characters.
	ErrInvalidToken = errors.New("miio: token must be 32 hex characters")
)

// errStaleReply marks a response whose id does not match the outstanding
// request, i.e. a delayed answer to an earlier call that must be skipped.
var errStaleReply = errors.New("miio: stale reply")

// DeviceError is an error reported by the device itself in a response
// payload, e.g. an unsupported method or rejected parameters.
type DeviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("miio: device error %d: %s", e.Code, e.Message)
}
