package xiaomi

import (
	"errors"

	"github.com/nerrad567/gray-logic-bridges/internal/bridges"
	"github.com/nerrad567/gray-logic-bridges/internal/miio"
)

var (
	errUnknownCommand    = errors.New("xiaomi: unknown command")
	errInvalidParameters = errors.New("xiaomi: invalid parameters")
)

// ackError converts a command failure into the ack error payload.
func ackError(err error) *bridges.AckError {
	code := bridges.ErrCodeBridgeError
	switch {
	case errors.Is(err, errUnknownCommand):
		code = bridges.ErrCodeInvalidCommand
	case errors.Is(err, errInvalidParameters):
		code = bridges.ErrCodeInvalidParameters
	case errors.Is(err, miio.ErrDeviceUnreachable):
		code = bridges.ErrCodeDeviceUnreachable
	case isDeviceError(err):
		code = bridges.ErrCodeProtocolError
	}
	return &bridges.AckError{
		Code:    code,
		Message: err.Error(),
	}
}

func isDeviceError(err error) bool {
	var devErr *miio.DeviceError
	return errors.As(err, &devErr)
}
