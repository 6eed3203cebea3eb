package ubus

import (
	"errors"
	"fmt"
)

// ubus status codes as returned in the first element of a call result.
const (
	statusOK               = 0
	statusInvalidCommand   = 1
	statusInvalidArgument  = 2
	statusMethodNotFound   = 3
	statusNotFound         = 4
	statusNoData           = 5
	statusPermissionDenied = 6
	statusTimeout          = 7
	statusNotSupported     = 8
	statusUnknownError     = 9
	statusConnectionFailed = 10
)

// Sentinel errors for ubus operations.
var (
	// ErrUnreachable indicates the router could not be reached over HTTP.
	ErrUnreachable = errors.New("ubus: router unreachable")

	// ErrBadResponse indicates the router returned something that is not
	// a valid ubus JSON-RPC response.
	ErrBadResponse = errors.New("ubus: malformed response")

	// ErrLoginFailed indicates session.login was rejected.
	ErrLoginFailed = errors.New("ubus: login failed")

	// ErrPermissionDenied indicates the session lacks ACL access or has
	// expired. Call retries once after re-login before surfacing this.
	ErrPermissionDenied = errors.New("ubus: permission denied")

	// ErrNotFound indicates the object, method, or requested resource
	// does not exist on the router.
	ErrNotFound = errors.New("ubus: not found")

	// ErrCallFailed covers the remaining non-zero ubus status codes.
	ErrCallFailed = errors.New("ubus: call failed")
)

// statusError maps a non-zero ubus status code to a wrapped sentinel.
func statusError(status int, namespace, method string) error {
	var sentinel error
	switch status {
	case statusPermissionDenied:
		sentinel = ErrPermissionDenied
	case statusNotFound, statusMethodNotFound:
		sentinel = ErrNotFound
	default:
		sentinel = ErrCallFailed
	}
	return fmt.Errorf("%w: %s.%s returned status %d", sentinel, namespace, method, status)
}

// isSessionError reports whether an error warrants a re-login retry.
// The router returns permission denied both for missing ACLs and for
// expired sessions; retrying once distinguishes the two.
func isSessionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
