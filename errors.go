package wifiwatch

import (
	"errors"
	"fmt"
)

// Error taxonomy for the client. Callers branch on these with errors.Is /
// errors.As, never on message text.
var (
	// ErrInvalidCredentials is returned by a login attempt the server rejected.
	// The session stays unauthenticated; no retry is performed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNetwork wraps transport-level failures where no response was
	// received. The session state is unchanged and the caller may retry.
	ErrNetwork = errors.New("network error")

	// ErrRenewalFailed is returned when the server rejected the stored
	// refresh token. The credential has been cleared; the session is
	// terminal until the next login.
	ErrRenewalFailed = errors.New("token renewal failed")

	// ErrSessionExpired is returned by request dispatch when renewal failed
	// or a replayed request was still unauthorized. The user must
	// re-authenticate.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoContent is reported when decoding a response that carried no
	// body, so "nothing returned" is distinguishable from an empty record.
	ErrNoContent = errors.New("no content")
)

// RejectedError is a business-level rejection (validation failure, conflict,
// not-found). It carries the server's message verbatim when one was present.
// Rejections never trigger renewal or retry.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected (%d): %s", e.Status, e.Message)
}

// IsConflict reports whether the rejection signals an operation already in
// progress, such as a scan start while a scan is running.
func (e *RejectedError) IsConflict() bool {
	return e.Status == 409
}
