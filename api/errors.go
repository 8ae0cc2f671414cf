package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/validation"
)

const codeInternal = "internal"

// ErrRateLimited is returned when a client sends anonymous writes faster than
// the relay accepts them. Clients treat it as a temporary outage.
var ErrRateLimited = fmt.Errorf("%w: too many requests", interfaces.ErrBackendUnavailable)

type errorCode struct {
	code   string
	status int
	err    error
}

// Order matters: the first match wins, so more specific errors come first.
var errorCodes = []errorCode{
	{"content_not_found", http.StatusNotFound, interfaces.ErrContentNotFound},
	{"not_found", http.StatusNotFound, interfaces.ErrNotFound},
	{"recipient_not_found", http.StatusNotFound, interfaces.ErrRecipientNotFound},
	{"account_exists", http.StatusConflict, interfaces.ErrAccountExists},
	{"duplicate_trustee", http.StatusConflict, interfaces.ErrDuplicateTrustee},
	{"share_index_taken", http.StatusConflict, interfaces.ErrShareIndexTaken},
	{"recovery_in_progress", http.StatusConflict, interfaces.ErrRecoveryInProgress},
	{"invalid_transition", http.StatusConflict, interfaces.ErrInvalidTransition},
	{"session_closed", http.StatusConflict, interfaces.ErrSessionClosed},
	{"invalid_state", http.StatusConflict, interfaces.ErrInvalidState},
	{"not_authorized_share_holder", http.StatusForbidden, interfaces.ErrNotAuthorizedShareHolder},
	{"unauthorized", http.StatusForbidden, interfaces.ErrUnauthorized},
	{"self_trust", http.StatusBadRequest, interfaces.ErrSelfTrust},
	{"invalid_input", http.StatusBadRequest, validation.ErrInvalidInput},
	{"rate_limited", http.StatusTooManyRequests, ErrRateLimited},
	{"backend_unavailable", http.StatusServiceUnavailable, interfaces.ErrBackendUnavailable},
}

// ErrorStatus returns the error code and HTTP status for err. Errors without
// a known sentinel are internal.
func ErrorStatus(err error) (string, int) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code, c.status
		}
	}
	return codeInternal, http.StatusInternalServerError
}

// ErrorFromResponse rebuilds the error a relay response carries. Unknown
// codes and server failures become ErrBackendUnavailable.
func ErrorFromResponse(status int, body ErrorResponse) error {
	for _, c := range errorCodes {
		if c.code == body.Code {
			return fmt.Errorf("%w: %s", c.err, body.Error)
		}
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", interfaces.ErrUnauthorized, body.Error)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, body.Error)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", validation.ErrInvalidInput, body.Error)
	}
	return fmt.Errorf("%w: relay returned %d: %s", interfaces.ErrBackendUnavailable, status, body.Error)
}
