package recovery

import (
	"context"
	"errors"

	"github.com/ruteri/social-recovery-backend/cryptoutils"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/localvault"
	"github.com/ruteri/social-recovery-backend/sharing"
	"github.com/ruteri/social-recovery-backend/validation"
)

// Kind classifies a failed flow.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindCrypto        Kind = "crypto"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindTransport     Kind = "transport"
)

// Result is what every orchestrator flow returns. Failures carry a Kind and
// a message safe to show to the user; the underlying error is only logged
// and available in-process through Err.
type Result[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	Data    T      `json:"data,omitempty"`

	err error
}

// Err returns the error behind a failed result.
func (r Result[T]) Err() error {
	return r.err
}

const genericFailure = "The operation could not be completed."

// Flow names, used for logs and metrics.
const (
	flowEnroll         = "enroll"
	flowOpenSession    = "open_session"
	flowAddTrusted     = "add_trusted_party"
	flowRespond        = "respond_to_trust_request"
	flowRevoke         = "revoke_trusted_party"
	flowListTrusted    = "list_trusted_by_me"
	flowListTrusting   = "list_trusting_me"
	flowListRecoveries = "list_recovery_requests"
	flowStatus         = "recovery_status"
	flowInitiate       = "initiate_recovery"
	flowSubmit         = "submit_share"
	flowFinalize       = "finalize_recovery"
	flowAbandon        = "abandon_recovery"
	flowCancel         = "cancel_recovery"
)

// Classify maps an error to its Kind outside of any particular flow.
func Classify(err error) Kind {
	return classify("", err)
}

func classify(flow string, err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindTransport
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		return KindTransport

	case errors.Is(err, validation.ErrInvalidInput),
		errors.Is(err, interfaces.ErrRecipientNotFound),
		errors.Is(err, interfaces.ErrDuplicateTrustee),
		errors.Is(err, interfaces.ErrSelfTrust),
		errors.Is(err, interfaces.ErrAccountExists),
		errors.Is(err, interfaces.ErrNotFound):
		return KindValidation

	case errors.Is(err, cryptoutils.ErrDecryptionFailed),
		errors.Is(err, localvault.ErrAuthenticationFailed),
		errors.Is(err, localvault.ErrUnsupportedVersion),
		errors.Is(err, sharing.ErrInconsistentShares):
		return KindCrypto
	case errors.Is(err, sharing.ErrInsufficientShares):
		if flow == flowFinalize {
			return KindCrypto
		}
		return KindState

	case errors.Is(err, interfaces.ErrNotAuthorizedShareHolder),
		errors.Is(err, interfaces.ErrUnauthorized):
		return KindAuthorization
	case errors.Is(err, interfaces.ErrSessionClosed):
		if flow == flowSubmit {
			return KindAuthorization
		}
		return KindState

	case errors.Is(err, interfaces.ErrInvalidState),
		errors.Is(err, interfaces.ErrInvalidTransition),
		errors.Is(err, interfaces.ErrRecoveryInProgress),
		errors.Is(err, interfaces.ErrShareIndexTaken),
		errors.Is(err, sharing.ErrInvalidParameters):
		return KindState
	}
	return KindTransport
}

// userMessage picks what the caller sees. Crypto and authorization failures
// never say more than genericFailure.
func userMessage(kind Kind, err error) string {
	switch kind {
	case KindCrypto, KindAuthorization:
		return genericFailure
	case KindTransport:
		return "The service is temporarily unavailable. Please try again."
	}

	switch {
	case errors.Is(err, validation.ErrInvalidEmail):
		return "Please enter a valid email address."
	case errors.Is(err, validation.ErrInvalidUsername):
		return "Username must be at least 3 characters."
	case errors.Is(err, validation.ErrWeakPassword):
		return "Password must be at least 8 characters and contain a number."
	case errors.Is(err, validation.ErrPasswordMismatch):
		return "Passwords do not match."
	case errors.Is(err, validation.ErrUnknownDomain):
		return "That email domain does not accept mail."
	case errors.Is(err, interfaces.ErrRecipientNotFound):
		return "No account is registered under that email."
	case errors.Is(err, interfaces.ErrDuplicateTrustee):
		return "That person already holds a share of your account."
	case errors.Is(err, interfaces.ErrSelfTrust):
		return "You cannot add yourself as a trusted party."
	case errors.Is(err, interfaces.ErrAccountExists):
		return "An account with that username or email already exists."
	case errors.Is(err, interfaces.ErrNotFound):
		return "The requested record does not exist."
	case errors.Is(err, interfaces.ErrInvalidTransition):
		return "This trust request has already been answered."
	case errors.Is(err, interfaces.ErrRecoveryInProgress):
		return "A recovery for this account is already in progress."
	case errors.Is(err, interfaces.ErrSessionClosed):
		return "This recovery request is closed."
	case errors.Is(err, interfaces.ErrInvalidState):
		return "The recovery request is not ready for this step."
	case errors.Is(err, sharing.ErrInsufficientShares):
		return "Your vault does not hold enough shares to add a trusted party."
	case errors.Is(err, sharing.ErrInvalidParameters):
		return "No share index is left for another trusted party."
	case errors.Is(err, validation.ErrInvalidInput):
		return "The request is invalid."
	}
	return genericFailure
}

// finish turns a flow's outcome into a Result, logging and counting it.
func finish[T any](o *Orchestrator, flow string, data T, err error, success string) Result[T] {
	if err == nil {
		o.metrics.FlowFinished(flow, "")
		return Result[T]{Success: true, Message: success, Data: data}
	}

	kind := classify(flow, err)
	o.metrics.FlowFinished(flow, string(kind))
	if kind == KindTransport {
		o.log.Error("Flow failed", "flow", flow, "kind", kind, "err", err)
	} else {
		o.log.Warn("Flow rejected", "flow", flow, "kind", kind, "err", err)
	}

	var zero T
	return Result[T]{
		Success: false,
		Message: userMessage(kind, err),
		Kind:    kind,
		Data:    zero,
		err:     err,
	}
}
