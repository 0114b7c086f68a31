// Package domainerrors carries coded errors from services to the transport layer.
//
// Services translate store sentinels into a *Error with a Code; handlers map
// the Code to a status and a client-facing message. Only CodeInternal is meant
// to be retried by callers, every other code is terminal for the request.
package domainerrors

import "errors"

type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeExpired            Code = "expired"
	CodeTooManyRequests    Code = "too_many_requests"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	// Claim lifecycle and redemption outcomes.
	CodeInvalidToken          Code = "invalid_token"
	CodeAlreadyRedeemed       Code = "already_redeemed"
	CodeNotYetClaimed         Code = "not_yet_claimed"
	CodeActiveClaimExists     Code = "active_claim_exists"
	CodeClaimExpired          Code = "claim_expired"
	CodeCampaignWindowExpired Code = "campaign_window_expired"
	CodeClaimWindowExpired    Code = "claim_window_expired"
)

// Error is a domain error with a machine readable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	return &Error{Code: code, Message: msg, Err: err}
}

// As returns the outermost *Error in the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost domain error carries code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}

// Retryable reports whether a caller may retry the failed request.
func Retryable(err error) bool {
	return CodeOf(err) == CodeInternal || CodeOf(err) == CodeTimeout
}
