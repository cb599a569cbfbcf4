package domain

import (
	"errors"
	"fmt"
)

// ErrKind is used to map domain errors to HTTP status codes consistently.
type ErrKind string

const (
	KindValidation       ErrKind = "validation"         // 400
	KindExpiredOrInvalid ErrKind = "expired_or_invalid" // 400
	KindAuth             ErrKind = "auth"               // 401
	KindForbidden        ErrKind = "forbidden"          // 403
	KindNotFound         ErrKind = "not_found"          // 404
	KindConflict         ErrKind = "conflict"           // 409
	KindRateLimited      ErrKind = "rate_limited"       // 429
	KindInfrastructure   ErrKind = "infrastructure"     // 503
	KindInternal         ErrKind = "internal"           // 500
)

// Error is a structured domain error.
// - Kind: high-level category for HTTP mapping
// - Code: stable machine code (do not change casually)
// - Message: safe summary for clients (avoid leaking sensitive details)
// - Meta: optional details (field, reason, etc.)
// - Cause: wrapped internal error for logging/diagnostics
type Error struct {
	Kind    ErrKind
	Code    string
	Message string
	Meta    map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind ErrKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind ErrKind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

func WithMeta(err *Error, meta map[string]string) *Error {
	err.Meta = meta
	return err
}

// Is reports whether err is a domain error carrying code.
func Is(err error, code string) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// KindOf returns the kind of a domain error, or "" for foreign errors.
func KindOf(err error) ErrKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Retryable reports whether the caller's transport may retry the operation.
// Only dependency failures qualify.
func Retryable(err error) bool {
	return KindOf(err) == KindInfrastructure
}

// ----------------------
// Validation errors (400)
// ----------------------

func ErrInvalidJSON(cause error) *Error {
	return Wrap(KindValidation, "invalid_json", "invalid JSON body", cause)
}

func ErrMissingField(field string) *Error {
	return WithMeta(New(KindValidation, "missing_field", "missing required field"), map[string]string{
		"field": field,
	})
}

func ErrInvalidField(field, reason string) *Error {
	return WithMeta(New(KindValidation, "invalid_field", "invalid field"), map[string]string{
		"field":  field,
		"reason": reason,
	})
}

func ErrDomainNotAllowed(emailDomain string) *Error {
	return WithMeta(New(KindValidation, "domain_not_allowed", "email domain not allowed"), map[string]string{
		"domain": emailDomain,
	})
}

func ErrPasswordMismatch() *Error {
	return New(KindValidation, "password_mismatch", "passwords do not match")
}

func ErrInvalidRole(role string) *Error {
	return WithMeta(
		New(KindValidation, "invalid_role", "invalid role"),
		map[string]string{"role": role},
	)
}

// ----------------------
// Expired / invalid codes (400)
// ----------------------

// Callers must re-issue a code after this error.
func ErrOTPInvalidOrExpired() *Error {
	return New(KindExpiredOrInvalid, "otp_invalid_or_expired", "invalid or expired OTP")
}

// ----------------------
// Auth errors (401)
// ----------------------

func ErrInvalidCredentials() *Error {
	return New(KindAuth, "invalid_credentials", "invalid email or password")
}

func ErrResetTokenInvalid() *Error {
	return New(KindAuth, "reset_token_invalid", "invalid or expired reset authorization")
}

func ErrTokenMissing() *Error {
	return New(KindAuth, "token_missing", "no token provided")
}

func ErrTokenInvalid() *Error {
	return New(KindAuth, "token_invalid", "invalid token")
}

func ErrTokenExpired() *Error {
	return New(KindAuth, "token_expired", "token is expired")
}

// ----------------------
// Forbidden (403)
// ----------------------

func ErrForbidden() *Error {
	return New(KindForbidden, "forbidden", "forbidden")
}

// ----------------------
// Not Found (404)
// ----------------------

func ErrAccountNotFound() *Error {
	return New(KindNotFound, "account_not_found", "account not found")
}

// ErrPendingNotFound is returned by pending stores; the service turns it into
// ErrOTPInvalidOrExpired before it reaches a caller.
func ErrPendingNotFound() *Error {
	return New(KindNotFound, "pending_not_found", "pending verification not found")
}

// ----------------------
// Conflict (409)
// ----------------------

func ErrAccountAlreadyExists(field string) *Error {
	return WithMeta(New(KindConflict, "account_already_exists", "account already exists"), map[string]string{
		"field": field,
	})
}

func ErrRequestInProgress() *Error {
	return New(KindConflict, "request_in_progress", "another request for this email is in progress")
}

// ----------------------
// Rate limit (429)
// ----------------------

func ErrRateLimited(scope string) *Error {
	return WithMeta(New(KindRateLimited, "rate_limited", "too many requests"), map[string]string{
		"scope": scope,
	})
}

// ----------------------
// Infrastructure / internal (5xx)
// ----------------------

// ErrDeliveryFailed keeps the freshly issued code; the caller may retry.
func ErrDeliveryFailed(cause error) *Error {
	return WithMeta(
		Wrap(KindInfrastructure, "delivery_failed", "verification email could not be sent", cause),
		map[string]string{"retryable": "true"},
	)
}

func ErrDBUnavailable(cause error) *Error {
	return Wrap(KindInfrastructure, "db_unavailable", "database unavailable", cause)
}

func ErrRedisUnavailable(cause error) *Error {
	return Wrap(KindInfrastructure, "redis_unavailable", "cache unavailable", cause)
}

func ErrRabbitUnavailable(cause error) *Error {
	return Wrap(KindInfrastructure, "rabbit_unavailable", "message broker unavailable", cause)
}

func ErrHashFailed(cause error) *Error {
	return Wrap(KindInternal, "hash_failed", "password hashing failed", cause)
}

func ErrTokenSignFailed(cause error) *Error {
	return Wrap(KindInternal, "token_sign_failed", "token signing failed", cause)
}

func ErrRandomFailed(cause error) *Error {
	return Wrap(KindInternal, "random_failed", "random generation failed", cause)
}

func ErrInternal(cause error) *Error {
	return Wrap(KindInternal, "internal_error", "internal error", cause)
}
