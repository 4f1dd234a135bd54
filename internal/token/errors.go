package token

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every failure the token core can produce. The set is
// closed: callers switch on the kind, never on error text.
type Kind int

const (
	// KindUnknown covers internal faults: signer misconfiguration, an
	// unreachable session store. Safe to retry at the transport level.
	KindUnknown Kind = iota
	// KindExpiredToken means the credential was genuine but its validity
	// window has passed. Terminal; the caller must re-authenticate.
	KindExpiredToken
	// KindMalformedToken means the signature or structure is invalid.
	KindMalformedToken
	// KindInvalidRefreshToken means the presented refresh token matches no
	// live session: never issued, already rotated away, or revoked. A
	// caller cannot tell the three cases apart.
	KindInvalidRefreshToken
)

func (k Kind) String() string {
	switch k {
	case KindExpiredToken:
		return "expired_token"
	case KindMalformedToken:
		return "malformed_token"
	case KindInvalidRefreshToken:
		return "invalid_refresh_token"
	default:
		return "unknown_error"
	}
}

// HTTPStatus maps a kind to the status the HTTP layer responds with.
// Credential outcomes are 401; internal faults are a generic 500.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindExpiredToken, KindMalformedToken, KindInvalidRefreshToken:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single error type returned by the token core.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the kind from any error. Errors that did not originate in
// the token core classify as KindUnknown.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// PublicMessage returns a message safe to show to the caller. Internal
// faults are masked with the fallback.
func PublicMessage(err error, fallback string) string {
	var te *Error
	if errors.As(err, &te) && te.Kind != KindUnknown {
		return te.Message
	}
	return fallback
}
