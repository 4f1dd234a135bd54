package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const accessTokenType = "access"

// AccessIssuer mints and verifies short-lived signed access tokens. It is
// stateless: verification is a pure function of the token, the shared
// secret and the current time, with no store lookup. A verified subject
// that has since been deleted is the caller's concern.
type AccessIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAccessIssuer(secret string, ttl time.Duration) *AccessIssuer {
	return &AccessIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL reports the configured access token lifetime.
func (a *AccessIssuer) TTL() time.Duration {
	return a.ttl
}

// Issue signs a token carrying the subject id, valid for the configured
// TTL. A signing failure is an internal fault, never a user-facing one.
func (a *AccessIssuer) Issue(subjectID string) (string, error) {
	now := a.now().UTC()
	claims := jwt.MapClaims{
		"sub": subjectID,
		"iat": now.Unix(),
		"exp": now.Add(a.ttl).Unix(),
		"typ": accessTokenType,
		// jti keeps two tokens minted in the same second distinct.
		"jti": uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", wrapError(KindUnknown, "sign access token", err)
	}

	return signed, nil
}

// Verify checks signature and expiry and returns the embedded subject id.
func (a *AccessIssuer) Verify(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", newError(KindMalformedToken, "empty access token")
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", wrapError(KindExpiredToken, "access token expired", err)
		}
		if errors.Is(err, jwt.ErrTokenMalformed) || errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			return "", wrapError(KindMalformedToken, "invalid access token", err)
		}
		return "", wrapError(KindUnknown, "verify access token", err)
	}
	if !parsed.Valid {
		return "", newError(KindMalformedToken, "invalid access token")
	}

	if tokenType, _ := claims["typ"].(string); tokenType != accessTokenType {
		return "", newError(KindMalformedToken, "invalid access token type")
	}

	subjectID, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subjectID) == "" {
		return "", newError(KindMalformedToken, "access token missing subject")
	}

	return subjectID, nil
}
