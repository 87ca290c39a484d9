package quota

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for subject extraction.
var (
	// ErrNoSubject is returned when a token carries no subject claim.
	ErrNoSubject = errors.New("quota: token has no subject claim")
)

// SubjectFromToken extracts the subject identifier from a JWT's registered
// claims. The token must already have been verified by the authentication
// layer; this helper only reads the claim set so quota admission at the
// edge does not need the signing keys.
func SubjectFromToken(token string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("quota: parse token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("quota: read subject claim: %w", err)
	}
	if sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}
