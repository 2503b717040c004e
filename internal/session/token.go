package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client reads from a bearer token.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// DecodeToken reads the user id and expiry from a JWT without verifying
// its signature. The client never holds the signing key; the storefront
// verifies every request and answers 401 for forged or revoked tokens.
//
// The user id comes from "sub", falling back to "user_id". A token without
// "exp" is rejected.
func DecodeToken(raw string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Claims{}, fmt.Errorf("decoding token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("reading exp claim: %w", err)
	}
	if exp == nil {
		return Claims{}, fmt.Errorf("token has no exp claim")
	}

	userID, _ := claims.GetSubject()
	if userID == "" {
		userID = stringClaim(claims["user_id"])
	}
	if userID == "" {
		return Claims{}, fmt.Errorf("token has no subject")
	}

	return Claims{UserID: userID, ExpiresAt: exp.Time}, nil
}

// stringClaim accepts string and numeric ids; JSON numbers decode as float64.
func stringClaim(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}
