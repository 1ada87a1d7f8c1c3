package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the portal's JWT claim set.
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// FromToken decodes the bearer credential's claims into a Session. The
// signature is not verified here: the client holds no key and is not a trust
// boundary; the backend validates the token on every call. A token that does
// not carry the portal claim shape is rejected.
func FromToken(credential string) (*Session, error) {
	parser := jwt.NewParser()

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(credential, claims); err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("credential carries no user id")
	}

	return &Session{
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
		Credential:  credential,
	}, nil
}
