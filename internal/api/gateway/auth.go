package gateway

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims mirrors rest.Claims: there is no account/role split in this
// domain, so the only identity a bearer token carries is a user ID
// and username. The Gateway cannot reuse rest.AuthMiddleware's
// unexported token verification directly — it is a separate process
// (or at least a separate package boundary) that authenticates the
// same tokens inline as part of its own connection sequence.
type Claims struct {
	jwt.RegisteredClaims
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
}

// tokenVerifier validates the bearer credential presented at
// handshake time. Only HMAC-signed tokens are accepted.
type tokenVerifier struct {
	secret   []byte
	issuer   string
	audience []string
}

func newTokenVerifier(secret []byte, issuer string, audience []string) *tokenVerifier {
	return &tokenVerifier{secret: secret, issuer: issuer, audience: audience}
}

// verify parses and validates tokenString, returning the embedded
// claims on success. Step 3 of the connection sequence calls this
// exactly once per handshake.
func (v *tokenVerifier) verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithAudience(v.audience...))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token missing user id")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("token expired")
	}
	return claims, nil
}
