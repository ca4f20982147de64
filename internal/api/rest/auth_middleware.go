package rest

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightlane/auctionhouse/internal/domain/user"
	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret          []byte
	JWTPublicKey       *rsa.PublicKey
	JWTPrivateKey      *rsa.PrivateKey
	TokenExpiry        time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	Audience           []string
	UseRSA             bool
}

// Claims represents JWT claims. There is no account/role split in
// this domain — every authenticated caller is a bidder, identified by
// user ID alone per spec.md §4.1's "identity" admission key.
type Claims struct {
	jwt.RegisteredClaims
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	SessionID string    `json:"session_id"`
}

// AuthMiddleware provides JWT-based bearer authentication for the
// HTTP fallback; the Gateway verifies the same token format inline as
// part of its own connection sequence rather than using this chain.
type AuthMiddleware struct {
	config       *AuthConfig
	tracer       trace.Tracer
	sessionStore SessionStore
	users        UserLookup
}

// SessionStore tracks revocable sessions in the Cache, mirroring the
// Admission Controller's use of Cache for short-lived distributed
// state instead of a dedicated sessions table.
type SessionStore interface {
	ValidateSession(ctx context.Context, sessionID string) (bool, error)
	RevokeSession(ctx context.Context, sessionID string) error
	CreateSession(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error)
}

// UserLookup is the narrow capability AuthMiddleware needs from the
// user repository: confirm an identity still exists.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// cacheSessionStore implements SessionStore against the shared Cache.
type cacheSessionStore struct {
	cache cache.Cache
}

// NewCacheSessionStore creates a Cache-backed session store.
func NewCacheSessionStore(c cache.Cache) SessionStore {
	return &cacheSessionStore{cache: c}
}

const sessionKeyPrefix = "ah:session:"

func (s *cacheSessionStore) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	return s.cache.Exists(ctx, sessionKeyPrefix+sessionID)
}

func (s *cacheSessionStore) RevokeSession(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, sessionKeyPrefix+sessionID)
}

func (s *cacheSessionStore) CreateSession(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error) {
	sessionID := uuid.New().String()
	if err := s.cache.Set(ctx, sessionKeyPrefix+sessionID, userID.String(), ttl); err != nil {
		return "", err
	}
	return sessionID, nil
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(config *AuthConfig, sessionStore SessionStore, users UserLookup) *AuthMiddleware {
	return &AuthMiddleware{
		config:       config,
		tracer:       otel.Tracer("api.rest.auth"),
		sessionStore: sessionStore,
		users:        users,
	}
}

// Middleware returns the authentication middleware function
func (a *AuthMiddleware) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := a.tracer.Start(r.Context(), "auth.middleware")
			defer span.End()

			token, err := a.extractToken(r)
			if err != nil {
				span.RecordError(err)
				a.writeUnauthorized(w, "Invalid authorization header")
				return
			}

			claims, err := a.validateToken(ctx, token)
			if err != nil {
				span.RecordError(err)
				a.writeUnauthorized(w, "Invalid or expired token")
				return
			}

			if claims.SessionID != "" {
				valid, err := a.sessionStore.ValidateSession(ctx, claims.SessionID)
				if err != nil || !valid {
					span.RecordError(err)
					a.writeUnauthorized(w, "Invalid session")
					return
				}
			}

			u, err := a.users.GetByID(ctx, claims.UserID)
			if err != nil {
				span.RecordError(err)
				a.writeUnauthorized(w, "User account not found")
				return
			}

			ctx = a.enrichContext(ctx, claims, u)
			span.SetAttributes(attribute.String("user_id", claims.UserID.String()))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GenerateToken generates a new JWT token
func (a *AuthMiddleware) GenerateToken(u *user.User, sessionID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   u.ID.String(),
			Audience:  a.config.Audience,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenExpiry)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID:    u.ID,
		Username:  u.Username,
		SessionID: sessionID,
	}

	var token *jwt.Token
	if a.config.UseRSA {
		token = jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		return token.SignedString(a.config.JWTPrivateKey)
	}

	token = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.config.JWTSecret)
}

// GenerateRefreshToken generates a refresh token
func (a *AuthMiddleware) GenerateRefreshToken(u *user.User, sessionID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.config.Issuer,
		Subject:   u.ID.String(),
		Audience:  []string{"refresh"},
		ExpiresAt: jwt.NewNumericDate(now.Add(a.config.RefreshTokenExpiry)),
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        sessionID,
	}

	var token *jwt.Token
	if a.config.UseRSA {
		token = jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		return token.SignedString(a.config.JWTPrivateKey)
	}

	token = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.config.JWTSecret)
}

// RefreshToken validates a refresh token and issues new tokens
func (a *AuthMiddleware) RefreshToken(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, err error) {
	var token *jwt.Token
	if a.config.UseRSA {
		token, err = jwt.ParseWithClaims(refreshToken, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.config.JWTPublicKey, nil
		})
	} else {
		token, err = jwt.ParseWithClaims(refreshToken, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.config.JWTSecret, nil
		})
	}

	if err != nil {
		return "", "", fmt.Errorf("invalid refresh token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", "", errors.New("invalid refresh token claims")
	}

	if len(claims.Audience) == 0 || claims.Audience[0] != "refresh" {
		return "", "", errors.New("not a refresh token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return "", "", fmt.Errorf("invalid user ID: %w", err)
	}

	sessionID := claims.ID

	if sessionID != "" {
		valid, err := a.sessionStore.ValidateSession(ctx, sessionID)
		if err != nil || !valid {
			return "", "", errors.New("invalid session")
		}
	}

	u, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return "", "", errors.New("user not found")
	}

	accessToken, err = a.GenerateToken(u, sessionID)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	newRefreshToken, err = a.GenerateRefreshToken(u, sessionID)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return accessToken, newRefreshToken, nil
}

func (a *AuthMiddleware) extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		cookie, err := r.Cookie("access_token")
		if err != nil {
			return "", errors.New("no authorization token provided")
		}
		return cookie.Value, nil
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization header format")
	}

	return parts[1], nil
}

func (a *AuthMiddleware) validateToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := a.parseToken(tokenString)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

func (a *AuthMiddleware) parseToken(tokenString string) (*jwt.Token, error) {
	if a.config.UseRSA {
		return jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.config.JWTPublicKey, nil
		})
	}

	return jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.config.JWTSecret, nil
	})
}

func (a *AuthMiddleware) enrichContext(ctx context.Context, claims *Claims, u *user.User) context.Context {
	ctx = context.WithValue(ctx, contextKeyUserID, claims.UserID)
	ctx = context.WithValue(ctx, contextKey("username"), u.Username)
	ctx = context.WithValue(ctx, contextKey("session_id"), claims.SessionID)
	return ctx
}

func (a *AuthMiddleware) writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	})
}

// LoadRSAKeys loads RSA keys from PEM encoded strings
func LoadRSAKeys(publicKeyPEM, privateKeyPEM string) (*rsa.PublicKey, *rsa.PrivateKey, error) {
	pubBlock, _ := pem.Decode([]byte(publicKeyPEM))
	if pubBlock == nil {
		return nil, nil, errors.New("failed to parse public key PEM")
	}

	pub, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	publicKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, nil, errors.New("not an RSA public key")
	}

	privBlock, _ := pem.Decode([]byte(privateKeyPEM))
	if privBlock == nil {
		return nil, nil, errors.New("failed to parse private key PEM")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes)
	if err != nil {
		privInterface, err := x509.ParsePKCS8PrivateKey(privBlock.Bytes)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		privateKey, ok = privInterface.(*rsa.PrivateKey)
		if !ok {
			return nil, nil, errors.New("not an RSA private key")
		}
	}

	return publicKey, privateKey, nil
}
