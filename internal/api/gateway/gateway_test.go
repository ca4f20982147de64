package gateway

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestTokenVerifierAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	v := newTokenVerifier(secret, "auctionhouse", []string{"auctionhouse-api"})

	userID := uuid.New()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "auctionhouse",
			Audience:  jwt.ClaimStrings{"auctionhouse-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID:   userID,
		Username: "alice",
	}

	got, err := v.verify(signToken(t, secret, claims))
	require.NoError(t, err)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, "alice", got.Username)
}

func TestTokenVerifierRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	v := newTokenVerifier(secret, "auctionhouse", []string{"auctionhouse-api"})

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "auctionhouse",
			Audience:  jwt.ClaimStrings{"auctionhouse-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		UserID: uuid.New(),
	}

	_, err := v.verify(signToken(t, secret, claims))
	assert.Error(t, err)
}

func TestTokenVerifierRejectsWrongSecret(t *testing.T) {
	v := newTokenVerifier([]byte("right-secret"), "auctionhouse", []string{"auctionhouse-api"})

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "auctionhouse",
			Audience:  jwt.ClaimStrings{"auctionhouse-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: uuid.New(),
	}

	_, err := v.verify(signToken(t, []byte("wrong-secret"), claims))
	assert.Error(t, err)
}

func TestTokenVerifierRejectsMissingUserID(t *testing.T) {
	secret := []byte("test-secret")
	v := newTokenVerifier(secret, "auctionhouse", []string{"auctionhouse-api"})

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "auctionhouse",
			Audience:  jwt.ClaimStrings{"auctionhouse-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	_, err := v.verify(signToken(t, secret, claims))
	assert.Error(t, err)
}

func TestResolveAddressPrefersForwardedHeader(t *testing.T) {
	r := newTestRequest(t, map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"})
	assert.Equal(t, "203.0.113.5", resolveAddress(r))
}

func TestResolveAddressFallsBackToRemoteAddr(t *testing.T) {
	r := newTestRequest(t, nil)
	r.RemoteAddr = "198.51.100.9:54321"
	assert.Equal(t, "198.51.100.9", resolveAddress(r))
}

func TestDeliverNotificationRoutesOutbidToMatchingClient(t *testing.T) {
	gw := &Gateway{
		logger:  testLogger(t),
		clients: make(map[uuid.UUID]*client),
	}

	userID := uuid.New()
	c := &client{id: uuid.New(), userID: userID, out: make(chan serverFrame, 4)}
	gw.clients[c.id] = c

	auctionID := uuid.New()
	payload := `{"type":"outbid","targetUserId":"` + userID.String() + `","auctionId":"` + auctionID.String() + `","timestamp":"2026-01-01T00:00:00Z"}`

	gw.deliverNotification(cacheMessage(payload))

	select {
	case f := <-c.out:
		assert.Equal(t, eventOutbid, f.Event)
	default:
		t.Fatal("expected a frame to be delivered")
	}
}

func TestDeliverNotificationIgnoresUnmatchedIdentity(t *testing.T) {
	gw := &Gateway{
		logger:  testLogger(t),
		clients: make(map[uuid.UUID]*client),
	}

	c := &client{id: uuid.New(), userID: uuid.New(), out: make(chan serverFrame, 4)}
	gw.clients[c.id] = c

	payload := `{"type":"outbid","targetUserId":"` + uuid.New().String() + `","auctionId":"` + uuid.New().String() + `","timestamp":"2026-01-01T00:00:00Z"}`
	gw.deliverNotification(cacheMessage(payload))

	select {
	case <-c.out:
		t.Fatal("did not expect a frame for a different identity")
	default:
	}
}
