package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Layr-Labs/cosigner-go/pkg/logger"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newHMAC(t *testing.T) *Authenticator {
	t.Helper()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	a, err := NewHMACAuthenticator(testSecret, "", time.Minute, testLogger)
	require.NoError(t, err)
	return a
}

func TestHMAC_IssueAndValidate(t *testing.T) {
	a := newHMAC(t)

	token, err := a.Issue("alice")
	require.NoError(t, err)

	subject, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestHMAC_RejectsBadTokens(t *testing.T) {
	a := newHMAC(t)
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	expired, err := a.issue("alice", time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)

	other, err := NewHMACAuthenticator([]byte("ffffffffffffffffffffffffffffffff"), "", time.Minute, testLogger)
	require.NoError(t, err)
	foreign, err := other.Issue("alice")
	require.NoError(t, err)

	wrongIssuer, err := NewHMACAuthenticator(testSecret, "someone-else", time.Minute, testLogger)
	require.NoError(t, err)
	misissued, err := wrongIssuer.Issue("alice")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"expired", expired},
		{"wrong secret", foreign},
		{"wrong issuer", misissued},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewHMACAuthenticator_ShortSecret(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	_, err := NewHMACAuthenticator([]byte("short"), "", 0, testLogger)
	assert.Error(t, err)

	_, err = newHMAC(t).Issue("")
	assert.Error(t, err)
}

func TestJWKS_Validate(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	publicKey, err := jwk.Import(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, publicKey.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, publicKey.Set(jwk.AlgorithmKey, jwa.RS256()))
	publicSet := jwk.NewSet()
	require.NoError(t, publicSet.AddKey(publicKey))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(publicSet)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewJWKSAuthenticator(ctx, srv.URL, "identity-provider", time.Hour, testLogger)
	require.NoError(t, err)

	signingKey, err := jwk.Import(privateKey)
	require.NoError(t, err)
	require.NoError(t, signingKey.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, signingKey.Set(jwk.AlgorithmKey, jwa.RS256()))

	token, err := jwt.NewBuilder().
		Issuer("identity-provider").
		Subject("bob").
		Expiration(time.Now().Add(time.Minute)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), signingKey))
	require.NoError(t, err)

	subject, err := a.Validate(string(signed))
	require.NoError(t, err)
	assert.Equal(t, "bob", subject)

	_, err = a.Issue("bob")
	assert.ErrorIs(t, err, ErrCannotIssue)

	// an HMAC token is not accepted by a JWKS authenticator
	hmacToken, err := newHMAC(t).Issue("bob")
	require.NoError(t, err)
	_, err = a.Validate(hmacToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
