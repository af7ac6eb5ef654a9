package middleware

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dataherald/console/cmd/console/config"
	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/models"
)

type stubKeys struct {
	keys map[string]*models.APIKey
}

func (s *stubKeys) Authenticate(ctx context.Context, secret string) (*models.APIKey, error) {
	if key, ok := s.keys[secret]; ok {
		return key, nil
	}
	return nil, errors.ErrInvalidCredentials
}

func setupTestAuthMiddleware(t *testing.T, authType string) *AuthMiddleware {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	cfg := config.AuthConfig{
		Enabled: true,
		Type:    authType,
	}

	switch authType {
	case config.AuthBearer:
		cfg.BearerAuth.Tokens = map[string]string{
			"test-token": "testuser",
		}
	case config.AuthJWT:
		cfg.JWTAuth = config.JWTAuthConfig{
			Secret:     "test-secret",
			Issuer:     "test-issuer",
			Audience:   "test-audience",
			Algorithms: []string{"HS256", "RS256", "ES256"},
		}
	}

	keys := &stubKeys{keys: map[string]*models.APIKey{
		"dh-valid": {ID: "k1", Name: "ci pipeline"},
	}}
	m, err := NewAuthMiddleware(cfg, keys, logger)
	require.NoError(t, err)
	return m
}

func bearerContext(token string) context.Context {
	md := metadata.New(map[string]string{"authorization": "Bearer " + token})
	return metadata.NewIncomingContext(context.Background(), md)
}

func signedToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "auth0|testuser",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iss": "test-issuer",
		"aud": "test-audience",
	}
}

func TestNewAuthMiddleware(t *testing.T) {
	t.Run("jwt secret", func(t *testing.T) {
		m := setupTestAuthMiddleware(t, config.AuthJWT)
		assert.Equal(t, "test-secret", string(m.HSKey))
		assert.Equal(t, "test-issuer", m.Iss)
		assert.Equal(t, "test-audience", m.Aud)
		assert.Nil(t, m.RSKey)
	})

	t.Run("jwt public key file", func(t *testing.T) {
		privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		der, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "auth0.pem")
		require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

		m, err := NewAuthMiddleware(config.AuthConfig{
			Enabled: true,
			Type:    config.AuthJWT,
			JWTAuth: config.JWTAuthConfig{PublicKeyFile: path, Algorithms: []string{"RS256"}},
		}, nil, zerolog.Nop())
		require.NoError(t, err)
		rsaKey, ok := m.RSKey.(*rsa.PublicKey)
		require.True(t, ok)
		assert.Equal(t, 0, rsaKey.N.Cmp(privateKey.N))
		assert.Equal(t, privateKey.E, rsaKey.E)
	})

	t.Run("unreadable public key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "garbage.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))
		_, err := NewAuthMiddleware(config.AuthConfig{
			Enabled: true,
			Type:    config.AuthJWT,
			JWTAuth: config.JWTAuthConfig{PublicKeyFile: path},
		}, nil, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("api key auth without service", func(t *testing.T) {
		_, err := NewAuthMiddleware(config.AuthConfig{Enabled: true, Type: config.AuthAPIKey}, nil, zerolog.Nop())
		assert.Error(t, err)
	})
}

func TestAuthMiddleware_AuthenticateJWT(t *testing.T) {
	m := setupTestAuthMiddleware(t, config.AuthJWT)

	t.Run("successful authentication with HMAC", func(t *testing.T) {
		token := signedToken(t, jwt.SigningMethodHS256, m.HSKey, validClaims())

		authCtx, err := m.authenticateJWT(bearerContext(token))
		require.NoError(t, err)
		assert.Equal(t, "auth0|testuser", AuthenticatedUser(authCtx))
	})

	t.Run("successful authentication with RSA", func(t *testing.T) {
		privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		m.RSKey = privateKey.Public()
		defer func() { m.RSKey = nil }()

		token := signedToken(t, jwt.SigningMethodRS256, privateKey, validClaims())
		authCtx, err := m.authenticateJWT(bearerContext(token))
		require.NoError(t, err)
		assert.Equal(t, "auth0|testuser", AuthenticatedUser(authCtx))
	})

	t.Run("successful authentication with ECDSA", func(t *testing.T) {
		privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		m.RSKey = privateKey.Public()
		defer func() { m.RSKey = nil }()

		token := signedToken(t, jwt.SigningMethodES256, privateKey, validClaims())
		authCtx, err := m.authenticateJWT(bearerContext(token))
		require.NoError(t, err)
		assert.Equal(t, "auth0|testuser", AuthenticatedUser(authCtx))
	})

	rejected := []struct {
		name  string
		token func() string
	}{
		{"malformed", func() string { return "invalid.token.here" }},
		{"expired", func() string {
			c := validClaims()
			c["exp"] = time.Now().Add(-time.Hour).Unix()
			return signedToken(t, jwt.SigningMethodHS256, m.HSKey, c)
		}},
		{"no expiry", func() string {
			c := validClaims()
			delete(c, "exp")
			return signedToken(t, jwt.SigningMethodHS256, m.HSKey, c)
		}},
		{"wrong issuer", func() string {
			c := validClaims()
			c["iss"] = "wrong-issuer"
			return signedToken(t, jwt.SigningMethodHS256, m.HSKey, c)
		}},
		{"wrong audience", func() string {
			c := validClaims()
			c["aud"] = "wrong-audience"
			return signedToken(t, jwt.SigningMethodHS256, m.HSKey, c)
		}},
		{"wrong secret", func() string {
			return signedToken(t, jwt.SigningMethodHS256, []byte("other-secret"), validClaims())
		}},
		{"algorithm not allowed", func() string {
			return signedToken(t, jwt.SigningMethodHS512, m.HSKey, validClaims())
		}},
		{"no subject", func() string {
			c := validClaims()
			delete(c, "sub")
			return signedToken(t, jwt.SigningMethodHS256, m.HSKey, c)
		}},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.authenticateJWT(bearerContext(tt.token()))
			require.Error(t, err)
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
		})
	}

	t.Run("missing metadata", func(t *testing.T) {
		_, err := m.authenticateJWT(context.Background())
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("missing authorization header", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.New(nil))
		_, err := m.authenticateJWT(ctx)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})
}

func TestAuthMiddleware_AuthenticateAPIKey(t *testing.T) {
	m := setupTestAuthMiddleware(t, config.AuthAPIKey)

	authCtx, err := m.authenticateAPIKey(bearerContext("dh-valid"))
	require.NoError(t, err)
	assert.Equal(t, "ci pipeline", AuthenticatedUser(authCtx))
	id, ok := GetAPIKeyID(authCtx)
	assert.True(t, ok)
	assert.Equal(t, "k1", id)

	_, err = m.authenticateAPIKey(bearerContext("dh-revoked"))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	md := metadata.New(map[string]string{"authorization": "Basic dXNlcjpwYXNz"})
	_, err = m.authenticateAPIKey(metadata.NewIncomingContext(context.Background(), md))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = m.authenticateAPIKey(bearerContext("   "))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestAuthMiddleware_AuthenticateBearer(t *testing.T) {
	m := setupTestAuthMiddleware(t, config.AuthBearer)

	authCtx, err := m.authenticateBearer(bearerContext("test-token"))
	require.NoError(t, err)
	user, ok := GetUser(authCtx)
	assert.True(t, ok)
	assert.Equal(t, "testuser", user)

	_, err = m.authenticateBearer(bearerContext("invalid-token"))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	m, err := NewAuthMiddleware(config.AuthConfig{Enabled: false, Type: config.AuthJWT}, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	got, err := m.authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, ctx, got)
}

func TestAuthMiddleware_UnaryInterceptor(t *testing.T) {
	m := setupTestAuthMiddleware(t, config.AuthBearer)
	interceptor := m.UnaryInterceptor()

	var seenUser string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seenUser = AuthenticatedUser(ctx)
		return "ok", nil
	}

	resp, err := interceptor(bearerContext("test-token"), nil,
		&grpc.UnaryServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/GetFlightInfo"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, "testuser", seenUser)

	_, err = interceptor(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/GetFlightInfo"}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	resp, err = interceptor(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestAuthMiddleware_StreamInterceptor(t *testing.T) {
	m := setupTestAuthMiddleware(t, config.AuthAPIKey)
	interceptor := m.StreamInterceptor()

	var seenUser string
	handler := func(srv interface{}, ss grpc.ServerStream) error {
		seenUser = AuthenticatedUser(ss.Context())
		return nil
	}

	err := interceptor(nil, &fakeServerStream{ctx: bearerContext("dh-valid")},
		&grpc.StreamServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/DoAction"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ci pipeline", seenUser)

	err = interceptor(nil, &fakeServerStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/DoGet"}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = interceptor(nil, &fakeServerStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: "/arrow.flight.protocol.FlightService/ListActions"}, handler)
	assert.NoError(t, err)
}
