// Package middleware provides gRPC middleware for the console server.
package middleware

import (
	"context"
	"crypto"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dataherald/console/cmd/console/config"
	"github.com/dataherald/console/pkg/models"
)

// APIKeyAuthenticator resolves a presented API key to its stored record.
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, secret string) (*models.APIKey, error)
}

// publicMethods never require credentials.
var publicMethods = []string{
	"grpc.health",
	"grpc.reflection",
	"/arrow.flight.protocol.FlightService/ListActions",
}

// AuthMiddleware provides authentication middleware.
type AuthMiddleware struct {
	config config.AuthConfig
	keys   APIKeyAuthenticator
	logger zerolog.Logger

	HSKey   []byte
	RSKey   crypto.PublicKey
	Iss     string
	Aud     string
	methods []string
}

// NewAuthMiddleware creates a new authentication middleware. keys is only
// consulted for api_key auth and may be nil otherwise.
func NewAuthMiddleware(cfg config.AuthConfig, keys APIKeyAuthenticator, logger zerolog.Logger) (*AuthMiddleware, error) {
	m := &AuthMiddleware{
		config:  cfg,
		keys:    keys,
		logger:  logger,
		Iss:     cfg.JWTAuth.Issuer,
		Aud:     cfg.JWTAuth.Audience,
		methods: cfg.JWTAuth.Algorithms,
	}
	if !cfg.Enabled {
		return m, nil
	}

	switch cfg.Type {
	case config.AuthJWT:
		if cfg.JWTAuth.Secret != "" {
			m.HSKey = []byte(cfg.JWTAuth.Secret)
		}
		if cfg.JWTAuth.PublicKeyFile != "" {
			key, err := loadPublicKey(cfg.JWTAuth.PublicKeyFile)
			if err != nil {
				return nil, err
			}
			m.RSKey = key
		}
	case config.AuthAPIKey:
		if keys == nil {
			return nil, fmt.Errorf("api_key auth requires an API key service")
		}
	}
	return m, nil
}

func loadPublicKey(path string) (crypto.PublicKey, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	if key, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
		return key, nil
	}
	key, err := jwt.ParseECPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}
	return key, nil
}

func isPublic(method string) bool {
	for _, p := range publicMethods {
		if strings.Contains(method, p) {
			return true
		}
	}
	return false
}

// UnaryInterceptor returns a unary server interceptor for authentication.
func (m *AuthMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if isPublic(info.FullMethod) {
			return handler(ctx, req)
		}

		authCtx, err := m.authenticate(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Str("method", info.FullMethod).Msg("Authentication failed")
			return nil, err
		}

		return handler(authCtx, req)
	}
}

// StreamInterceptor returns a stream server interceptor for authentication.
func (m *AuthMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isPublic(info.FullMethod) {
			return handler(srv, ss)
		}

		authCtx, err := m.authenticate(ss.Context())
		if err != nil {
			m.logger.Warn().Err(err).Str("method", info.FullMethod).Msg("Authentication failed")
			return err
		}

		return handler(srv, &authServerStream{ServerStream: ss, ctx: authCtx})
	}
}

// authenticate performs authentication based on configured type.
func (m *AuthMiddleware) authenticate(ctx context.Context) (context.Context, error) {
	if !m.config.Enabled {
		return ctx, nil
	}

	switch m.config.Type {
	case config.AuthJWT:
		return m.authenticateJWT(ctx)
	case config.AuthAPIKey:
		return m.authenticateAPIKey(ctx)
	case config.AuthBearer:
		return m.authenticateBearer(ctx)
	default:
		return nil, status.Errorf(codes.Internal, "unsupported auth type: %s", m.config.Type)
	}
}

// bearerToken extracts the token from an "authorization: Bearer ..." header.
func bearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}

	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}

	authHeader := authHeaders[0]
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", status.Error(codes.Unauthenticated, "invalid authorization header")
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", status.Error(codes.Unauthenticated, "empty bearer token")
	}
	return token, nil
}

// authenticateBearer checks the token against the static token map.
func (m *AuthMiddleware) authenticateBearer(ctx context.Context) (context.Context, error) {
	token, err := bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	username, ok := m.config.BearerAuth.Tokens[token]
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	return context.WithValue(ctx, contextKeyUser, username), nil
}

// authenticateAPIKey checks the token against stored API keys.
func (m *AuthMiddleware) authenticateAPIKey(ctx context.Context) (context.Context, error) {
	token, err := bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	key, err := m.keys.Authenticate(ctx, token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid API key")
	}

	ctx = context.WithValue(ctx, contextKeyUser, key.Name)
	ctx = context.WithValue(ctx, contextKeyAPIKeyID, key.ID)
	return ctx, nil
}

// authenticateJWT validates a signed token's signature, expiry, issuer and
// audience.
func (m *AuthMiddleware) authenticateJWT(ctx context.Context) (context.Context, error) {
	tokenString, err := bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if len(m.methods) > 0 {
		opts = append(opts, jwt.WithValidMethods(m.methods))
	}
	if m.Iss != "" {
		opts = append(opts, jwt.WithIssuer(m.Iss))
	}
	if m.Aud != "" {
		opts = append(opts, jwt.WithAudience(m.Aud))
	}

	token, err := jwt.Parse(tokenString, m.keyFunc, opts...)
	if err != nil || !token.Valid {
		m.logger.Debug().Err(err).Msg("JWT rejected")
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, status.Error(codes.Unauthenticated, "token has no subject")
	}

	return context.WithValue(ctx, contextKeyUser, subject), nil
}

func (m *AuthMiddleware) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(m.HSKey) == 0 {
			return nil, fmt.Errorf("no HMAC secret configured")
		}
		return m.HSKey, nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		if m.RSKey == nil {
			return nil, fmt.Errorf("no public key configured")
		}
		return m.RSKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
	}
}

// Context keys for authentication
type contextKey string

const (
	contextKeyUser     contextKey = "user"
	contextKeyAPIKeyID contextKey = "api_key_id"
)

// GetUser extracts the authenticated user from context.
func GetUser(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(contextKeyUser).(string)
	return user, ok
}

// AuthenticatedUser returns the authenticated user, or "" when there is none.
func AuthenticatedUser(ctx context.Context) string {
	user, _ := GetUser(ctx)
	return user
}

// GetAPIKeyID extracts the id of the API key a request authenticated with.
func GetAPIKeyID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKeyAPIKeyID).(string)
	return id, ok
}

// authServerStream wraps a ServerStream with authenticated context.
type authServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authServerStream) Context() context.Context {
	return s.ctx
}
