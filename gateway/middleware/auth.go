package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"vaultledger/crypto"
	"vaultledger/observability/logging"
)

type AuthConfig struct {
	Enabled       bool
	HMACSecret    string
	Issuer        string
	Audience      string
	ScopeClaim    string
	OptionalPaths []string
	ClockSkew     time.Duration
}

type contextKey string

// CallerHeader names the caller when authentication is disabled. It is
// ignored once tokens are enforced.
const CallerHeader = "X-Ledger-Caller"

const (
	ContextKeyCaller contextKey = "gateway.caller"
	ContextKeyScopes contextKey = "gateway.scopes"
)

// Authenticator validates HMAC-signed bearer tokens. The subject claim names
// the caller on whose behalf ledger operations run.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger.With("component", "auth"),
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// CallerFrom returns the authenticated caller stored by the middleware.
func CallerFrom(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).([20]byte)
	return caller, ok
}

// WithCaller stores caller in ctx. Requests served with authentication
// disabled use it to carry an explicit identity.
func WithCaller(ctx context.Context, caller [20]byte) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, caller)
}

func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				if caller, err := crypto.ParseAddress(r.Header.Get(CallerHeader)); err == nil {
					r = r.WithContext(WithCaller(r.Context(), caller))
				}
				next.ServeHTTP(w, r)
				return
			}
			if a.isOptional(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Warn("token validation failed", "error", err, logging.MaskField("token", tokenString))
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			caller, err := callerFromClaims(claims)
			if err != nil {
				a.logger.Warn("subject rejected", "error", err)
				writeAuthError(w, http.StatusUnauthorized, "invalid subject")
				return
			}
			scopes := extractScopes(claims, a.cfg.ScopeClaim)
			if len(requiredScopes) > 0 && !hasScopes(scopes, requiredScopes) {
				writeAuthError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			ctx := WithCaller(r.Context(), caller)
			ctx = context.WithValue(ctx, ContextKeyScopes, scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func callerFromClaims(claims jwt.MapClaims) ([20]byte, error) {
	subject, err := claims.GetSubject()
	if err != nil {
		return [20]byte{}, err
	}
	if strings.TrimSpace(subject) == "" {
		return [20]byte{}, errors.New("subject missing")
	}
	return crypto.ParseAddress(subject)
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
