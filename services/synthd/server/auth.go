package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"synthvault/crypto"
	"synthvault/observability/logging"
)

// Scopes recognised on bearer tokens.
const (
	ScopeWrite = "synth:write"
	ScopeAdmin = "synth:admin"
)

// AuthConfig configures HMAC signed JWT bearer tokens. The subject claim
// carries the caller's bech32 account.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type callerKey struct{}

type caller struct {
	account crypto.Address
	scopes  []string
}

// Authenticator validates bearer tokens. Without a secret it is disabled and
// requests proceed anonymously.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), logger: logger}
}

// Enabled reports whether tokens are required.
func (a *Authenticator) Enabled() bool { return a != nil && len(a.secret) > 0 }

// Middleware rejects requests lacking a valid token carrying every required
// scope. Admin scoped routes also reject requests while auth is disabled.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				if hasScopes(requiredScopes, []string{ScopeAdmin}) {
					writeError(w, r, http.StatusUnauthorized, "unauthorized", "administrative routes require authentication")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			tokenString := extractBearer(header)
			if tokenString == "" {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			who, err := a.parse(tokenString)
			if err != nil {
				a.logger.Warn("auth: token rejected",
					slog.String("error", err.Error()),
					logging.MaskField("authorization", header),
					slog.String("request_id", requestID(r.Context())))
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			if !hasScopes(who.scopes, requiredScopes) {
				writeError(w, r, http.StatusForbidden, "unauthorized", "insufficient scope")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, who)))
		})
	}
}

func (a *Authenticator) parse(tokenString string) (caller, error) {
	opts := []jwt.ParserOption{jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return caller{}, err
	}
	if !token.Valid {
		return caller{}, errors.New("token invalid")
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return caller{}, errors.New("subject required")
	}
	account, err := crypto.DecodeAddress(subject)
	if err != nil {
		return caller{}, err
	}
	return caller{account: account, scopes: extractScopes(claims)}, nil
}

func callerFrom(ctx context.Context) (caller, bool) {
	who, ok := ctx.Value(callerKey{}).(caller)
	return who, ok
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func extractScopes(claims jwt.MapClaims) []string {
	switch v := claims["scope"].(type) {
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
	for _, scope := range required {
		if _, ok := set[scope]; !ok {
			return false
		}
	}
	return true
}
