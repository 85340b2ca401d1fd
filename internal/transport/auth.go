package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/formengine/internal/config"
	"github.com/pitabwire/formengine/model"
)

// Session token claim names.
const (
	claimSessionID = "sid"
	claimFormID    = "form_id"
)

var errNoSession = errors.New("token has no session")

// SessionTokens issues and verifies the HS256 bearer tokens that bind a
// hosting surface to one form session.
type SessionTokens struct {
	issuer string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokens creates a token issuer from the auth configuration.
func NewSessionTokens(cfg config.AuthConfig) *SessionTokens {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionTokens{
		issuer: cfg.Issuer,
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed token for the session and its expiry.
func (t *SessionTokens) Issue(subject, sessionID, formID string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := jwt.MapClaims{
		"iss":          t.issuer,
		"sub":          subject,
		"iat":          now.Unix(),
		"exp":          exp.Unix(),
		claimSessionID: sessionID,
		claimFormID:    formID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses a token and returns its claims.
func (t *SessionTokens) Verify(tokenStr string) (map[string]any, error) {
	token, err := jwt.Parse(tokenStr,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if s, _ := claims[claimSessionID].(string); s == "" {
		return nil, errNoSession
	}
	return map[string]any(claims), nil
}

// Authenticate returns middleware that verifies the session token from the
// Authorization header and stores its claims in the request context.
func (t *SessionTokens) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			WriteError(w, model.NewUnauthorizedError("Missing authorization header"))
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			WriteError(w, model.NewUnauthorizedError("Invalid authorization header format"))
			return
		}

		claims, err := t.Verify(auth[7:])
		if err != nil {
			WriteError(w, model.NewUnauthorizedError(classifyJWTError(err)))
			return
		}

		ctx := WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case strings.Contains(err.Error(), "signing method"):
		return "Disallowed signing algorithm"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	case errors.Is(err, errNoSession):
		return "Token is not bound to a session"
	}
	return "Invalid token"
}
