package integration

import (
	"encoding/base64"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer = "formengine-integration"
	testSecret = "integration-secret-0123456789abcdef"
)

// TestClaims holds the configurable claims for forging session tokens.
type TestClaims struct {
	Subject   string
	SessionID string
	FormID    string
	Extra     map[string]any
}

// tokenForger signs session tokens outside the server, the way a client
// holding a leaked or guessed secret would.
type tokenForger struct {
	issuer string
	secret []byte
}

func newTokenForger() *tokenForger {
	return &tokenForger{issuer: testIssuer, secret: []byte(testSecret)}
}

func (tf *tokenForger) claims(c TestClaims, exp time.Time) jwt.MapClaims {
	now := time.Now()
	mc := jwt.MapClaims{
		"iss":     tf.issuer,
		"iat":     jwt.NewNumericDate(now),
		"exp":     jwt.NewNumericDate(exp),
		"sub":     c.Subject,
		"sid":     c.SessionID,
		"form_id": c.FormID,
	}
	maps.Copy(mc, c.Extra)
	return mc
}

func (tf *tokenForger) sign(method jwt.SigningMethod, key any, mc jwt.MapClaims) string {
	signed, err := jwt.NewWithClaims(method, mc).SignedString(key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// GenerateToken signs a valid token with the server secret.
func (tf *tokenForger) GenerateToken(c TestClaims) string {
	return tf.sign(jwt.SigningMethodHS256, tf.secret, tf.claims(c, time.Now().Add(time.Hour)))
}

// GenerateExpiredToken signs a token that expired an hour ago.
func (tf *tokenForger) GenerateExpiredToken(c TestClaims) string {
	return tf.sign(jwt.SigningMethodHS256, tf.secret, tf.claims(c, time.Now().Add(-time.Hour)))
}

// GenerateTokenWithSecret signs a token with another secret.
func (tf *tokenForger) GenerateTokenWithSecret(c TestClaims, secret string) string {
	return tf.sign(jwt.SigningMethodHS256, []byte(secret), tf.claims(c, time.Now().Add(time.Hour)))
}

// GenerateNoneToken builds an unsigned token with alg "none".
func (tf *tokenForger) GenerateNoneToken(c TestClaims) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(
		`{"iss":"` + tf.issuer + `","sub":"` + c.Subject + `","sid":"` + c.SessionID + `"}`,
	))
	return header + "." + payload + "."
}
