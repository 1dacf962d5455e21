package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// SessionCookieName is the cookie that carries a signed login
const SessionCookieName = "alzassist_session"

var (
	// ErrInvalidPassword is returned when a login password does not match
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidSession is returned for a missing, forged or expired cookie
	ErrInvalidSession = errors.New("invalid or expired session")
)

// Authenticator checks login passwords and signs session cookies. With no
// password hash configured every request is allowed.
type Authenticator struct {
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

// NewAuthenticator creates an authenticator. passwordHash is a bcrypt hash
// or empty for open access; secret signs cookies.
func NewAuthenticator(passwordHash, secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{
		passwordHash: []byte(passwordHash),
		secret:       []byte(secret),
		ttl:          ttl,
		now:          time.Now,
	}
}

// Enabled reports whether a password is required
func (a *Authenticator) Enabled() bool {
	return len(a.passwordHash) > 0
}

// CheckPassword compares password with the configured bcrypt hash
func (a *Authenticator) CheckPassword(password string) error {
	if !a.Enabled() {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

// IssueToken returns a signed token valid for the configured TTL
func (a *Authenticator) IssueToken() (string, time.Time, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate session nonce: %w", err)
	}
	expires := a.now().Add(a.ttl)
	payload := hex.EncodeToString(nonce) + "|" + strconv.FormatInt(expires.Unix(), 10)
	token := base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + a.sign(payload)
	return token, expires, nil
}

// VerifyToken checks the signature and expiry of token
func (a *Authenticator) VerifyToken(token string) error {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok {
		return ErrInvalidSession
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ErrInvalidSession
	}
	payload := string(raw)
	if subtle.ConstantTimeCompare([]byte(a.sign(payload)), []byte(signature)) != 1 {
		return ErrInvalidSession
	}

	_, expiry, ok := strings.Cut(payload, "|")
	if !ok {
		return ErrInvalidSession
	}
	unix, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil || !a.now().Before(time.Unix(unix, 0)) {
		return ErrInvalidSession
	}
	return nil
}

// Authorize checks the session cookie of r
func (a *Authenticator) Authorize(r *http.Request) error {
	if !a.Enabled() {
		return nil
	}
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ErrInvalidSession
	}
	return a.VerifyToken(cookie.Value)
}

// SessionCookie wraps a token issued by IssueToken
func (a *Authenticator) SessionCookie(token string, expires time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(a.ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (a *Authenticator) sign(payload string) string {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
