package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionTTL  = time.Hour
	maxSessionTTL      = 24 * time.Hour
	defaultSessionSkew = 2 * time.Minute
)

// ErrBadToken indicates the session token failed validation.
var ErrBadToken = errors.New("auth: invalid session token")

// Sessions mints and validates the short-lived HS256 tokens handed out after
// a wallet-signed session challenge. An empty secret disables the feature.
type Sessions struct {
	secret []byte
	issuer string
	ttl    time.Duration
	skew   time.Duration
	now    func() time.Time
}

// NewSessions builds a session service with clamped defaults.
func NewSessions(secret, issuer string, ttl time.Duration, now func() time.Time) *Sessions {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if ttl > maxSessionTTL {
		ttl = maxSessionTTL
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = "mycelix"
	}
	if now == nil {
		now = time.Now
	}
	return &Sessions{
		secret: []byte(strings.TrimSpace(secret)),
		issuer: issuer,
		ttl:    ttl,
		skew:   defaultSessionSkew,
		now:    now,
	}
}

// Enabled reports whether a signing secret is configured.
func (s *Sessions) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// TTL reports the configured token lifetime.
func (s *Sessions) TTL() time.Duration {
	if s == nil {
		return 0
	}
	return s.ttl
}

// Issue mints a token whose subject is the lowercased wallet address.
func (s *Sessions) Issue(address string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, errors.New("auth: session secret not configured")
	}
	subject := strings.ToLower(strings.TrimSpace(address))
	if subject == "" {
		return "", time.Time{}, errors.New("auth: address is required")
	}
	now := s.now()
	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify validates the token and returns its subject address.
func (s *Sessions) Verify(tokenString string) (string, error) {
	if !s.Enabled() {
		return "", ErrBadToken
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithLeeway(s.skew), jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrBadToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", ErrBadToken
	}
	return subject, nil
}

// ExtractBearer pulls the token out of an Authorization header, returning ""
// when the header is absent or not a bearer credential.
func ExtractBearer(header string) string {
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
