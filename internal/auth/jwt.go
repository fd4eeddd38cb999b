// Package auth issues and validates operator tokens for the endpoints that
// mutate the café index.
package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes carried in the scp claim.
const (
	ScopeCafesWrite   = "cafes:write"
	ScopeWeightsWrite = "weights:write"
	ScopeAuditRead    = "audit:read"
)

// Issuer is written to and required in the iss claim.
const Issuer = "cafeindex"

// DefaultTokenExpiry is used when GenerateOperatorToken gets a zero ttl.
const DefaultTokenExpiry = 12 * time.Hour

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptyOperator is returned when a token is requested without an operator id.
	ErrEmptyOperator = errors.New("operator cannot be empty")
	// ErrNoScopes is returned when a token is requested without scopes.
	ErrNoScopes = errors.New("at least one scope is required")
)

// Claims are the operator token claims.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scp"`
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// JWTService signs and validates HS256 operator tokens. Tokens are signed
// with the current secret and accepted under either the current or the
// previous one, so a secret can be rotated without invalidating live tokens.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
	now            func() time.Time
}

// NewJWTService creates a JWTService with a single secret.
func NewJWTService(secret string) *JWTService {
	return NewJWTServiceWithRotation(secret, "")
}

// NewJWTServiceWithRotation creates a JWTService that also accepts tokens
// signed with previousSecret. An empty previousSecret disables the fallback.
func NewJWTServiceWithRotation(currentSecret, previousSecret string) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
		now:           time.Now,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// WithLeeway sets the clock skew tolerated on exp/nbf/iat and returns s.
func (s *JWTService) WithLeeway(leeway time.Duration) *JWTService {
	s.leeway = leeway
	return s
}

// GenerateOperatorToken issues a token for operator valid for ttl (or
// DefaultTokenExpiry when ttl is zero) granting scopes.
func (s *JWTService) GenerateOperatorToken(operator string, ttl time.Duration, scopes ...string) (string, error) {
	if operator == "" {
		return "", ErrEmptyOperator
	}
	if len(scopes) == 0 {
		return "", ErrNoScopes
	}
	if ttl == 0 {
		ttl = DefaultTokenExpiry
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: slices.Clone(scopes),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateToken parses and validates a token, trying the current secret and
// then the previous one. Expired tokens yield ErrExpiredToken; every other
// failure yields ErrInvalidToken.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err == nil {
		return claims, nil
	}
	if s.previousSecret != nil && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		claims, err = s.parse(tokenString, s.previousSecret)
		if err == nil {
			return claims, nil
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
