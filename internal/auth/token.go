package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/foodior/apiserver/types"
)

const DefaultTokenTTL = 24 * time.Hour

// ErrInvalidCredential is returned for any token that cannot be trusted:
// bad signature, malformed payload, unknown role, or past expiry.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is the subject resolved from a verified token.
type Identity struct {
	UserID primitive.ObjectID
	Role   types.Role
}

// Claims are the JWT claims carried by bearer credentials.
type Claims struct {
	jwt.RegisteredClaims
	Role types.Role `json:"role"`
}

// TokenService issues and verifies HS256 bearer credentials.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService constructs a TokenService. A non-positive ttl falls back
// to DefaultTokenTTL.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for the given subject and role.
func (s *TokenService) Issue(userID primitive.ObjectID, role types.Role) (string, error) {
	if userID.IsZero() {
		return "", errors.New("missing subject")
	}
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the token signature and expiry and returns the identity it
// carries. Every failure is reported as ErrInvalidCredential.
func (s *TokenService) Verify(tokenString string) (Identity, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidCredential
	}

	userID, err := primitive.ObjectIDFromHex(strings.TrimSpace(claims.Subject))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad subject", ErrInvalidCredential)
	}
	if !claims.Role.Valid() {
		return Identity{}, fmt.Errorf("%w: bad role", ErrInvalidCredential)
	}
	return Identity{UserID: userID, Role: claims.Role}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}
