// Package identity resolves connection credentials to an authenticated
// user. The gateway treats it as opaque; swapping the token scheme
// never touches the messaging core.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims represents the JWT claims the platform issues.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Verifier authenticates a raw credential string.
type Verifier interface {
	Verify(ctx context.Context, token string) (*domain.User, error)
}

// JWTVerifier validates HMAC-signed platform tokens.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify validates the token and returns the authenticated user.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (*domain.User, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, ErrInvalidToken
	}

	role := domain.UserRole(claims.Role)
	if !role.Valid() {
		role = domain.RoleFan
	}

	return &domain.User{
		ID:          userID,
		DisplayName: claims.DisplayName,
		Role:        role,
		AvatarURL:   claims.AvatarURL,
	}, nil
}

// Sign issues a token for user, valid for ttl. Used by tests and local
// tooling; production tokens come from the platform's auth service.
func (v *JWTVerifier) Sign(user *domain.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
		AvatarURL:   user.AvatarURL,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
