package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
)

const tokenIssuer = "schemad"

// AuthService issues and checks module identity tokens: HS256 JWTs whose
// subject is the calling module's name.
type AuthService struct {
	jwtSecret []byte
}

func NewAuthService(jwtSecret string) *AuthService {
	return &AuthService{jwtSecret: []byte(jwtSecret)}
}

// IssueModuleToken creates a signed token identifying module.
func (s *AuthService) IssueModuleToken(module string, ttl time.Duration) (string, error) {
	module = strings.TrimSpace(module)
	if module == "" {
		return "", errors.New("module name is required")
	}
	if len(s.jwtSecret) == 0 {
		return "", errors.New("auth.jwt_secret is not configured")
	}

	now := time.Now()
	claims := moduleClaims{
		Module: module,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   module,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateModuleToken verifies tokenStr and returns the module it names.
func (s *AuthService) ValidateModuleToken(tokenStr string) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", ErrInvalidCredentials
	}
	claims := &moduleClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", ErrTokenExpired
	}
	if err != nil || !token.Valid {
		return "", ErrInvalidCredentials
	}

	module := claims.Module
	if module == "" {
		module = claims.Subject
	}
	if module == "" {
		return "", ErrInvalidCredentials
	}
	return module, nil
}

type moduleClaims struct {
	Module string `json:"module"`
	jwt.RegisteredClaims
}
