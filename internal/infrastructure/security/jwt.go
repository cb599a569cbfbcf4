package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/domain"
)

type JWTSigner struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTSigner(secret string, issuer string) *JWTSigner {
	return &JWTSigner{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

type accessClaims struct {
	AccountID string `json:"aid"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

func (s *JWTSigner) SignAccessToken(accountID string, role string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := accessClaims{
		AccountID: accountID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", domain.ErrTokenSignFailed(err)
	}
	return signed, nil
}

func (s *JWTSigner) VerifyAccessToken(token string) (auth.TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &accessClaims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return auth.TokenClaims{}, domain.ErrTokenExpired()
		}
		return auth.TokenClaims{}, domain.ErrTokenInvalid()
	}

	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid || claims.AccountID == "" || !domain.IsValidRole(claims.Role) {
		return auth.TokenClaims{}, domain.ErrTokenInvalid()
	}

	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return auth.TokenClaims{AccountID: claims.AccountID, Role: claims.Role, Exp: exp}, nil
}
