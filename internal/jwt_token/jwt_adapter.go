package jwttoken

import (
	authmw "safe/pkg/platform/middleware/auth"
)

// ToMiddlewareClaims converts validated claims to the middleware's view.
func ToMiddlewareClaims(claims *Claims) (*authmw.JWTClaims, error) {
	signers, err := claims.SignerAccounts()
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{
		Signers: signers,
		JTI:     claims.ID,
	}, nil
}

type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims)
}
