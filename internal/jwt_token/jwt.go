package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
)

// Claims attests which ledger accounts signed the request carrying the token.
type Claims struct {
	Signers []string `json:"signers"`
	jwt.RegisteredClaims
}

// JWTService issues and validates signer attestation tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GenerateSignerToken attests signers for expiresIn.
func (s *JWTService) GenerateSignerToken(signers []id.AccountID, expiresIn time.Duration) (string, error) {
	if len(signers) == 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "at least one signer is required")
	}
	encoded := make([]string, len(signers))
	for i, signer := range signers {
		encoded[i] = signer.String()
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Signers: encoded,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// SignerAccounts parses the signers claim.
func (c *Claims) SignerAccounts() ([]id.AccountID, error) {
	accounts := make([]id.AccountID, 0, len(c.Signers))
	for _, raw := range c.Signers {
		account, err := id.ParseAccountID(raw)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid signer claim")
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}
