package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Role         Role   `json:"role"`
	SpecialistID string `json:"specialist_id,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 caller tokens.
type Issuer struct {
	secret []byte
	issuer string
}

func NewIssuer(secret, issuer string) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer}
}

func (i *Issuer) Issue(c Caller, ttl time.Duration) (string, error) {
	if !c.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", c.Role)
	}

	now := time.Now()
	claims := Claims{
		Role: c.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if c.SpecialistID != uuid.Nil {
		claims.SpecialistID = c.SpecialistID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *Issuer) Verify(raw string) (Caller, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !claims.Role.Valid() {
		return Caller{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	caller := Caller{Subject: claims.Subject, Role: claims.Role}
	if claims.SpecialistID != "" {
		id, err := uuid.Parse(claims.SpecialistID)
		if err != nil {
			return Caller{}, fmt.Errorf("%w: specialist_id: %v", ErrInvalidToken, err)
		}
		caller.SpecialistID = id
	}
	if caller.Role == RoleSpecialist && caller.SpecialistID == uuid.Nil {
		return Caller{}, fmt.Errorf("%w: specialist token without specialist_id", ErrInvalidToken)
	}

	return caller, nil
}
