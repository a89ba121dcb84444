package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var signingMethod = jwt.SigningMethodHS256

// Role is the caller's privilege level
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Claims is the access token issued by the identity service. The subject
// carries the numeric user id.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return id, nil
}

// Identity is the authenticated caller of a request
type Identity struct {
	UserID int64
	Role   Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Verifier validates and mints HS256 access tokens.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if issuer == "" {
		return nil, fmt.Errorf("jwt issuer is required")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer}, nil
}

// IssueToken signs a token for the identity. Used by tests and local tooling.
func (v *Verifier) IssueToken(id Identity, now time.Time, ttl time.Duration) (string, error) {
	if !id.Role.IsValid() {
		return "", fmt.Errorf("invalid role %q", id.Role)
	}
	claims := Claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseToken validates signature, issuer and expiry and returns the caller.
func (v *Verifier) ParseToken(tokenString string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != signingMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return Identity{}, err
	}
	if !claims.Role.IsValid() {
		return Identity{}, fmt.Errorf("invalid role %q", claims.Role)
	}
	return Identity{UserID: userID, Role: claims.Role}, nil
}
