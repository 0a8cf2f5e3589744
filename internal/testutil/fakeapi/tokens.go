package fakeapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/thesisportal/internal/models"
)

const (
	defaultAccessTTL = 5 * time.Minute
	signingMethod    = "HS256"
)

type accessClaims struct {
	jwt.RegisteredClaims
	UserID int64       `json:"user_id"`
	Role   models.Role `json:"role"`
}

// issuer signs access tokens and mints opaque refresh tokens
type issuer struct {
	key []byte
	alg jwt.SigningMethod
}

func newIssuer() issuer {
	return issuer{key: []byte(uuid.NewString()), alg: jwt.GetSigningMethod(signingMethod)}
}

func (i issuer) access(user models.User, expiresAt time.Time) (string, error) {
	now := time.Now().Truncate(time.Second)
	token := jwt.NewWithClaims(i.alg, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: user.ID,
		Role:   user.Role,
	})

	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("error while signing access token. Err: %w", err)
	}
	return signed, nil
}

// parse validates signature and expiry
func (i issuer) parse(access string) (accessClaims, error) {
	claims := accessClaims{}
	_, err := jwt.ParseWithClaims(
		access,
		&claims,
		func(t *jwt.Token) (any, error) {
			return i.key, nil
		},
		jwt.WithValidMethods([]string{i.alg.Alg()}),
	)
	return claims, err
}

func (i issuer) refresh() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Passwords are pre-hashed with sha256 so bcrypt's 72 byte limit never cuts them
func hashPassword(password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.MinCost)
	return string(hash), err
}

func checkPassword(hashed, password string) bool {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hashed), sum[:]) == nil
}
