package anchortest

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtIssuer signs SEP-10 tokens with HMAC-SHA256. Rotating the secret revokes
// every token issued before.
type jwtIssuer struct {
	issuer string
	expiry time.Duration

	mu     sync.RWMutex
	secret []byte
}

func newJWTIssuer(issuer string, expiry time.Duration) *jwtIssuer {
	j := &jwtIssuer{issuer: issuer, expiry: expiry}
	j.rotate()
	return j
}

func (j *jwtIssuer) rotate() {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(err)
	}
	j.mu.Lock()
	j.secret = secret
	j.mu.Unlock()
}

func (j *jwtIssuer) key() []byte {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.secret
}

func (j *jwtIssuer) issue(account string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   account,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key())
}

func (j *jwtIssuer) verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.key(), nil
	}, jwt.WithIssuer(j.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
