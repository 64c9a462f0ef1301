package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleUser   Role = "USER"
	RoleKeeper Role = "KEEPER"
)

// Identity is what an access token asserts about its bearer.
type Identity struct {
	Subject string
	Role    Role
}

type Tokens struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (t Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t Tokens) Issue(subject string, role Role) (string, time.Time, error) {
	ttl := t.TTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	exp := t.now().Add(ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
		"iat":  t.now().Unix(),
		"exp":  exp.Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

func (t Tokens) Parse(tokenStr string) (Identity, error) {
	token, err := jwt.Parse(tokenStr, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return t.Secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return Identity{}, errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid claims")
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || role == "" {
		return Identity{}, errors.New("invalid claims")
	}
	return Identity{Subject: sub, Role: Role(role)}, nil
}
