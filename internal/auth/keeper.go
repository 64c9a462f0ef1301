package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadKeeperKey = errors.New("invalid keeper key")

func HashKeeperKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckKeeperKey compares a presented key against the configured bcrypt hash.
func CheckKeeperKey(hash, key string) error {
	if hash == "" || key == "" {
		return ErrBadKeeperKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrBadKeeperKey
	}
	return nil
}
