package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"wager-rounds/internal/cache"
)

var ErrNoChallenge = errors.New("no pending challenge for address")

// Challenges issues one-time login nonces and checks the wallet signature over them.
type Challenges struct {
	Store cache.Store
	TTL   time.Duration
}

func challengeKey(addr common.Address) string { return "auth:challenge:" + addr.Hex() }

// LoginMessage is the text a wallet signs to log in.
func LoginMessage(addr common.Address, nonce string) string {
	return fmt.Sprintf("Sign in to the wager platform\nAddress: %s\nNonce: %s", addr.Hex(), nonce)
}

// Issue stores a fresh nonce for addr and returns the message to sign.
func (c Challenges) Issue(ctx context.Context, addr common.Address) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(buf)
	ttl := c.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := c.Store.Set(ctx, challengeKey(addr), []byte(nonce), ttl); err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	return LoginMessage(addr, nonce), nil
}

// Verify consumes the pending nonce for addr and checks sigHex over the login message.
// The nonce is gone afterwards whether or not the signature matched.
func (c Challenges) Verify(ctx context.Context, addr common.Address, sigHex string) error {
	nonce, ok, err := c.Store.Take(ctx, challengeKey(addr))
	if err != nil {
		return fmt.Errorf("load challenge: %w", err)
	}
	if !ok {
		return ErrNoChallenge
	}
	valid, err := VerifySignature([]byte(LoginMessage(addr, string(nonce))), sigHex, addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !valid {
		return ErrBadSignature
	}
	return nil
}
