package auth

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrBadSignature = errors.New("signature does not match address")

// Signer produces EIP-191 personal-sign signatures. The server only verifies; Signer
// exists for tooling and tests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func NewSigner(hexKey string) (*Signer, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	privateKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSignerFromKey(privateKey), nil
}

func NewSignerFromKey(k *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: k, address: crypto.PubkeyToAddress(k.PublicKey)}
}

func (s *Signer) Address() common.Address { return s.address }

// SignMessageHex signs message with the personal-sign prefix and returns a 0x-prefixed 65-byte signature.
func (s *Signer) SignMessageHex(message []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), s.privateKey)
	if err != nil {
		return "", err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAddress returns the address that produced sigHex over message.
func RecoverAddress(message []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, err
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pubKey, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifySignature reports whether sigHex is expected's personal-sign signature over message.
func VerifySignature(message []byte, sigHex string, expected common.Address) (bool, error) {
	got, err := RecoverAddress(message, sigHex)
	if err != nil {
		return false, err
	}
	return got == expected, nil
}

// OwnershipMessage is what a prospective owner signs to accept the platform.
// Binding the config version keeps a signature from being replayed after any later change.
func OwnershipMessage(current, next common.Address, version uint64) []byte {
	return []byte(fmt.Sprintf("Accept ownership of the wager platform\nCurrent owner: %s\nNew owner: %s\nConfig version: %d",
		current.Hex(), next.Hex(), version))
}
