package auth

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-rounds/internal/cache"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewSignerFromKey(k)
}

func TestVerifySignature(t *testing.T) {
	s := newTestSigner(t)
	other := newTestSigner(t)
	msg := []byte("hello")

	sig, err := s.SignMessageHex(msg)
	require.NoError(t, err)

	ok, err := VerifySignature(msg, sig, s.Address())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifySignature(msg, sig, other.Address())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = VerifySignature([]byte("hellO"), sig, s.Address())
	assert.False(t, ok)

	_, err = VerifySignature(msg, "0x1234", s.Address())
	assert.Error(t, err)
}

func TestNewSignerFromHex(t *testing.T) {
	s, err := NewSigner("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s.Address().Hex())

	_, err = NewSigner("zz")
	assert.Error(t, err)
}

func TestTokens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tk := Tokens{Secret: []byte("test-secret-at-least-32-characters!!"), TTL: time.Hour, Now: func() time.Time { return now }}

	tok, exp, err := tk.Issue("0xabc", RoleKeeper)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	id, err := tk.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{Subject: "0xabc", Role: RoleKeeper}, id)

	other := Tokens{Secret: []byte("another-secret-at-least-32-chars!!!"), Now: tk.Now}
	_, err = other.Parse(tok)
	assert.Error(t, err)

	now = now.Add(2 * time.Hour)
	_, err = tk.Parse(tok)
	assert.Error(t, err, "expired tokens are rejected")
}

func TestKeeperKey(t *testing.T) {
	hash, err := HashKeeperKey("s3cret")
	require.NoError(t, err)
	assert.NoError(t, CheckKeeperKey(hash, "s3cret"))
	assert.ErrorIs(t, CheckKeeperKey(hash, "wrong"), ErrBadKeeperKey)
	assert.ErrorIs(t, CheckKeeperKey("", "s3cret"), ErrBadKeeperKey)
}

func TestChallengeLogin(t *testing.T) {
	ctx := context.Background()
	s := newTestSigner(t)
	ch := Challenges{Store: cache.NewMemoryStore(), TTL: time.Minute}

	assert.ErrorIs(t, ch.Verify(ctx, s.Address(), "0x00"), ErrNoChallenge)

	msg, err := ch.Issue(ctx, s.Address())
	require.NoError(t, err)
	assert.Contains(t, msg, s.Address().Hex())

	sig, err := s.SignMessageHex([]byte(msg))
	require.NoError(t, err)
	require.NoError(t, ch.Verify(ctx, s.Address(), sig))

	assert.ErrorIs(t, ch.Verify(ctx, s.Address(), sig), ErrNoChallenge, "nonces are single use")
}

func TestChallengeRejectsForeignSignature(t *testing.T) {
	ctx := context.Background()
	victim := newTestSigner(t)
	attacker := newTestSigner(t)
	ch := Challenges{Store: cache.NewMemoryStore()}

	msg, err := ch.Issue(ctx, victim.Address())
	require.NoError(t, err)
	sig, err := attacker.SignMessageHex([]byte(msg))
	require.NoError(t, err)

	assert.ErrorIs(t, ch.Verify(ctx, victim.Address(), sig), ErrBadSignature)
}
