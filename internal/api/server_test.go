package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-rounds/internal/auth"
	"wager-rounds/internal/cache"
	"wager-rounds/internal/db"
	"wager-rounds/internal/engine"
	"wager-rounds/internal/oracle"
	"wager-rounds/internal/ws"
)

const keeperKey = "keeper-secret-key-0001"

type testEnv struct {
	srv  *httptest.Server
	feed *oracle.ManualFeed
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	feed := oracle.NewManualFeed()
	eng := engine.New(db.NewMemoryStore(), feed, engine.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	t.Cleanup(cancel)

	hash, err := auth.HashKeeperKey(keeperKey)
	require.NoError(t, err)

	s := NewServer(eng, ws.NewHub(nil, nil), Options{
		Tokens:        auth.Tokens{Secret: []byte("test-secret"), TTL: time.Hour},
		Challenges:    auth.Challenges{Store: cache.NewMemoryStore(), TTL: time.Minute},
		KeeperKeyHash: hash,
		ManualPrices:  feed,
	})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, feed: feed}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *testEnv) login(t *testing.T) (string, *auth.Signer) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := auth.NewSignerFromKey(key)

	code, ch := e.do(t, http.MethodGet, "/api/auth/challenge?address="+signer.Address().Hex(), "", nil)
	require.Equal(t, http.StatusOK, code)
	sig, err := signer.SignMessageHex([]byte(ch["message"].(string)))
	require.NoError(t, err)

	code, out := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"address":   signer.Address().Hex(),
		"signature": sig,
	})
	require.Equal(t, http.StatusOK, code, out)
	return out["token"].(string), signer
}

func (e *testEnv) keeperToken(t *testing.T) string {
	t.Helper()
	code, out := e.do(t, http.MethodPost, "/api/auth/keeper", "", map[string]string{"key": keeperKey})
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "KEEPER", out["role"])
	return out["token"].(string)
}

var initBody = map[string]any{
	"stablecoin":     "0x00000000000000000000000000000000000000c0",
	"round_duration": 1,
	"allocation": map[string]any{
		"winners_share": 7000, "affiliate_share": 1000, "jackpot_share": 1000, "platform_share": 1000,
	},
	"jackpot_allocation": map[string]any{
		"streak_5": 100, "streak_6": 200, "streak_7": 300, "streak_8": 400, "streak_9": 500, "streak_10": 600,
	},
	"min_bet_amount":      "10",
	"price_source":        "BTCUSDT",
	"staleness_threshold": 0,
}

func TestLoginRejectsReusedChallenge(t *testing.T) {
	env := newTestEnv(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := auth.NewSignerFromKey(key)

	_, ch := env.do(t, http.MethodGet, "/api/auth/challenge?address="+signer.Address().Hex(), "", nil)
	sig, err := signer.SignMessageHex([]byte(ch["message"].(string)))
	require.NoError(t, err)
	body := map[string]string{"address": signer.Address().Hex(), "signature": sig}

	code, _ := env.do(t, http.MethodPost, "/api/auth/login", "", body)
	require.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodPost, "/api/auth/login", "", body)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodGet, "/api/auth/challenge?address=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = env.do(t, http.MethodGet, "/api/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodPost, "/api/auth/keeper", "", map[string]string{"key": "wrong-key-but-long-enough"})
	assert.Equal(t, http.StatusUnauthorized, code)

	// A keeper token cannot act as a wallet.
	code, _ = env.do(t, http.MethodGet, "/api/me", env.keeperToken(t), nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestRoundOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ownerTok, _ := env.login(t)
	aliceTok, alice := env.login(t)
	bobTok, _ := env.login(t)
	keeperTok := env.keeperToken(t)

	code, _ := env.do(t, http.MethodGet, "/api/config", "", nil)
	assert.Equal(t, http.StatusConflict, code, "config is missing before initialize")

	code, out := env.do(t, http.MethodPost, "/api/admin/initialize", ownerTok, initBody)
	require.Equal(t, http.StatusCreated, code, out)
	assert.Equal(t, "FORFEIT", out["tie_policy"])

	code, out = env.do(t, http.MethodPost, "/api/admin/initialize", aliceTok, initBody)
	assert.Equal(t, http.StatusConflict, code, out)

	code, out = env.do(t, http.MethodPut, "/api/admin/config/min-bet", aliceTok, map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusForbidden, code, out)
	assert.Equal(t, "unauthorized", out["kind"])

	for _, tok := range []string{aliceTok, bobTok} {
		code, out = env.do(t, http.MethodPost, "/api/deposit", tok, map[string]string{"amount": "1000"})
		require.Equal(t, http.StatusOK, code, out)
		assert.Equal(t, "1000", out["balance"])
	}

	code, out = env.do(t, http.MethodPost, "/api/deposit", aliceTok, map[string]string{"amount": "-5"})
	assert.Equal(t, http.StatusBadRequest, code, out)

	env.feed.Set("BTCUSDT", 100)

	code, _ = env.do(t, http.MethodPost, "/api/keeper/rounds/start", aliceTok, nil)
	assert.Equal(t, http.StatusForbidden, code, "plain users cannot drive rounds")
	code, out = env.do(t, http.MethodPost, "/api/keeper/rounds/start", keeperTok, nil)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, float64(1), out["index"])
	assert.Equal(t, "100", out["starting_price"])

	code, out = env.do(t, http.MethodPost, "/api/bets", aliceTok, map[string]string{"amount": "400", "side": "LONG"})
	require.Equal(t, http.StatusCreated, code, out)
	code, out = env.do(t, http.MethodPost, "/api/bets", bobTok, map[string]string{"amount": "600", "side": "SHORT"})
	require.Equal(t, http.StatusCreated, code, out)
	code, out = env.do(t, http.MethodPost, "/api/bets", bobTok, map[string]string{"amount": "50", "side": "LONG"})
	assert.Equal(t, http.StatusConflict, code, out)
	code, out = env.do(t, http.MethodPost, "/api/bets", aliceTok, map[string]string{"amount": "50", "side": "UP"})
	assert.Equal(t, http.StatusBadRequest, code, out)

	// Round duration is one second.
	time.Sleep(1100 * time.Millisecond)
	code, out = env.do(t, http.MethodPost, "/api/keeper/prices", keeperTok, map[string]string{"source": "BTCUSDT", "price": "110"})
	require.Equal(t, http.StatusOK, code, out)

	code, out = env.do(t, http.MethodPost, "/api/keeper/rounds/end", ownerTok, nil)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "LONG_WON", out["outcome"])
	assert.Equal(t, "420", out["winners_pool"])

	code, out = env.do(t, http.MethodPost, "/api/claims/1", bobTok, nil)
	assert.Equal(t, http.StatusForbidden, code, out)
	assert.Equal(t, "ineligible_claim", out["kind"])

	code, out = env.do(t, http.MethodPost, "/api/claims/1", aliceTok, nil)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "400", out["principal"])
	assert.Equal(t, "420", out["winnings"])
	assert.Equal(t, "820", out["total"])

	code, out = env.do(t, http.MethodGet, "/api/me", aliceTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, alice.Address().Hex(), out["address"])
	assert.Equal(t, "1420", out["balance"])

	code, out = env.do(t, http.MethodGet, "/api/bets/1", aliceTok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "CLAIMED", out["user_claim"])

	code, _ = env.do(t, http.MethodGet, "/api/rounds/99", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = env.do(t, http.MethodGet, "/api/rounds/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = env.do(t, http.MethodPost, "/api/admin/fees/withdraw", ownerTok, nil)
	require.Equal(t, http.StatusOK, code, out)
	// No affiliates on the winning side, so their share folds into the jackpot.
	assert.Equal(t, "60", out["amount"])
	assert.Equal(t, "PLATFORM_FEE", out["reason"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	code, out := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
}
