package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"wager-rounds/internal/model"
)

// MemoryStore keeps every record in process memory. Writes are staged per transaction and
// applied together on Commit.
type MemoryStore struct {
	mu        sync.RWMutex
	config    *model.PlatformConfig
	rounds    map[string]model.Round
	bets      map[string]model.Bet
	users     map[string]model.UserInfo
	events    []model.EventLog
	transfers []model.Transfer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds: make(map[string]model.Round),
		bets:   make(map[string]model.Bet),
		users:  make(map[string]model.UserInfo),
	}
}

func (m *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{
		store:  m,
		rounds: make(map[string]model.Round),
		bets:   make(map[string]model.Bet),
		users:  make(map[string]model.UserInfo),
	}, nil
}

func (m *MemoryStore) GetConfig(_ context.Context) (*model.PlatformConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil, nil
	}
	c := *m.config
	return &c, nil
}

func (m *MemoryStore) GetRound(_ context.Context, index uint64) (*model.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rounds[model.RoundKey(index)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryStore) GetBet(_ context.Context, user common.Address, round uint64) (*model.Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bets[model.BetKey(user, round)]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *MemoryStore) GetUser(_ context.Context, addr common.Address) (*model.UserInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[model.UserKey(addr)]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStore) ListUserBets(_ context.Context, user common.Address, limit int) ([]model.Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Bet
	for _, b := range m.bets {
		if b.User == user {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round > out[j].Round })
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// ListEvents returns the newest events first.
func (m *MemoryStore) ListEvents(_ context.Context, round *uint64, limit int) ([]model.EventLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := clampLimit(limit)
	var out []model.EventLog
	for i := len(m.events) - 1; i >= 0 && len(out) < n; i-- {
		e := m.events[i]
		if round != nil && (e.Round == nil || *e.Round != *round) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) ListTransfers(_ context.Context, addr *common.Address, limit int) ([]model.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := clampLimit(limit)
	var out []model.Transfer
	for i := len(m.transfers) - 1; i >= 0 && len(out) < n; i-- {
		t := m.transfers[i]
		if addr != nil && t.From != *addr && t.To != *addr {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ── Tx ───────────────────────────────────────────────

type memTx struct {
	store     *MemoryStore
	done      bool
	config    *model.PlatformConfig
	rounds    map[string]model.Round
	bets      map[string]model.Bet
	users     map[string]model.UserInfo
	events    []model.EventLog
	transfers []model.Transfer
}

func (t *memTx) LoadConfig() (*model.PlatformConfig, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if t.config != nil {
		c := *t.config
		return &c, nil
	}
	return t.store.GetConfig(context.Background())
}

func (t *memTx) SaveConfig(c *model.PlatformConfig) error {
	if t.done {
		return ErrTxDone
	}
	cp := *c
	t.config = &cp
	return nil
}

func (t *memTx) LoadRound(index uint64) (*model.Round, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if r, ok := t.rounds[model.RoundKey(index)]; ok {
		return &r, nil
	}
	return t.store.GetRound(context.Background(), index)
}

func (t *memTx) SaveRound(r *model.Round) error {
	if t.done {
		return ErrTxDone
	}
	t.rounds[model.RoundKey(r.Index)] = *r
	return nil
}

func (t *memTx) LoadBet(user common.Address, round uint64) (*model.Bet, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if b, ok := t.bets[model.BetKey(user, round)]; ok {
		return &b, nil
	}
	return t.store.GetBet(context.Background(), user, round)
}

func (t *memTx) SaveBet(b *model.Bet) error {
	if t.done {
		return ErrTxDone
	}
	t.bets[model.BetKey(b.User, b.Round)] = *b
	return nil
}

func (t *memTx) LoadUser(addr common.Address) (*model.UserInfo, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if u, ok := t.users[model.UserKey(addr)]; ok {
		return &u, nil
	}
	return t.store.GetUser(context.Background(), addr)
}

func (t *memTx) SaveUser(u *model.UserInfo) error {
	if t.done {
		return ErrTxDone
	}
	t.users[model.UserKey(u.Address)] = *u
	return nil
}

func (t *memTx) AppendEvent(round *uint64, evType string, payload any) (model.EventLog, error) {
	if t.done {
		return model.EventLog{}, ErrTxDone
	}
	e := model.EventLog{ID: uuid.New().String(), Type: evType, Payload: payload, CreatedAt: time.Now().UTC()}
	if round != nil {
		v := *round
		e.Round = &v
	}
	t.events = append(t.events, e)
	return e, nil
}

func (t *memTx) RecordTransfer(tr model.Transfer) (model.Transfer, error) {
	if t.done {
		return tr, ErrTxDone
	}
	if tr.ID == "" {
		tr.ID = uuid.New().String()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	t.transfers = append(t.transfers, tr)
	return tr, nil
}

func (t *memTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.config != nil {
		s.config = t.config
	}
	for k, r := range t.rounds {
		s.rounds[k] = r
	}
	for k, b := range t.bets {
		s.bets[k] = b
	}
	for k, u := range t.users {
		s.users[k] = u
	}
	s.events = append(s.events, t.events...)
	s.transfers = append(s.transfers, t.transfers...)
	return nil
}

// Rollback discards staged writes. It is a no-op after Commit so it can always be deferred.
func (t *memTx) Rollback() error {
	t.done = true
	return nil
}

var _ Ledger = (*MemoryStore)(nil)
