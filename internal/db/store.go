package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"wager-rounds/internal/config"
	"wager-rounds/internal/model"
)

// Store is the Postgres ledger. Amounts are NUMERIC(20,0) so the full uint64 range round-trips;
// they are bound as decimal strings.
type Store struct{ DB *sql.DB }

func Open(cfg config.DBConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &pgTx{ctx: ctx, tx: tx}, nil
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type scanner interface{ Scan(dest ...any) error }

// ── Platform config ──────────────────────────────────

const configCols = `owner, stablecoin, round_duration, allocation, jackpot_allocation, min_bet_amount,
	price_source, staleness_threshold, tie_policy, round_counter, jackpot_pool_amount,
	accumulated_platform_fees, version`

func scanConfig(row scanner) (*model.PlatformConfig, error) {
	c := &model.PlatformConfig{Initialized: true}
	var owner, stable string
	var alloc, jackpot []byte
	err := row.Scan(&owner, &stable, &c.RoundDuration, &alloc, &jackpot, &c.MinBetAmount,
		&c.PriceSource, &c.StalenessThreshold, &c.TiePolicy, &c.RoundCounter, &c.JackpotPoolAmount,
		&c.AccumulatedPlatformFees, &c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Owner = common.HexToAddress(owner)
	c.Stablecoin = common.HexToAddress(stable)
	if err := json.Unmarshal(alloc, &c.Allocation); err != nil {
		return nil, fmt.Errorf("decode allocation: %w", err)
	}
	if err := json.Unmarshal(jackpot, &c.JackpotAllocation); err != nil {
		return nil, fmt.Errorf("decode jackpot allocation: %w", err)
	}
	return c, nil
}

func getConfig(ctx context.Context, q queryer, lock string) (*model.PlatformConfig, error) {
	return scanConfig(q.QueryRowContext(ctx,
		`SELECT `+configCols+` FROM platform_config WHERE key=$1`+lock, model.Key(model.KindPlatformConfig, common.Address{}, 0)))
}

func (s *Store) GetConfig(ctx context.Context) (*model.PlatformConfig, error) {
	return getConfig(ctx, s.DB, "")
}

// ── Rounds ───────────────────────────────────────────

const roundCols = `idx, start_time, end_time, starting_price, ending_price, long_positions, short_positions,
	total_bet_amount_long, total_bet_amount_short, affiliates_long, affiliates_short, outcome, allocation,
	tie_policy, winners_pool, affiliate_pool, jackpot_cut, platform_cut, winning_affiliates,
	fees_collected, jackpot_credited`

func scanRound(row scanner) (*model.Round, error) {
	r := &model.Round{}
	var alloc []byte
	err := row.Scan(&r.Index, &r.StartTime, &r.EndTime, &r.StartingPrice, &r.EndingPrice,
		&r.LongPositions, &r.ShortPositions, &r.TotalBetAmountLong, &r.TotalBetAmountShort,
		&r.AffiliatesForLongPositions, &r.AffiliatesForShortPositions, &r.Outcome, &alloc,
		&r.TiePolicy, &r.WinnersPool, &r.AffiliatePool, &r.JackpotCut, &r.PlatformCut, &r.WinningAffiliates,
		&r.Settled.FeesCollected, &r.Settled.JackpotCredited)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(alloc, &r.Allocation); err != nil {
		return nil, fmt.Errorf("decode round allocation: %w", err)
	}
	return r, nil
}

func getRound(ctx context.Context, q queryer, index uint64, lock string) (*model.Round, error) {
	return scanRound(q.QueryRowContext(ctx,
		`SELECT `+roundCols+` FROM rounds WHERE key=$1`+lock, model.RoundKey(index)))
}

func (s *Store) GetRound(ctx context.Context, index uint64) (*model.Round, error) {
	return getRound(ctx, s.DB, index, "")
}

// ── Bets ─────────────────────────────────────────────

const betCols = `user_address, round_idx, amount, side, affiliate, user_claim, affiliate_claim, placed_at`

func scanBet(row scanner) (*model.Bet, error) {
	b := &model.Bet{}
	var user, aff string
	err := row.Scan(&user, &b.Round, &b.Amount, &b.Side, &aff, &b.UserClaim, &b.AffiliateClaim, &b.PlacedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.User = common.HexToAddress(user)
	b.Affiliate = common.HexToAddress(aff)
	return b, nil
}

func getBet(ctx context.Context, q queryer, user common.Address, round uint64, lock string) (*model.Bet, error) {
	return scanBet(q.QueryRowContext(ctx,
		`SELECT `+betCols+` FROM bets WHERE key=$1`+lock, model.BetKey(user, round)))
}

func (s *Store) GetBet(ctx context.Context, user common.Address, round uint64) (*model.Bet, error) {
	return getBet(ctx, s.DB, user, round, "")
}

func (s *Store) ListUserBets(ctx context.Context, user common.Address, limit int) ([]model.Bet, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+betCols+` FROM bets WHERE user_address=$1 ORDER BY round_idx DESC LIMIT $2`,
		user.Hex(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ── Users ────────────────────────────────────────────

const userCols = `address, balance, affiliate, times_won, last_won_round`

func scanUser(row scanner) (*model.UserInfo, error) {
	u := &model.UserInfo{}
	var addr, aff string
	err := row.Scan(&addr, &u.Balance, &aff, &u.TimesWon, &u.LastWonRound)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Address = common.HexToAddress(addr)
	u.Affiliate = common.HexToAddress(aff)
	return u, nil
}

func getUser(ctx context.Context, q queryer, addr common.Address, lock string) (*model.UserInfo, error) {
	return scanUser(q.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM user_infos WHERE key=$1`+lock, model.UserKey(addr)))
}

func (s *Store) GetUser(ctx context.Context, addr common.Address) (*model.UserInfo, error) {
	return getUser(ctx, s.DB, addr, "")
}

// ── Event Log ────────────────────────────────────────

func (s *Store) ListEvents(ctx context.Context, round *uint64, limit int) ([]model.EventLog, error) {
	q := `SELECT id, round_idx, type, payload_json, created_at FROM event_log`
	var args []any
	if round != nil {
		q += ` WHERE round_idx=$1`
		args = append(args, u64(*round))
	}
	q += ` ORDER BY created_at DESC, seq DESC LIMIT ` + strconv.Itoa(clampLimit(limit))
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.EventLog
	for rows.Next() {
		var e model.EventLog
		var idx sql.NullInt64
		var raw []byte
		if err := rows.Scan(&e.ID, &idx, &e.Type, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if idx.Valid {
			v := uint64(idx.Int64)
			e.Round = &v
		}
		if e.Payload, err = decodePayload(raw); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func decodePayload(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

// ── Transfers ────────────────────────────────────────

func (s *Store) ListTransfers(ctx context.Context, addr *common.Address, limit int) ([]model.Transfer, error) {
	q := `SELECT id, token, from_address, to_address, amount, reason, created_at FROM transfers`
	var args []any
	if addr != nil {
		q += ` WHERE from_address=$1 OR to_address=$1`
		args = append(args, addr.Hex())
	}
	q += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(clampLimit(limit))
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Transfer
	for rows.Next() {
		var t model.Transfer
		var token, from, to string
		if err := rows.Scan(&t.ID, &token, &from, &to, &t.Amount, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Token = common.HexToAddress(token)
		t.From = common.HexToAddress(from)
		t.To = common.HexToAddress(to)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ── Tx ───────────────────────────────────────────────

// pgTx locks every record it loads until commit.
type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

const forUpdate = ` FOR UPDATE`

func (t *pgTx) LoadConfig() (*model.PlatformConfig, error) {
	return getConfig(t.ctx, t.tx, forUpdate)
}

func (t *pgTx) SaveConfig(c *model.PlatformConfig) error {
	alloc, err := json.Marshal(c.Allocation)
	if err != nil {
		return err
	}
	jackpot, err := json.Marshal(c.JackpotAllocation)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO platform_config (key, `+configCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (key) DO UPDATE SET
		   owner=$2, stablecoin=$3, round_duration=$4, allocation=$5, jackpot_allocation=$6,
		   min_bet_amount=$7, price_source=$8, staleness_threshold=$9, tie_policy=$10,
		   round_counter=$11, jackpot_pool_amount=$12, accumulated_platform_fees=$13, version=$14,
		   updated_at=now()`,
		model.Key(model.KindPlatformConfig, common.Address{}, 0),
		c.Owner.Hex(), c.Stablecoin.Hex(), u64(c.RoundDuration), string(alloc), string(jackpot), u64(c.MinBetAmount),
		c.PriceSource, u64(c.StalenessThreshold), c.TiePolicy, u64(c.RoundCounter), u64(c.JackpotPoolAmount),
		u64(c.AccumulatedPlatformFees), u64(c.Version),
	)
	return err
}

func (t *pgTx) LoadRound(index uint64) (*model.Round, error) {
	return getRound(t.ctx, t.tx, index, forUpdate)
}

func (t *pgTx) SaveRound(r *model.Round) error {
	alloc, err := json.Marshal(r.Allocation)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO rounds (key, `+roundCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		 ON CONFLICT (key) DO UPDATE SET
		   start_time=$3, end_time=$4, starting_price=$5, ending_price=$6, long_positions=$7,
		   short_positions=$8, total_bet_amount_long=$9, total_bet_amount_short=$10,
		   affiliates_long=$11, affiliates_short=$12, outcome=$13, allocation=$14, tie_policy=$15,
		   winners_pool=$16, affiliate_pool=$17, jackpot_cut=$18, platform_cut=$19,
		   winning_affiliates=$20, fees_collected=$21, jackpot_credited=$22, updated_at=now()`,
		model.RoundKey(r.Index),
		u64(r.Index), u64(r.StartTime), u64(r.EndTime), u64(r.StartingPrice), u64(r.EndingPrice),
		u64(r.LongPositions), u64(r.ShortPositions), u64(r.TotalBetAmountLong), u64(r.TotalBetAmountShort),
		u64(r.AffiliatesForLongPositions), u64(r.AffiliatesForShortPositions), r.Outcome, string(alloc),
		r.TiePolicy, u64(r.WinnersPool), u64(r.AffiliatePool), u64(r.JackpotCut), u64(r.PlatformCut),
		u64(r.WinningAffiliates), r.Settled.FeesCollected, r.Settled.JackpotCredited,
	)
	return err
}

func (t *pgTx) LoadBet(user common.Address, round uint64) (*model.Bet, error) {
	return getBet(t.ctx, t.tx, user, round, forUpdate)
}

func (t *pgTx) SaveBet(b *model.Bet) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO bets (key, `+betCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (key) DO UPDATE SET user_claim=$7, affiliate_claim=$8, updated_at=now()`,
		model.BetKey(b.User, b.Round),
		b.User.Hex(), u64(b.Round), u64(b.Amount), b.Side, b.Affiliate.Hex(), b.UserClaim, b.AffiliateClaim,
		u64(b.PlacedAt),
	)
	return err
}

func (t *pgTx) LoadUser(addr common.Address) (*model.UserInfo, error) {
	return getUser(t.ctx, t.tx, addr, forUpdate)
}

func (t *pgTx) SaveUser(u *model.UserInfo) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO user_infos (key, `+userCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (key) DO UPDATE SET
		   balance=$3, affiliate=$4, times_won=$5, last_won_round=$6, updated_at=now()`,
		model.UserKey(u.Address),
		u.Address.Hex(), u64(u.Balance), u.Affiliate.Hex(), u64(u.TimesWon), u64(u.LastWonRound),
	)
	return err
}

func (t *pgTx) AppendEvent(round *uint64, evType string, payload any) (model.EventLog, error) {
	e := model.EventLog{ID: uuid.New().String(), Round: round, Type: evType, Payload: payload, CreatedAt: time.Now().UTC()}
	b, err := json.Marshal(payload)
	if err != nil {
		return e, err
	}
	var idx *string
	if round != nil {
		v := u64(*round)
		idx = &v
	}
	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO event_log (id, round_idx, type, payload_json, created_at) VALUES ($1,$2,$3,$4,$5)`,
		e.ID, idx, evType, string(b), e.CreatedAt,
	)
	return e, err
}

func (t *pgTx) RecordTransfer(tr model.Transfer) (model.Transfer, error) {
	if tr.ID == "" {
		tr.ID = uuid.New().String()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO transfers (id, token, from_address, to_address, amount, reason, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		tr.ID, tr.Token.Hex(), tr.From.Hex(), tr.To.Hex(), u64(tr.Amount), tr.Reason, tr.CreatedAt,
	)
	return tr, err
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

var _ Ledger = (*Store)(nil)
