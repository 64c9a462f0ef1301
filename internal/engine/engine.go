package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"wager-rounds/internal/auth"
	"wager-rounds/internal/db"
	"wager-rounds/internal/model"
	"wager-rounds/internal/oracle"
	"wager-rounds/internal/settlement"
)

var (
	ErrNotFound = errors.New("not found")
	ErrStopped  = errors.New("engine stopped")
)

// PublishFunc broadcasts a WS message on a topic.
type PublishFunc func(topic, msgType string, data any)

// VerifyFunc checks that sigHex is expected's signature over message.
type VerifyFunc func(message []byte, sigHex string, expected common.Address) (bool, error)

const TopicPlatform = "platform"

func RoundTopic(index uint64) string { return fmt.Sprintf("round:%d", index) }

type Options struct {
	Logger  *zap.Logger
	Publish PublishFunc
	Verify  VerifyFunc
	Now     func() time.Time
	// BootstrapOwner, when set, is the only address allowed to initialize the platform.
	BootstrapOwner common.Address
}

// Engine serializes every state-changing operation through one goroutine. Each operation runs in a
// single ledger transaction; events are published only after commit.
type Engine struct {
	ledger    db.Ledger
	prices    oracle.PriceReader
	publish   PublishFunc
	verify    VerifyFunc
	now       func() time.Time
	log       *zap.Logger
	bootstrap common.Address

	cmdCh   chan command
	stopped chan struct{}
}

func New(ledger db.Ledger, prices oracle.PriceReader, opts Options) *Engine {
	e := &Engine{
		ledger:    ledger,
		prices:    prices,
		publish:   opts.Publish,
		verify:    opts.Verify,
		now:       opts.Now,
		log:       opts.Logger,
		bootstrap: opts.BootstrapOwner,
		cmdCh:     make(chan command, 64),
		stopped:   make(chan struct{}),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.verify == nil {
		e.verify = auth.VerifySignature
	}
	return e
}

// Run processes commands until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.stopped)
	e.log.Info("engine started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopped")
			return
		case cmd := <-e.cmdCh:
			cmd.exec(e)
		}
	}
}

func (e *Engine) clock() uint64 { return uint64(e.now().Unix()) }

// ── Commands ─────────────────────────────────────────

type event struct {
	round   *uint64
	typ     string
	payload map[string]any
}

func platformEvent(typ string, payload map[string]any) event {
	return event{typ: typ, payload: payload}
}

func roundEvent(index uint64, typ string, payload map[string]any) event {
	return event{round: &index, typ: typ, payload: payload}
}

// op runs inside the engine goroutine against an open transaction.
type op func(ctx context.Context, tx db.Tx) (result any, events []event, err error)

type result struct {
	value any
	err   error
}

type command interface{ exec(e *Engine) }

type txCmd struct {
	ctx  context.Context
	name string
	fn   op
	ch   chan<- result
}

func (c txCmd) exec(e *Engine) {
	v, err := e.apply(c.ctx, c.name, c.fn)
	c.ch <- result{value: v, err: err}
}

// submit sends an operation to the engine goroutine and waits for its result.
func (e *Engine) submit(ctx context.Context, name string, fn op) (any, error) {
	select {
	case <-e.stopped:
		return nil, ErrStopped
	default:
	}
	ch := make(chan result, 1)
	select {
	case e.cmdCh <- txCmd{ctx: ctx, name: name, fn: fn, ch: ch}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stopped:
		return nil, ErrStopped
	}
	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stopped:
		return nil, ErrStopped
	}
}

func (e *Engine) apply(ctx context.Context, name string, fn op) (any, error) {
	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", name, err)
	}
	defer tx.Rollback()

	v, events, err := fn(ctx, tx)
	if err != nil {
		if settlement.KindOf(err) == settlement.KindUnknown && !errors.Is(err, ErrNotFound) {
			e.log.Warn("operation failed", zap.String("op", name), zap.Error(err))
		}
		return nil, err
	}
	logged := make([]model.EventLog, 0, len(events))
	for _, ev := range events {
		rec, err := tx.AppendEvent(ev.round, ev.typ, ev.payload)
		if err != nil {
			return nil, fmt.Errorf("%s: append event: %w", name, err)
		}
		logged = append(logged, rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", name, err)
	}

	if e.publish != nil {
		for _, rec := range logged {
			e.publish(TopicPlatform, rec.Type, rec)
			if rec.Round != nil {
				e.publish(RoundTopic(*rec.Round), rec.Type, rec)
			}
		}
	}
	return v, nil
}

func amt(v uint64) string { return fmt.Sprintf("%d", v) }

// ── Loading helpers ──────────────────────────────────

func loadConfig(tx db.Tx) (model.PlatformConfig, error) {
	cfg, err := tx.LoadConfig()
	if err != nil {
		return model.PlatformConfig{}, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil || !cfg.Initialized {
		return model.PlatformConfig{}, settlement.ErrNotInitialized
	}
	return *cfg, nil
}

func loadRound(tx db.Tx, index uint64) (model.Round, error) {
	r, err := tx.LoadRound(index)
	if err != nil {
		return model.Round{}, fmt.Errorf("load round %d: %w", index, err)
	}
	if r == nil {
		return model.Round{}, fmt.Errorf("round %d: %w", index, ErrNotFound)
	}
	return *r, nil
}

func loadBet(tx db.Tx, user common.Address, round uint64) (model.Bet, error) {
	b, err := tx.LoadBet(user, round)
	if err != nil {
		return model.Bet{}, fmt.Errorf("load bet: %w", err)
	}
	if b == nil {
		return model.Bet{}, fmt.Errorf("bet of %s in round %d: %w", user.Hex(), round, ErrNotFound)
	}
	return *b, nil
}

func (e *Engine) readPrice(ctx context.Context, cfg model.PlatformConfig) (uint64, error) {
	p, err := e.prices.ReadPrice(ctx, cfg.PriceSource, time.Duration(cfg.StalenessThreshold)*time.Second)
	if err != nil {
		return 0, fmt.Errorf("read price %s: %w", cfg.PriceSource, err)
	}
	return p.Value, nil
}
