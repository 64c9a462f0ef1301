package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wager-rounds/internal/api"
	"wager-rounds/internal/auth"
	"wager-rounds/internal/cache"
	"wager-rounds/internal/config"
	"wager-rounds/internal/db"
	"wager-rounds/internal/engine"
	"wager-rounds/internal/keeper"
	"wager-rounds/internal/logger"
	"wager-rounds/internal/oracle"
	"wager-rounds/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("WAGER_CONFIG"))
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Ledger
	var ledger db.Ledger
	switch cfg.DB.Driver {
	case "memory":
		ledger = db.NewMemoryStore()
		log.Warn("using in-memory ledger; state is lost on exit")
	default:
		store, err := db.Open(cfg.DB)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(cfg.DB.MigrationsDir); err != nil {
			return err
		}
		log.Info("database ready", zap.String("migrations", cfg.DB.MigrationsDir))
		ledger = store
	}

	// Challenge cache
	var challengeStore cache.Store = cache.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rs := cache.NewRedisStore(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Prefix)
		if err := rs.Ping(ctx); err != nil {
			return err
		}
		defer rs.Close()
		challengeStore = rs
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	// Price oracle
	var (
		prices      oracle.PriceReader
		manual      *oracle.ManualFeed
		oracleState func() map[string]string
	)
	switch cfg.Oracle.Kind {
	case "manual":
		manual = oracle.NewManualFeed()
		prices = manual
		log.Warn("using manual price feed")
	default:
		feed := &oracle.HTTPFeed{
			HTTP:         &http.Client{Timeout: cfg.Oracle.Timeout},
			Logger:       log.Named("oracle"),
			Endpoint:     cfg.Oracle.Endpoint,
			Exponent:     cfg.Oracle.Exponent,
			PollInterval: cfg.Oracle.PollInterval,
			Sources:      cfg.Oracle.Sources,
		}
		go func() {
			if err := feed.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("price feed stopped", zap.Error(err))
			}
		}()
		prices = feed
		oracleState = feed.Health
	}

	hub := ws.NewHub(log.Named("ws"), cfg.Server.CORSOrigins)
	defer hub.Close()

	opts := engine.Options{Logger: log.Named("engine"), Publish: hub.Publish}
	if cfg.Platform.BootstrapOwner != "" {
		if !common.IsHexAddress(cfg.Platform.BootstrapOwner) {
			return errors.New("platform.bootstrap_owner is not a hex address")
		}
		opts.BootstrapOwner = common.HexToAddress(cfg.Platform.BootstrapOwner)
	}
	eng := engine.New(ledger, prices, opts)
	engineDone := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(engineDone)
	}()

	// Keeper
	if cfg.Keeper.Enabled {
		runner := keeper.NewRunner(log.Named("cron"), ctx)
		k := &keeper.Keeper{Rounds: eng, Logger: log.Named("keeper")}
		if err := k.Schedule(runner, cfg.Keeper.Schedule); err != nil {
			return err
		}
		runner.Start()
		defer runner.Stop()
	}

	srv := api.NewServer(eng, hub, api.Options{
		Tokens:         auth.Tokens{Secret: []byte(cfg.Auth.JWTSecret), TTL: cfg.Auth.TokenTTL},
		Challenges:     auth.Challenges{Store: challengeStore, TTL: cfg.Auth.ChallengeTTL},
		KeeperKeyHash:  cfg.Auth.KeeperKeyHash,
		Logger:         log.Named("api"),
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSOrigins:    cfg.Server.CORSOrigins,
		OracleHealth:   oracleState,
		ManualPrices:   manual,
	})
	httpSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: srv.Router()}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	<-engineDone
	return nil
}
