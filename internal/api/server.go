package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"wager-rounds/internal/auth"
	"wager-rounds/internal/engine"
	"wager-rounds/internal/oracle"
	"wager-rounds/internal/settlement"
	"wager-rounds/internal/ws"
)

type Options struct {
	Tokens         auth.Tokens
	Challenges     auth.Challenges
	KeeperKeyHash  string
	Logger         *zap.Logger
	RequestTimeout time.Duration
	CORSOrigins    []string
	// OracleHealth reports the last error per price source, if the feed tracks one.
	OracleHealth func() map[string]string
	// ManualPrices, when set, lets the keeper or owner post prices by hand.
	ManualPrices *oracle.ManualFeed
}

type Server struct {
	engine     *engine.Engine
	hub        *ws.Hub
	tokens     auth.Tokens
	challenges auth.Challenges
	keeperHash string
	log        *zap.Logger
	validate   *validator.Validate
	timeout    time.Duration
	origins    []string
	health     func() map[string]string
	manual     *oracle.ManualFeed
}

func NewServer(eng *engine.Engine, hub *ws.Hub, opts Options) *Server {
	s := &Server{
		engine:     eng,
		hub:        hub,
		tokens:     opts.Tokens,
		challenges: opts.Challenges,
		keeperHash: opts.KeeperKeyHash,
		log:        opts.Logger,
		validate:   validator.New(),
		timeout:    opts.RequestTimeout,
		origins:    opts.CORSOrigins,
		health:     opts.OracleHealth,
		manual:     opts.ManualPrices,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.getHealth)

	// WebSocket
	r.Get("/ws", s.hub.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))

		// Auth (public)
		r.Get("/auth/challenge", s.challenge)
		r.Post("/auth/login", s.login)
		r.Post("/auth/keeper", s.keeperLogin)

		// Public reads
		r.Get("/config", s.getConfig)
		r.Get("/rounds/current", s.getCurrentRound)
		r.Get("/rounds/{n}", s.getRound)
		r.Get("/events", s.listEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(auth.RoleUser))

				// Account
				r.Get("/me", s.getMe)
				r.Get("/me/transfers", s.listMyTransfers)
				r.Post("/deposit", s.deposit)
				r.Post("/withdraw", s.withdraw)
				r.Post("/affiliate", s.setAffiliate)

				// Bets and claims
				r.Post("/bets", s.placeBet)
				r.Get("/bets", s.listBets)
				r.Get("/bets/{n}", s.getBet)
				r.Post("/claims/{n}", s.claimWinnings)
				r.Post("/refunds/{n}", s.claimRefund)
				r.Post("/affiliate-claims/{n}/{user}", s.claimAffiliate)

				// Admin; ownership is checked by the engine.
				r.Route("/admin", func(r chi.Router) {
					r.Post("/initialize", s.initialize)
					r.Put("/config/round-duration", s.setRoundDuration)
					r.Put("/config/allocation", s.setAllocation)
					r.Put("/config/jackpot-allocation", s.setJackpotAllocation)
					r.Put("/config/min-bet", s.setMinBet)
					r.Put("/config/price-source", s.setPriceSource)
					r.Put("/config/staleness", s.setStaleness)
					r.Put("/config/tie-policy", s.setTiePolicy)
					r.Post("/ownership", s.transferOwnership)
					r.Post("/fees/withdraw", s.withdrawFees)
					r.Get("/transfers", s.listTransfers)
				})
			})

			// Round lifecycle: the keeper service or the platform owner.
			r.Group(func(r chi.Router) {
				r.Use(s.keeperOrOwner)
				r.Post("/keeper/rounds/start", s.startRound)
				r.Post("/keeper/rounds/end", s.endRound)
				if s.manual != nil {
					r.Post("/keeper/prices", s.setPrice)
				}
			})
		})
	})

	return r
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": "ok"}
	if s.health != nil {
		if errs := s.health(); len(errs) > 0 {
			out["oracle"] = errs
		}
	}
	json200(w, out)
}

// ── Middleware ────────────────────────────────────────

type ctxKey string

const ctxIdentity ctxKey = "identity"

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			jsonErr(w, http.StatusUnauthorized, "missing token")
			return
		}
		id, err := s.tokens.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			jsonErr(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if id.Role == auth.RoleUser && !common.IsHexAddress(id.Subject) {
			jsonErr(w, http.StatusUnauthorized, "invalid token subject")
			return
		}
		ctx := context.WithValue(r.Context(), ctxIdentity, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity(r).Role != role {
				jsonErr(w, http.StatusForbidden, strings.ToLower(string(role))+" only")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) keeperOrOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity(r)
		if id.Role == auth.RoleKeeper {
			next.ServeHTTP(w, r)
			return
		}
		cfg, err := s.engine.Config(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		if id.Role != auth.RoleUser || common.HexToAddress(id.Subject) != cfg.Owner {
			jsonErr(w, http.StatusForbidden, "keeper or owner only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowAll := len(s.origins) == 0
	allowed := make(map[string]bool, len(s.origins))
	for _, o := range s.origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func identity(r *http.Request) auth.Identity {
	id, _ := r.Context().Value(ctxIdentity).(auth.Identity)
	return id
}

// caller is the wallet address of an authenticated user.
func caller(r *http.Request) common.Address {
	return common.HexToAddress(identity(r).Subject)
}

// ── Helpers ──────────────────────────────────────────

// decode reads a JSON body into dst and runs struct validation.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		jsonErr(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	return strings.ToLower(fe.Field()) + " failed " + fe.Tag() + " validation"
}

// fail maps an engine error to a response.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		jsonErr(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, oracle.ErrStalePrice), errors.Is(err, oracle.ErrUnknownSource), errors.Is(err, oracle.ErrInvalidPrice):
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		jsonErr(w, http.StatusGatewayTimeout, "request timed out")
		return
	}

	kind := settlement.KindOf(err)
	var code int
	switch kind {
	case settlement.KindInvariant, settlement.KindOverflow:
		code = http.StatusUnprocessableEntity
	case settlement.KindPrecondition, settlement.KindZeroAmount:
		code = http.StatusConflict
	case settlement.KindIneligible, settlement.KindUnauthorized:
		code = http.StatusForbidden
	default:
		s.log.Error("request failed", zap.Error(err))
		jsonErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "kind": kind.String()})
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
