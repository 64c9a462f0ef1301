package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"wager-rounds/internal/model"
)

type amountReq struct {
	Amount string `json:"amount" validate:"required,numeric"`
}

type betReq struct {
	Amount string     `json:"amount" validate:"required,numeric"`
	Side   model.Side `json:"side" validate:"required,oneof=LONG SHORT"`
}

type priceReq struct {
	Source string `json:"source" validate:"required"`
	Price  string `json:"price" validate:"required,numeric"`
}

type affiliateReq struct {
	// The zero address unlinks the current affiliate.
	Affiliate string `json:"affiliate" validate:"required,eth_addr"`
}

func roundParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "n"), 10, 64)
	if err != nil || n == 0 {
		jsonErr(w, http.StatusBadRequest, "round must be a positive integer")
		return 0, false
	}
	return n, true
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 500 {
		return 50
	}
	return n
}

func (s *Server) amountBody(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	var req amountReq
	if !s.decode(w, r, &req) {
		return 0, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return amount, true
}

// ── Public reads ─────────────────────────────────────

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toConfigView(cfg))
}

func (s *Server) getCurrentRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.engine.CurrentRound(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toRoundView(round))
}

func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	n, ok := roundParam(w, r)
	if !ok {
		return
	}
	round, err := s.engine.Round(r.Context(), n)
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toRoundView(round))
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	var round *uint64
	if raw := r.URL.Query().Get("round"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "round must be an integer")
			return
		}
		round = &n
	}
	events, err := s.engine.Events(r.Context(), round, limitParam(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	if events == nil {
		events = []model.EventLog{}
	}
	json200(w, events)
}

// ── Account ──────────────────────────────────────────

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.engine.User(r.Context(), caller(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toUserView(u))
}

func (s *Server) listMyTransfers(w http.ResponseWriter, r *http.Request) {
	addr := caller(r)
	ts, err := s.engine.Transfers(r.Context(), &addr, limitParam(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toTransferViews(ts))
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.amountBody(w, r)
	if !ok {
		return
	}
	u, err := s.engine.Deposit(r.Context(), caller(r), amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toUserView(u))
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.amountBody(w, r)
	if !ok {
		return
	}
	u, err := s.engine.Withdraw(r.Context(), caller(r), amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toUserView(u))
}

func (s *Server) setAffiliate(w http.ResponseWriter, r *http.Request) {
	var req affiliateReq
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.engine.SetAffiliate(r.Context(), caller(r), common.HexToAddress(req.Affiliate))
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toUserView(u))
}

// ── Bets and claims ──────────────────────────────────

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req betReq
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	bet, err := s.engine.PlaceBet(r.Context(), caller(r), amount, req.Side)
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonStatus(w, http.StatusCreated, toBetView(bet))
}

func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.engine.UserBets(r.Context(), caller(r), limitParam(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toBetViews(bets))
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	n, ok := roundParam(w, r)
	if !ok {
		return
	}
	bet, err := s.engine.Bet(r.Context(), caller(r), n)
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toBetView(bet))
}

func (s *Server) claimWinnings(w http.ResponseWriter, r *http.Request) {
	n, ok := roundParam(w, r)
	if !ok {
		return
	}
	payout, err := s.engine.ClaimUserWinnings(r.Context(), caller(r), n)
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toPayoutView(payout))
}

func (s *Server) claimRefund(w http.ResponseWriter, r *http.Request) {
	n, ok := roundParam(w, r)
	if !ok {
		return
	}
	amount, err := s.engine.ClaimRefund(r.Context(), caller(r), n)
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, map[string]string{"amount": fmtAmount(amount)})
}

func (s *Server) claimAffiliate(w http.ResponseWriter, r *http.Request) {
	n, ok := roundParam(w, r)
	if !ok {
		return
	}
	raw := chi.URLParam(r, "user")
	if !common.IsHexAddress(raw) {
		jsonErr(w, http.StatusBadRequest, "user must be a hex wallet address")
		return
	}
	amount, err := s.engine.ClaimAffiliateWinnings(r.Context(), caller(r), common.HexToAddress(raw), n)
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, map[string]string{"amount": fmtAmount(amount)})
}

// ── Round lifecycle ──────────────────────────────────

func (s *Server) startRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.engine.StartRound(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toRoundView(round))
}

func (s *Server) endRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.engine.EndRound(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toRoundView(round))
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	var req priceReq
	if !s.decode(w, r, &req) {
		return
	}
	value, err := parseAmount(req.Price)
	if err != nil || value == 0 {
		jsonErr(w, http.StatusBadRequest, "price must be a positive integer")
		return
	}
	s.manual.Set(req.Source, value)
	json200(w, map[string]string{"source": req.Source, "price": fmtAmount(value)})
}
