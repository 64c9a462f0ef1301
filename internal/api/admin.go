package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"wager-rounds/internal/model"
)

type initializeReq struct {
	Stablecoin         string                  `json:"stablecoin" validate:"required,eth_addr"`
	RoundDuration      uint64                  `json:"round_duration" validate:"required"`
	Allocation         model.Allocation        `json:"allocation"`
	JackpotAllocation  model.JackpotAllocation `json:"jackpot_allocation"`
	MinBetAmount       string                  `json:"min_bet_amount" validate:"required,numeric"`
	PriceSource        string                  `json:"price_source" validate:"required"`
	StalenessThreshold uint64                  `json:"staleness_threshold"`
	TiePolicy          model.TiePolicy         `json:"tie_policy" validate:"omitempty,oneof=FORFEIT REFUND"`
}

type secondsReq struct {
	Seconds uint64 `json:"seconds"`
}

type priceSourceReq struct {
	Source string `json:"source" validate:"required"`
}

type tiePolicyReq struct {
	Policy model.TiePolicy `json:"policy" validate:"required,oneof=FORFEIT REFUND"`
}

type ownershipReq struct {
	NewOwner  string `json:"new_owner" validate:"required,eth_addr"`
	Signature string `json:"signature" validate:"required"`
}

func (s *Server) initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeReq
	if !s.decode(w, r, &req) {
		return
	}
	minBet, err := parseAmount(req.MinBetAmount)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := s.engine.Initialize(r.Context(), caller(r), model.InitParams{
		Stablecoin:         common.HexToAddress(req.Stablecoin),
		RoundDuration:      req.RoundDuration,
		Allocation:         req.Allocation,
		JackpotAllocation:  req.JackpotAllocation,
		MinBetAmount:       minBet,
		PriceSource:        req.PriceSource,
		StalenessThreshold: req.StalenessThreshold,
		TiePolicy:          req.TiePolicy,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonStatus(w, http.StatusCreated, toConfigView(cfg))
}

// configResult writes the outcome of any config mutation.
func (s *Server) configResult(w http.ResponseWriter, cfg model.PlatformConfig, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toConfigView(cfg))
}

func (s *Server) setRoundDuration(w http.ResponseWriter, r *http.Request) {
	var req secondsReq
	if !s.decode(w, r, &req) {
		return
	}
	cfg, err := s.engine.SetRoundDuration(r.Context(), caller(r), req.Seconds)
	s.configResult(w, cfg, err)
}

func (s *Server) setAllocation(w http.ResponseWriter, r *http.Request) {
	var req model.Allocation
	if !s.decode(w, r, &req) {
		return
	}
	cfg, err := s.engine.SetAllocation(r.Context(), caller(r), req)
	s.configResult(w, cfg, err)
}

func (s *Server) setJackpotAllocation(w http.ResponseWriter, r *http.Request) {
	var req model.JackpotAllocation
	if !s.decode(w, r, &req) {
		return
	}
	cfg, err := s.engine.SetJackpotAllocation(r.Context(), caller(r), req)
	s.configResult(w, cfg, err)
}

func (s *Server) setMinBet(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.amountBody(w, r)
	if !ok {
		return
	}
	cfg, err := s.engine.SetMinBetAmount(r.Context(), caller(r), amount)
	s.configResult(w, cfg, err)
}

func (s *Server) setPriceSource(w http.ResponseWriter, r *http.Request) {
	var req priceSourceReq
	if !s.decode(w, r, &req) {
		return
	}
	cfg, err := s.engine.SetPriceSource(r.Context(), caller(r), req.Source)
	s.configResult(w, cfg, err)
}

func (s *Server) setStaleness(w http.ResponseWriter, r *http.Request) {
	var req secondsReq
	if !s.decode(w, r, &req) {
		return
	}
	cfg, err := s.engine.SetStalenessThreshold(r.Context(), caller(r), req.Seconds)
	s.configResult(w, cfg, err)
}

func (s *Server) setTiePolicy(w http.ResponseWriter, r *http.Request) {
	var req tiePolicyReq
	if !s.decode(w, r, &req) {
		return
	}
	cfg, err := s.engine.SetTiePolicy(r.Context(), caller(r), req.Policy)
	s.configResult(w, cfg, err)
}

func (s *Server) transferOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownershipReq
	if !s.decode(w, r, &req) {
		return
	}
	cfg, err := s.engine.TransferOwnership(r.Context(), caller(r), common.HexToAddress(req.NewOwner), req.Signature)
	s.configResult(w, cfg, err)
}

func (s *Server) withdrawFees(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.WithdrawPlatformFees(r.Context(), caller(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toTransferView(t))
}

func (s *Server) listTransfers(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if caller(r) != cfg.Owner {
		jsonErr(w, http.StatusForbidden, "owner only")
		return
	}
	ts, err := s.engine.Transfers(r.Context(), nil, limitParam(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	json200(w, toTransferViews(ts))
}
