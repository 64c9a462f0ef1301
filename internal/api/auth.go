package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"wager-rounds/internal/auth"
)

type loginReq struct {
	Address   string `json:"address" validate:"required,eth_addr"`
	Signature string `json:"signature" validate:"required,hexadecimal"`
}

type keeperLoginReq struct {
	Key string `json:"key" validate:"required,min=16"`
}

type tokenResp struct {
	Token     string    `json:"token"`
	Role      auth.Role `json:"role"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) challenge(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("address")
	if !common.IsHexAddress(raw) {
		jsonErr(w, http.StatusBadRequest, "address must be a hex wallet address")
		return
	}
	addr := common.HexToAddress(raw)
	msg, err := s.challenges.Issue(r.Context(), addr)
	if err != nil {
		s.log.Error("issue challenge failed", zap.Error(err))
		jsonErr(w, http.StatusInternalServerError, "challenge unavailable")
		return
	}
	json200(w, map[string]string{"address": addr.Hex(), "message": msg})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if !s.decode(w, r, &req) {
		return
	}
	addr := common.HexToAddress(req.Address)
	if err := s.challenges.Verify(r.Context(), addr, req.Signature); err != nil {
		if errors.Is(err, auth.ErrNoChallenge) || errors.Is(err, auth.ErrBadSignature) {
			jsonErr(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.log.Error("verify challenge failed", zap.Error(err))
		jsonErr(w, http.StatusInternalServerError, "login unavailable")
		return
	}
	s.issue(w, addr.Hex(), auth.RoleUser)
}

func (s *Server) keeperLogin(w http.ResponseWriter, r *http.Request) {
	var req keeperLoginReq
	if !s.decode(w, r, &req) {
		return
	}
	if err := auth.CheckKeeperKey(s.keeperHash, req.Key); err != nil {
		jsonErr(w, http.StatusUnauthorized, err.Error())
		return
	}
	s.issue(w, "keeper", auth.RoleKeeper)
}

func (s *Server) issue(w http.ResponseWriter, subject string, role auth.Role) {
	token, exp, err := s.tokens.Issue(subject, role)
	if err != nil {
		s.log.Error("issue token failed", zap.Error(err))
		jsonErr(w, http.StatusInternalServerError, "token unavailable")
		return
	}
	json200(w, tokenResp{Token: token, Role: role, Subject: subject, ExpiresAt: exp})
}
