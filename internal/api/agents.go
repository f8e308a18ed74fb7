package api

import (
	"math/big"
	"net/http"
	"strings"

	"ALiFe-Chain/internal/agent"
	xerrors "ALiFe-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts := agent.ListOptions{
		Limit:     limit,
		Offset:    offset,
		CreatorID: strings.TrimSpace(r.URL.Query().Get("creator")),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := agent.Status(strings.TrimSpace(part))
			if !agent.IsValidStatus(status) {
				s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "未知的状态 "+string(status)))
				return
			}
			opts.Statuses = append(opts.Statuses, status)
		}
	}

	agents, err := s.deps.Store.ListAgents(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if agents == nil {
		agents = []*agent.Agent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	record, err := s.deps.Store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id, limit, ok := s.historyParams(w, r)
	if !ok {
		return
	}
	logs, err := s.deps.Store.ListLogs(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*agent.Log{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleListEarnings(w http.ResponseWriter, r *http.Request) {
	id, limit, ok := s.historyParams(w, r)
	if !ok {
		return
	}
	earnings, err := s.deps.Store.ListEarnings(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if earnings == nil {
		earnings = []*agent.Earning{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"earnings": earnings})
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	id, limit, ok := s.historyParams(w, r)
	if !ok {
		return
	}
	expenses, err := s.deps.Store.ListExpenses(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if expenses == nil {
		expenses = []*agent.Expense{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

// historyParams 确认智能体存在并解析 limit。
func (s *Server) historyParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	id := r.PathValue("id")
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return "", 0, false
	}
	if _, err := s.deps.Store.GetAgent(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return "", 0, false
	}
	return id, limit, true
}

func (s *Server) handleClaimable(w http.ResponseWriter, r *http.Request) {
	if s.deps.Fees == nil {
		unavailable(w, "fee gateway")
		return
	}
	recipient := strings.TrimSpace(r.URL.Query().Get("recipient"))
	if !common.IsHexAddress(recipient) {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "recipient 不是合法的地址"))
		return
	}
	address := common.HexToAddress(recipient)
	amount, err := s.deps.Fees.GetClaimable(r.Context(), address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if amount == nil {
		amount = new(big.Int)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"recipient":     address.Hex(),
		"claimable_wei": amount.String(),
	})
}

func (s *Server) handleProtocolTerms(w http.ResponseWriter, r *http.Request) {
	if s.deps.Fees == nil {
		unavailable(w, "fee gateway")
		return
	}
	terms, err := s.deps.Fees.Protocol(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fee := terms.FeeBps
	if fee == nil {
		fee = new(big.Int)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"protocol_fee_bps":   fee.String(),
		"protocol_recipient": terms.Recipient.Hex(),
	})
}
