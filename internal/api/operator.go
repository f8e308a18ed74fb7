package api

import (
	"math"
	"net/http"
	"strings"
	"sync"

	"ALiFe-Chain/internal/agent"
	"ALiFe-Chain/internal/auth"
	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/launch"
)

// progressEntry 是返回给调用方的一条发射进度。
type progressEntry struct {
	Step    int    `json:"step"`
	Message string `json:"message"`
}

type progressLog struct {
	mu      sync.Mutex
	entries []progressEntry
}

func (p *progressLog) record(step int, message string) {
	p.mu.Lock()
	p.entries = append(p.entries, progressEntry{Step: step, Message: message})
	p.mu.Unlock()
}

func (p *progressLog) snapshot() []progressEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]progressEntry(nil), p.entries...)
}

type launchResponse struct {
	*launch.Result
	Progress []progressEntry `json:"progress"`
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Launcher == nil || s.deps.LaunchSigner == nil {
		unavailable(w, "launcher")
		return
	}
	var params launch.Params
	if err := s.decodeBody(w, r, &params); err != nil {
		s.writeError(w, r, err)
		return
	}
	if params.CreatorID == "" {
		if subject := auth.SubjectFromContext(r.Context()); subject != nil {
			params.CreatorID = subject.ID
		}
	}

	progress := &progressLog{}
	result, err := s.deps.Launcher.Launch(r.Context(), s.deps.LaunchSigner, params, progress.record)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, launchResponse{Result: result, Progress: progress.snapshot()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.deps.Launcher == nil {
		unavailable(w, "launcher")
		return
	}
	var body struct {
		ResumeToken string `json:"resume_token"`
	}
	if err := s.decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.ResumeToken) == "" {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "resume_token 不能为空"))
		return
	}

	progress := &progressLog{}
	result, err := s.deps.Launcher.Resume(r.Context(), body.ResumeToken, progress.record)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, launchResponse{Result: result, Progress: progress.snapshot()})
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	if s.deps.Launcher == nil {
		unavailable(w, "launcher")
		return
	}
	record, err := s.deps.Launcher.RetryProvisioning(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	if s.deps.Launcher == nil {
		unavailable(w, "launcher")
		return
	}
	var body struct {
		Amount float64 `json:"amount"`
	}
	if err := s.decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Amount <= 0 {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "amount 必须大于 0"))
		return
	}
	funder := "operator"
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		funder = subject.ID
	}
	funding, err := s.deps.Launcher.Fund(r.Context(), r.PathValue("id"), funder, body.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, funding)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Launcher == nil {
		unavailable(w, "launcher")
		return
	}
	if err := s.deps.Launcher.Terminate(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if s.deps.Fees == nil || s.deps.TreasurySigner == nil {
		unavailable(w, "fee gateway")
		return
	}
	hash, err := s.deps.Fees.Claim(r.Context(), s.deps.TreasurySigner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tx_hash": hash.Hex()})
}

func (s *Server) handleFeeSplit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CreatorPct  *int `json:"creator_pct"`
		PlatformPct *int `json:"platform_pct"`
	}
	if err := s.decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.CreatorPct == nil || body.PlatformPct == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "creator_pct 与 platform_pct 均不能为空"))
		return
	}
	// 存储层把非法比例视为不变量破坏，这里先按入参错误拒绝。
	if err := agent.ValidateFeeSplit(*body.CreatorPct, *body.PlatformPct); err != nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "手续费比例必须在 0-100 之间且合计为 100"))
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Store.UpdateFeeSplit(r.Context(), id, *body.CreatorPct, *body.PlatformPct); err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.deps.Store.GetAgent(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// reconcileResponse 对比记录上的累计值与按流水重算的结果。
type reconcileResponse struct {
	AgentID    string       `json:"agent_id"`
	Stored     agent.Totals `json:"stored"`
	Ledger     agent.Totals `json:"ledger"`
	Consistent bool         `json:"consistent"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := s.deps.Store.GetAgent(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ledger, err := s.deps.Store.ReconcileTotals(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := reconcileResponse{
		AgentID: id,
		Stored:  agent.Totals{Earned: record.TotalEarned, Spent: record.TotalSpent, TradingFees: record.TotalTradingFees},
		Ledger:  ledger,
	}
	resp.Consistent = closeEnough(resp.Stored.Earned, ledger.Earned) &&
		closeEnough(resp.Stored.Spent, ledger.Spent) &&
		closeEnough(resp.Stored.TradingFees, ledger.TradingFees)
	if !resp.Consistent {
		s.log.Warn("累计值与流水不一致", "agent_id", id, "stored", resp.Stored, "ledger", ledger)
	}
	writeJSON(w, http.StatusOK, resp)
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
