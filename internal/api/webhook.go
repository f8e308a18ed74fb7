package api

import (
	"encoding/json"
	"errors"
	"net/http"

	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/webhook"
	"ALiFe-Chain/pkg/logger"
)

// SecretHeader 承载 webhook 共享密钥。
const SecretHeader = "x-shared-secret"

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingestor == nil {
		unavailable(w, "webhook")
		return
	}
	if err := s.deps.Ingestor.Authenticate(r.Header.Get(SecretHeader)); err != nil {
		logger.Audit().Warn("webhook_rejected", "remote", r.RemoteAddr, "path", r.URL.Path)
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var env webhook.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if env.SandboxID == "" || env.Event == "" {
		writeMessage(w, http.StatusBadRequest, "Missing sandbox_id or event")
		return
	}

	err := s.deps.Ingestor.Ingest(r.Context(), env)
	switch {
	case err == nil:
		writeOK(w)
	case errors.Is(err, webhook.ErrUnknownAgent):
		s.log.Warn("webhook 指向未知沙箱", "sandbox_id", env.SandboxID, "event", env.Event)
		writeOK(w)
	case xerrors.CodeOf(err) == xerrors.CodeInvalidPayload:
		writeMessage(w, http.StatusBadRequest, xerrors.PublicMessage(err))
	default:
		s.log.Error("webhook 处理失败", "sandbox_id", env.SandboxID, "event", env.Event, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal error")
	}
}
