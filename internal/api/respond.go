package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	xerrors "ALiFe-Chain/internal/errors"
)

type errorBody struct {
	Code     xerrors.Code      `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// exposedMetadata 列出元数据可以返回给调用方的错误码，恢复令牌随 PERSISTENCE_FAILURE 返回。
var exposedMetadata = map[xerrors.Code]bool{
	xerrors.CodeExternalProviderUnavailable: true,
	xerrors.CodeTokenMintFailed:             true,
	xerrors.CodePersistenceFailure:          true,
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", "path", r.URL.Path, "code", code, "error", err)
	}
	body := errorBody{Code: code, Message: xerrors.PublicMessage(err)}
	if exposedMetadata[code] {
		body.Metadata = xerrors.MetadataOf(err)
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeInvalidPayload, xerrors.CodeUserRejectedSignature:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case xerrors.CodeNotFound, xerrors.CodeUnknownAgent:
		return http.StatusNotFound
	case xerrors.CodeConflict, xerrors.CodeAgentDead, xerrors.CodeNothingToClaim:
		return http.StatusConflict
	case xerrors.CodeExternalProviderUnavailable, xerrors.CodeTokenMintFailed:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体过大")
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体不是合法的 JSON")
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "参数 "+key+" 必须是非负整数")
	}
	return value, nil
}

func unavailable(w http.ResponseWriter, component string) {
	writeMessage(w, http.StatusServiceUnavailable, component+" 未配置")
}
