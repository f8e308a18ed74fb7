package launch

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	xerrors "ALiFe-Chain/internal/errors"
)

const resumeTokenVersion = 1

// MintOutcome 是铸造步骤的结果。
type MintOutcome struct {
	TxHash       string `json:"tx_hash"`
	TokenAddress string `json:"token_address"`
	TokenID      string `json:"token_id,omitempty"`
	PoolID       string `json:"pool_id,omitempty"`
}

// SandboxOutcome 是申请沙箱步骤的结果（可能是占位值）。
type SandboxOutcome struct {
	SandboxID     string `json:"sandbox_id"`
	WalletAddress string `json:"wallet_address"`
	Alive         bool   `json:"alive"`
}

// ResumeToken 携带落库之前已经取得的全部结果，用于只重做落库步骤。
type ResumeToken struct {
	Version int            `json:"v"`
	AgentID string         `json:"agent_id"`
	Params  Params         `json:"params"`
	Mint    MintOutcome    `json:"mint"`
	Sandbox SandboxOutcome `json:"sandbox"`
}

// Encode 将令牌编码为 URL 安全的 base64 字符串。图片不随令牌携带。
func (t ResumeToken) Encode() (string, error) {
	t.Version = resumeTokenVersion
	t.Params.ImageBase64 = ""
	raw, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeResumeToken 解析并校验恢复令牌。
func DecodeResumeToken(encoded string) (ResumeToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return ResumeToken{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "恢复令牌格式错误")
	}
	var token ResumeToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return ResumeToken{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "恢复令牌格式错误")
	}
	switch {
	case token.Version != resumeTokenVersion:
		return ResumeToken{}, xerrors.New(xerrors.CodeInvalidArgument, "不支持的恢复令牌版本")
	case token.AgentID == "" || token.Mint.TokenAddress == "" || token.Mint.TxHash == "":
		return ResumeToken{}, xerrors.New(xerrors.CodeInvalidArgument, "恢复令牌缺少铸造结果")
	case token.Sandbox.SandboxID == "":
		return ResumeToken{}, xerrors.New(xerrors.CodeInvalidArgument, "恢复令牌缺少沙箱信息")
	}
	return token, nil
}
