// Package conway 封装了智能体托管服务（Conway automaton manager）的 HTTP API。
package conway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "ALiFe-Chain/internal/errors"
)

const (
	defaultBaseURL = "https://api.conway.tech"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 2048
)

// Config 描述访问托管服务所需的信息。
type Config struct {
	APIKey  string        `json:"-"`
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// ProvisionRequest 是创建沙箱的请求体。
type ProvisionRequest struct {
	AgentID        string `json:"agent_id,omitempty"`
	Name           string `json:"name"`
	Ticker         string `json:"ticker"`
	GenesisPrompt  string `json:"genesis_prompt"`
	CreatorAddress string `json:"creator_address"`
	TokenAddress   string `json:"token_address"`
	Model          string `json:"model"`
}

// Sandbox 是托管服务返回的沙箱信息。Status 为 alive 或 provisioning。
type Sandbox struct {
	SandboxID     string `json:"sandbox_id"`
	WalletAddress string `json:"wallet_address"`
	Status        string `json:"status"`
}

// Alive 判断沙箱是否已完成启动。
func (s *Sandbox) Alive() bool {
	return s != nil && s.Status == "alive"
}

// HeartbeatStatus 是主动查询得到的沙箱状态。
type HeartbeatStatus struct {
	Alive         bool    `json:"alive"`
	LastHeartbeat string  `json:"lastHeartbeat"`
	CreditBalance float64 `json:"creditBalance"`
	SurvivalTier  string  `json:"survivalTier"`
	CurrentTask   *string `json:"currentTask"`
}

// FundResult 是注资结果。
type FundResult struct {
	TxHash     string  `json:"txHash"`
	NewBalance float64 `json:"newBalance"`
}

// MessageReply 是发送指令后的回复。
type MessageReply struct {
	Response string `json:"response"`
	Status   string `json:"status"`
}

// APIError 描述托管服务返回的非 2xx 响应。
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Conway 返回错误状态 %d: %s", e.StatusCode, e.Body)
}

// Client 通过 HTTP 调用托管服务。
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Conway API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Provision 创建新的沙箱。沙箱 ID 为空的响应视为失败。
func (c *Client) Provision(ctx context.Context, req ProvisionRequest) (*Sandbox, error) {
	if strings.TrimSpace(req.Model) == "" {
		req.Model = "claude-sonnet-4-20250514"
	}
	if strings.TrimSpace(req.TokenAddress) == "" {
		req.TokenAddress = "pending"
	}
	var sandbox Sandbox
	if err := c.do(ctx, http.MethodPost, "/v1/automatons", req, &sandbox); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sandbox.SandboxID) == "" {
		return nil, xerrors.New(xerrors.CodeExternalProviderUnavailable, "Conway 响应缺少 sandbox_id",
			xerrors.WithMetadata("provider", "conway"))
	}
	return &sandbox, nil
}

// SendMessage 向运行中的智能体发送指令。
func (c *Client) SendMessage(ctx context.Context, sandboxID, message string) (*MessageReply, error) {
	var reply MessageReply
	body := map[string]string{"message": message}
	if err := c.do(ctx, http.MethodPost, automatonPath(sandboxID, "messages"), body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Heartbeat 主动查询沙箱状态。
func (c *Client) Heartbeat(ctx context.Context, sandboxID string) (*HeartbeatStatus, error) {
	var status HeartbeatStatus
	if err := c.do(ctx, http.MethodGet, automatonPath(sandboxID, "heartbeat"), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Fund 为沙箱钱包注资，currency 默认为 USDC。
func (c *Client) Fund(ctx context.Context, sandboxID string, amount float64, currency string) (*FundResult, error) {
	if amount <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "注资金额必须为正数")
	}
	if currency == "" {
		currency = "USDC"
	}
	body := map[string]any{"amount": amount, "currency": currency}
	var result FundResult
	if err := c.do(ctx, http.MethodPost, automatonPath(sandboxID, "fund"), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Kill 停止沙箱。
func (c *Client) Kill(ctx context.Context, sandboxID string) error {
	return c.do(ctx, http.MethodDelete, automatonPath(sandboxID, ""), nil, nil)
}

// Soul 返回智能体自述文档 SOUL.md，未生成时返回空字符串。
func (c *Client) Soul(ctx context.Context, sandboxID string) (string, error) {
	var decoded struct {
		SoulMD *string `json:"soul_md"`
	}
	if err := c.do(ctx, http.MethodGet, automatonPath(sandboxID, "soul"), nil, &decoded); err != nil {
		return "", err
	}
	if decoded.SoulMD == nil {
		return "", nil
	}
	return *decoded.SoulMD, nil
}

func automatonPath(sandboxID, action string) string {
	path := "/v1/automatons/" + url.PathEscape(sandboxID)
	if action != "" {
		path += "/" + action
	}
	return path
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 Conway 请求失败")
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建 Conway 请求失败")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unavailable(err, "请求 Conway 失败", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		return unavailable(apiErr, apiErr.Error(), method, path,
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return unavailable(err, "解析 Conway 响应失败", method, path)
	}
	return nil
}

func unavailable(cause error, message, method, path string, opts ...xerrors.Option) error {
	opts = append(opts,
		xerrors.WithMetadata("provider", "conway"),
		xerrors.WithMetadata("endpoint", method+" "+path),
	)
	return xerrors.Wrap(xerrors.CodeExternalProviderUnavailable, cause, message, opts...)
}
