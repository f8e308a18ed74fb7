// Package alife is a Go client for the alifed HTTP API.
package alife

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Launch requests wait for the token mint, so callers that launch should pass
// a client with a longer timeout.
const DefaultHTTPTimeout = 15 * time.Second

// SecretHeader carries the webhook shared secret.
const SecretHeader = "x-shared-secret"

// Client wraps the HTTP interactions with the alifed REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu           sync.RWMutex
	accessToken  string
	sharedSecret string
}

// Agent is the public view of an agent record.
type Agent struct {
	ID               string  `json:"id"`
	CreatorID        string  `json:"creator_id"`
	CreatorAddress   string  `json:"creator_address"`
	Name             string  `json:"name"`
	Ticker           string  `json:"ticker"`
	TokenAddress     string  `json:"flaunch_token_address"`
	SandboxID        string  `json:"conway_sandbox_id"`
	WalletAddress    string  `json:"agent_wallet_address"`
	Status           string  `json:"status"`
	SurvivalTier     string  `json:"survival_tier"`
	CurrentBalance   float64 `json:"current_balance"`
	TotalEarned      float64 `json:"total_earned"`
	TotalTradingFees float64 `json:"total_trading_fees"`
	TotalSpent       float64 `json:"total_spent"`
	Generation       int     `json:"generation"`
	ParentID         string  `json:"parent_id,omitempty"`
	ChildrenCount    int     `json:"children_count"`
	LaunchTxHash     string  `json:"launch_tx_hash"`
	CreatedAt        int64   `json:"created_at"`
}

// LogEntry is one line of an agent's activity log.
type LogEntry struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// LaunchRequest is the payload required to launch a new agent.
type LaunchRequest struct {
	CreatorAddress string `json:"creator_address"`
	CreatorID      string `json:"creator_id,omitempty"`
	Name           string `json:"name"`
	Ticker         string `json:"ticker"`
	Description    string `json:"description,omitempty"`
	GenesisPrompt  string `json:"genesis_prompt"`
	Model          string `json:"model,omitempty"`
	ImageBase64    string `json:"image_base64,omitempty"`
}

// Progress is a single launch progress message.
type Progress struct {
	Step    int    `json:"step"`
	Message string `json:"message"`
}

// LaunchResult describes a launched agent.
type LaunchResult struct {
	Agent        *Agent     `json:"agent"`
	TokenAddress string     `json:"token_address"`
	TxHash       string     `json:"tx_hash"`
	SandboxID    string     `json:"sandbox_id"`
	Progress     []Progress `json:"progress"`
}

// Funding is the record returned after funding an agent.
type Funding struct {
	ID        string  `json:"id"`
	AgentID   string  `json:"agent_id"`
	FunderID  string  `json:"funder_id"`
	Amount    float64 `json:"amount"`
	TxHash    string  `json:"tx_hash,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// Event is a lifecycle event posted by an agent runtime.
type Event struct {
	SandboxID string         `json:"sandbox_id"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
}

// ListOptions filters the agent list.
type ListOptions struct {
	Statuses  []string
	CreatorID string
	Limit     int
	Offset    int
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("alife api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("alife api error (%d): %s", e.StatusCode, e.Message)
}

// ResumeToken returns the token attached to a PERSISTENCE_FAILURE, if any.
func (e *APIError) ResumeToken() string {
	if e == nil {
		return ""
	}
	return e.Metadata["resume_token"]
}

// NewClient instantiates a client for the alifed API. When httpClient is nil,
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets the operator bearer token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetSharedSecret sets the secret sent with webhook events.
func (c *Client) SetSharedSecret(secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sharedSecret = secret
}

// ListAgents returns agents matching opts.
func (c *Client) ListAgents(ctx context.Context, opts ListOptions) ([]Agent, error) {
	query := url.Values{}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.CreatorID != "" {
		query.Set("creator", opts.CreatorID)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	var out struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.get(ctx, "/api/v1/agents", query, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// GetAgent fetches an agent by identifier.
func (c *Client) GetAgent(ctx context.Context, id string) (Agent, error) {
	var agent Agent
	if err := c.get(ctx, "/api/v1/agents/"+id, nil, &agent); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// ListLogs returns the newest log entries of an agent.
func (c *Client) ListLogs(ctx context.Context, id string, limit int) ([]LogEntry, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Logs []LogEntry `json:"logs"`
	}
	if err := c.get(ctx, "/api/v1/agents/"+id+"/logs", query, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// Claimable returns the claimable fee balance of recipient in wei.
func (c *Client) Claimable(ctx context.Context, recipient string) (string, error) {
	var out struct {
		ClaimableWei string `json:"claimable_wei"`
	}
	if err := c.get(ctx, "/api/v1/fees/claimable", url.Values{"recipient": {recipient}}, &out); err != nil {
		return "", err
	}
	return out.ClaimableWei, nil
}

// ProtocolTerms describes the platform cut configured on the revenue manager.
type ProtocolTerms struct {
	FeeBps    string `json:"protocol_fee_bps"`
	Recipient string `json:"protocol_recipient"`
}

// Protocol returns the revenue manager's protocol fee and recipient.
func (c *Client) Protocol(ctx context.Context) (ProtocolTerms, error) {
	var out ProtocolTerms
	if err := c.get(ctx, "/api/v1/fees/protocol", nil, &out); err != nil {
		return ProtocolTerms{}, err
	}
	return out, nil
}

// Launch mints a token and launches an agent. On PERSISTENCE_FAILURE the
// returned *APIError carries a resume token for Resume.
func (c *Client) Launch(ctx context.Context, req LaunchRequest) (LaunchResult, error) {
	var result LaunchResult
	if err := c.post(ctx, "/api/v1/launches", req, &result, c.bearer()); err != nil {
		return LaunchResult{}, err
	}
	return result, nil
}

// Resume finishes a launch whose persistence step failed.
func (c *Client) Resume(ctx context.Context, resumeToken string) (LaunchResult, error) {
	var result LaunchResult
	body := map[string]string{"resume_token": resumeToken}
	if err := c.post(ctx, "/api/v1/launches/resume", body, &result, c.bearer()); err != nil {
		return LaunchResult{}, err
	}
	return result, nil
}

// RetryProvisioning requests a sandbox for an agent still on a placeholder.
func (c *Client) RetryProvisioning(ctx context.Context, id string) (Agent, error) {
	var agent Agent
	if err := c.post(ctx, "/api/v1/agents/"+id+"/provision", struct{}{}, &agent, c.bearer()); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// Fund tops up an agent's compute credits.
func (c *Client) Fund(ctx context.Context, id string, amount float64) (Funding, error) {
	var funding Funding
	body := map[string]float64{"amount": amount}
	if err := c.post(ctx, "/api/v1/agents/"+id+"/fund", body, &funding, c.bearer()); err != nil {
		return Funding{}, err
	}
	return funding, nil
}

// Terminate kills the agent's sandbox and marks it dead.
func (c *Client) Terminate(ctx context.Context, id string) error {
	return c.post(ctx, "/api/v1/agents/"+id+"/terminate", struct{}{}, nil, c.bearer())
}

// ClaimFees claims the treasury's accrued fees and returns the transaction hash.
func (c *Client) ClaimFees(ctx context.Context) (string, error) {
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.post(ctx, "/api/v1/fees/claim", struct{}{}, &out, c.bearer()); err != nil {
		return "", err
	}
	return out.TxHash, nil
}

// SendEvent posts a lifecycle event to the webhook endpoint.
func (c *Client) SendEvent(ctx context.Context, event Event) error {
	c.mu.RLock()
	secret := c.sharedSecret
	c.mu.RUnlock()
	if secret == "" {
		return errors.New("alife: shared secret is not set")
	}
	return c.post(ctx, "/webhooks/agent-events", event, nil, map[string]string{SecretHeader: secret})
}

func (c *Client) bearer() map[string]string {
	token := c.AccessToken()
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		decodeError(data, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError accepts both {"error":{...}} and {"error":"message"} bodies.
func decodeError(data []byte, apiErr *APIError) {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Error) > 0 {
		if err := json.Unmarshal(envelope.Error, apiErr); err != nil {
			var message string
			if json.Unmarshal(envelope.Error, &message) == nil {
				apiErr.Message = message
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
}
