package api

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"time"

	"ALiFe-Chain/internal/agent"
	"ALiFe-Chain/internal/auth"
	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/feeclaim"
	"ALiFe-Chain/internal/launch"
	"ALiFe-Chain/internal/web3"
	"ALiFe-Chain/internal/webhook"
	"ALiFe-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

const defaultMaxBodyBytes = 1 << 20

// Launcher 是操作员接口使用的发射与生命周期操作。
type Launcher interface {
	Launch(ctx context.Context, signer web3.Signer, params launch.Params, progress launch.ProgressFunc) (*launch.Result, error)
	Resume(ctx context.Context, token string, progress launch.ProgressFunc) (*launch.Result, error)
	RetryProvisioning(ctx context.Context, agentID string) (*agent.Agent, error)
	Fund(ctx context.Context, agentID, funderID string, amount float64) (*agent.Funding, error)
	Terminate(ctx context.Context, agentID string) error
}

// FeeGateway 是手续费查询与领取接口。
type FeeGateway interface {
	GetClaimable(ctx context.Context, recipient common.Address) (*big.Int, error)
	Claim(ctx context.Context, signer web3.Signer) (common.Hash, error)
	Protocol(ctx context.Context) (feeclaim.ProtocolTerms, error)
}

// Ingestor 校验并应用 webhook 事件。
type Ingestor interface {
	Authenticate(presented string) error
	Ingest(ctx context.Context, env webhook.Envelope) error
}

// Recorder 接收 HTTP 请求指标。
type Recorder interface {
	ObserveHTTPRequest(handler, method string, status int, duration time.Duration)
}

// Config 控制监听地址与超时。
type Config struct {
	Address           string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	MaxBodyBytes      int64
}

// Dependencies 汇集处理器依赖的组件，为空的组件对应的接口返回 503。
type Dependencies struct {
	Store          agent.Store
	Ingestor       Ingestor
	Launcher       Launcher
	Fees           FeeGateway
	LaunchSigner   web3.Signer
	TreasurySigner web3.Signer
	Auth           *auth.Service
	Recorder       Recorder
	Chain          ChainReporter
	// Metrics 非空时挂载在 /metrics。
	Metrics http.Handler
}

// ChainReporter 汇报当前链的区块高度等状态。
type ChainReporter interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config, deps Dependencies) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Server{cfg: cfg, deps: deps, log: logger.Named("api")}
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /healthz", "healthz", http.HandlerFunc(s.handleHealth))
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	s.handle(mux, "POST /webhooks/agent-events", "webhook", http.HandlerFunc(s.handleWebhook))

	s.handle(mux, "GET /api/v1/agents", "agents.list", http.HandlerFunc(s.handleListAgents))
	s.handle(mux, "GET /api/v1/agents/{id}", "agents.get", http.HandlerFunc(s.handleGetAgent))
	s.handle(mux, "GET /api/v1/agents/{id}/logs", "agents.logs", http.HandlerFunc(s.handleListLogs))
	s.handle(mux, "GET /api/v1/agents/{id}/earnings", "agents.earnings", http.HandlerFunc(s.handleListEarnings))
	s.handle(mux, "GET /api/v1/agents/{id}/expenses", "agents.expenses", http.HandlerFunc(s.handleListExpenses))
	s.handle(mux, "GET /api/v1/fees/claimable", "fees.claimable", http.HandlerFunc(s.handleClaimable))
	s.handle(mux, "GET /api/v1/fees/protocol", "fees.protocol", http.HandlerFunc(s.handleProtocolTerms))
	s.handle(mux, "GET /api/v1/chain", "chain", http.HandlerFunc(s.handleChain))

	s.operator(mux, "POST /api/v1/launches", "launches.create", auth.PermAgentsWrite, s.handleLaunch)
	s.operator(mux, "POST /api/v1/launches/resume", "launches.resume", auth.PermAgentsWrite, s.handleResume)
	s.operator(mux, "POST /api/v1/agents/{id}/provision", "agents.provision", auth.PermAgentsWrite, s.handleProvision)
	s.operator(mux, "POST /api/v1/agents/{id}/fund", "agents.fund", auth.PermAgentsWrite, s.handleFund)
	s.operator(mux, "POST /api/v1/agents/{id}/terminate", "agents.terminate", auth.PermAgentsWrite, s.handleTerminate)
	s.operator(mux, "PUT /api/v1/agents/{id}/fee-split", "agents.fee_split", auth.PermAgentsWrite, s.handleFeeSplit)
	s.operator(mux, "GET /api/v1/agents/{id}/reconcile", "agents.reconcile", auth.PermAgentsWrite, s.handleReconcile)
	s.operator(mux, "POST /api/v1/fees/claim", "fees.claim", auth.PermFeesClaim, s.handleClaim)

	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve 在给定监听器上提供服务，上下文取消后优雅关闭。
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("HTTP 服务已启动", "address", listener.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP 服务关闭超时", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handle(mux *http.ServeMux, pattern, name string, handler http.Handler) {
	mux.Handle(pattern, s.instrument(name, handler))
}

func (s *Server) operator(mux *http.ServeMux, pattern, name, permission string, handler http.HandlerFunc) {
	var wrapped http.Handler = handler
	wrapped = s.deps.Auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: []string{permission},
		AuditEvent:          name,
	})(wrapped)
	s.handle(mux, pattern, name, wrapped)
}

func (s *Server) instrument(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Recorder == nil {
			handler.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(sw, r)
		s.deps.Recorder.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chain == nil {
		unavailable(w, "chain")
		return
	}
	snapshot, err := s.deps.Chain.FetchChainSnapshot(r.Context())
	if err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeExternalProviderUnavailable, err, "查询链状态失败"))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// statusWriter 捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
