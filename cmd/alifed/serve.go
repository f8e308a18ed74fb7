package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ALiFe-Chain/internal/agent"
	"ALiFe-Chain/internal/api"
	"ALiFe-Chain/internal/auth"
	"ALiFe-Chain/internal/config"
	"ALiFe-Chain/internal/conway"
	"ALiFe-Chain/internal/feeclaim"
	"ALiFe-Chain/internal/launch"
	"ALiFe-Chain/internal/observability/alerting"
	"ALiFe-Chain/internal/observability/metrics"
	"ALiFe-Chain/internal/observability/tracing"
	"ALiFe-Chain/internal/realtime"
	"ALiFe-Chain/internal/storage/mysql"
	"ALiFe-Chain/internal/web3"
	"ALiFe-Chain/internal/web3/flaunch"
	"ALiFe-Chain/internal/web3/provider"
	"ALiFe-Chain/internal/webhook"
	"ALiFe-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

const serviceName = "alifed"

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named(serviceName)

	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("刷新追踪数据失败", "error", err)
		}
	}()

	recorder := metrics.New()

	baseStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer baseStore.Close()

	var store agent.Store = baseStore
	bus, err := openBus(ctx, cfg.Realtime)
	if err != nil {
		return err
	}
	if bus != nil {
		defer bus.Close()
		store = realtime.NewObservedStore(baseStore, bus)
	}

	alerts := buildAlerts(cfg.Alerting, log)

	chain, err := openChain(ctx, cfg.Web3, log)
	if err != nil {
		return err
	}
	defer chain.close()

	provisioner, err := openConway(cfg.Conway, log)
	if err != nil {
		return err
	}

	mintTimeout, provisionTimeout, providerCallTimeout, persistTimeout := cfg.Launch.LaunchTimeouts()
	launchCfg := launch.Config{
		MintTimeout:           mintTimeout,
		ProvisionTimeout:      provisionTimeout,
		ProviderCallTimeout:   providerCallTimeout,
		PersistTimeout:        persistTimeout,
		ChainID:               chain.chainID,
		RevenueManagerAddress: chain.revenueManagerHex(),
		FundingCurrency:       cfg.Launch.FundingCurrency,
	}
	var minter launch.Minter
	if chain.launchpad != nil {
		minter = chain.launchpad
	}
	coordinator := launch.NewCoordinator(store, minter, provisioner,
		launch.WithConfig(launchCfg),
		launch.WithAlerts(alerts),
		launch.WithRecorder(recorder),
	)

	ingestor := webhook.NewIngestor(store, auth.NewSharedSecret(cfg.Webhook.Secret),
		webhook.WithTierPolicy(agent.TierPolicy{
			LowComputeBelow: cfg.Webhook.LowComputeBelow,
			CriticalBelow:   cfg.Webhook.CriticalBelow,
		}),
		webhook.WithRecorder(recorder),
	)
	if cfg.Webhook.Secret == "" {
		log.Warn("未配置 webhook 共享密钥，所有 webhook 请求都会被拒绝")
	}

	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}
	if authService.Mode() == auth.ModeDisabled {
		log.Warn("操作员接口未启用认证")
	}

	deps := api.Dependencies{
		Store:    store,
		Ingestor: ingestor,
		Auth:     authService,
		Recorder: recorder,
	}
	deps.Launcher = coordinator
	if chain.client != nil {
		deps.Chain = chain.client
	}
	if chain.launchpad != nil {
		deps.LaunchSigner, err = signerFromKey(cfg.Web3.LauncherPrivateKey, "launcher", log)
		if err != nil {
			return err
		}
	}
	if chain.revenueManager != nil {
		deps.Fees = feeclaim.NewGateway(chain.revenueManager,
			feeclaim.WithTimeout(cfg.Web3.CallTimeout()),
			feeclaim.WithRecorder(recorder),
		)
		deps.TreasurySigner, err = signerFromKey(cfg.Web3.TreasuryPrivateKey, "treasury", log)
		if err != nil {
			return err
		}
	}

	if addr := strings.TrimSpace(cfg.Metrics.Address); addr != "" {
		go func() {
			if err := recorder.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", "error", err)
			}
		}()
	} else {
		deps.Metrics = recorder.Handler()
	}

	server := api.NewServer(api.Config{
		Address:           cfg.Server.Address,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout(),
		ShutdownTimeout:   cfg.Server.ShutdownTimeout(),
	}, deps)

	log.Info("alifed 启动",
		"storage", cfg.Storage.Driver,
		"realtime", cfg.Realtime.Driver,
		"chain", chain.name,
		"auth", authService.Mode(),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (agent.Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return agent.NewMemoryStore(), nil
	case "mysql":
		store, err := mysql.NewAgentStore(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.MySQL.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.MySQL.ConnMaxIdleTimeSeconds) * time.Second,
			AutoMigrate:     cfg.MySQL.AutoMigrate,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

func openBus(ctx context.Context, cfg config.RealtimeConfig) (realtime.Bus, error) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "memory", "":
		return realtime.NewMemoryBus(0), nil
	case "redis":
		bus, err := realtime.NewRedisBus(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case "rabbitmq":
		bus, err := realtime.NewRabbitMQBus(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("未知的实时驱动: %s", cfg.Driver)
	}
}

func buildAlerts(cfg config.AlertingConfig, log *slog.Logger) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{Logger: logger.Named("alert")})
	}
	if cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    alerting.AsSlackSender(alerting.NewSlackWebhook(cfg.Slack.WebhookURL)),
			ChannelID: cfg.Slack.Channel,
		})
	}
	if cfg.DingTalk.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{Sender: alerting.NewDingTalkWebhook(cfg.DingTalk.WebhookURL)})
	}
	if cfg.Email.SMTP.Addr != "" {
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender:        alerting.NewSMTPSender(cfg.Email.SMTP),
			To:            cfg.Email.SMTP.To,
			SubjectPrefix: cfg.Email.SubjectPrefix,
		})
	}
	log.Info("告警渠道已配置", "count", len(notifiers))
	return alerting.NewFanout(notifiers...)
}

// chainClients 持有链客户端与合约绑定，未配置链时字段为空。
type chainClients struct {
	registry       *provider.Registry
	client         web3.Client
	name           string
	chainID        int64
	launchpad      *flaunch.Launchpad
	revenueManager *flaunch.RevenueManager
}

func (c *chainClients) close() {
	if c.registry != nil {
		c.registry.Close()
	}
}

func (c *chainClients) revenueManagerHex() string {
	if c.revenueManager == nil {
		return ""
	}
	return c.revenueManager.Address().Hex()
}

func openChain(ctx context.Context, cfg config.Web3Config, log *slog.Logger) (*chainClients, error) {
	chain := &chainClients{chainID: cfg.ChainID}
	if strings.TrimSpace(cfg.ChainConfig) == "" && strings.TrimSpace(cfg.RPCURL) == "" {
		log.Warn("未配置链，发射与手续费领取接口不可用")
		return chain, nil
	}

	registry, err := provider.NewRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	chain.registry = registry
	chain.name = registry.DefaultChain()

	client, err := registry.DefaultClient()
	if err != nil {
		registry.Close()
		return nil, err
	}
	chain.client = client
	def := registry.DefaultDefinition()
	if def.ChainID != 0 {
		chain.chainID = def.ChainID
	}

	launchpadHex := firstNonEmpty(cfg.LaunchpadAddress, def.Contracts.Launchpad)
	revenueHex := firstNonEmpty(cfg.RevenueManagerAddress, def.Contracts.RevenueManager)
	if !common.IsHexAddress(revenueHex) {
		log.Warn("未配置 revenue manager 地址，发射与手续费领取接口不可用", "chain", chain.name)
		return chain, nil
	}
	revenueAddr := common.HexToAddress(revenueHex)

	chain.revenueManager, err = flaunch.NewRevenueManager(revenueAddr, client)
	if err != nil {
		registry.Close()
		return nil, err
	}
	if common.IsHexAddress(launchpadHex) {
		chain.launchpad, err = flaunch.NewLaunchpad(common.HexToAddress(launchpadHex), revenueAddr, client)
		if err != nil {
			registry.Close()
			return nil, err
		}
	} else {
		log.Warn("未配置 launchpad 地址，发射接口不可用", "chain", chain.name)
	}
	return chain, nil
}

func openConway(cfg config.ConwayConfig, log *slog.Logger) (launch.Provisioner, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		log.Warn("未配置 Conway API Key，沙箱申请将以占位记录软失败")
		return nil, nil
	}
	client, err := conway.NewClient(conway.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func signerFromKey(key, role string, log *slog.Logger) (web3.Signer, error) {
	if strings.TrimSpace(key) == "" {
		log.Warn("未配置签名私钥", "role", role)
		return nil, nil
	}
	signer, err := web3.NewKeySigner(key)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 私钥失败: %w", role, err)
	}
	log.Info("签名账户已加载", "role", role, "address", signer.Address().Hex())
	return signer, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
