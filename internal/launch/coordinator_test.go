package launch

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"ALiFe-Chain/internal/agent"
	"ALiFe-Chain/internal/conway"
	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/observability/alerting"
	"ALiFe-Chain/internal/web3"
	"ALiFe-Chain/internal/web3/flaunch"

	"github.com/ethereum/go-ethereum/common"
)

const (
	tokenAAA  = "0xAAA0000000000000000000000000000000000001"
	walletBBB = "0xBBB0000000000000000000000000000000000002"
)

type fakeMinter struct {
	calls     int
	err       error
	result    *flaunch.MintResult
	got       flaunch.LaunchRequest
	afterMint func()
}

func (f *fakeMinter) Mint(_ context.Context, _ web3.Signer, req flaunch.LaunchRequest) (*flaunch.MintResult, error) {
	f.calls++
	f.got = req
	if f.afterMint != nil {
		defer f.afterMint()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &flaunch.MintResult{
		TxHash:       common.HexToHash("0xfeed"),
		TokenAddress: common.HexToAddress(tokenAAA),
		TokenID:      big.NewInt(42),
		PoolID:       common.HexToHash("0xabc"),
	}, nil
}

type fakeProvisioner struct {
	mu         sync.Mutex
	sandbox    *conway.Sandbox
	err        error
	provisions int
	killed     []string
	funded     []float64
	fundErr    error
	lastReq    conway.ProvisionRequest
}

func (f *fakeProvisioner) Provision(_ context.Context, req conway.ProvisionRequest) (*conway.Sandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisions++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.sandbox, nil
}

func (f *fakeProvisioner) Fund(_ context.Context, _ string, amount float64, _ string) (*conway.FundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funded = append(f.funded, amount)
	if f.fundErr != nil {
		return nil, f.fundErr
	}
	return &conway.FundResult{TxHash: "0xf00d"}, nil
}

func (f *fakeProvisioner) Kill(_ context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, sandboxID)
	return nil
}

// failingCreateStore 在 CreateAgent 时返回错误，其他操作委托给内存实现。
type failingCreateStore struct {
	*agent.MemoryStore
	err   error
	fails int
}

func (s *failingCreateStore) CreateAgent(ctx context.Context, a *agent.Agent) error {
	if s.fails > 0 {
		s.fails--
		return s.err
	}
	return s.MemoryStore.CreateAgent(ctx, a)
}

// ctxStore 与真实数据库一样在上下文取消后拒绝写入。
type ctxStore struct {
	*agent.MemoryStore
}

func (s ctxStore) CreateAgent(ctx context.Context, a *agent.Agent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.CreateAgent(ctx, a)
}

func (s ctxStore) AppendLog(ctx context.Context, log *agent.Log) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.AppendLog(ctx, log)
}

// ctxProvisioner 在上下文取消后拒绝申请沙箱。
type ctxProvisioner struct {
	*fakeProvisioner
}

func (p ctxProvisioner) Provision(ctx context.Context, req conway.ProvisionRequest) (*conway.Sandbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.fakeProvisioner.Provision(ctx, req)
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type stepRecorder struct {
	launches []string
	steps    []string
}

func (r *stepRecorder) ObserveLaunch(outcome string, _ time.Duration) {
	r.launches = append(r.launches, outcome)
}

func (r *stepRecorder) ObserveLaunchStep(step, outcome string) {
	r.steps = append(r.steps, step+":"+outcome)
}

func testSigner(t *testing.T) web3.Signer {
	t.Helper()
	signer, err := web3.NewKeySigner("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func nexusParams() Params {
	return Params{
		CreatorAddress: "0x2222222222222222222222222222222222222222",
		CreatorID:      "did:privy:creator",
		Name:           "NEXUS",
		Ticker:         "$NEXUS",
		Description:    "an autonomous trader",
		GenesisPrompt:  "survive",
		ImageBase64:    "AAAA",
	}
}

type progressLog struct {
	steps    []int
	messages []string
}

func (p *progressLog) record(step int, message string) {
	p.steps = append(p.steps, step)
	p.messages = append(p.messages, message)
}

func TestLaunchEndToEnd(t *testing.T) {
	store := agent.NewMemoryStore()
	minter := &fakeMinter{}
	provisioner := &fakeProvisioner{sandbox: &conway.Sandbox{SandboxID: "sbx-1", WalletAddress: walletBBB, Status: "alive"}}
	recorder := &stepRecorder{}
	coordinator := NewCoordinator(store, minter, provisioner, WithRecorder(recorder))

	var progress progressLog
	result, err := coordinator.Launch(context.Background(), testSigner(t), nexusParams(), progress.record)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	a := result.Agent
	if a.Status != agent.StatusAlive || a.SurvivalTier != agent.TierNormal {
		t.Fatalf("unexpected lifecycle: %s/%s", a.Status, a.SurvivalTier)
	}
	if !strings.EqualFold(a.TokenAddress, tokenAAA) || !strings.EqualFold(a.WalletAddress, walletBBB) {
		t.Fatalf("unexpected linkage: %s %s", a.TokenAddress, a.WalletAddress)
	}
	if a.FeeCreatorPct != 70 || a.FeePlatformPct != 30 {
		t.Fatalf("unexpected fee split: %d/%d", a.FeeCreatorPct, a.FeePlatformPct)
	}
	if result.SandboxID != "sbx-1" || a.Ticker != "$NEXUS" || a.TokenID != "42" || a.ChainID != agent.DefaultChainID {
		t.Fatalf("unexpected result: %+v", result)
	}
	if a.PoolID != common.HexToHash("0xabc").Hex() {
		t.Fatalf("pool id not carried from the mint: %q", a.PoolID)
	}
	if minter.got.Symbol != "NEXUS" || minter.got.InitialMarketCapUSD != 10_000 || minter.got.CreatorFeeAllocationPercent != 80 {
		t.Fatalf("unexpected mint request: %+v", minter.got)
	}
	if provisioner.lastReq.TokenAddress != a.TokenAddress || provisioner.lastReq.AgentID != a.ID {
		t.Fatalf("provisioning must receive the minted token: %+v", provisioner.lastReq)
	}

	want := []string{MsgDeployingToken, MsgTokenDeployed, MsgSpinningSandbox, MsgWalletGenerated, MsgWritingGenesis, MsgSaving, MsgAlive}
	if len(progress.messages) != len(want) {
		t.Fatalf("unexpected progress: %v", progress.messages)
	}
	for i := range want {
		if progress.steps[i] != i || progress.messages[i] != want[i] {
			t.Fatalf("step %d = %d %q, want %q", i, progress.steps[i], progress.messages[i], want[i])
		}
	}

	stored, err := store.GetAgentBySandbox(context.Background(), "sbx-1")
	if err != nil || stored.ID != a.ID {
		t.Fatalf("agent not persisted: %v", err)
	}
	logs, err := store.ListLogs(context.Background(), a.ID, 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected launch log, got %v err=%v", logs, err)
	}
	if !strings.HasPrefix(logs[0].Message, "Agent launched! Token: "+a.TokenAddress[:10]+"... | Sandbox: sbx-1") {
		t.Fatalf("unexpected launch log %q", logs[0].Message)
	}
	if logs[0].Level != agent.LogAction || logs[0].Metadata["tx_hash"] != result.TxHash {
		t.Fatalf("unexpected launch log: %+v", logs[0])
	}
	if len(recorder.launches) != 1 || recorder.launches[0] != "success" {
		t.Fatalf("unexpected launch metrics: %v", recorder.launches)
	}
}

func TestLaunchSurvivesCallerCancellationAfterMint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	memory := agent.NewMemoryStore()
	minter := &fakeMinter{afterMint: cancel}
	provisioner := &fakeProvisioner{sandbox: &conway.Sandbox{SandboxID: "sbx-1", WalletAddress: walletBBB}}
	coordinator := NewCoordinator(ctxStore{memory}, minter, ctxProvisioner{provisioner})

	result, err := coordinator.Launch(ctx, testSigner(t), nexusParams(), nil)
	if err != nil {
		t.Fatalf("launch must finish after the caller goes away: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("caller context should have been cancelled by the minter")
	}
	if result.SandboxID != "sbx-1" || result.Agent.Status != agent.StatusAlive {
		t.Fatalf("expected a provisioned agent, got %+v", result)
	}
	stored, err := memory.GetAgentByToken(context.Background(), tokenAAA)
	if err != nil || stored.ID != result.Agent.ID {
		t.Fatalf("agent not persisted: %v", err)
	}
	logs, _ := memory.ListLogs(context.Background(), stored.ID, 10)
	if len(logs) != 1 {
		t.Fatalf("expected launch log, got %+v", logs)
	}
}

func TestLaunchMintFailureLeavesStoreEmpty(t *testing.T) {
	cases := map[string]struct {
		err  error
		want xerrors.Code
	}{
		"rejected": {errors.New("User rejected the request."), xerrors.CodeUserRejectedSignature},
		"reverted": {errors.New("execution reverted"), xerrors.CodeTokenMintFailed},
		"offline":  {errors.New("dial tcp: connection refused"), xerrors.CodeExternalProviderUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store := agent.NewMemoryStore()
			provisioner := &fakeProvisioner{}
			alerts := &recordingAlerts{}
			coordinator := NewCoordinator(store, &fakeMinter{err: tc.err}, provisioner, WithAlerts(alerts))

			var progress progressLog
			_, err := coordinator.Launch(context.Background(), testSigner(t), nexusParams(), progress.record)
			if got := xerrors.CodeOf(err); got != tc.want {
				t.Fatalf("code = %s, want %s (%v)", got, tc.want, err)
			}
			agents, _ := store.ListAgents(context.Background(), agent.NewListOptions())
			if len(agents) != 0 {
				t.Fatalf("mint failure must not create agents, got %d", len(agents))
			}
			if provisioner.provisions != 0 {
				t.Fatal("provisioning must not run after a failed mint")
			}
			if len(progress.messages) != 1 {
				t.Fatalf("only the first step should be reported: %v", progress.messages)
			}
			if tc.want == xerrors.CodeUserRejectedSignature && len(alerts.events) != 0 {
				t.Fatal("user rejection is not alert-worthy")
			}
		})
	}
}

func TestLaunchProvisioningSoftFails(t *testing.T) {
	store := agent.NewMemoryStore()
	alerts := &recordingAlerts{}
	provisioner := &fakeProvisioner{err: xerrors.New(xerrors.CodeExternalProviderUnavailable, "conway down")}
	coordinator := NewCoordinator(store, &fakeMinter{}, provisioner, WithAlerts(alerts))

	var progress progressLog
	result, err := coordinator.Launch(context.Background(), testSigner(t), nexusParams(), progress.record)
	if err != nil {
		t.Fatalf("launch must succeed when provisioning fails: %v", err)
	}
	a := result.Agent
	if a.Status != agent.StatusDeploying {
		t.Fatalf("expected deploying, got %s", a.Status)
	}
	if agent.IsPendingWallet(a.TokenAddress) || a.TokenAddress == "" {
		t.Fatalf("token address must be real: %q", a.TokenAddress)
	}
	if !strings.HasPrefix(a.SandboxID, agent.PendingSandboxPrefix) || a.SandboxID == "sbx-1" {
		t.Fatalf("expected placeholder sandbox, got %q", a.SandboxID)
	}
	if a.WalletAddress != agent.PendingWallet {
		t.Fatalf("expected pending wallet, got %q", a.WalletAddress)
	}
	if progress.messages[len(progress.messages)-1] != MsgPendingProvision {
		t.Fatalf("unexpected final message %q", progress.messages[len(progress.messages)-1])
	}
	if len(alerts.events) != 1 || alerts.events[0].Step != "provision" || alerts.events[0].Metadata["token_address"] != a.TokenAddress {
		t.Fatalf("expected provisioning alert, got %+v", alerts.events)
	}
}

func TestLaunchWithoutProvisionerUsesPlaceholder(t *testing.T) {
	coordinator := NewCoordinator(agent.NewMemoryStore(), &fakeMinter{}, nil)
	result, err := coordinator.Launch(context.Background(), testSigner(t), nexusParams(), nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !agent.IsPendingSandbox(result.SandboxID) {
		t.Fatalf("expected placeholder sandbox, got %q", result.SandboxID)
	}
}

func TestLaunchProvisioningWithoutWalletStaysDeploying(t *testing.T) {
	provisioner := &fakeProvisioner{sandbox: &conway.Sandbox{SandboxID: "sbx-2", Status: "provisioning"}}
	coordinator := NewCoordinator(agent.NewMemoryStore(), &fakeMinter{}, provisioner)
	result, err := coordinator.Launch(context.Background(), testSigner(t), nexusParams(), nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if result.Agent.Status != agent.StatusDeploying || result.SandboxID != "sbx-2" || result.Agent.WalletAddress != agent.PendingWallet {
		t.Fatalf("unexpected agent: %+v", result.Agent)
	}
}

func TestLaunchValidation(t *testing.T) {
	minter := &fakeMinter{}
	coordinator := NewCoordinator(agent.NewMemoryStore(), minter, nil)

	mutations := []func(*Params){
		func(p *Params) { p.CreatorAddress = "not-an-address" },
		func(p *Params) { p.CreatorID = "" },
		func(p *Params) { p.Ticker = "$" },
		func(p *Params) { p.GenesisPrompt = " " },
		func(p *Params) { p.ImageBase64 = "" },
		func(p *Params) { p.ImageBase64 = "%%%" },
		func(p *Params) { p.InitialMarketCapUSD = -5 },
		func(p *Params) { p.CreatorFeeAllocationPercent = 120 },
	}
	for i, mutate := range mutations {
		params := nexusParams()
		mutate(&params)
		if _, err := coordinator.Launch(context.Background(), testSigner(t), params, nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("case %d: expected invalid argument, got %v", i, err)
		}
	}
	if _, err := coordinator.Launch(context.Background(), nil, nexusParams(), nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument without signer, got %v", err)
	}
	if minter.calls != 0 {
		t.Fatalf("invalid params must not reach the minter, got %d calls", minter.calls)
	}
}

func TestProgressPanicIsContained(t *testing.T) {
	coordinator := NewCoordinator(agent.NewMemoryStore(), &fakeMinter{}, nil)
	calls := 0
	_, err := coordinator.Launch(context.Background(), testSigner(t), nexusParams(), func(step int, _ string) {
		calls++
		panic("ui went away")
	})
	if err != nil {
		t.Fatalf("panicking progress callback must not fail the launch: %v", err)
	}
	if calls != 7 {
		t.Fatalf("callback should be invoked for every step, got %d", calls)
	}
}

func TestPersistenceFailureCarriesResumeToken(t *testing.T) {
	memory := agent.NewMemoryStore()
	store := &failingCreateStore{MemoryStore: memory, err: xerrors.New(xerrors.CodeStorageFailure, "db down"), fails: 1}
	minter := &fakeMinter{}
	provisioner := &fakeProvisioner{sandbox: &conway.Sandbox{SandboxID: "sbx-1", WalletAddress: walletBBB, Status: "alive"}}
	alerts := &recordingAlerts{}
	coordinator := NewCoordinator(store, minter, provisioner, WithAlerts(alerts))

	_, err := coordinator.Launch(context.Background(), testSigner(t), nexusParams(), nil)
	if xerrors.CodeOf(err) != xerrors.CodePersistenceFailure {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	meta := xerrors.MetadataOf(err)
	if !strings.EqualFold(meta["token_address"], tokenAAA) || meta["tx_hash"] == "" || meta["sandbox_id"] != "sbx-1" {
		t.Fatalf("missing partial results: %v", meta)
	}
	if meta["resume_token"] == "" {
		t.Fatal("expected resume token")
	}
	if len(alerts.events) != 1 || alerts.events[0].Code != xerrors.CodePersistenceFailure {
		t.Fatalf("expected persistence alert, got %+v", alerts.events)
	}

	var progress progressLog
	result, err := coordinator.Resume(context.Background(), meta["resume_token"], progress.record)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if minter.calls != 1 || provisioner.provisions != 1 {
		t.Fatalf("resume must not re-mint or re-provision: mint=%d provision=%d", minter.calls, provisioner.provisions)
	}
	if result.Agent.ID != meta["agent_id"] || result.Agent.Status != agent.StatusAlive || result.SandboxID != "sbx-1" {
		t.Fatalf("unexpected resumed agent: %+v", result.Agent)
	}
	if progress.messages[0] != MsgSaving || progress.messages[len(progress.messages)-1] != MsgAlive {
		t.Fatalf("resume should only report the persistence steps: %v", progress.messages)
	}

	again, err := coordinator.Resume(context.Background(), meta["resume_token"], nil)
	if err != nil || again.Agent.ID != result.Agent.ID {
		t.Fatalf("second resume should return the existing agent: %v", err)
	}
}

func TestResumeRejectsGarbage(t *testing.T) {
	coordinator := NewCoordinator(agent.NewMemoryStore(), &fakeMinter{}, nil)
	for _, token := range []string{"", "!!!", "e30"} {
		if _, err := coordinator.Resume(context.Background(), token, nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("token %q: expected invalid argument, got %v", token, err)
		}
	}
}
