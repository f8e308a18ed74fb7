package launch

import (
	"context"
	"errors"
	"testing"

	"ALiFe-Chain/internal/agent"
	"ALiFe-Chain/internal/conway"
	xerrors "ALiFe-Chain/internal/errors"
)

func launchPending(t *testing.T, store agent.Store, provisioner *fakeProvisioner) (*Coordinator, *agent.Agent) {
	t.Helper()
	provisioner.err = errors.New("conway unavailable")
	coordinator := NewCoordinator(store, &fakeMinter{}, provisioner)
	result, err := coordinator.Launch(context.Background(), testSigner(t), nexusParams(), nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	provisioner.err = nil
	return coordinator, result.Agent
}

func TestRetryProvisioning(t *testing.T) {
	store := agent.NewMemoryStore()
	provisioner := &fakeProvisioner{}
	coordinator, pending := launchPending(t, store, provisioner)

	provisioner.sandbox = &conway.Sandbox{SandboxID: "sbx-9", WalletAddress: walletBBB, Status: "alive"}
	updated, err := coordinator.RetryProvisioning(context.Background(), pending.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if updated.SandboxID != "sbx-9" || updated.WalletAddress != walletBBB || updated.Status != agent.StatusAlive {
		t.Fatalf("unexpected agent after retry: %+v", updated)
	}
	if provisioner.lastReq.TokenAddress != pending.TokenAddress {
		t.Fatalf("retry must reuse the minted token, got %q", provisioner.lastReq.TokenAddress)
	}

	logs, _ := store.ListLogs(context.Background(), pending.ID, 10)
	if len(logs) != 2 || logs[0].Message != "Agent provisioned | Sandbox: sbx-9" {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	if _, err := coordinator.RetryProvisioning(context.Background(), pending.ID); !errors.Is(err, agent.ErrAlreadyProvisioned) {
		t.Fatalf("second retry should be rejected, got %v", err)
	}
}

func TestRetryProvisioningFailureKeepsPlaceholder(t *testing.T) {
	store := agent.NewMemoryStore()
	provisioner := &fakeProvisioner{}
	coordinator, pending := launchPending(t, store, provisioner)

	provisioner.err = errors.New("still down")
	_, err := coordinator.RetryProvisioning(context.Background(), pending.ID)
	if xerrors.CodeOf(err) != xerrors.CodeExternalProviderUnavailable {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	stored, _ := store.GetAgent(context.Background(), pending.ID)
	if stored.SandboxID != pending.SandboxID || stored.Status != agent.StatusDeploying {
		t.Fatalf("failed retry must not change the agent: %+v", stored)
	}
}

func TestFundRecordsLog(t *testing.T) {
	store := agent.NewMemoryStore()
	provisioner := &fakeProvisioner{sandbox: &conway.Sandbox{SandboxID: "sbx-1", WalletAddress: walletBBB, Status: "alive"}}
	coordinator := NewCoordinator(store, &fakeMinter{}, provisioner)
	result, err := coordinator.Launch(context.Background(), testSigner(t), nexusParams(), nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	funding, err := coordinator.Fund(context.Background(), result.Agent.ID, "did:privy:creator", 10)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if funding.TxHash != "0xf00d" || len(provisioner.funded) != 1 || provisioner.funded[0] != 10 {
		t.Fatalf("expected provider funding, got %+v %v", funding, provisioner.funded)
	}
	logs, _ := store.ListLogs(context.Background(), result.Agent.ID, 1)
	if len(logs) != 1 || logs[0].Message != "Received $10 funding from creator" {
		t.Fatalf("unexpected funding log: %+v", logs)
	}

	provisioner.fundErr = errors.New("insufficient treasury")
	if _, err := coordinator.Fund(context.Background(), result.Agent.ID, "did:privy:creator", 2.5); err != nil {
		t.Fatalf("provider failure must not block the record: %v", err)
	}
	logs, _ = store.ListLogs(context.Background(), result.Agent.ID, 1)
	if logs[0].Message != "Received $2.5 funding from creator" {
		t.Fatalf("unexpected funding log %q", logs[0].Message)
	}

	if _, err := coordinator.Fund(context.Background(), result.Agent.ID, "did:privy:creator", 0); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("zero funding should be invalid, got %v", err)
	}
}

func TestTerminate(t *testing.T) {
	store := agent.NewMemoryStore()
	provisioner := &fakeProvisioner{sandbox: &conway.Sandbox{SandboxID: "sbx-1", WalletAddress: walletBBB, Status: "alive"}}
	coordinator := NewCoordinator(store, &fakeMinter{}, provisioner)
	result, err := coordinator.Launch(context.Background(), testSigner(t), nexusParams(), nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	if err := coordinator.Terminate(context.Background(), result.Agent.ID); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if len(provisioner.killed) != 1 || provisioner.killed[0] != "sbx-1" {
		t.Fatalf("expected sandbox kill, got %v", provisioner.killed)
	}
	stored, _ := store.GetAgent(context.Background(), result.Agent.ID)
	if stored.Status != agent.StatusDead || stored.SurvivalTier != agent.TierDead {
		t.Fatalf("expected dead agent, got %s/%s", stored.Status, stored.SurvivalTier)
	}
	logs, _ := store.ListLogs(context.Background(), result.Agent.ID, 1)
	if logs[0].Message != MsgTerminated || logs[0].Level != agent.LogError {
		t.Fatalf("unexpected termination log: %+v", logs[0])
	}

	if err := coordinator.Terminate(context.Background(), result.Agent.ID); !errors.Is(err, agent.ErrAgentDead) {
		t.Fatalf("second terminate should report dead agent, got %v", err)
	}
	if _, err := coordinator.Fund(context.Background(), result.Agent.ID, "did:privy:creator", 1); !errors.Is(err, agent.ErrAgentDead) {
		t.Fatalf("funding a dead agent should fail, got %v", err)
	}
}
