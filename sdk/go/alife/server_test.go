package alife

import (
	"context"
	"net/http/httptest"
	"testing"

	"ALiFe-Chain/internal/agent"
	"ALiFe-Chain/internal/api"
	"ALiFe-Chain/internal/auth"
	"ALiFe-Chain/internal/webhook"
)

func TestAgainstServer(t *testing.T) {
	store := agent.NewMemoryStore()
	record := &agent.Agent{
		ID:            agent.NewID(),
		CreatorID:     "did:privy:creator",
		Name:          "NEXUS",
		Ticker:        "NEXUS",
		GenesisPrompt: "survive",
		TokenAddress:  "0xAAA0000000000000000000000000000000000001",
		SandboxID:     "sbx-1",
	}
	record.ApplyDefaults()
	if err := store.CreateAgent(context.Background(), record); err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	authSvc, err := auth.NewService(auth.Config{Mode: auth.ModeDisabled})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	server := api.NewServer(api.Config{}, api.Dependencies{
		Store:    store,
		Ingestor: webhook.NewIngestor(store, auth.NewSharedSecret("s3cret")),
		Auth:     authSvc,
	})
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetSharedSecret("s3cret")

	ctx := context.Background()
	events := []Event{
		{SandboxID: "sbx-1", Event: "heartbeat", Data: map[string]any{
			"credit_balance": 3.0, "wallet_address": "0xBBB0000000000000000000000000000000000002",
		}},
		{SandboxID: "sbx-1", Event: "earning", Data: map[string]any{"amount": 12.5, "source": "swap_fee"}},
	}
	for _, event := range events {
		if err := client.SendEvent(ctx, event); err != nil {
			t.Fatalf("send %s: %v", event.Event, err)
		}
	}

	got, err := client.GetAgent(ctx, record.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Status != "low_compute" || got.SurvivalTier != "low_compute" {
		t.Fatalf("unexpected lifecycle: %s/%s", got.Status, got.SurvivalTier)
	}
	if got.TotalEarned != 12.5 || got.CurrentBalance != 3 {
		t.Fatalf("unexpected totals: earned=%v balance=%v", got.TotalEarned, got.CurrentBalance)
	}

	logs, err := client.ListLogs(ctx, record.ID, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) == 0 || logs[0].Message != "Earned $12.5 from swap_fee" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}
