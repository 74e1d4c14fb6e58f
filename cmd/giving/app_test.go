package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sapliy/nightly-giving/internal/config"
	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/sapliy/nightly-giving/internal/notification"
	"github.com/sapliy/nightly-giving/internal/policy"
	"github.com/sapliy/nightly-giving/internal/tracker"
)

func memoryConfig() *config.Config {
	return &config.Config{
		HTTP:     config.HTTPConfig{Addr: "127.0.0.1:0"},
		Storage:  config.StorageConfig{Driver: "memory"},
		Campaign: config.CampaignConfig{StartDate: "2025-03-22", Timezone: "UTC"},
		Tracker:  config.TrackerConfig{PendingTTL: time.Hour, ExpiryInterval: time.Minute},
		Relay:    config.RelayConfig{Kind: "log", Timeout: time.Second},
		Policy:   config.PolicyConfig{Engine: "hardcoded"},
		RabbitMQ: config.RabbitMQConfig{Queue: "donations.confirmations"},
	}
}

func TestNewAppMemory(t *testing.T) {
	app, err := newApp(context.Background(), memoryConfig(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer app.Close()

	if app.rabbit != nil {
		t.Error("expected no rabbitmq client without a url")
	}
	rec, err := app.ledger.AddDonation(context.Background(), domain.PledgeRequest{
		CharityID:   "c1",
		CharityName: "Food Bank",
		TotalAmount: decimal.NewFromInt(7),
	})
	if err != nil {
		t.Fatalf("AddDonation: %v", err)
	}
	if !rec.Amount.Equal(decimal.NewFromInt(7)) {
		t.Errorf("unexpected amount %s", rec.Amount)
	}
}

func TestHandleConfirmation(t *testing.T) {
	app, err := newApp(context.Background(), memoryConfig(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer app.Close()

	click, err := app.tracker.TrackClick(context.Background(), tracker.ClickRequest{
		CharityID:      "c2",
		CharityName:    "Shelter",
		DestinationURL: "https://shelter.example/donate",
	})
	if err != nil {
		t.Fatalf("TrackClick: %v", err)
	}

	body := []byte(`{"trackingId":"` + click.TrackingID + `","amount":"12.50"}`)
	if err := app.handleConfirmation(context.Background(), body); err != nil {
		t.Fatalf("handleConfirmation: %v", err)
	}
	if total := app.ledger.GetAggregates().TotalDonations; !total.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("expected total 12.5, got %s", total)
	}

	if err := app.handleConfirmation(context.Background(), body); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on replay, got %v", err)
	}
	if err := app.handleConfirmation(context.Background(), []byte("{")); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for bad payload, got %v", err)
	}
}

func TestBuildRelay(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr bool
	}{
		{"log", false},
		{"emailjs", false},
		{"resend", false},
		{"smtp", true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cfg := memoryConfig()
			cfg.Relay.Kind = tt.kind
			cfg.Resend = config.ResendConfig{APIKey: "re_test", FromEmail: "giving@example.com"}
			relay, err := buildRelay(cfg, discardLogger())
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil || relay == nil {
				t.Fatalf("unexpected result %v, %v", relay, err)
			}
		})
	}

	cfg := memoryConfig()
	relay, _ := buildRelay(cfg, discardLogger())
	if _, ok := relay.(*notification.LogRelay); !ok {
		t.Errorf("expected LogRelay, got %T", relay)
	}
}

func TestBuildPolicyEngine(t *testing.T) {
	cfg := memoryConfig()
	engine, err := buildPolicyEngine(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := engine.(*policy.HardcodedPolicyEngine); !ok {
		t.Errorf("expected hardcoded engine, got %T", engine)
	}

	cfg.Policy.Engine = "rego"
	engine, err = buildPolicyEngine(context.Background(), cfg)
	if err != nil {
		t.Fatalf("rego engine: %v", err)
	}
	pctx := &policy.PolicyContext{Roles: []policy.Role{policy.RoleAdmin}, Action: policy.ActionLedgerReset}
	if err := policy.Enforce(context.Background(), engine, pctx); err != nil {
		t.Errorf("admin should be allowed to reset: %v", err)
	}

	cfg.Policy.Module = "/nonexistent/authz.rego"
	if _, err := buildPolicyEngine(context.Background(), cfg); err == nil {
		t.Error("expected error for missing module file")
	}
}

func TestRelayAuthTokenFromConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Relay.AuthToken = "public-key"
	got, err := relayAuthToken(context.Background(), cfg)
	if err != nil || got != "public-key" {
		t.Errorf("expected configured token, got %q, %v", got, err)
	}
}
