package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sapliy/nightly-giving/internal/ledger"
	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/sapliy/nightly-giving/internal/ledger/infrastructure"
	"github.com/sapliy/nightly-giving/internal/notification"
	"github.com/sapliy/nightly-giving/internal/policy"
	"github.com/sapliy/nightly-giving/internal/scheduler"
	"github.com/sapliy/nightly-giving/internal/tracker"
	"github.com/sapliy/nightly-giving/internal/tracker/simulate"
	"github.com/sapliy/nightly-giving/pkg/clock"
	"github.com/sapliy/nightly-giving/pkg/jsonutil"
	"github.com/sapliy/nightly-giving/pkg/signature"
)

const (
	testWebhookSecret = "hook-secret"
	testJWTSecret     = "jwt-secret"
)

type mockRelay struct {
	mu       sync.Mutex
	SendFunc func(ctx context.Context, msg notification.Message) (notification.RelayResponse, error)
	calls    []notification.Message
}

func (m *mockRelay) Send(ctx context.Context, msg notification.Message) (notification.RelayResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, msg)
	fn := m.SendFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg)
	}
	return notification.RelayResponse{ID: "msg-1", Status: http.StatusOK, Text: "OK"}, nil
}

func (m *mockRelay) count(kind notification.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

type testEnv struct {
	handler   http.Handler
	server    *Server
	ledger    *ledger.Ledger
	scheduler *scheduler.Scheduler
	relay     *mockRelay
	hub       *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := clock.NewFake(time.Date(2025, time.March, 22, 12, 0, 0, 0, time.UTC))
	relay := &mockRelay{}
	notifier := notification.NewNotifier(relay, notification.Config{ServiceID: "svc"}, notification.WithClock(fake))

	cal, err := scheduler.NewCalendar(scheduler.DefaultStartDate, "UTC", 0)
	if err != nil {
		t.Fatal(err)
	}
	sched := scheduler.New(notifier, cal, scheduler.WithClock(fake))
	t.Cleanup(sched.Stop)

	engine := policy.NewHardcodedPolicyEngine()
	var l *ledger.Ledger
	hub := NewHub(func() domain.Aggregates { return l.GetAggregates() }, nil)
	l = ledger.New(
		ledger.WithStore(infrastructure.NewMemoryStore()),
		ledger.WithScheduler(sched),
		ledger.WithPolicy(engine),
		ledger.WithClock(fake),
		ledger.WithObserver(hub.Publish),
	)
	tr := tracker.New(l, tracker.WithClock(fake))

	srv := &Server{
		ledger:        l,
		tracker:       tr,
		simulator:     simulate.New(tr, simulate.WithPicker(func(int) int { return 0 })),
		scheduler:     sched,
		notifier:      notifier,
		policy:        engine,
		hub:           hub,
		webhookSecret: testWebhookSecret,
		jwtSecret:     testJWTSecret,
		logger:        discardLogger(),
	}
	return &testEnv{handler: srv.Routes(), server: srv, ledger: l, scheduler: sched, relay: relay, hub: hub}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func adminToken(t *testing.T, roles ...policy.Role) string {
	t.Helper()
	tok, err := policy.IssueAdminToken(testJWTSecret, "tester", roles, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func bearer(tok string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	return h
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

const recurringPledge = `{"amountPerNight":"10","charityId":"c1","charityName":"Food Bank","donorEmail":"donor@example.com","isRecurring":true,"reminderTime":"20:00"}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealthReportsConsumer(t *testing.T) {
	env := newTestEnv(t)
	healthy := true
	env.server.consumerHealthy = func() bool { return healthy }

	up := decode[map[string]string](t, env.do(t, http.MethodGet, "/health", "", nil))
	if up["status"] != "active" || up["confirmations"] != "up" {
		t.Errorf("expected active with consumer up, got %v", up)
	}

	healthy = false
	down := decode[map[string]string](t, env.do(t, http.MethodGet, "/health", "", nil))
	if down["status"] != "degraded" || down["confirmations"] != "down" {
		t.Errorf("expected degraded with consumer down, got %v", down)
	}
}

func TestAddDonation_RecurringPledge(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/donations", recurringPledge, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	record := decode[domain.DonationRecord](t, rec)
	if !record.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected lump sum of 100, got %s", record.Amount)
	}
	if record.PledgeID == "" || !record.IsScheduled {
		t.Errorf("expected scheduled record with pledge id, got %+v", record)
	}

	if n := env.scheduler.Armed(record.PledgeID); n != domain.NightCount {
		t.Errorf("expected %d armed reminders, got %d", domain.NightCount, n)
	}
	env.scheduler.Wait()
	if n := env.relay.count(notification.KindConfirmation); n != 1 {
		t.Errorf("expected 1 confirmation email, got %d", n)
	}

	agg := decode[domain.Aggregates](t, env.do(t, http.MethodGet, "/api/v1/aggregates", "", nil))
	if !agg.TotalDonations.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected total 100, got %s", agg.TotalDonations)
	}
	if !agg.NightlyDonations[22].Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected night 22 bucket of 100, got %s", agg.NightlyDonations[22])
	}

	history := decode[[]domain.DonationRecord](t, env.do(t, http.MethodGet, "/api/v1/donations", "", nil))
	if len(history) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(history))
	}
}

func TestAddDonation_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"missing charity", `{"totalAmount":"5"}`, "charity"},
		{"zero amount", `{"charityId":"c1","charityName":"x"}`, "amount"},
		{"recurring without email", `{"amountPerNight":"10","charityId":"c1","charityName":"x","isRecurring":true,"reminderTime":"20:00"}`, "donorEmail"},
		{"bad reminder time", `{"amountPerNight":"10","charityId":"c1","charityName":"x","donorEmail":"a@b.co","isRecurring":true,"reminderTime":"25:00"}`, "reminderTime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/donations", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			body := decode[jsonutil.ErrorResponse](t, rec)
			if body.Field != tt.wantField {
				t.Errorf("expected field %q, got %q (%s)", tt.wantField, body.Field, body.Error)
			}
		})
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/donations", `{`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
	if total := env.ledger.GetAggregates().TotalDonations; !total.IsZero() {
		t.Errorf("rejected pledges must not change totals, got %s", total)
	}
}

func trackClick(t *testing.T, env *testEnv) domain.PendingClick {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/clicks",
		`{"charityId":"c9","charityName":"Shelter","destinationUrl":"https://shelter.example/donate"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[domain.PendingClick](t, rec)
}

func signedWebhook(t *testing.T, env *testEnv, payload, secret string) *httptest.ResponseRecorder {
	t.Helper()
	h := http.Header{}
	h.Set(signature.Header, signature.Sign([]byte(payload), secret))
	return env.do(t, http.MethodPost, "/api/v1/webhooks/donations", payload, h)
}

func TestClickAndWebhook(t *testing.T) {
	env := newTestEnv(t)
	click := trackClick(t, env)

	if !strings.Contains(click.TrackedURL, click.TrackingID) {
		t.Errorf("tracked url %q should carry tracking id %q", click.TrackedURL, click.TrackingID)
	}
	pending := decode[[]domain.PendingClick](t, env.do(t, http.MethodGet, "/api/v1/clicks/pending", "", nil))
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending click, got %d", len(pending))
	}

	payload := `{"trackingId":"` + click.TrackingID + `","amount":"25"}`

	if rec := signedWebhook(t, env, payload, "wrong-secret"); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad signature, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/webhooks/donations", payload, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unsigned webhook, got %d", rec.Code)
	}

	rec := signedWebhook(t, env, payload, testWebhookSecret)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	record := decode[domain.DonationRecord](t, rec)
	if !record.IsExternal || !record.Amount.Equal(decimal.NewFromInt(25)) || record.TrackingID != click.TrackingID {
		t.Errorf("unexpected external record %+v", record)
	}

	if rec := signedWebhook(t, env, payload, testWebhookSecret); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second confirmation, got %d", rec.Code)
	}
	unknown := `{"trackingId":"ext-unknown","amount":"5"}`
	if rec := signedWebhook(t, env, unknown, testWebhookSecret); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown tracking id, got %d", rec.Code)
	}
	if total := env.ledger.GetAggregates().TotalDonations; !total.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected total 25, got %s", total)
	}
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPost, "/api/v1/admin/reset", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/admin/reset", "", bearer("not-a-jwt")); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for garbage token, got %d", rec.Code)
	}
	forged, _ := policy.IssueAdminToken("other-secret", "x", []policy.Role{policy.RoleAdmin}, time.Hour)
	if rec := env.do(t, http.MethodPost, "/api/v1/admin/reset", "", bearer(forged)); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for token signed with another secret, got %d", rec.Code)
	}
}

func TestReset(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/donations", recurringPledge, nil)
	record := decode[domain.DonationRecord](t, rec)
	trackClick(t, env)
	env.scheduler.Wait()

	denied := env.do(t, http.MethodPost, "/api/v1/admin/reset", "", bearer(adminToken(t, policy.RoleViewer)))
	if denied.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", denied.Code)
	}
	if env.ledger.GetAggregates().TotalDonations.IsZero() {
		t.Fatal("denied reset must leave state intact")
	}
	operator := env.do(t, http.MethodPost, "/api/v1/admin/reset", "", bearer(adminToken(t, policy.RoleOperator)))
	if operator.Code != http.StatusForbidden {
		t.Errorf("expected 403 for operator, got %d", operator.Code)
	}

	ok := env.do(t, http.MethodPost, "/api/v1/admin/reset", "", bearer(adminToken(t, policy.RoleAdmin)))
	if ok.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", ok.Code, ok.Body.String())
	}

	agg := env.ledger.GetAggregates()
	if !agg.TotalDonations.IsZero() {
		t.Errorf("expected zero total after reset, got %s", agg.TotalDonations)
	}
	for n := domain.FirstNight; n <= domain.LastNight; n++ {
		if !agg.NightlyDonations[n].IsZero() {
			t.Errorf("night %d not zeroed", n)
		}
	}
	if len(env.ledger.History()) != 0 || len(env.ledger.PendingClicks()) != 0 {
		t.Error("expected empty history and pending clicks after reset")
	}
	if n := env.scheduler.Armed(record.PledgeID); n != 0 {
		t.Errorf("expected reminders cancelled, %d still armed", n)
	}
}

func TestSimulateWebhook(t *testing.T) {
	env := newTestEnv(t)
	tok := adminToken(t, policy.RoleOperator)

	if rec := env.do(t, http.MethodPost, "/api/v1/admin/simulate-webhook", `{"amount":"15"}`, bearer(tok)); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 with nothing pending, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/admin/simulate-webhook", `{"amount":"15"}`, bearer(adminToken(t, policy.RoleViewer))); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for viewer, got %d", rec.Code)
	}

	click := trackClick(t, env)
	rec := env.do(t, http.MethodPost, "/api/v1/admin/simulate-webhook", `{"amount":"15"}`, bearer(tok))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	record := decode[domain.DonationRecord](t, rec)
	if record.TrackingID != click.TrackingID || record.DonorEmail != simulate.DefaultDonorEmail {
		t.Errorf("unexpected simulated record %+v", record)
	}
}

func TestFireReminder(t *testing.T) {
	env := newTestEnv(t)
	record := decode[domain.DonationRecord](t, env.do(t, http.MethodPost, "/api/v1/donations", recurringPledge, nil))
	env.scheduler.Wait()
	tok := bearer(adminToken(t, policy.RoleOperator))

	path := "/api/v1/admin/reminders/" + record.PledgeID + "/23/fire"
	if rec := env.do(t, http.MethodPost, path, "", tok); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if n := env.relay.count(notification.KindReminder); n != 1 {
		t.Errorf("expected 1 reminder email, got %d", n)
	}
	if rec := env.do(t, http.MethodPost, path, "", tok); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for an already sent night, got %d", rec.Code)
	}
	if n := env.scheduler.Armed(record.PledgeID); n != domain.NightCount-1 {
		t.Errorf("expected %d armed after firing one night, got %d", domain.NightCount-1, n)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/admin/reminders/nope/23/fire", "", tok); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown pledge, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/admin/reminders/"+record.PledgeID+"/40/fire", "", tok); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for night outside the campaign, got %d", rec.Code)
	}
}

func TestSendTestEmail(t *testing.T) {
	env := newTestEnv(t)
	tok := bearer(adminToken(t, policy.RoleOperator))

	rec := env.do(t, http.MethodPost, "/api/v1/admin/emails/test", `{"kind":"reminder","email":"ops@example.com"}`, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	receipt := decode[notification.Receipt](t, rec)
	if receipt.Kind != notification.KindReminder || receipt.MessageID != "msg-1" {
		t.Errorf("unexpected receipt %+v", receipt)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/admin/emails/test", `{"kind":"sms","email":"ops@example.com"}`, tok); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown kind, got %d", rec.Code)
	}

	env.relay.mu.Lock()
	env.relay.SendFunc = func(context.Context, notification.Message) (notification.RelayResponse, error) {
		return notification.RelayResponse{}, errors.New("relay said: template not found")
	}
	env.relay.mu.Unlock()

	failed := env.do(t, http.MethodPost, "/api/v1/admin/emails/test", `{"kind":"confirmation","email":"ops@example.com"}`, tok)
	if failed.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", failed.Code)
	}
	if body := decode[jsonutil.ErrorResponse](t, failed); !strings.Contains(body.Error, "template not found") {
		t.Errorf("expected relay message inline, got %q", body.Error)
	}
}

func TestWriteErrorDefault(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("boom")) {
		t.Error("internal errors should not leak their message")
	}
}
