package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sapliy/nightly-giving/internal/ledger"
	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/sapliy/nightly-giving/internal/notification"
	"github.com/sapliy/nightly-giving/internal/policy"
	"github.com/sapliy/nightly-giving/internal/scheduler"
	"github.com/sapliy/nightly-giving/internal/tracker"
	"github.com/sapliy/nightly-giving/internal/tracker/simulate"
	"github.com/sapliy/nightly-giving/pkg/jsonutil"
	"github.com/sapliy/nightly-giving/pkg/signature"
)

const maxWebhookBody = 1 << 20

// Server holds the HTTP handlers of the giving API.
type Server struct {
	ledger        *ledger.Ledger
	tracker       *tracker.Tracker
	simulator     *simulate.Simulator
	scheduler     *scheduler.Scheduler
	notifier      *notification.Notifier
	policy        policy.PolicyEngine
	hub           *Hub
	webhookSecret string
	jwtSecret     string
	logger        *slog.Logger

	// consumerHealthy reports the inbound confirmation queue; nil when the
	// consumer is not configured.
	consumerHealthy func() bool
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/donations", s.AddDonation).Methods(http.MethodPost)
	api.HandleFunc("/donations", s.History).Methods(http.MethodGet)
	api.HandleFunc("/aggregates", s.Aggregates).Methods(http.MethodGet)
	api.HandleFunc("/ws/aggregates", s.hub.ServeWS).Methods(http.MethodGet)
	api.HandleFunc("/clicks", s.TrackClick).Methods(http.MethodPost)
	api.HandleFunc("/clicks/pending", s.PendingClicks).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/donations", s.DonationWebhook).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/reset", s.Reset).Methods(http.MethodPost)
	admin.HandleFunc("/simulate-webhook", s.SimulateWebhook).Methods(http.MethodPost)
	admin.HandleFunc("/reminders/{pledgeId}/{night:[0-9]+}/fire", s.FireReminder).Methods(http.MethodPost)
	admin.HandleFunc("/emails/test", s.SendTestEmail).Methods(http.MethodPost)

	return otelhttp.NewHandler(r, "giving-request")
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status":  "active",
		"service": "giving",
	}
	if s.consumerHealthy != nil {
		if s.consumerHealthy() {
			body["confirmations"] = "up"
		} else {
			body["status"] = "degraded"
			body["confirmations"] = "down"
		}
	}
	jsonutil.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) AddDonation(w http.ResponseWriter, r *http.Request) {
	var req domain.PledgeRequest
	if err := jsonutil.DecodeJSON(w, r, &req); err != nil {
		jsonutil.WriteErrorJSON(w, "Invalid request body")
		return
	}

	rec, err := s.ledger.AddDonation(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusCreated, rec)
}

func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	jsonutil.WriteJSON(w, http.StatusOK, s.ledger.History())
}

func (s *Server) Aggregates(w http.ResponseWriter, r *http.Request) {
	jsonutil.WriteJSON(w, http.StatusOK, s.ledger.GetAggregates())
}

func (s *Server) TrackClick(w http.ResponseWriter, r *http.Request) {
	var req tracker.ClickRequest
	if err := jsonutil.DecodeJSON(w, r, &req); err != nil {
		jsonutil.WriteErrorJSON(w, "Invalid request body")
		return
	}

	click, err := s.tracker.TrackClick(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusCreated, click)
}

func (s *Server) PendingClicks(w http.ResponseWriter, r *http.Request) {
	jsonutil.WriteJSON(w, http.StatusOK, s.tracker.PendingClicks())
}

// DonationWebhook accepts a signed confirmation from a charity platform.
func (s *Server) DonationWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		jsonutil.WriteErrorJSON(w, "Invalid request body")
		return
	}
	if !signature.Verify(body, s.webhookSecret, r.Header.Get(signature.Header)) {
		s.logger.WarnContext(r.Context(), "rejected webhook with bad signature", "remote", r.RemoteAddr)
		jsonutil.WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	hook, err := tracker.ParseWebhook(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.tracker.ConfirmClick(r.Context(), hook)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusCreated, rec)
}

func (s *Server) Reset(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Reset(r.Context(), policyFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.notifier.ClearDedup()
	jsonutil.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) SimulateWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.enforce(w, r, policy.ActionWebhookSimulate) {
		return
	}
	var req struct {
		Amount     decimal.Decimal `json:"amount"`
		DonorEmail string          `json:"donorEmail"`
	}
	if err := jsonutil.DecodeJSON(w, r, &req); err != nil {
		jsonutil.WriteErrorJSON(w, "Invalid request body")
		return
	}

	rec, err := s.simulator.Confirm(r.Context(), req.Amount, req.DonorEmail)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusCreated, rec)
}

func (s *Server) FireReminder(w http.ResponseWriter, r *http.Request) {
	if !s.enforce(w, r, policy.ActionReminderTest) {
		return
	}
	vars := mux.Vars(r)
	night, err := strconv.Atoi(vars["night"])
	if err != nil {
		jsonutil.WriteErrorJSON(w, "Invalid night")
		return
	}

	if err := s.scheduler.Fire(r.Context(), vars["pledgeId"], night); err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	if !s.enforce(w, r, policy.ActionEmailTest) {
		return
	}
	var req struct {
		Kind  notification.Kind `json:"kind"`
		Email string            `json:"email"`
	}
	if err := jsonutil.DecodeJSON(w, r, &req); err != nil {
		jsonutil.WriteErrorJSON(w, "Invalid request body")
		return
	}

	receipt, err := s.notifier.SendTest(r.Context(), req.Kind, req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, receipt)
}

func (s *Server) enforce(w http.ResponseWriter, r *http.Request, action policy.Action) bool {
	pctx := policy.WithAction(policyFrom(r.Context()), action)
	if err := policy.Enforce(r.Context(), s.policy, pctx); err != nil {
		s.writeError(w, r, err)
		return false
	}
	return true
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *domain.ValidationError
		delivery   *notification.DeliveryError
	)
	switch {
	case errors.As(err, &validation):
		jsonutil.WriteJSON(w, http.StatusBadRequest, jsonutil.ErrorResponse{Error: err.Error(), Field: validation.Field})
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, scheduler.ErrInvalidNight),
		errors.Is(err, notification.ErrUnknownKind):
		jsonutil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, simulate.ErrNoPending),
		errors.Is(err, scheduler.ErrUnknownPledge):
		jsonutil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrAlreadySent):
		jsonutil.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, policy.ErrInvalidToken):
		jsonutil.WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, policy.ErrDenied):
		jsonutil.WriteError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &delivery):
		jsonutil.WriteError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		jsonutil.WriteError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "error", err)
		jsonutil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
