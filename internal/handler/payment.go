package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/payment"
)

type CreateIntentRequest struct {
	OrderID  string `json:"order_id" validate:"required,uuid"`
	Provider string `json:"provider" validate:"required"`
}

type RefundRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

type PaymentHandler struct {
	service  payment.Service
	validate *validator.Validate
}

func NewPaymentHandler(service payment.Service) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the customer routes. router must already run
// Authenticate.
func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/intents", h.handleCreateIntent)
	router.Post("/payments/{id}/reconcile", h.handleReconcile)
}

// RegisterAdminRoutes mounts the admin routes. router must already run
// Authenticate and RequireAdmin.
func (h *PaymentHandler) RegisterAdminRoutes(router chi.Router) {
	router.Post("/admin/payments/{id}/refund", h.handleRefund)
}

// RegisterWebhookRoutes mounts the provider callbacks. They are
// authenticated by signature only.
func (h *PaymentHandler) RegisterWebhookRoutes(router chi.Router) {
	router.Post("/webhooks/{provider}", h.handleWebhook)
}

func (h *PaymentHandler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var requestPayload CreateIntentRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload, false) {
		return
	}

	provider, err := payment.ParseProvider(requestPayload.Provider)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unknown payment provider")
		return
	}
	orderID := uuid.FromStringOrNil(requestPayload.OrderID)

	result, err := h.service.CreatePaymentIntent(r.Context(), orderID, actor, provider)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("provider", provider).Msg("Failed to create payment intent via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to create payment intent"))
		return
	}

	respondWithJSON(w, http.StatusCreated, result)
}

func (h *PaymentHandler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	paymentID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	p, err := h.service.ReconcilePayment(r.Context(), paymentID, actor)
	if err != nil {
		log.Error().Err(err).Stringer("payment_id", paymentID).Msg("Failed to reconcile payment via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to reconcile payment"))
		return
	}

	respondWithJSON(w, http.StatusOK, p)
}

func (h *PaymentHandler) handleRefund(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	paymentID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var requestPayload RefundRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload, true) {
		return
	}

	p, err := h.service.InitiateRefund(r.Context(), paymentID, actor, requestPayload.Reason)
	if err != nil {
		log.Error().Err(err).Stringer("payment_id", paymentID).Msg("Failed to refund payment via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to refund payment"))
		return
	}

	respondWithJSON(w, http.StatusOK, p)
}

// handleWebhook rejects unknown providers and bad signatures. Every other
// outcome is acknowledged with 200 so providers do not retry events that
// failed for internal reasons; those failures are recorded by the service.
func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider, err := payment.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Unknown payment provider")
		return
	}
	gw, err := h.service.Gateway(provider)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Unknown payment provider")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Stringer("provider", provider).Msg("Failed to read webhook body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	_, err = h.service.HandleProviderEvent(r.Context(), provider, payload, r.Header.Get(gw.SignatureHeader()))
	switch {
	case err == nil, errors.Is(err, payment.ErrEventIgnored):
	case errors.Is(err, payment.ErrInvalidSignature):
		respondWithError(w, http.StatusBadRequest, payment.ErrInvalidSignature.Error())
		return
	default:
		log.Error().Err(err).Stringer("provider", provider).Msg("Webhook processing failed, acknowledging receipt")
	}

	respondWithJSON(w, http.StatusOK, WebhookResponse{Received: true})
}
