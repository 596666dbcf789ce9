package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/order"
)

type OrderItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type ShippingAddressRequest struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	Phone      string `json:"phone" validate:"required,max=32"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=64"`
}

type CreateOrderRequest struct {
	Items           []OrderItemRequest     `json:"items" validate:"required,min=1,dive"`
	ShippingAddress ShippingAddressRequest `json:"shipping_address"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"max=500"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the customer routes. router must already run
// Authenticate.
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Get("/orders/{id}/tracking", h.handleGetTracking)
	router.Post("/orders/{id}/cancel", h.handleCancelOrder)
}

// RegisterAdminRoutes mounts the admin routes. router must already run
// Authenticate and RequireAdmin.
func (h *OrderHandler) RegisterAdminRoutes(router chi.Router) {
	router.Patch("/admin/orders/{id}/status", h.handleUpdateStatus)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var requestPayload CreateOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload, false) {
		return
	}

	input := order.CreateOrderInput{
		UserID: actor.ID,
		Items:  make([]order.ItemInput, 0, len(requestPayload.Items)),
		ShippingAddress: order.ShippingAddress{
			FullName:   requestPayload.ShippingAddress.FullName,
			Phone:      requestPayload.ShippingAddress.Phone,
			Line1:      requestPayload.ShippingAddress.Line1,
			Line2:      requestPayload.ShippingAddress.Line2,
			City:       requestPayload.ShippingAddress.City,
			State:      requestPayload.ShippingAddress.State,
			PostalCode: requestPayload.ShippingAddress.PostalCode,
			Country:    requestPayload.ShippingAddress.Country,
		},
	}
	for _, item := range requestPayload.Items {
		input.Items = append(input.Items, order.ItemInput{
			ProductID: uuid.FromStringOrNil(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	created, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", actor.ID).Msg("Failed to create order via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to create order"))
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	limit, err := parseIntQuery(r, "limit")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseIntQuery(r, "offset")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := h.service.ListOrders(r.Context(), actor, limit, offset)
	if err != nil {
		log.Error().Err(err).Stringer("actor_id", actor.ID).Msg("Failed to list orders via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to list orders"))
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	found, err := h.service.GetOrder(r.Context(), orderID, actor)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to get order via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to get order"))
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleGetTracking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.service.GetTracking(r.Context(), orderID, actor)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to get tracking via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to get order tracking"))
		return
	}

	respondWithJSON(w, http.StatusOK, entries)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var requestPayload CancelOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload, true) {
		return
	}

	cancelled, err := h.service.CancelOrder(r.Context(), orderID, actor, requestPayload.Reason)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to cancel order via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to cancel order"))
		return
	}

	respondWithJSON(w, http.StatusOK, cancelled)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var requestPayload UpdateStatusRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload, false) {
		return
	}

	updated, err := h.service.UpdateOrderStatus(r.Context(), orderID, order.Status(requestPayload.Status), actor, requestPayload.Note)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Str("status", requestPayload.Status).Msg("Failed to update order status via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to update order status"))
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}
