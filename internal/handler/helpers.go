package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/db"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/order"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/payment"
)

const maxBodyBytes = 1 << 20

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "min":
			details[field] = fmt.Sprintf("must be at least %s", fe.Param())
		case "max":
			details[field] = fmt.Sprintf("must be at most %s", fe.Param())
		case "uuid":
			details[field] = "must be a valid UUID"
		default:
			details[field] = fmt.Sprintf("failed on '%s' validation", fe.Tag())
		}
	}
	return details
}

// decodeAndValidate writes the error response itself and reports whether
// the handler may continue. An empty body is accepted when allowEmpty is set.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any, allowEmpty bool) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			log.Warn().Err(err).Msg("Failed to decode request body")
			respondWithError(w, http.StatusBadRequest, "Invalid request payload")
			return false
		}
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
			return false
		}
		log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		return false
	}
	return true
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.FromString(raw)
	if err != nil {
		log.Warn().Err(err).Str(name, raw).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}

func parseIntQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, payment.ErrPaymentNotFound),
		errors.Is(err, payment.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrDuplicateProduct),
		errors.Is(err, order.ErrInvalidAddress),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrInvalidPagination),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, payment.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrStatusAlreadySet),
		errors.Is(err, order.ErrOrderNumberTaken),
		errors.Is(err, payment.ErrInvalidOrderState),
		errors.Is(err, payment.ErrInvalidPaymentState),
		errors.Is(err, payment.ErrPaymentExists):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrProductUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payment.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, db.ErrTxConflict), db.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage returns a message safe to show callers. Unmapped errors get
// fallback so dependency details never leave the service.
func clientMessage(err error, fallback string) string {
	switch {
	case mapErrorToStatusCode(err) == http.StatusInternalServerError:
		return fallback
	case errors.Is(err, payment.ErrGateway):
		return payment.ErrGateway.Error()
	case errors.Is(err, payment.ErrInvalidSignature):
		return payment.ErrInvalidSignature.Error()
	case mapErrorToStatusCode(err) == http.StatusServiceUnavailable:
		return db.ErrTxConflict.Error()
	}
	return err.Error()
}
