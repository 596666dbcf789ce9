package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/handler"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/order"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims handler.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(sub, role string) handler.Claims {
	return handler.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

// echoActor writes the actor placed in the context by Authenticate.
func echoActor(w http.ResponseWriter, r *http.Request) {
	actor, ok := handler.ActorFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"id": actor.ID.String(), "role": string(actor.Role)})
}

func TestAuthenticate(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())

	expired := validClaims(userID.String(), "user")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims(userID.String(), "user")
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name           string
		header         func(t *testing.T) string
		expectedStatus int
		expectedRole   string
	}{
		{
			name:           "missing_header",
			header:         func(t *testing.T) string { return "" },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "not_bearer",
			header:         func(t *testing.T) string { return "Basic dXNlcjpwYXNz" },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "garbage_token",
			header:         func(t *testing.T) string { return "Bearer not.a.jwt" },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "wrong_secret",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims(userID.String(), "user"))
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "wrong_algorithm",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(userID.String(), "user"))
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "expired",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired)
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "missing_expiry",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry)
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "subject_not_uuid",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("alice", "user"))
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "unknown_role",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(userID.String(), "root"))
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "role_defaults_to_user",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(userID.String(), ""))
			},
			expectedStatus: http.StatusOK,
			expectedRole:   "user",
		},
		{
			name: "admin",
			header: func(t *testing.T) string {
				return "bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(userID.String(), "admin"))
			},
			expectedStatus: http.StatusOK,
			expectedRole:   "admin",
		},
	}

	protected := handler.Authenticate(testSecret)(http.HandlerFunc(echoActor))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if h := tt.header(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			rr := httptest.NewRecorder()
			protected.ServeHTTP(rr, req)

			require.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var body map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, userID.String(), body["id"])
			assert.Equal(t, tt.expectedRole, body["role"])
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	protected := handler.RequireAdmin(http.HandlerFunc(echoActor))

	tests := []struct {
		name           string
		actor          *order.Actor
		expectedStatus int
	}{
		{name: "no_actor", actor: nil, expectedStatus: http.StatusUnauthorized},
		{name: "user", actor: &order.Actor{ID: uuid.Must(uuid.NewV4()), Role: order.RoleUser}, expectedStatus: http.StatusForbidden},
		{name: "admin", actor: &order.Actor{ID: uuid.Must(uuid.NewV4()), Role: order.RoleAdmin}, expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, "/admin/orders/x/status", nil)
			if tt.actor != nil {
				req = req.WithContext(handler.WithActor(req.Context(), *tt.actor))
			}
			rr := httptest.NewRecorder()
			protected.ServeHTTP(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}
