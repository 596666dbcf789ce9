package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-checkout/internal/order"
)

type actorKey struct{}

// Claims is the bearer token payload: sub carries the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor order.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored by Authenticate.
func ActorFromContext(ctx context.Context) (order.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(order.Actor)
	return actor, ok
}

// Authenticate verifies an HS256 bearer token and stores the caller as an
// order.Actor in the request context.
func Authenticate(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			parts := strings.Split(raw, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				respondWithError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			var claims Claims
			token, err := parser.ParseWithClaims(parts[1], &claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				log.Warn().Err(err).Msg("auth: token validation failed")
				respondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			actor, err := actorFromClaims(claims)
			if err != nil {
				log.Warn().Err(err).Msg("auth: token claims invalid")
				respondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func actorFromClaims(claims Claims) (order.Actor, error) {
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return order.Actor{}, errors.New("sub claim must be a user id")
	}

	role := order.Role(claims.Role)
	if role == "" {
		role = order.RoleUser
	}
	if !role.Valid() {
		return order.Actor{}, errors.New("unknown role claim")
	}
	return order.Actor{ID: id, Role: role}, nil
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			respondWithError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !actor.IsAdmin() {
			respondWithError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireActor(w http.ResponseWriter, r *http.Request) (order.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
	}
	return actor, ok
}
