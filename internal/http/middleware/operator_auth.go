package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/vetcare-booking-core/internal/tenancy"
)

type contextKey string

const operatorClaimsKey contextKey = "operatorClaims"

// RoleAdmin may act on any clinic.
const RoleAdmin = "admin"

// OperatorClaims are issued to clinic staff using the console.
type OperatorClaims struct {
	Role      string   `json:"role,omitempty"`
	ClinicIDs []string `json:"clinic_ids,omitempty"`
	jwt.RegisteredClaims
}

// CanAccess reports whether the operator may act on clinicID.
func (c OperatorClaims) CanAccess(clinicID string) bool {
	if c.Role == RoleAdmin {
		return true
	}
	for _, id := range c.ClinicIDs {
		if id == clinicID {
			return true
		}
	}
	return false
}

// OperatorJWT enforces an HMAC-signed operator token. Browsers cannot set
// headers on websocket upgrades, so GET requests may pass access_token.
func OperatorJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "operator auth disabled", http.StatusUnauthorized)
				return
			}
			tokenString := bearerToken(r)
			if tokenString == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			claims := OperatorClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), operatorClaimsKey, claims)
			if claims.Subject != "" {
				ctx = tenancy.WithOperatorID(ctx, claims.Subject)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if r.Method == http.MethodGet {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

// OperatorClaimsFromContext returns operator claims if present.
func OperatorClaimsFromContext(ctx context.Context) (OperatorClaims, bool) {
	claims, ok := ctx.Value(operatorClaimsKey).(OperatorClaims)
	return claims, ok
}

// ClinicScope checks the clinic URL parameter against the operator's claims
// and stores it on the request context. Mount it after OperatorJWT.
func ClinicScope(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clinicID := strings.TrimSpace(chi.URLParam(r, param))
			if clinicID == "" {
				http.Error(w, "missing clinic id", http.StatusBadRequest)
				return
			}
			claims, ok := OperatorClaimsFromContext(r.Context())
			if !ok || !claims.CanAccess(clinicID) {
				http.Error(w, "clinic access denied", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(tenancy.WithClinicID(r.Context(), clinicID)))
		})
	}
}
