package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated identity the auth collaborator supplies:
// user id, plan tier for fee resolution, the step-up verified flag, and
// consent grants gating regulated actions.
type Principal struct {
	UserID   string
	Plan     string
	Verified bool
	Admin    bool
	Consents map[string]bool
}

type claims struct {
	Plan     string   `json:"plan"`
	Verified bool     `json:"verified"`
	Admin    bool     `json:"admin"`
	Consents []string `json:"consents"`
	jwt.RegisteredClaims
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey).(Principal)
	return principal, ok
}

func ParseToken(secret, token string) (Principal, error) {
	parsed := &claims{}
	_, err := jwt.ParseWithClaims(token, parsed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if parsed.Subject == "" {
		return Principal{}, errors.New("token missing subject")
	}
	consents := make(map[string]bool, len(parsed.Consents))
	for _, consent := range parsed.Consents {
		consents[consent] = true
	}
	plan := parsed.Plan
	if plan == "" {
		plan = "standard"
	}
	return Principal{
		UserID:   parsed.Subject,
		Plan:     plan,
		Verified: parsed.Verified,
		Admin:    parsed.Admin,
		Consents: consents,
	}, nil
}

func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				header = "Bearer " + r.URL.Query().Get("token")
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				http.Error(w, "missing or invalid authorization header", http.StatusUnauthorized)
				return
			}
			principal, err := ParseToken(secret, parts[1])
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireConsent gates regulated actions on a consent grant carried in the
// token.
func RequireConsent(consent string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !principal.Consents[consent] {
				http.Error(w, "consent required: "+consent, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !principal.Admin {
				http.Error(w, "admin privileges required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
