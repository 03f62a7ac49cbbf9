package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	resp "github.com/miragespace/vpsdash/response"
	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

var jwtSigningMethod = jwt.SigningMethodHS256

var parser = &jwt.Parser{
	ValidMethods: []string{jwtSigningMethod.Alg()},
}

// CreateTokenFromClaims signs claims the same way the identity provider does. Used by tests and local tooling.
func (a *Auth) CreateTokenFromClaims(claims Claims, ttl time.Duration) (string, error) {
	claims.StandardClaims.ExpiresAt = time.Now().Add(ttl).Unix()
	if claims.Audience == "" {
		claims.Audience = a.Audience
	}
	return jwt.NewWithClaims(jwtSigningMethod, claims).SignedString(a.jwtKey)
}

// verifyToken returns nil claims with a reason when the token is unacceptable,
// and a non-nil error only for failures unrelated to the token itself
func (a *Auth) verifyToken(token string) (*Claims, string, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.jwtKey, nil
	})
	if err != nil {
		if vErr, ok := err.(*jwt.ValidationError); ok {
			if vErr.Errors&jwt.ValidationErrorExpired != 0 {
				return nil, "expired", nil
			}
			return nil, "invalid", nil
		}
		return nil, "", err
	}
	if claims.Subject == "" {
		return nil, "no subject", nil
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return nil, "audience", nil
	}
	return claims, "", nil
}

func bearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

// Middleware returns a http middleware to verify Bearer in the header
func (a *Auth) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r)
			if !ok {
				resp.WriteError(w, r, resp.ErrNoBearer())
				return
			}
			claims, reason, err := a.verifyToken(token)
			if err != nil {
				a.Logger.Error("Cannot verify JWT token",
					zap.Error(err),
				)
				resp.WriteError(w, r, resp.ErrUnexpected())
				return
			}
			if claims == nil {
				a.Logger.Debug("Rejected bearer token",
					zap.String("Reason", reason),
				)
				resp.WriteError(w, r, resp.ErrNoBearer())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// ClaimCheck guards routes that must never run without Claims, even if mounted outside Middleware
func (a *Auth) ClaimCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := FromContext(r.Context()); !ok {
				a.Logger.Error("Context has no Claims")
				resp.WriteError(w, r, resp.ErrUnexpected())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin rejects callers without the admin role with an explicit 403
func (a *Auth) RequireAdmin() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				resp.WriteError(w, r, resp.ErrNoBearer())
				return
			}
			if !claims.IsAdmin() {
				a.Logger.Warn("Non-admin caller on admin route",
					zap.String("UserID", claims.UserID()),
					zap.String("Path", r.URL.Path),
				)
				resp.WriteError(w, r, resp.ErrForbidden().AddMessages("Admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
