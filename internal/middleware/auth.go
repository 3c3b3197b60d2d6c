package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/xiaohao/backend/pkg/log"
	"github.com/zhouzirui/xiaohao/backend/pkg/token"
	"github.com/zhouzirui/xiaohao/backend/pkg/utils"
)

type ctxKey int

const identityKey ctxKey = iota

// Identity is the authenticated caller.
type Identity struct {
	UserID   string
	Username string
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the caller stored by RequireAuth.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

// RequireAuth rejects requests without a valid bearer token. Browsers cannot
// set headers on WebSocket upgrades, so a "token" query parameter is accepted
// as well.
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				utils.RespondError(w, http.StatusUnauthorized, "未登录")
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				log.Infow("[auth] rejected token", "path", r.URL.Path, "error", err)
				utils.RespondError(w, http.StatusUnauthorized, "登录已失效，请重新登录")
				return
			}

			ctx := WithIdentity(r.Context(), Identity{UserID: claims.UserID(), Username: claims.Username})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
