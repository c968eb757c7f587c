// Package admin guards the operator API with a shared token or signed
// operator tokens.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/httputil"
	"rollcall/pkg/platform/middleware/metadata"
	"rollcall/pkg/platform/secrets"
	"rollcall/pkg/requestcontext"
)

const (
	TokenHeader = "X-Admin-Token"
	// ActorHeader names the operator acting on the request. Audit records
	// and log lines carry it.
	ActorHeader = "X-Admin-Actor"

	defaultActor = "admin"
)

// Credentials accept a plain token, its bcrypt hash, or a bearer token
// signed by Tokens. When none is configured every request is allowed, which
// only dev configurations permit.
type Credentials struct {
	Token     string
	TokenHash string
	Tokens    *OperatorTokens
}

func (c Credentials) check(presented string) bool {
	switch {
	case c.TokenHash != "":
		return presented != "" && secrets.Verify(presented, c.TokenHash) == nil
	case c.Token != "":
		return subtle.ConstantTimeCompare([]byte(presented), []byte(c.Token)) == 1
	default:
		return c.Tokens == nil
	}
}

// RequireAdmin rejects requests without a valid admin token and records the
// acting operator in the request context.
func RequireAdmin(creds Credentials, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if bearer := bearerToken(r.Header.Get("Authorization")); bearer != "" && creds.Tokens != nil {
				actor, err := creds.Tokens.Verify(bearer)
				if err != nil {
					if logger != nil {
						logger.WarnContext(ctx, "operator token rejected",
							"request_id", requestcontext.RequestID(ctx),
							"client_ip", metadata.ClientIP(ctx),
							"path", r.URL.Path,
							"error", err,
						)
					}
					httputil.WriteError(w, err)
					return
				}
				next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actor)))
				return
			}
			if !creds.check(r.Header.Get(TokenHeader)) {
				if logger != nil {
					logger.WarnContext(ctx, "admin token mismatch",
						"request_id", requestcontext.RequestID(ctx),
						"client_ip", metadata.ClientIP(ctx),
						"path", r.URL.Path,
					)
				}
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}
			actor := strings.TrimSpace(r.Header.Get(ActorHeader))
			if actor == "" {
				actor = defaultActor
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actor)))
		})
	}
}
