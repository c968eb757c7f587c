package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/pkg/platform/secrets"
	"rollcall/pkg/requestcontext"
)

func serve(creds Credentials, headers map[string]string) (*httptest.ResponseRecorder, string) {
	var actor string
	h := RequireAdmin(creds, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = requestcontext.Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	r := httptest.NewRequest(http.MethodGet, "/admin/conflicts", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w, actor
}

func TestRequireAdmin(t *testing.T) {
	t.Run("plain token", func(t *testing.T) {
		w, actor := serve(Credentials{Token: "s3cret"}, map[string]string{TokenHeader: "s3cret", ActorHeader: "ops@example.org"})
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "ops@example.org", actor)

		w, _ = serve(Credentials{Token: "s3cret"}, map[string]string{TokenHeader: "nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "unauthorized")
	})

	t.Run("hashed token", func(t *testing.T) {
		hash, err := secrets.Hash("s3cret")
		require.NoError(t, err)

		w, actor := serve(Credentials{TokenHash: hash}, map[string]string{TokenHeader: "s3cret"})
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, defaultActor, actor)

		w, _ = serve(Credentials{TokenHash: hash}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("no credentials configured", func(t *testing.T) {
		w, _ := serve(Credentials{}, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestRequireAdmin_OperatorTokens(t *testing.T) {
	tokens, err := NewOperatorTokens("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	creds := Credentials{Token: "s3cret", Tokens: tokens}

	signed, err := tokens.Issue("ana@example.org", time.Hour)
	require.NoError(t, err)

	t.Run("subject becomes the actor", func(t *testing.T) {
		w, actor := serve(creds, map[string]string{"Authorization": "Bearer " + signed, ActorHeader: "someone-else"})
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "ana@example.org", actor)
	})

	t.Run("tampered token", func(t *testing.T) {
		w, _ := serve(creds, map[string]string{"Authorization": "Bearer " + signed + "x"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		old := &OperatorTokens{key: tokens.key, now: func() time.Time { return time.Now().Add(-2 * time.Hour) }}
		stale, err := old.Issue("ana@example.org", time.Minute)
		require.NoError(t, err)
		w, _ := serve(creds, map[string]string{"Authorization": "Bearer " + stale})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "expired")
	})

	t.Run("shared token still works", func(t *testing.T) {
		w, _ := serve(creds, map[string]string{TokenHeader: "s3cret"})
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("tokens only rejects anonymous requests", func(t *testing.T) {
		w, _ := serve(Credentials{Tokens: tokens}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestNewOperatorTokens(t *testing.T) {
	_, err := NewOperatorTokens("short")
	assert.Error(t, err)

	tokens, err := NewOperatorTokens("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	_, err = tokens.Issue(" ", time.Hour)
	assert.Error(t, err)
	_, err = tokens.Issue("ana", 0)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken(""))
}
