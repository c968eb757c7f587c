// Package testutil holds helpers shared by handler and integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/pkg/platform/middleware/admin"
)

// Admin identifies the operator a test request is sent as.
type Admin struct {
	Token string
	Actor string
}

// JSONRequest builds a request with body marshalled as JSON. A nil body sends
// no payload.
func JSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err, "marshal request body")
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Do sends a JSON request to h with the operator's headers.
func (a Admin) Do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := JSONRequest(t, method, path, body)
	if a.Token != "" {
		req.Header.Set(admin.TokenHeader, a.Token)
	}
	if a.Actor != "" {
		req.Header.Set(admin.ActorHeader, a.Actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// Decode unmarshals the response body into a new T.
func Decode[T any](t *testing.T, rec *httptest.ResponseRecorder) *T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "decode response: %s", rec.Body.String())
	return &out
}

// AssertError checks the status and the machine readable error code.
func AssertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	var body map[string]string
	if assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body)) {
		assert.Equal(t, code, body["error"])
	}
}
