package metadata

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "[::1]:4312"
	assert.Equal(t, "::1", ClientIPFromRequest(r))

	r.Header.Set("X-Real-IP", " 10.0.0.9 ")
	assert.Equal(t, "10.0.0.9", ClientIPFromRequest(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIPFromRequest(r))
}
