package legacy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/identity/metrics"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/circuit"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_GetPerson(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/people/42":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"legacy_id": 42,
				"email": " ann@example.org ",
				"profile": {"firstname": "Ann", "lastname": "Lee", "city": "Banff"},
				"invited_on": "2026-01-10",
				"updated_at": "2026-02-01T08:30:00Z"
			}`))
		default:
			http.NotFound(w, r)
		}
	})
	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)

	t.Run("decodes the snapshot", func(t *testing.T) {
		p, err := c.GetPerson(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, int64(42), p.LegacyID)
		assert.Equal(t, "ann@example.org", p.Email)
		assert.Equal(t, "Banff", p.City)
		require.NotNil(t, p.UpdatedAt)
		assert.Equal(t, time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC), *p.UpdatedAt)
		require.NotNil(t, p.InvitedOn)
		assert.Equal(t, 10, p.InvitedOn.Day())
	})

	t.Run("unknown person is nil without error", func(t *testing.T) {
		p, err := c.GetPerson(context.Background(), 7)
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestClient_ReplacePerson(t *testing.T) {
	var got map[string]int64
	var path string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	})
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	require.NoError(t, c.ReplacePerson(context.Background(), 200, 100))
	assert.Equal(t, "/people/200/replace", path)
	assert.Equal(t, int64(100), got["replace_with"])
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	m := metrics.New(prometheus.NewRegistry())
	c, err := NewClient(srv.URL,
		WithBreaker(circuit.New("legacy", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))),
		WithMetrics(m),
	)
	require.NoError(t, err)

	for range 2 {
		_, err := c.GetPerson(context.Background(), 1)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	}
	_, err = c.GetPerson(context.Background(), 1)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.Equal(t, int32(2), calls.Load(), "open circuit short-circuits the third call")
	assert.Equal(t, float64(3), testutil.ToFloat64(m.LegacyFetchError))
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient("  ")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = NewClient("legacy.example.org/api")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "relative urls are rejected")
}

func TestParseTime(t *testing.T) {
	assert.Nil(t, parseTime(""))
	assert.Nil(t, parseTime("yesterday"))
	require.NotNil(t, parseTime("2026-03-01 10:00:00"))
	assert.Equal(t, 10, parseTime("2026-03-01 10:00:00").Hour())
}
