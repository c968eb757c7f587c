// Package legacy talks to the upstream person directory over HTTP and caches
// its snapshots in Redis.
package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rollcall/internal/identity/metrics"
	"rollcall/internal/identity/models"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/circuit"
)

const defaultTimeout = 10 * time.Second

// Client is a ports.LegacySource backed by the legacy JSON API:
//
//	GET  {base}/people/{legacy_id}          person snapshot, 404 when unknown
//	POST {base}/people/{legacy_id}/replace  {"replace_with": new_legacy_id}
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		cl.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "legacy base url is required")
	}
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "legacy base url must be absolute: "+baseURL)
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		breaker: circuit.New("legacy"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetPerson returns nil, nil for a legacy id the upstream does not know.
func (c *Client) GetPerson(ctx context.Context, legacyID int64) (*models.RemotePerson, error) {
	var dto personDTO
	status, err := c.do(ctx, http.MethodGet, c.personPath(legacyID), nil, &dto)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		c.metrics.IncLegacyFetchError()
		return nil, err
	}
	return dto.toRemote(), nil
}

// ReplacePerson tells the upstream that oldLegacyID now lives on as
// newLegacyID.
func (c *Client) ReplacePerson(ctx context.Context, oldLegacyID, newLegacyID int64) error {
	body := map[string]int64{"replace_with": newLegacyID}
	_, err := c.do(ctx, http.MethodPost, c.personPath(oldLegacyID)+"/replace", body, nil)
	return err
}

func (c *Client) personPath(legacyID int64) string {
	return c.baseURL + "/people/" + strconv.FormatInt(legacyID, 10)
}

// do runs one request through the breaker. 404 is a valid answer and does not
// count as a failure.
func (c *Client) do(ctx context.Context, method, url string, in, out any) (int, error) {
	if !c.breaker.Allow() {
		return 0, dErrors.New(dErrors.CodeUnavailable, "legacy source circuit is open")
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "encode legacy request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "build legacy request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, dErrors.Wrap(err, dErrors.CodeTimeout, "legacy source timed out")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "legacy source unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.recordSuccess(ctx)
		return resp.StatusCode, dErrors.New(dErrors.CodeNotFound, "legacy person not found")
	case resp.StatusCode >= http.StatusInternalServerError:
		c.recordFailure(ctx)
		return resp.StatusCode, dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("legacy source returned HTTP %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		c.recordSuccess(ctx)
		return resp.StatusCode, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("legacy source rejected request: HTTP %d", resp.StatusCode))
	}
	c.recordSuccess(ctx)

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, dErrors.Wrap(err, dErrors.CodeInternal, "decode legacy response")
	}
	return resp.StatusCode, nil
}

func (c *Client) recordFailure(ctx context.Context) {
	if _, change := c.breaker.RecordFailure(); change.Opened && c.logger != nil {
		c.logger.WarnContext(ctx, "legacy source circuit opened", "breaker", c.breaker.Name())
	}
}

func (c *Client) recordSuccess(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed && c.logger != nil {
		c.logger.InfoContext(ctx, "legacy source circuit closed", "breaker", c.breaker.Name())
	}
}
