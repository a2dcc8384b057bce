package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xelth-com/clipsync/internal/apperr"
	"github.com/xelth-com/clipsync/internal/models"
)

// HealthCheckTimeout bounds TestConnection. Other calls only carry the
// client-wide timeout.
const HealthCheckTimeout = 10 * time.Second

// RemoteAPI is the sync server as seen by the engine.
type RemoteAPI interface {
	PushData(ctx context.Context, token string, body *models.SyncUploadRequest) (*models.SyncUploadResponse, error)
	PullUpdates(ctx context.Context, token string, since *time.Time) (*models.UpdatesResponse, error)
	Health(ctx context.Context) error
}

// NewHTTPClient creates the HTTP client used for the sync API
func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			MaxIdleConns:        20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// RemoteClient talks to the sync server REST API.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRemoteClient(baseURL string, httpClient *http.Client) *RemoteClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(30 * time.Second)
	}
	return &RemoteClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// PushData uploads one encrypted item via POST /sync/data.
func (c *RemoteClient) PushData(ctx context.Context, token string, body *models.SyncUploadRequest) (*models.SyncUploadResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSerialization, err, "failed to encode sync request")
	}

	req, err := MakeAuthenticatedRequest(ctx, http.MethodPost, c.baseURL+"/sync/data", payload, token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, err, "failed to build request")
	}

	var out models.SyncUploadResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PullUpdates fetches items changed after since via GET /sync/updates.
func (c *RemoteClient) PullUpdates(ctx context.Context, token string, since *time.Time) (*models.UpdatesResponse, error) {
	endpoint := c.baseURL + "/sync/updates"
	if since != nil {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	req, err := MakeAuthenticatedRequest(ctx, http.MethodGet, endpoint, nil, token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, err, "failed to build request")
	}

	var out models.UpdatesResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes GET /health within HealthCheckTimeout.
func (c *RemoteClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return apperr.Wrap(apperr.KindNetwork, err, "failed to build request")
	}
	return c.do(req, nil)
}

func (c *RemoteClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindNetwork, err, fmt.Sprintf("%s %s failed", req.Method, req.URL.Path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return apperr.Wrap(apperr.KindNetwork, err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.KindSerialization, err, "failed to decode response")
	}
	return nil
}

func statusError(code int, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.New(apperr.KindAuthentication, "server rejected credentials (%d)", code)
	case http.StatusServiceUnavailable:
		return apperr.New(apperr.KindServiceUnavailable, "sync server unavailable: %s", text)
	default:
		return apperr.New(apperr.KindNetwork, "unexpected status %d: %s", code, text)
	}
}
