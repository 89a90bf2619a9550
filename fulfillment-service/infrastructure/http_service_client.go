package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/orderstack/fulfillment-system/fulfillment-service/domain"
	"github.com/orderstack/fulfillment-system/shared/discovery"
	"github.com/pkg/errors"
)

const defaultRequestTimeout = 10 * time.Second

// HTTPServiceClient implements domain.ServiceClient over HTTP, resolving the
// service name to an endpoint on every call so instances that come and go
// between saga steps are picked up.
type HTTPServiceClient struct {
	resolver *discovery.Resolver
	client   *http.Client
}

var _ domain.ServiceClient = (*HTTPServiceClient)(nil)

// NewHTTPServiceClient creates a new HTTPServiceClient. A nil httpClient
// defaults to one with a request timeout.
func NewHTTPServiceClient(resolver *discovery.Resolver, httpClient *http.Client) *HTTPServiceClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &HTTPServiceClient{resolver: resolver, client: httpClient}
}

type serviceErrorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Post resolves serviceName, posts body as JSON to the endpoint, and decodes
// the response into out when out is non-nil. Non-2xx responses become
// ServiceCallError carrying the downstream error code.
func (c *HTTPServiceClient) Post(ctx context.Context, serviceName, path string, body, out interface{}) error {
	endpoint, err := c.resolver.Resolve(ctx, serviceName)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve service %s", serviceName)
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request body")
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s%s failed", endpoint.URL, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var errBody serviceErrorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &errBody)

		message := errBody.Message
		if message == "" {
			message = string(raw)
		}

		return &domain.ServiceCallError{
			Service:    serviceName,
			Path:       path,
			StatusCode: resp.StatusCode,
			ErrorCode:  errBody.ErrorCode,
			Message:    message,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response body")
	}
	return nil
}
