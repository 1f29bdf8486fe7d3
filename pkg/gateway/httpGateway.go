package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zoff-tech/go-deferred/pkg/config"
)

// HTTPGateway sends messages through an HTTP JSON endpoint. The wire format
// of the provider behind the endpoint is not this package's concern; the
// endpoint accepts {recipient, body} and answers with a provider reference.
type HTTPGateway struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPGateway(cfg config.GatewaySettings) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

type sendResponse struct {
	ProviderReference string `json:"provider_reference"`
}

func (g *HTTPGateway) Send(ctx context.Context, recipient, body string) (*Receipt, error) {
	payload, err := json.Marshal(sendRequest{Recipient: recipient, Body: body})
	if err != nil {
		return nil, WrapPermanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return nil, WrapPermanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// Network failures and client timeouts are retryable.
		return nil, WrapTransient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out sendResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, WrapTransient(fmt.Errorf("malformed gateway response: %v", err))
		}
		return &Receipt{ProviderReference: out.ProviderReference}, nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))

	if retryableStatus(resp.StatusCode) {
		return nil, WrapTransient(err)
	}
	return nil, WrapPermanent(err)
}

// retryableStatus classifies response codes: request timeout, rate limiting
// and 5xx-class responses are transient, everything else in 4xx is a
// rejected request.
func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}
