package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zoff-tech/go-deferred/pkg/config"
)

func newTestGateway(url string) *HTTPGateway {
	return NewHTTPGateway(config.GatewaySettings{
		URL:     url,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	})
}

func TestSendSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req sendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "+14155550100", req.Recipient)
		assert.Equal(t, "hello", req.Body)

		json.NewEncoder(w).Encode(sendResponse{ProviderReference: "SM123"})
	}))
	defer server.Close()

	receipt, err := newTestGateway(server.URL).Send(context.Background(), "+14155550100", "hello")
	assert.NoError(t, err)
	assert.Equal(t, "SM123", receipt.ProviderReference)
}

func TestSendTransientStatuses(t *testing.T) {
	for _, code := range []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		_, err := newTestGateway(server.URL).Send(context.Background(), "+14155550100", "hello")
		assert.ErrorIs(t, err, ErrTransient, "status %d", code)
		assert.NotErrorIs(t, err, ErrPermanent, "status %d", code)
		server.Close()
	}
}

func TestSendPermanentStatuses(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid recipient", code)
		}))

		_, err := newTestGateway(server.URL).Send(context.Background(), "bad-recipient", "hello")
		assert.ErrorIs(t, err, ErrPermanent, "status %d", code)
		assert.NotErrorIs(t, err, ErrTransient, "status %d", code)
		server.Close()
	}
}

func TestSendNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	_, err := newTestGateway(server.URL).Send(context.Background(), "+14155550100", "hello")
	assert.ErrorIs(t, err, ErrTransient)
}

func TestSendTimeoutIsTransient(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		server.Close()
	}()

	g := NewHTTPGateway(config.GatewaySettings{URL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := g.Send(context.Background(), "+14155550100", "hello")
	assert.ErrorIs(t, err, ErrTransient)
}

func TestSendMalformedResponseIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := newTestGateway(server.URL).Send(context.Background(), "+14155550100", "hello")
	assert.ErrorIs(t, err, ErrTransient)
}
