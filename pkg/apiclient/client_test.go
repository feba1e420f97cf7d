package apiclient_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/apiclient"
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/steps/apicall"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connection(baseURL string) *models.APIConnection {
	return &models.APIConnection{
		ID:       "crm",
		Name:     "CRM",
		BaseURL:  baseURL,
		Headers:  map[string]string{"Authorization": "Bearer secret"},
		IsActive: true,
	}
}

func TestClient_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/customers", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "abc", r.Header.Get("X-Request-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Acme", body["name"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"cus_1"}`))
	}))
	defer server.Close()

	client := apiclient.New(server.Client(), apiclient.Config{}, testutil.Logger())

	resp, err := client.Call(t.Context(), protocol.APIRequest{
		Connection: connection(server.URL + "/api/"),
		Method:     "post",
		Path:       "/customers",
		Headers:    map[string]string{"X-Request-ID": "abc"},
		Body:       map[string]any{"name": "Acme"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, map[string]any{"id": "cus_1"}, resp.Body)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"not found", http.StatusNotFound, false},
		{"unprocessable", http.StatusUnprocessableEntity, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			client := apiclient.New(server.Client(), apiclient.Config{}, testutil.Logger())

			_, err := client.Call(t.Context(), protocol.APIRequest{Connection: connection(server.URL)})

			var statusErr *apicall.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, "nope", statusErr.Body)
			assert.Equal(t, tt.retryable, statusErr.Retryable())
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := apiclient.New(server.Client(), apiclient.Config{}, testutil.Logger())

	_, err := client.Call(t.Context(), protocol.APIRequest{
		Connection: connection(server.URL),
		Timeout:    20 * time.Millisecond,
	})
	require.Error(t, err)

	var statusErr *apicall.StatusError
	assert.False(t, errors.As(err, &statusErr))
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := apiclient.New(server.Client(), apiclient.Config{FailureThreshold: 2, OpenTimeout: time.Minute}, testutil.Logger())
	req := protocol.APIRequest{Connection: connection(server.URL)}

	for range 2 {
		_, err := client.Call(t.Context(), req)
		require.Error(t, err)
	}

	_, err := client.Call(t.Context(), req)
	require.ErrorIs(t, err, apiclient.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := apiclient.New(server.Client(), apiclient.Config{FailureThreshold: 1}, testutil.Logger())
	req := protocol.APIRequest{Connection: connection(server.URL)}

	for range 3 {
		_, err := client.Call(t.Context(), req)
		require.Error(t, err)
		assert.NotErrorIs(t, err, apiclient.ErrCircuitOpen)
	}

	assert.Equal(t, int32(3), hits.Load())
}
