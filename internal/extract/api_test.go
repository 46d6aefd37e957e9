package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"salesetl/internal/observability"
	"salesetl/pkg/errors"
	"salesetl/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *errors.RetryConfig {
	cfg := errors.DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestAPIExtractor(t *testing.T) {
	var flaky int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/customers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t0ken", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"customerId":1,"firstName":"Ana"}]`))
	})
	mux.HandleFunc("/v1/products", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&flaky, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"productId":10,"productName":"Widget","price":"5.00"}]`))
	})
	mux.HandleFunc("/v1/order_details", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"orderId":100,"productId":10,"quantity":2,"totalPrice":10.00}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ex := NewAPIExtractor(models.APISourceConfig{BaseURL: srv.URL + "/v1/", Token: "t0ken"},
		testEnricher(), observability.NewNopLogger(), WithRetry(fastRetry()))

	sales, err := ex.Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, sales, 1)

	assert.Equal(t, "Widget", sales[0].ProductName, "5xx is retried")
	assert.Equal(t, int64(1), sales[0].CustomerID, "missing /orders falls back")
	assert.Equal(t, "Ana", sales[0].FirstName)
	assert.Equal(t, "api", sales[0].Source)
	assert.Equal(t, int32(2), atomic.LoadInt32(&flaky))
}

func TestAPIExtractorFailuresDegradeToEmpty(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/order_details":
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/customers":
			_, _ = w.Write([]byte(`{not json`))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	ex := NewAPIExtractor(models.APISourceConfig{BaseURL: srv.URL}, testEnricher(),
		observability.NewNopLogger(), WithRetry(fastRetry()))

	sales, err := ex.Extract(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "one attempt plus three retries")
}

func TestAPIExtractorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	retry := fastRetry()
	retry.MaxRetries = 1
	ex := NewAPIExtractor(models.APISourceConfig{BaseURL: url, Timeout: time.Second}, testEnricher(),
		observability.NewNopLogger(), WithRetry(retry))

	sales, err := ex.Extract(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sales)
}
