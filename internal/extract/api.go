package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"salesetl/internal/enrich"
	"salesetl/internal/observability"
	"salesetl/pkg/errors"
	"salesetl/pkg/models"
)

// APIExtractor fetches the four entity collections as JSON arrays from
// <base>/customers, /products, /orders and /order_details. It returns sales
// only.
type APIExtractor struct {
	baseURL  string
	token    string
	client   *http.Client
	retry    *errors.RetryConfig
	enricher *enrich.Enricher
	logger   *observability.Logger
}

type APIOption func(*APIExtractor)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) APIOption {
	return func(e *APIExtractor) { e.client = c }
}

// WithRetry replaces the fetch retry policy.
func WithRetry(cfg *errors.RetryConfig) APIOption {
	return func(e *APIExtractor) { e.retry = cfg }
}

func NewAPIExtractor(cfg models.APISourceConfig, enricher *enrich.Enricher, logger *observability.Logger, opts ...APIOption) *APIExtractor {
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	e := &APIExtractor{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
		retry:    errors.DefaultRetryConfig(),
		enricher: enricher,
		logger:   logger.WithField("source", "api"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *APIExtractor) Name() string { return "api" }

func (e *APIExtractor) Extract(ctx context.Context) ([]models.EnrichedSale, error) {
	var in enrich.Input
	in.Customers = fetchEntity[models.CustomerRecord](ctx, e, EntityCustomers)
	in.Products = fetchEntity[models.ProductRecord](ctx, e, EntityProducts)
	in.Orders = fetchEntity[models.OrderRecord](ctx, e, EntityOrders)
	in.Details = fetchEntity[models.OrderDetailRecord](ctx, e, EntityOrderDetails)

	sales := e.enricher.Enrich(e.Name(), in)

	e.logger.InfoWithFields("API extracted", map[string]interface{}{
		"customers": len(in.Customers),
		"products":  len(in.Products),
		"orders":    len(in.Orders),
		"details":   len(in.Details),
		"sales":     len(sales),
	})
	return sales, nil
}

func fetchEntity[T any](ctx context.Context, e *APIExtractor, entity string) []T {
	url := e.baseURL + "/" + entity
	out := []T{}

	err := errors.Retry(ctx, e.retry, func(ctx context.Context) error {
		out = out[:0]
		return e.get(ctx, url, &out)
	})
	if err == nil {
		return out
	}

	if errors.HasCode(err, errors.ErrCodeSourceUnavailable) {
		e.logger.WarnWithFields("API resource not found", map[string]interface{}{"url": url})
	} else {
		e.logger.WithError(err).ErrorWithFields("Failed to fetch API resource", map[string]interface{}{"url": url})
	}
	return []T{}
}

// get classifies failures: 404 is a missing resource, transport errors and
// 5xx are recoverable, any other status or a bad body is final.
func (e *APIExtractor) get(ctx context.Context, url string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransport, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransport, "request failed").
			WithContext("url", url).
			AsRecoverable()
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.SourceUnavailable("api", url)
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return errors.New(errors.ErrCodeTransport, fmt.Sprintf("server error %d", resp.StatusCode)).
			WithContext("url", url).
			AsRecoverable()
	case resp.StatusCode != http.StatusOK:
		return errors.New(errors.ErrCodeTransport, fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithContext("url", url)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return errors.Wrap(err, errors.ErrCodeParseFailed, "failed to decode response").
			WithContext("url", url)
	}
	return nil
}
