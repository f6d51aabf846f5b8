// Package stockfighter is the boundary layer to the exchange-simulation API:
// a REST client implementing domain.Venue and websocket feed workers.
package stockfighter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"

	"stockpurse/internal/domain"
	"stockpurse/internal/infra"
)

// AuthHeader carries the API key on order calls.
const AuthHeader = "X-Starfighter-Authorization"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockfighter_requests_total",
		Help: "venue REST calls by operation and outcome",
	}, []string{"op", "outcome"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockfighter_request_duration_seconds",
		Help:    "venue REST call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(requestCounter, requestDuration)
}

// expectedOrderKeys are the top-level keys of an order response.
var expectedOrderKeys = map[string]struct{}{
	"ok": {}, "id": {}, "ts": {}, "account": {}, "venue": {}, "symbol": {},
	"direction": {}, "orderType": {}, "originalQty": {}, "qty": {}, "price": {},
	"fills": {}, "totalFilled": {}, "open": {},
}

// Client is the REST venue client (Boundary Layer).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.Venue = (*Client)(nil)

// NewClient creates a new API client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = infra.DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "stockfighter_client"),
	}
}

// NewClientFromConfig builds a client from application config.
func NewClientFromConfig(cfg *infra.Config) *Client {
	return NewClient(cfg.API.BaseURL, cfg.API.APIKey, cfg.Timeout())
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Heartbeat checks that the API is up.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.do(ctx, "heartbeat", http.MethodGet, "/heartbeat", nil, nil)
	return err
}

// Quote returns the venue's top-of-book summary.
func (c *Client) Quote(ctx context.Context, inst domain.Instrument) (*domain.Quote, error) {
	var q domain.Quote
	if _, err := c.do(ctx, "quote", http.MethodGet, stockPath(inst)+"/quote", nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// OrderBook returns a book snapshot. Missing sides decode as empty.
func (c *Client) OrderBook(ctx context.Context, inst domain.Instrument) (*domain.OrderBook, error) {
	var book domain.OrderBook
	if _, err := c.do(ctx, "orderbook", http.MethodGet, stockPath(inst), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// PlaceOrder sends an order. Market orders omit the price.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResponse, error) {
	return c.orderCall(ctx, "place_order", http.MethodPost, stockPath(req.Instrument())+"/orders", req)
}

// CancelOrder cancels an order and returns its final state.
func (c *Client) CancelOrder(ctx context.Context, inst domain.Instrument, id domain.OrderID) (*domain.OrderResponse, error) {
	return c.orderCall(ctx, "cancel_order", http.MethodDelete, orderPath(inst, id), nil)
}

// OrderStatus reads the current state of an order.
func (c *Client) OrderStatus(ctx context.Context, inst domain.Instrument, id domain.OrderID) (*domain.OrderResponse, error) {
	return c.orderCall(ctx, "order_status", http.MethodGet, orderPath(inst, id), nil)
}

func (c *Client) orderCall(ctx context.Context, op, method, path string, body any) (*domain.OrderResponse, error) {
	var resp domain.OrderResponse
	raw, err := c.do(ctx, op, method, path, body, &resp)
	if err != nil {
		return nil, err
	}
	resp.UnexpectedKeys = unexpectedKeys(raw)
	if len(resp.UnexpectedKeys) > 0 {
		c.logger.Debug("Unexpected response keys", slog.String("op", op), slog.Any("keys", resp.UnexpectedKeys))
	}
	return &resp, nil
}

// do sends one request and decodes the envelope. Network and decode
// failures become *domain.TransportError; non-2xx statuses and ok=false
// become *domain.APIResponseError. The raw body is returned on success.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, domain.NewFatalTransportError(op, err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, domain.NewFatalTransportError(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(AuthHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		requestCounter.WithLabelValues(op, "transport_error").Inc()
		return nil, domain.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		requestCounter.WithLabelValues(op, "transport_error").Inc()
		return nil, domain.NewTransportError(op, err)
	}

	var env envelope
	envErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		requestCounter.WithLabelValues(op, "api_error").Inc()
		msg := env.Error
		if envErr != nil {
			msg = string(bytes.TrimSpace(raw))
		}
		return nil, &domain.APIResponseError{StatusCode: resp.StatusCode, Message: msg}
	}
	if envErr != nil {
		requestCounter.WithLabelValues(op, "transport_error").Inc()
		return nil, domain.NewFatalTransportError(op, fmt.Errorf("decode envelope: %w", envErr))
	}
	if !env.OK {
		requestCounter.WithLabelValues(op, "api_error").Inc()
		return nil, &domain.APIResponseError{StatusCode: resp.StatusCode, Message: env.Error}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			requestCounter.WithLabelValues(op, "transport_error").Inc()
			return nil, domain.NewFatalTransportError(op, fmt.Errorf("decode body: %w", err))
		}
	}

	requestCounter.WithLabelValues(op, "ok").Inc()
	return raw, nil
}

func unexpectedKeys(raw []byte) []string {
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	var extra []string
	for k := range fields {
		if _, ok := expectedOrderKeys[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}

func stockPath(inst domain.Instrument) string {
	return "/venues/" + url.PathEscape(inst.Venue) + "/stocks/" + url.PathEscape(inst.Symbol)
}

func orderPath(inst domain.Instrument, id domain.OrderID) string {
	return stockPath(inst) + "/orders/" + strconv.FormatInt(int64(id), 10)
}
