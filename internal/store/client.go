// Package store talks to the PostgREST-style reading store (Supabase
// and compatible). It owns the wire format: building filter queries,
// decoding rows, and mapping failures onto the connection/query error
// split the refresh loop keys off.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/floodline/gaugewatch/internal/metrics"
)

// Query describes one fetch against the readings table.
type Query struct {
	Table      string
	GTE        time.Time // inclusive lower timestamp bound, zero = unbounded
	LTE        time.Time // inclusive upper timestamp bound, zero = unbounded
	SensorID   string    // filter to one sensor, empty = all
	Descending bool      // newest-first ordering
	Limit      int       // 0 = no limit
}

// Row is one decoded reading. Value is NaN when the store sent a
// non-numeric reading_value; the cleaner drops those downstream.
type Row struct {
	Timestamp time.Time
	Value     float64
	SensorID  string
}

// Config holds the store client settings.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	MaxFailures    uint32
	OpenTimeout    time.Duration
}

// Health is a point-in-time view of the client for status endpoints.
type Health struct {
	BreakerState        string    `json:"breaker_state"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// Client is a rate-limited, breaker-guarded PostgREST client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Registry

	mu          sync.Mutex
	lastSuccess time.Time
	lastError   string
}

// NewClient builds a store client. reg may be nil when metrics are not
// wanted (one-shot CLI runs).
func NewClient(cfg Config, reg *metrics.Registry) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 4
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 2
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "store",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Store circuit breaker state changed")
		},
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		metrics:    reg,
	}
}

// fetchOutcome separates query rejections from connection failures so
// a bad filter does not trip the breaker.
type fetchOutcome struct {
	rows     []Row
	queryErr error
}

// Fetch runs one query against the store. No retries: a failed call
// reports and the next scheduled tick tries again.
func (c *Client) Fetch(ctx context.Context, q Query) ([]Row, error) {
	if err := c.validate(q); err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		c.observe("connection_error", 0)
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrConnection, err)
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, q)
	})
	elapsed := time.Since(start)

	if err != nil {
		c.recordFailure(err)
		c.observe("connection_error", elapsed)
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit breaker open", ErrConnection)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	outcome := result.(*fetchOutcome)
	if outcome.queryErr != nil {
		c.recordFailure(outcome.queryErr)
		c.observe("query_error", elapsed)
		return nil, outcome.queryErr
	}

	c.recordSuccess()
	c.observe("ok", elapsed)
	return outcome.rows, nil
}

func (c *Client) validate(q Query) error {
	if q.Table == "" {
		return fmt.Errorf("%w: empty table name", ErrQuery)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrQuery, q.Limit)
	}
	if !q.GTE.IsZero() && !q.LTE.IsZero() && q.LTE.Before(q.GTE) {
		return fmt.Errorf("%w: range end %s before start %s", ErrQuery,
			q.LTE.Format(time.RFC3339), q.GTE.Format(time.RFC3339))
	}
	return nil
}

// roundTrip performs the HTTP exchange. Connection-class failures
// return an error (and count against the breaker); query rejections
// come back inside the outcome.
func (c *Client) roundTrip(ctx context.Context, q Query) (*fetchOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(q), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		rows, err := decodeRows(body)
		if err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &fetchOutcome{rows: rows}, nil
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, errorMessage(body))
	default:
		// Remaining 4xx: the store parsed the request and refused it.
		return &fetchOutcome{queryErr: fmt.Errorf("%w: status %d: %s",
			ErrQuery, resp.StatusCode, errorMessage(body))}, nil
	}
}

func (c *Client) buildURL(q Query) string {
	params := url.Values{}
	params.Set("select", "timestamp,reading_value,sensor_name")

	// PostgREST repeats the column for stacked filters.
	if !q.GTE.IsZero() {
		params.Add("timestamp", "gte."+q.GTE.UTC().Format(time.RFC3339))
	}
	if !q.LTE.IsZero() {
		params.Add("timestamp", "lte."+q.LTE.UTC().Format(time.RFC3339))
	}
	if q.SensorID != "" {
		params.Set("sensor_name", "eq."+q.SensorID)
	}

	order := "timestamp.asc"
	if q.Descending {
		order = "timestamp.desc"
	}
	params.Set("order", order)

	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	base := strings.TrimRight(c.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/rest/v1/%s?%s", base, q.Table, params.Encode())
}

// wireRow matches the PostgREST JSON shape. reading_value arrives as a
// number or a quoted string depending on the column type.
type wireRow struct {
	Timestamp    string          `json:"timestamp"`
	ReadingValue json.RawMessage `json:"reading_value"`
	SensorName   string          `json:"sensor_name"`
}

func decodeRows(body []byte) ([]Row, error) {
	var wire []wireRow
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(wire))
	for _, w := range wire {
		ts, err := parseTimestamp(w.Timestamp)
		if err != nil {
			// A row without a usable timestamp cannot participate in
			// an ordered series. Drop it here where the wire format
			// lives.
			log.Debug().Str("timestamp", w.Timestamp).Msg("Dropping row with unparsable timestamp")
			continue
		}
		rows = append(rows, Row{
			Timestamp: ts,
			Value:     parseReading(w.ReadingValue),
			SensorID:  w.SensorName,
		})
	}
	return rows, nil
}

// timestampFormats covers the spellings Postgres emits depending on
// column type and precision.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseReading accepts a JSON number or a numeric string. Anything
// else becomes NaN so the cleaner can drop the record.
func parseReading(raw json.RawMessage) float64 {
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			return v
		}
	}
	return math.NaN()
}

// errorMessage extracts the PostgREST error body, falling back to the
// raw text.
func errorMessage(body []byte) string {
	var pgErr struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &pgErr); err == nil && pgErr.Message != "" {
		return pgErr.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func (c *Client) observe(outcome string, elapsed time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordStoreRequest(outcome, elapsed)
	}
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSuccess = time.Now()
	c.lastError = ""
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = err.Error()
}

// Health reports breaker state and recent outcomes.
func (c *Client) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Health{
		BreakerState:        c.breaker.State().String(),
		ConsecutiveFailures: c.breaker.Counts().ConsecutiveFailures,
		LastSuccess:         c.lastSuccess,
		LastError:           c.lastError,
	}
}
