// Package titiler talks to the tile server mosaic API: token issuance and
// MosaicJSON upload.
package titiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dashboard-api/internal/metrics"
)

const (
	maxErrorBody = 1024
	breakerName  = "titiler"
)

// Config holds the tile server client settings.
type Config struct {
	APIRoot     string
	HTTPClient  *http.Client
	MaxFailures uint32        // consecutive failures that open the breaker
	OpenTimeout time.Duration // time spent open before probing again
	Logger      *zap.Logger
}

// Client is the tile server mosaic API client.
type Client struct {
	root       string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[[]byte]
	logger     *zap.Logger
}

// NewClient creates a tile server client guarded by a circuit breaker.
func NewClient(cfg *Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// 4xx answers mean the server is up
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Status < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		root:       strings.TrimRight(cfg.APIRoot, "/"),
		httpClient: hc,
		cb:         cb,
		logger:     logger,
	}
}

// APIRoot returns the tile server root the client talks to.
func (c *Client) APIRoot() string { return c.root }

// StatusError is a non-200 tile server response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Body)
}

// postJSON sends body to uri and returns the 200 response body.
func (c *Client) postJSON(ctx context.Context, operation, uri string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	start := time.Now()
	data, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// query strings carry access tokens
			var ue *url.Error
			if errors.As(err, &ue) {
				ue.URL, _, _ = strings.Cut(ue.URL, "?")
			}
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, &StatusError{Status: resp.StatusCode, Body: string(raw)}
		}
		return io.ReadAll(resp.Body)
	})

	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "rejected"
		}
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(breakerName, operation, status).Inc()
	c.logger.Debug("tile server request",
		zap.String("operation", operation),
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)),
	)
	return data, err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
