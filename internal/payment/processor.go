// internal/payment/processor.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every processor round trip.
const DefaultTimeout = 15 * time.Second

// ErrProcessorUnavailable wraps transport failures and 5xx answers.
var ErrProcessorUnavailable = errors.New("payment processor unavailable")

// NewBreaker returns the circuit breaker shared by all calls to one
// processor. It opens after five consecutive transport failures.
func NewBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Payment processor breaker state changed",
				zap.String("processor", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// processorClient is the resty transport shared by the REST adapters.
type processorClient struct {
	name    string
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func newProcessorClient(name, baseURL string, timeout time.Duration, breaker *gobreaker.CircuitBreaker, logger *zap.Logger) *processorClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if breaker == nil {
		breaker = NewBreaker(name, logger)
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "swimdesk/1.0")

	return &processorClient{
		name:    name,
		http:    client,
		breaker: breaker,
		logger:  logger,
	}
}

// do runs one request through the breaker. Only transport errors and 5xx
// responses count as failures; 4xx answers are returned for the adapter to
// read as declines.
func (c *processorClient) do(ctx context.Context, op string, build func(r *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := build(c.http.R().SetContext(ctx))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return resp, fmt.Errorf("status %d", resp.StatusCode())
		}
		return resp, nil
	})
	if err != nil {
		c.logger.Error("Payment processor call failed",
			zap.String("processor", c.name),
			zap.String("op", op),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s %s: %w: %v", c.name, op, ErrProcessorUnavailable, err)
	}
	return out.(*resty.Response), nil
}
