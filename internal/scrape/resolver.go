// File: internal/scrape/resolver.go
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/JorisJBackis/tikrakaina/internal/common"
	"github.com/JorisJBackis/tikrakaina/internal/listing"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Resolver turns a candidate identity into a fully-parsed listing record, or
// a classified failure.
type Resolver interface {
	Resolve(ctx context.Context, item listing.ListedItem) (*listing.Detail, error)
}

type apiResolver struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewResolver creates a Resolver backed by the scrape API's detail endpoint.
// Calls run through a circuit breaker so a dying upstream degrades to fast
// per-listing failures instead of a run spent waiting on timeouts.
func NewResolver(client *Client, logger *zap.Logger) Resolver {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "detail-resolver",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &apiResolver{client: client, breaker: breaker, logger: logger.Named("resolver")}
}

func (r *apiResolver) Resolve(ctx context.Context, item listing.ListedItem) (*listing.Detail, error) {
	path := fmt.Sprintf("/listings/%d/detail?url=%s", item.ListingID, url.QueryEscape(item.URL))

	result, err := r.breaker.Execute(func() (interface{}, error) {
		var detail listing.Detail
		if err := r.client.GetJSON(ctx, path, &detail); err != nil {
			return nil, err
		}
		return &detail, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, common.ErrTransient.WithDetails(fmt.Sprintf("resolver circuit open for %d", item.ListingID)).Wrap(err)
		}
		return nil, err
	}

	detail := result.(*listing.Detail)
	if detail.ListingID == 0 {
		detail.ListingID = item.ListingID
	}
	if detail.URL == "" {
		detail.URL = item.URL
	}
	if err := detail.Validate(); err != nil {
		return nil, common.ErrStructural.WithDetails(item.ListingID).Wrap(err)
	}
	return detail, nil
}
