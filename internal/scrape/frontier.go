// File: internal/scrape/frontier.go
package scrape

import (
	"context"
	"fmt"

	"github.com/JorisJBackis/tikrakaina/internal/listing"

	"go.uber.org/zap"
)

// Frontier enumerates the currently-visible set of listing identities, with
// the list-view price where the collaborator could extract one cheaply.
type Frontier interface {
	Crawl(ctx context.Context, maxPages int) ([]listing.ListedItem, error)
}

type apiFrontier struct {
	client *Client
	logger *zap.Logger
}

// NewFrontier creates a Frontier backed by the scrape API's list endpoint.
func NewFrontier(client *Client, logger *zap.Logger) Frontier {
	return &apiFrontier{client: client, logger: logger.Named("frontier")}
}

// Crawl walks list pages until an empty page or the page limit. Page-level
// failures end the walk with whatever was collected so far; the reconciler's
// plausibility guard decides whether the partial result is usable.
func (f *apiFrontier) Crawl(ctx context.Context, maxPages int) ([]listing.ListedItem, error) {
	var items []listing.ListedItem
	seen := make(map[int64]struct{})

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		var pageItems []listing.ListedItem
		err := f.client.GetJSON(ctx, fmt.Sprintf("/listings?page=%d", page), &pageItems)
		if err != nil {
			f.logger.Warn("List page fetch failed, stopping crawl",
				zap.Int("page", page), zap.Error(err))
			break
		}
		if len(pageItems) == 0 {
			f.logger.Debug("Empty list page, crawl complete", zap.Int("page", page))
			break
		}

		for _, item := range pageItems {
			if item.ListingID <= 0 {
				continue
			}
			if _, dup := seen[item.ListingID]; dup {
				continue
			}
			seen[item.ListingID] = struct{}{}
			items = append(items, item)
		}
	}

	withPrice := 0
	for _, item := range items {
		if item.Price != nil {
			withPrice++
		}
	}
	f.logger.Info("Crawl finished",
		zap.Int("listings", len(items)),
		zap.Int("with_list_price", withPrice))

	return items, nil
}
