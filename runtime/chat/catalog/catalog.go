// Package catalog defines the product lookup boundary consumed by the tool
// dispatcher.
package catalog

import "context"

type (
	// Product is one catalog entry as returned by a search.
	Product struct {
		// ID is the catalog's identifier for the product.
		ID string `json:"id"`
		// Title is the display name.
		Title string `json:"title"`
		// Description is the short product description.
		Description string `json:"description,omitempty"`
		// Price is the minimum variant price as a decimal string.
		Price string `json:"price"`
		// Currency is the ISO currency code for Price.
		Currency string `json:"currency"`
		// Handle is the URL slug used to build product links.
		Handle string `json:"handle"`
		// ImageURL is the first product image, when available.
		ImageURL string `json:"imageUrl,omitempty"`
	}

	// Searcher performs a free-text product search. An empty result list and
	// provider-side rejections are ordinary outcomes; callers degrade the
	// answer rather than fail the turn.
	Searcher interface {
		Search(ctx context.Context, query string) ([]Product, error)
	}
)
