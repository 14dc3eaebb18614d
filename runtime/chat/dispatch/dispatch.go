// Package dispatch resolves completed tool calls into answer text.
//
// The dispatcher performs the catalog lookup a tool call asks for and
// synthesizes the replacement answer the pipeline splices into the stream.
// Every outbound call is independent, idempotent and bounded by a timeout;
// failures degrade the answer text and never abort the turn, so Dispatch
// deliberately has no error return.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/retailstream/concierge/runtime/chat/catalog"
)

const defaultTimeout = 10 * time.Second

type (
	// Recommender synthesizes a natural-language recommendation from the
	// full result list. Optional: when absent, or when it fails or returns
	// an empty string, the deterministic first-match answer is used.
	Recommender interface {
		Recommend(ctx context.Context, query string, products []catalog.Product) (string, error)
	}

	// Options configures a Dispatcher.
	Options struct {
		// Catalog performs product lookups. Required.
		Catalog catalog.Searcher
		// StorefrontURL is the base URL product links are built from.
		// Required.
		StorefrontURL string
		// Recommender enables secondary recommendation synthesis. Optional.
		Recommender Recommender
		// Timeout bounds each outbound call so a slow dependency cannot
		// stall stream resolution. Defaults to 10s.
		Timeout time.Duration
	}

	// Dispatcher turns resolved tool invocations into answer text.
	Dispatcher struct {
		catalog     catalog.Searcher
		recommender Recommender
		storefront  string
		timeout     time.Duration
	}
)

// New builds a Dispatcher from the provided options.
func New(opts Options) (*Dispatcher, error) {
	if opts.Catalog == nil {
		return nil, errors.New("catalog searcher is required")
	}
	if opts.StorefrontURL == "" {
		return nil, errors.New("storefront url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		catalog:     opts.Catalog,
		recommender: opts.Recommender,
		storefront:  strings.TrimRight(opts.StorefrontURL, "/"),
		timeout:     timeout,
	}, nil
}

// Dispatch performs one catalog search for the query and returns the answer
// text to splice into the stream. A failed or empty lookup yields the
// no-match answer; otherwise the first result is used — a deliberately
// simple first-match policy, optionally upgraded by the recommender.
func (d *Dispatcher) Dispatch(ctx context.Context, query string) string {
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	products, err := d.catalog.Search(sctx, query)
	if err != nil {
		log.Errorf(ctx, err, "catalog search failed, degrading to no-match answer")
		return d.noMatch(query)
	}
	if len(products) == 0 {
		return d.noMatch(query)
	}

	answer := d.firstMatch(products[0])
	if d.recommender == nil {
		return answer
	}

	rctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	recommended, err := d.recommender.Recommend(rctx, query, products)
	if err != nil {
		log.Errorf(ctx, err, "recommendation synthesis failed, keeping first-match answer")
		return answer
	}
	if strings.TrimSpace(recommended) == "" {
		return answer
	}
	return recommended
}

func (d *Dispatcher) noMatch(query string) string {
	return fmt.Sprintf("I couldn't find anything matching %q in our catalog. Could you describe what you're looking for a little differently?", query)
}

func (d *Dispatcher) firstMatch(p catalog.Product) string {
	return fmt.Sprintf("How about %s? It's %s %s. Take a closer look: %s/products/%s",
		p.Title, p.Price, p.Currency, d.storefront, p.Handle)
}
