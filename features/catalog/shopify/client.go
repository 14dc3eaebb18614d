// Package shopify implements the catalog search boundary against the Shopify
// Admin GraphQL API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/retailstream/concierge/runtime/chat/catalog"
)

const (
	defaultAPIVersion = "2024-10"
	defaultMaxResults = 5
)

// productSearchQuery asks for the fields the dispatcher needs to build an
// answer: title, description, price range and the first image.
const productSearchQuery = `query productSearch($query: String!, $first: Int!) {
  products(first: $first, query: $query) {
    edges {
      node {
        id
        title
        description
        handle
        priceRange { minVariantPrice { amount currencyCode } }
        images(first: 1) { edges { node { url } } }
      }
    }
  }
}`

type (
	// Options configures the catalog client.
	Options struct {
		// StoreDomain is the shop's myshopify.com domain, with or without
		// scheme. Required.
		StoreDomain string
		// AccessToken is the Admin API access token. Required.
		AccessToken string
		// APIVersion selects the Admin API version. Defaults to 2024-10.
		APIVersion string
		// MaxResults caps the number of products returned per search.
		// Defaults to 5.
		MaxResults int
		// HTTPClient overrides the default HTTP client.
		HTTPClient *http.Client
	}

	// Client implements catalog.Searcher against the Admin GraphQL API.
	Client struct {
		endpoint   string
		token      string
		maxResults int
		http       *http.Client
	}

	graphqlRequest struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}

	graphqlResponse struct {
		Data struct {
			Products struct {
				Edges []struct {
					Node productNode `json:"node"`
				} `json:"edges"`
			} `json:"products"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	productNode struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Handle      string `json:"handle"`
		PriceRange  struct {
			MinVariantPrice struct {
				Amount       string `json:"amount"`
				CurrencyCode string `json:"currencyCode"`
			} `json:"minVariantPrice"`
		} `json:"priceRange"`
		Images struct {
			Edges []struct {
				Node struct {
					URL string `json:"url"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"images"`
	}
)

// New builds a Client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.StoreDomain == "" {
		return nil, errors.New("store domain is required")
	}
	if opts.AccessToken == "" {
		return nil, errors.New("access token is required")
	}
	version := opts.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := strings.TrimRight(opts.StoreDomain, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return &Client{
		endpoint:   fmt.Sprintf("%s/admin/api/%s/graphql.json", base, version),
		token:      opts.AccessToken,
		maxResults: maxResults,
		http:       httpClient,
	}, nil
}

// Search performs a free-text product search and maps the result into
// catalog products.
func (c *Client) Search(ctx context.Context, query string) ([]catalog.Product, error) {
	payload, err := json.Marshal(graphqlRequest{
		Query: productSearchQuery,
		Variables: map[string]any{
			"query": query,
			"first": c.maxResults,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("product search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("product search: status %d", resp.StatusCode)
	}

	var gr graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(gr.Errors) > 0 {
		return nil, fmt.Errorf("product search: %s", gr.Errors[0].Message)
	}

	products := make([]catalog.Product, 0, len(gr.Data.Products.Edges))
	for _, edge := range gr.Data.Products.Edges {
		n := edge.Node
		p := catalog.Product{
			ID:          n.ID,
			Title:       n.Title,
			Description: n.Description,
			Price:       n.PriceRange.MinVariantPrice.Amount,
			Currency:    n.PriceRange.MinVariantPrice.CurrencyCode,
			Handle:      n.Handle,
		}
		if len(n.Images.Edges) > 0 {
			p.ImageURL = n.Images.Edges[0].Node.URL
		}
		products = append(products, p)
	}
	return products, nil
}
