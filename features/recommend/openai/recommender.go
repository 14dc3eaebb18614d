// Package openai synthesizes natural-language product recommendations with
// the OpenAI chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/retailstream/concierge/runtime/chat/catalog"
)

const systemPrompt = `You are a shopping assistant for an online store.
Given the shopper's request and a list of matching products, recommend the
single best fit in one or two friendly sentences. Mention the price and link
the product title as a markdown link to its url. Recommend only products
from the list.`

type (
	// ChatClient captures the subset of the OpenAI client the recommender
	// uses. It is satisfied by *openai.Client so tests can substitute a
	// mock.
	ChatClient interface {
		CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	}

	// Options configures the recommender.
	Options struct {
		// Chat issues completion requests. Required.
		Chat ChatClient
		// Model is the completion model identifier. Required.
		Model string
		// StorefrontURL is the base URL product links are built from.
		// Required.
		StorefrontURL string
	}

	// Recommender implements dispatch.Recommender with a chat completion.
	Recommender struct {
		chat       ChatClient
		model      string
		storefront string
	}

	promptProduct struct {
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
		Price       string `json:"price"`
		Currency    string `json:"currency"`
		URL         string `json:"url"`
	}
)

// New builds a Recommender from the provided options.
func New(opts Options) (*Recommender, error) {
	if opts.Chat == nil {
		return nil, errors.New("chat client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	if opts.StorefrontURL == "" {
		return nil, errors.New("storefront url is required")
	}
	return &Recommender{
		chat:       opts.Chat,
		model:      opts.Model,
		storefront: strings.TrimRight(opts.StorefrontURL, "/"),
	}, nil
}

// Recommend produces a short recommendation for the query from the product
// list.
func (r *Recommender) Recommend(ctx context.Context, query string, products []catalog.Product) (string, error) {
	if len(products) == 0 {
		return "", errors.New("no products to recommend")
	}
	listing := make([]promptProduct, len(products))
	for i, p := range products {
		listing[i] = promptProduct{
			Title:       p.Title,
			Description: p.Description,
			Price:       p.Price,
			Currency:    p.Currency,
			URL:         fmt.Sprintf("%s/products/%s", r.storefront, p.Handle),
		}
	}
	data, err := json.Marshal(listing)
	if err != nil {
		return "", fmt.Errorf("encode products: %w", err)
	}

	resp, err := r.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Request: %s\nProducts: %s", query, data)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
