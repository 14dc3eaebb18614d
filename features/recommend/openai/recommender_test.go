package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/retailstream/concierge/runtime/chat/catalog"
)

type fakeChat struct {
	resp openai.ChatCompletionResponse
	err  error
	req  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{Model: "gpt-4o-mini", StorefrontURL: "https://shop.example.com"})
	require.EqualError(t, err, "chat client is required")

	_, err = New(Options{Chat: &fakeChat{}, StorefrontURL: "https://shop.example.com"})
	require.EqualError(t, err, "model identifier is required")

	_, err = New(Options{Chat: &fakeChat{}, Model: "gpt-4o-mini"})
	require.EqualError(t, err, "storefront url is required")
}

func TestRecommend(t *testing.T) {
	chat := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "  Try [Cream](https://shop.example.com/products/cream-1) at 19.99 USD.  "}},
		},
	}}
	r, err := New(Options{Chat: chat, Model: "gpt-4o-mini", StorefrontURL: "https://shop.example.com/"})
	require.NoError(t, err)

	answer, err := r.Recommend(context.Background(), "cream", []catalog.Product{
		{Title: "Cream", Price: "19.99", Currency: "USD", Handle: "cream-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "Try [Cream](https://shop.example.com/products/cream-1) at 19.99 USD.", answer)

	// The model sees the product list with resolved links, never raw handles.
	require.Len(t, chat.req.Messages, 2)
	require.Contains(t, chat.req.Messages[1].Content, "https://shop.example.com/products/cream-1")
	require.Contains(t, chat.req.Messages[1].Content, "cream")
}

func TestRecommendEmptyList(t *testing.T) {
	r, err := New(Options{Chat: &fakeChat{}, Model: "gpt-4o-mini", StorefrontURL: "https://shop.example.com"})
	require.NoError(t, err)

	_, err = r.Recommend(context.Background(), "cream", nil)
	require.ErrorContains(t, err, "no products")
}

func TestRecommendCompletionError(t *testing.T) {
	r, err := New(Options{
		Chat:          &fakeChat{err: errors.New("model unavailable")},
		Model:         "gpt-4o-mini",
		StorefrontURL: "https://shop.example.com",
	})
	require.NoError(t, err)

	_, err = r.Recommend(context.Background(), "cream", []catalog.Product{{Title: "Cream"}})
	require.ErrorContains(t, err, "model unavailable")
}

func TestRecommendNoChoices(t *testing.T) {
	r, err := New(Options{Chat: &fakeChat{}, Model: "gpt-4o-mini", StorefrontURL: "https://shop.example.com"})
	require.NoError(t, err)

	_, err = r.Recommend(context.Background(), "cream", []catalog.Product{{Title: "Cream"}})
	require.ErrorContains(t, err, "no choices")
}
