package main

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type (
	// Config is the service configuration, loaded from the environment. A
	// .env file in the working directory is honored when present.
	Config struct {
		// HTTPPort is the port the HTTP server listens on.
		HTTPPort string `env:"PORT" envDefault:"8080"`
		// AllowedOrigin is the origin allowed to call the API from a
		// browser.
		AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"*"`
		// Provider selects the generation backend: openai or anthropic.
		Provider string `env:"PROVIDER" envDefault:"openai"`
		// Debug enables debug logging.
		Debug bool `env:"DEBUG" envDefault:"false"`

		OpenAI struct {
			// APIKey authenticates against the OpenAI API.
			APIKey string `env:"OPENAI_API_KEY"`
			// AssistantID is the assistant runs execute against.
			AssistantID string `env:"OPENAI_ASSISTANT_ID"`
			// BaseURL overrides the OpenAI endpoint.
			BaseURL string `env:"OPENAI_BASE_URL"`
		}

		Anthropic struct {
			// APIKey authenticates against the Anthropic API.
			APIKey string `env:"ANTHROPIC_API_KEY"`
			// Model is the Claude model identifier.
			Model string `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-20250514"`
			// SystemPrompt steers the assistant.
			SystemPrompt string `env:"SYSTEM_PROMPT"`
			// MaxTokens caps each completion.
			MaxTokens int `env:"ANTHROPIC_MAX_TOKENS" envDefault:"1024"`
		}

		Shopify struct {
			// StoreDomain is the shop's myshopify.com domain.
			StoreDomain string `env:"SHOPIFY_STORE"`
			// AccessToken is the Admin API access token.
			AccessToken string `env:"SHOPIFY_TOKEN"`
			// StorefrontURL is the base URL product links are built from.
			// Defaults to the store domain.
			StorefrontURL string `env:"STOREFRONT_URL"`
		}

		Recommender struct {
			// Enabled turns on recommendation synthesis for search results.
			Enabled bool `env:"RECOMMENDER_ENABLED" envDefault:"false"`
			// Model is the completion model used for recommendations.
			Model string `env:"RECOMMENDER_MODEL" envDefault:"gpt-4o-mini"`
		}

		Mongo struct {
			// URI connects to MongoDB. Empty selects the in-memory store.
			URI string `env:"MONGO_URI"`
			// Database is the database name.
			Database string `env:"MONGO_DATABASE" envDefault:"concierge"`
		}

		Redis struct {
			// Addr connects to Redis. Empty selects the in-process guard.
			Addr string `env:"REDIS_ADDR"`
			// Password authenticates against Redis.
			Password string `env:"REDIS_PASSWORD"`
		}
	}
)

// LoadConfig reads the configuration from the environment, preferring an
// optional .env file for local development.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "openai":
		if c.OpenAI.APIKey == "" {
			return errors.New("OPENAI_API_KEY is required")
		}
		if c.OpenAI.AssistantID == "" {
			return errors.New("OPENAI_ASSISTANT_ID is required")
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required")
		}
	default:
		return fmt.Errorf("unsupported provider %q (valid providers: openai, anthropic)", c.Provider)
	}
	if c.Shopify.StoreDomain == "" {
		return errors.New("SHOPIFY_STORE is required")
	}
	if c.Shopify.AccessToken == "" {
		return errors.New("SHOPIFY_TOKEN is required")
	}
	if c.Recommender.Enabled && c.OpenAI.APIKey == "" {
		return errors.New("RECOMMENDER_ENABLED requires OPENAI_API_KEY")
	}
	return nil
}

// storefrontURL resolves the base URL used to build product links.
func (c *Config) storefrontURL() string {
	if c.Shopify.StorefrontURL != "" {
		return c.Shopify.StorefrontURL
	}
	return "https://" + c.Shopify.StoreDomain
}
