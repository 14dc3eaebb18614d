// Command concierge serves the retail chat concierge API: it streams
// assistant replies to browsers while intercepting catalog tool calls and
// splicing resolved product answers into the stream.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisdriver "github.com/redis/go-redis/v9"
	openaisdk "github.com/sashabaranov/go-openai"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"

	admissionredis "github.com/retailstream/concierge/features/admission/redis"
	"github.com/retailstream/concierge/features/catalog/shopify"
	provideranthropic "github.com/retailstream/concierge/features/provider/anthropic"
	provideropenai "github.com/retailstream/concierge/features/provider/openai"
	recommendopenai "github.com/retailstream/concierge/features/recommend/openai"
	sessionmongo "github.com/retailstream/concierge/features/session/mongo"
	"github.com/retailstream/concierge/runtime/chat/admission"
	admissioninmem "github.com/retailstream/concierge/runtime/chat/admission/inmem"
	"github.com/retailstream/concierge/runtime/chat/dispatch"
	"github.com/retailstream/concierge/runtime/chat/pipeline"
	"github.com/retailstream/concierge/runtime/chat/provider"
	"github.com/retailstream/concierge/runtime/chat/session"
	sessioninmem "github.com/retailstream/concierge/runtime/chat/session/inmem"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Hour
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf(ctx, err, "loading configuration")
	}
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	log.Print(ctx, log.KV{K: "provider", V: cfg.Provider}, log.KV{K: "http-port", V: cfg.HTTPPort})

	prov, err := buildProvider(cfg)
	if err != nil {
		log.Fatalf(ctx, err, "building provider client")
	}

	catalogClient, err := shopify.New(shopify.Options{
		StoreDomain: cfg.Shopify.StoreDomain,
		AccessToken: cfg.Shopify.AccessToken,
	})
	if err != nil {
		log.Fatalf(ctx, err, "building catalog client")
	}

	dispatchOpts := dispatch.Options{
		Catalog:       catalogClient,
		StorefrontURL: cfg.storefrontURL(),
	}
	if cfg.Recommender.Enabled {
		rec, err := recommendopenai.New(recommendopenai.Options{
			Chat:          openaisdk.NewClient(cfg.OpenAI.APIKey),
			Model:         cfg.Recommender.Model,
			StorefrontURL: cfg.storefrontURL(),
		})
		if err != nil {
			log.Fatalf(ctx, err, "building recommender")
		}
		dispatchOpts.Recommender = rec
	}
	dispatcher, err := dispatch.New(dispatchOpts)
	if err != nil {
		log.Fatalf(ctx, err, "building dispatcher")
	}

	sessions, pingers, cleanup := buildSessions(ctx, cfg)
	defer cleanup()

	guard, err := buildGuard(ctx, cfg)
	if err != nil {
		log.Fatalf(ctx, err, "building admission guard")
	}

	splicer, err := pipeline.New(
		pipeline.WithProvider(prov),
		pipeline.WithSessions(sessions),
		pipeline.WithGuard(guard),
		pipeline.WithDispatcher(dispatcher),
	)
	if err != nil {
		log.Fatalf(ctx, err, "building pipeline")
	}

	handler := newHandler(ctx, &server{
		splicer:  splicer,
		provider: prov,
		sessions: sessions,
		origin:   cfg.AllowedOrigin,
	}, health.NewChecker(pingers...), cfg.Debug)

	srv := &http.Server{
		Addr:    net.JoinHostPort("", cfg.HTTPPort),
		Handler: handler,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		log.Printf(ctx, "listening on :%s", cfg.HTTPPort)
		errc <- srv.ListenAndServe()
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	sctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Errorf(ctx, err, "shutting down HTTP server")
	}
	log.Printf(ctx, "exited")
}

func buildProvider(cfg *Config) (provider.Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return provideranthropic.NewFromAPIKey(cfg.Anthropic.APIKey, provideranthropic.Options{
			Model:        cfg.Anthropic.Model,
			SystemPrompt: cfg.Anthropic.SystemPrompt,
			MaxTokens:    cfg.Anthropic.MaxTokens,
		})
	default:
		return provideropenai.New(provideropenai.Options{
			APIKey:      cfg.OpenAI.APIKey,
			AssistantID: cfg.OpenAI.AssistantID,
			BaseURL:     cfg.OpenAI.BaseURL,
		})
	}
}

// buildSessions selects the Mongo store when configured and falls back to
// the in-memory store with a periodic inactivity sweep otherwise.
func buildSessions(ctx context.Context, cfg *Config) (session.Store, []health.Pinger, func()) {
	if cfg.Mongo.URI == "" {
		store := sessioninmem.New()
		stop := make(chan struct{})
		go func() {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					if n := store.Sweep(time.Now().Add(-session.InactivityWindow)); n > 0 {
						log.Printf(ctx, "swept %d inactive conversations", n)
					}
				}
			}
		}()
		return store, nil, func() { close(stop) }
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongodriver.Connect(cctx, mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.Fatalf(ctx, err, "connecting to MongoDB")
	}
	store, err := sessionmongo.New(sessionmongo.Options{
		Client:   client,
		Database: cfg.Mongo.Database,
	})
	if err != nil {
		log.Fatalf(ctx, err, "building Mongo session store")
	}
	cleanup := func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(dctx); err != nil {
			log.Errorf(ctx, err, "disconnecting from MongoDB")
		}
	}
	return store, []health.Pinger{store}, cleanup
}

// buildGuard selects the Redis guard when configured so concurrent service
// instances share turn admission, and the in-process guard otherwise.
func buildGuard(_ context.Context, cfg *Config) (admission.Guard, error) {
	if cfg.Redis.Addr == "" {
		return admissioninmem.New(), nil
	}
	client := redisdriver.NewClient(&redisdriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	return admissionredis.New(admissionredis.Options{Client: client})
}
