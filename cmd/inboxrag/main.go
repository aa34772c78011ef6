// Package main runs the inbox RAG service: mail ingestion pollers, the
// background index worker, and the HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors"
	"github.com/joho/godotenv"

	"github.com/mailwise/inboxrag/internal/answer"
	"github.com/mailwise/inboxrag/internal/bedrock"
	"github.com/mailwise/inboxrag/internal/config"
	"github.com/mailwise/inboxrag/internal/gmail"
	"github.com/mailwise/inboxrag/internal/httpapi"
	"github.com/mailwise/inboxrag/internal/indexer"
	"github.com/mailwise/inboxrag/internal/lifecycle"
	"github.com/mailwise/inboxrag/internal/logging"
	"github.com/mailwise/inboxrag/internal/poller"
	"github.com/mailwise/inboxrag/internal/querycache"
	"github.com/mailwise/inboxrag/internal/retrieval"
	"github.com/mailwise/inboxrag/internal/store"
	"github.com/mailwise/inboxrag/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("FATAL: configuration invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("FATAL: service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Relational store.
	if err := store.Migrate(cfg.Database.DSN); err != nil {
		return err
	}
	db, err := store.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	users := db.Users()
	messages := db.Messages()

	// AWS clients: vector store + Bedrock models.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return err
	}
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	embedder := bedrock.NewEmbeddingClient(bedrockClient, cfg.Bedrock.EmbedModelID)
	llm := bedrock.NewChatClient(bedrockClient, cfg.Bedrock.LLMModelID)
	vectors := vectorstore.NewS3VectorsClient(s3vectors.NewFromConfig(awsCfg), cfg.Vector.BucketName)

	// Retrieval and answering.
	cache := querycache.New[[]retrieval.Result](cfg.RAG.CacheTTL)
	retriever := retrieval.New(vectors, embedder, cache, log)
	answerer := answer.New(retriever, llm, answer.Config{
		MaxContextTokens:  cfg.RAG.MaxContextTokens,
		MaxResponseTokens: cfg.Bedrock.MaxResponseTokens,
		RateLimitCooldown: cfg.RAG.RateLimitCooldown,
	}, log)

	// Index lifecycle.
	ix := indexer.New(messages, vectors, embedder, cache, cfg.RAG.ChunkSize, log)
	manager := lifecycle.New(ix, retriever, answerer, lifecycle.Config{
		ReindexInterval: cfg.RAG.ReindexInterval,
		RetryDelay:      cfg.RAG.RetryDelay,
		MaxRetries:      cfg.RAG.MaxRetries,
	}, log)
	manager.Start(ctx)
	defer manager.Stop()

	// Mail ingestion pollers, one per authenticated user.
	gmailCfg := gmail.Config{ClientID: cfg.Gmail.ClientID, ClientSecret: cfg.Gmail.ClientSecret}
	newClient := func(ctx context.Context, user store.User) (*gmail.Client, error) {
		saveToken := func(ctx context.Context, accessToken string, expiry time.Time) error {
			return users.UpdateAccessToken(ctx, user.ID, accessToken)
		}
		return gmail.NewClient(ctx, gmailCfg, user, saveToken, log)
	}

	runner := poller.NewRunner(
		func(ctx context.Context, user store.User) (poller.Provider, error) {
			return newClient(ctx, user)
		},
		messages, manager, cfg.RAG.PollingInterval, log)
	defer runner.Close()

	authenticated, err := users.ListAuthenticated(ctx)
	if err != nil {
		return err
	}
	for _, user := range authenticated {
		runner.Watch(ctx, user)
		if err := manager.RequestIndex(user); err != nil {
			log.Warn("Could not queue initial index", slog.String("user", user.Email))
		}
	}
	log.Info("Watching mailboxes", slog.Int("users", len(authenticated)))

	// HTTP API.
	api := httpapi.NewServer(users, manager, answerer, messages,
		func(ctx context.Context, user store.User) (httpapi.Mailer, error) {
			return newClient(ctx, user)
		},
		cache, log)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", slog.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
