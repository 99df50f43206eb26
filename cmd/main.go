package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"concierge-agent/handler"
	"concierge-agent/internal/history"
	"concierge-agent/internal/integrations/openai"
	"concierge-agent/internal/integrations/paramstore"
	"concierge-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	historyTable := mustEnv("HISTORY_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	endpoint := os.Getenv("DYNAMODB_ENDPOINT")
	maxQuestionLen := envInt("MAX_QUESTION_LENGTH", 2000)
	keepMessages := envInt("HISTORY_KEEP_MESSAGES", 0)

	opts := history.Options{
		MaxMessagesToRetrieve: envInt("MAX_MESSAGES_TO_RETRIEVE", 0),
		MessageTTL:            time.Duration(envInt("MESSAGE_TTL_SECONDS", 86400)) * time.Second,
		Policy:                history.Policy(envDefault("REDUCTION_POLICY", string(history.PolicyClear))),
		TenantID:              os.Getenv("TENANT_ID"),
		UserID:                os.Getenv("USER_ID"),
		Capabilities:          history.DetectCapabilities(endpoint),
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg, func(o *awsdynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	repo, err := history.NewRepository(dynamoClient, historyTable, opts)
	if err != nil {
		slog.Error("failed to create history repository", "err", err)
		os.Exit(1)
	}

	var reducer history.Reducer
	if keepMessages > 0 {
		reducer = history.TailReducer{Keep: keepMessages}
	}
	factory, err := history.NewProviderFactory(repo, opts, reducer)
	if err != nil {
		slog.Error("failed to create history provider factory", "err", err)
		os.Exit(1)
	}

	llmClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create LLM client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	providerFor := func(conversationID string) (usecase.HistoryProvider, error) {
		return factory.ProviderFor(conversationID)
	}
	turnService, err := usecase.NewTurnService(ssmClient, llmClient, providerFor, paramPrefix, maxQuestionLen)
	if err != nil {
		slog.Error("failed to create turn service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(turnService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
