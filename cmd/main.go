package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"bot-relay/handler"
	"bot-relay/internal/integrations/mercadopago"
	"bot-relay/internal/integrations/paramstore"
	"bot-relay/internal/integrations/twilio"
	"bot-relay/internal/repository"
	"bot-relay/internal/usecase"
)

func main() {
	ctx := context.Background()

	// A local .env is optional; Lambda gets its environment from the function config.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	defaultTenantID := os.Getenv("DEFAULT_TENANT_ID")
	whatsappNumber := os.Getenv("TWILIO_WHATSAPP_NUMBER")
	smsNumber := os.Getenv("TWILIO_SMS_NUMBER")
	appBaseURL := os.Getenv("APP_BASE_URL")
	timezone := envString("TIMEZONE", "America/Sao_Paulo")
	sendRate := envFloat("TWILIO_SEND_RATE", 1)

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		slog.Error("invalid TIMEZONE", "timezone", timezone, "err", err)
		os.Exit(1)
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
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable, repository.WithLocation(loc))
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}
	twilioClient, err := twilio.NewClient(ssmClient, paramPrefix, twilio.WithRateLimit(sendRate, 1))
	if err != nil {
		slog.Error("failed to create Twilio client", "err", err)
		os.Exit(1)
	}
	mpClient, err := mercadopago.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create Mercado Pago client", "err", err)
		os.Exit(1)
	}

	// ---- Use cases ----
	tenants, err := usecase.NewTenantResolver(defaultTenantID, store)
	if err != nil {
		slog.Error("failed to create tenant resolver", "err", err)
		os.Exit(1)
	}
	bots, err := usecase.NewBotSelector(store)
	if err != nil {
		slog.Error("failed to create bot selector", "err", err)
		os.Exit(1)
	}
	inbound, err := usecase.NewInboundService(tenants, bots, store)
	if err != nil {
		slog.Error("failed to create inbound service", "err", err)
		os.Exit(1)
	}
	sender, err := usecase.NewSendService(twilioClient, whatsappNumber, smsNumber)
	if err != nil {
		slog.Error("failed to create send service", "err", err)
		os.Exit(1)
	}
	payments, err := usecase.NewPixService(mpClient, appBaseURL)
	if err != nil {
		slog.Error("failed to create pix service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(&handler.Deps{
		Inbound:  inbound,
		Send:     sender,
		Payments: payments,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	slog.Info("bot relay ready", "tenant_mode", tenantMode(defaultTenantID), "timezone", loc.String())
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

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func logLevel(v string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func tenantMode(defaultTenantID string) string {
	if strings.TrimSpace(defaultTenantID) != "" {
		return "fixed"
	}
	return "directory"
}
