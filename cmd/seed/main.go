package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"bot-relay/internal/domain"
	"bot-relay/internal/repository"
	"bot-relay/internal/usecase"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		table       string
		catalogPath string
		plan        string
		clearWA     bool
		clearSMS    bool
		opts        seedOptions
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision a tenant with the demo bot catalog",
		Long: "seed creates or updates a tenant profile, its dashboard summary and the demo bots.\n" +
			"Existing bots are left untouched unless --force-bots is given, and routed numbers\n" +
			"are kept unless replaced or cleared with --clear-whatsapp / --clear-sms.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if table == "" {
				return errors.New("--table or STATE_TABLE is required")
			}
			catalog, err := loadCatalog(catalogPath)
			if err != nil {
				return err
			}
			opts.Catalog = catalog
			opts.Tenant.Plan = domain.PlanID(plan)
			opts.Tenant.ClearNumbers = clearChannels(clearWA, clearSMS)

			reg, err := newRegistry(cmd.Context(), table)
			if err != nil {
				return err
			}
			report, err := seed(cmd.Context(), reg, opts)
			if err != nil {
				return err
			}
			slog.Info("tenant seeded",
				"tenant_id", report.Tenant.ID,
				"plan", report.Tenant.Plan,
				"bots_written", len(report.Written),
				"bots_skipped", len(report.Skipped),
				"selected", len(report.Selected),
			)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&table, "table", os.Getenv("STATE_TABLE"), "DynamoDB table name")
	f.StringVar(&catalogPath, "catalog", "", "bot catalog TOML file (defaults to the embedded catalog)")
	f.StringVar(&opts.Tenant.ID, "tenant", "", "tenant id")
	f.StringVar(&opts.Tenant.Email, "email", "", "tenant contact email")
	f.StringVar(&plan, "plan", string(domain.PlanStarter), "billing plan: starter, pro or business")
	f.StringVar(&opts.Tenant.WhatsAppNumber, "whatsapp", "", "WhatsApp number routed to this tenant")
	f.StringVar(&opts.Tenant.SMSNumber, "sms", "", "SMS number routed to this tenant")
	f.BoolVar(&clearWA, "clear-whatsapp", false, "remove the routed WhatsApp number when --whatsapp is not given")
	f.BoolVar(&clearSMS, "clear-sms", false, "remove the routed SMS number when --sms is not given")
	f.StringSliceVar(&opts.Select, "select", nil, "bot names to enable and select")
	f.BoolVar(&opts.ForceBots, "force-bots", false, "rewrite catalog bots that already exist")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func clearChannels(whatsapp, sms bool) []domain.Channel {
	var out []domain.Channel
	if whatsapp {
		out = append(out, domain.ChannelWhatsApp)
	}
	if sms {
		out = append(out, domain.ChannelSMS)
	}
	return out
}

func newRegistry(ctx context.Context, table string) (*usecase.RegistryService, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), table)
	if err != nil {
		return nil, err
	}
	return usecase.NewRegistryService(store)
}
