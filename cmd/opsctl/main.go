// opsctl runs maintenance tasks against the manufacturing database.
//
// Usage (from backend directory, same DB_* env as the server):
//
//	go run ./cmd/opsctl migrate
//	go run ./cmd/opsctl --business <id> seed testdata/workshop.yaml
//	go run ./cmd/opsctl --business <id> produce 42
//	go run ./cmd/opsctl --business <id> pick-list 42 pick-list.xlsx
//	go run ./cmd/opsctl outbox-dispatch
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/models/reports"
	"github.com/smallbiz/ops_backend/utils"
	"github.com/smallbiz/ops_backend/workflow"
	"github.com/spf13/cobra"
)

var (
	businessId string
	userName   string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "opsctl",
		Short:         "Maintenance commands for manufacturing orders and inventory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if config.GetDB() == nil {
				config.ConnectDatabaseWithRetry()
			}
		},
	}
	root.PersistentFlags().StringVar(&businessId, "business", os.Getenv("OPSCTL_BUSINESS_ID"), "business id to act as")
	root.PersistentFlags().StringVar(&userName, "user", "opsctl", "user name recorded in history")

	root.AddCommand(migrateCmd(), seedCmd(), produceCmd(), pickListCmd(), dispatchCmd())
	return root
}

// businessContext builds the request-like context every models call expects.
func businessContext() (context.Context, error) {
	if businessId == "" {
		return nil, errors.New("--business is required")
	}
	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, businessId)
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, userName)
	return ctx, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := models.AutoMigrate(config.GetDB()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load products, projects and orders from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := businessContext()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fixture, err := parseFixture(data)
			if err != nil {
				return err
			}
			summary, err := fixture.apply(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products, %d projects, %d orders\n", summary.products, summary.projects, summary.orders)
			return nil
		},
	}
}

func produceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "produce <order id>",
		Short: "Complete a manufacturing order, consuming its components",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := businessContext()
			if err != nil {
				return err
			}
			orderId, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			result, err := models.ProduceManufacturingOrder(ctx, orderId)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s completed, product %d +%s\n", result.Order.DisplayNumber(), result.FinishedProductId, result.FinishedQty.String())
			for _, c := range result.Consumed {
				fmt.Fprintf(out, "  consumed %s x %s\n", c.ProductName, c.Qty.String())
			}
			return nil
		},
	}
}

func pickListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pick-list <order id> <out.xlsx>",
		Short: "Export the order's resolved BOM as a spreadsheet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := businessContext()
			if err != nil {
				return err
			}
			orderId, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			f, err := reports.ExportPickList(ctx, orderId, models.NewProductReader(config.GetDB(), businessId))
			if err != nil {
				return err
			}
			defer f.Close()
			return f.SaveAs(args[1])
		},
	}
}

func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outbox-dispatch",
		Short: "Publish one batch of pending outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.PubSubConfigured() {
				return errors.New("PUBSUB_TOPIC/PUBSUB_PROJECT_ID not set")
			}
			defer config.ClosePubSub()
			d := workflow.NewOutboxDispatcher(config.GetDB(), config.GetLogger(), workflow.PubSubPublisher{})
			sent := d.DispatchOnce(config.WithoutTenantScope(context.Background()))
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d events\n", sent)
			return nil
		},
	}
}
