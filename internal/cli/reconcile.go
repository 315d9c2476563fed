package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/internal/repository"
	"github.com/noah-isme/coursemart-api/internal/service"
	"github.com/noah-isme/coursemart-api/pkg/config"
	"github.com/noah-isme/coursemart-api/pkg/database"
	"github.com/noah-isme/coursemart-api/pkg/payment"
)

// Reconciler replays stored payment events that were never projected.
type Reconciler interface {
	Reconcile(ctx context.Context, limit int) (*models.ReplaySummary, error)
}

// ReconcilerFactory builds a Reconciler and a cleanup func from configuration.
type ReconcilerFactory func(rootOpts *RootOptions) (Reconciler, func(), error)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return newReconcileCommand(rootOpts, databaseReconciler)
}

func newReconcileCommand(rootOpts *RootOptions, factory ReconcilerFactory) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Project payment events that are stored but not yet processed",
		Long: `Reads unprocessed payment events oldest first and runs each through the
purchase pipeline synchronously. Events that already granted access are skipped.

Exit status is non-zero when any event fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reconciler, cleanup, err := factory(rootOpts)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := reconciler.Reconcile(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "scanned %d, processed %d, failed %d\n", summary.Scanned, summary.Processed, summary.Failed)
				for _, ref := range summary.FailedRef {
					fmt.Fprintf(out, "  failed: %s\n", ref)
				}
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d payment event(s) failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 500, "maximum events to process")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func databaseReconciler(rootOpts *RootOptions) (Reconciler, func(), error) {
	cfg := rootOpts.cfg
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	logr := rootOpts.logger
	validate := validator.New()
	metrics := service.NewMetricsService()
	courses := repository.NewCourseRepository(db)
	checkouts := repository.NewCheckoutRepository(db)

	purchases := service.NewPurchaseService(
		repository.NewPurchaseRepository(db),
		checkouts,
		courses,
		remoteVerifier(cfg),
		validate,
		metrics,
		logr,
		service.PurchaseConfig{DefaultCurrency: cfg.Catalog.DefaultCurrency},
	)
	events := service.NewPaymentEventService(
		repository.NewPaymentEventRepository(db),
		purchases,
		payment.NewVerifier(cfg.Payment.SecretHash, cfg.Payment.SigningSecret),
		metrics,
		logr,
	)
	return events, func() { _ = db.Close() }, nil
}

type referenceVerifier interface {
	VerifyByReference(ctx context.Context, txRef string) (*payment.Verification, error)
}

// remoteVerifier returns a nil interface when gateway verification is off.
func remoteVerifier(cfg *config.Config) referenceVerifier {
	if !cfg.Payment.VerifyRemote {
		return nil
	}
	return payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.Timeout, nil)
}
