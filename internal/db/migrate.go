package db

import (
	"context"
	"fmt"
	"log/slog"
)

// LegacyPaymentColumn is the column older deployments used for the Stripe
// payment-intent id before payment_reference became the single lookup key.
const LegacyPaymentColumn = "stripe_payment_intent_id"

// PaymentRefMigration copies the legacy payment-intent column into
// payment_reference and drops it.
type PaymentRefMigration struct {
	db     DBTX
	logger *slog.Logger
}

// NewPaymentRefMigration creates the migration. Pass a transaction so the
// copy and the drop commit together.
func NewPaymentRefMigration(db DBTX, logger *slog.Logger) *PaymentRefMigration {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentRefMigration{db: db, logger: logger}
}

// MigrationReport summarizes one migration run.
type MigrationReport struct {
	LegacyColumnPresent bool
	Pending             int64
	Conflicts           int64
	Copied              int64
	Dropped             bool
}

// Run performs the migration. With dryRun set, it only counts what would
// change. Rows whose legacy value collides with another order's
// payment_reference abort the run.
func (m *PaymentRefMigration) Run(ctx context.Context, dryRun bool) (MigrationReport, error) {
	var report MigrationReport

	err := m.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'orders' AND column_name = $1
		)`,
		LegacyPaymentColumn,
	).Scan(&report.LegacyColumnPresent)
	if err != nil {
		return report, fmt.Errorf("inspect orders columns: %w", err)
	}
	if !report.LegacyColumnPresent {
		m.logger.InfoContext(ctx, "legacy payment column absent; nothing to migrate")
		return report, nil
	}

	err = m.db.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE o.payment_reference IS NULL AND o.`+LegacyPaymentColumn+` IS NOT NULL),
			COUNT(*) FILTER (WHERE o.payment_reference IS NULL AND EXISTS (
				SELECT 1 FROM orders d
				WHERE d.id <> o.id
				  AND (d.payment_reference = o.`+LegacyPaymentColumn+`
				       OR (d.payment_reference IS NULL AND d.`+LegacyPaymentColumn+` = o.`+LegacyPaymentColumn+`))
			))
		 FROM orders o`,
	).Scan(&report.Pending, &report.Conflicts)
	if err != nil {
		return report, fmt.Errorf("count pending rows: %w", err)
	}

	m.logger.InfoContext(ctx, "payment reference migration plan",
		slog.Int64("pending", report.Pending),
		slog.Int64("conflicts", report.Conflicts),
		slog.Bool("dry_run", dryRun),
	)

	if report.Conflicts > 0 {
		return report, fmt.Errorf("%d orders share a payment intent id; resolve duplicates before migrating", report.Conflicts)
	}
	if dryRun {
		return report, nil
	}

	tag, err := m.db.Exec(ctx,
		`UPDATE orders
		 SET payment_reference = `+LegacyPaymentColumn+`,
		     updated_at = NOW()
		 WHERE payment_reference IS NULL AND `+LegacyPaymentColumn+` IS NOT NULL`,
	)
	if err != nil {
		return report, fmt.Errorf("copy legacy payment ids: %w", err)
	}
	report.Copied = tag.RowsAffected()

	if _, err := m.db.Exec(ctx, `ALTER TABLE orders DROP COLUMN `+LegacyPaymentColumn); err != nil {
		return report, fmt.Errorf("drop legacy column: %w", err)
	}
	report.Dropped = true

	m.logger.InfoContext(ctx, "payment reference migration applied",
		slog.Int64("copied", report.Copied),
	)
	return report, nil
}
