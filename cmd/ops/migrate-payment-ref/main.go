// Package main implements the one-shot migration that moves legacy Stripe
// payment-intent ids into orders.payment_reference.
//
// Usage:
//
//	go run ./cmd/ops/migrate-payment-ref --dry-run
//	go run ./cmd/ops/migrate-payment-ref --env=prod
//
// The tool performs the following:
//  1. Loads DATABASE_URL and the pool settings from the environment (.env honoured).
//  2. If --env=prod and not a dry run, requires explicit confirmation ("yes").
//  3. Runs db.PaymentRefMigration inside one transaction.
//  4. Commits, or rolls back on a dry run or any error.
//  5. Prints the migration report.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"storefront/internal/config"
	"storefront/internal/db"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Count affected orders without changing anything")
	envFlag := flag.String("env", "local", "Target environment (local/dev/staging/prod)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Storefront payment reference migration\n\n")
		fmt.Fprintf(os.Stderr, "Copies orders.%s into orders.payment_reference and drops the legacy column.\n\n", db.LegacyPaymentColumn)
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  migrate-payment-ref [--dry-run] [--env=ENV]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *envFlag == "prod" && !*dryRun {
		if !confirm(os.Stdin, os.Stderr) {
			fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
			os.Exit(0)
		}
	}

	report, err := run(ctx, *dryRun, logger)
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	printReport(os.Stdout, report, *dryRun)
}

// run connects to the database and executes the migration in a transaction.
func run(ctx context.Context, dryRun bool, logger *slog.Logger) (db.MigrationReport, error) {
	// Does NOT override variables already present in the environment.
	_ = godotenv.Load()

	var dbCfg config.DatabaseConfig
	if err := envconfig.Process("", &dbCfg); err != nil {
		return db.MigrationReport{}, fmt.Errorf("loading database configuration: %w", err)
	}
	if dbCfg.URL.IsEmpty() {
		return db.MigrationReport{}, fmt.Errorf("DATABASE_URL is required")
	}

	pool, err := db.NewPool(ctx, dbCfg)
	if err != nil {
		return db.MigrationReport{}, err
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return db.MigrationReport{}, fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	report, err := db.NewPaymentRefMigration(tx, logger).Run(ctx, dryRun)
	if err != nil {
		return report, err
	}
	if dryRun {
		return report, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return report, fmt.Errorf("commit migration: %w", err)
	}
	return report, nil
}

// confirm asks the operator to type "yes" before touching production.
func confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprintf(out, "You are about to migrate PRODUCTION orders and drop orders.%s.\n", db.LegacyPaymentColumn)
	fmt.Fprint(out, "Type 'yes' to continue: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.TrimSpace(strings.ToLower(line)) == "yes"
}

// printReport writes a human-readable summary of report.
func printReport(w io.Writer, report db.MigrationReport, dryRun bool) {
	if !report.LegacyColumnPresent {
		fmt.Fprintf(w, "orders.%s does not exist; nothing to migrate.\n", db.LegacyPaymentColumn)
		return
	}
	if dryRun {
		fmt.Fprintf(w, "DRY RUN: %d orders would be updated (%d conflicts).\n", report.Pending, report.Conflicts)
		return
	}
	fmt.Fprintf(w, "Updated %d orders.\n", report.Copied)
	if report.Dropped {
		fmt.Fprintf(w, "Dropped orders.%s.\n", db.LegacyPaymentColumn)
	}
}
