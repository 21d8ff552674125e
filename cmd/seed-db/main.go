package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floracart/checkout-server/internal/app"
	"github.com/floracart/checkout-server/internal/repository"
)

const (
	upsertProductSQL = `INSERT INTO products (id, title, unit_price, currency)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET title = $2, unit_price = $3, currency = $4`

	upsertDiscountSQL = `INSERT INTO discounts (code, kind, value, title, item_ids, automatic, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (code) DO UPDATE SET kind = $2, value = $3, title = $4, item_ids = $5, automatic = $6, active = TRUE`
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedDiscounts(ctx, pool); err != nil {
		return errors.Wrap(err, "seed discounts")
	}
	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) error {
	items, err := app.LoadSeedCatalog()
	if err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(items)))

	for _, it := range items {
		if _, err := pool.Exec(ctx, upsertProductSQL, it.ID, it.Title, it.UnitPrice, it.Currency); err != nil {
			return errors.Wrapf(err, "upsert product %s", it.ID)
		}
		slog.Info("upserted product", slog.String("id", it.ID), slog.String("title", it.Title))
	}
	return nil
}

func seedDiscounts(ctx context.Context, pool *pgxpool.Pool) error {
	rules, err := app.LoadSeedRules()
	if err != nil {
		return err
	}

	slog.Info("upserting discounts", slog.Int("count", len(rules)))

	for _, r := range rules {
		itemIDs := r.ItemIDs
		if itemIDs == nil {
			itemIDs = []string{}
		}
		if _, err := pool.Exec(ctx, upsertDiscountSQL, r.Code, string(r.Kind), r.Value, r.Title, itemIDs, r.Automatic); err != nil {
			return errors.Wrapf(err, "upsert discount %s", r.Code)
		}
		slog.Info("upserted discount", slog.String("code", r.Code), slog.String("title", r.Title))
	}
	return nil
}
