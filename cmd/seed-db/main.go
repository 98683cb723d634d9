package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/moto-storefront/db"
	"github.com/xenking/moto-storefront/internal/domain/product"
	"github.com/xenking/moto-storefront/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		productsFile string
		parallelism  int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to products JSON file (defaults to the embedded catalog)")
	flag.IntVar(&parallelism, "parallelism", 4, "concurrent upserts")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile, parallelism); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile string, parallelism int) error {
	catalog, err := loadCatalog(lg, productsFile)
	if err != nil {
		return err
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products := postgres.NewProductRepository(pool)
	lg.Info("Upserting products", zap.Int("count", len(catalog)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallelism, 1))
	for _, p := range catalog {
		g.Go(func() error {
			if err := products.Upsert(ctx, p); err != nil {
				return errors.Wrapf(err, "upsert product %s", p.ID)
			}
			lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("price", p.Price.StringFixed(2)))
			return nil
		})
	}
	return g.Wait()
}

func loadCatalog(lg *zap.Logger, path string) ([]product.Product, error) {
	data := db.Products
	if path != "" {
		lg.Info("Reading products file", zap.String("path", path))
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrap(err, "read products file")
		}
	}
	catalog, err := product.ParseCatalog(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse products")
	}
	return catalog, nil
}
