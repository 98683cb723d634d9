package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/moto-storefront/internal/notify"
	"github.com/xenking/moto-storefront/internal/replay"
	"github.com/xenking/moto-storefront/internal/storage/postgres"
	"github.com/xenking/moto-storefront/internal/webhook"
)

func main() {
	var (
		databaseURL string
		capacity    uint
		fpr         float64
		timeout     time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&capacity, "capacity", 1_000_000, "expected events per archive")
	flag.Float64Var(&fpr, "fpr", 0.001, "duplicate filter false positive rate")
	flag.DurationVar(&timeout, "timeout", 8*time.Second, "per-event reconciliation timeout")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: replay-events [flags] archive.ndjson.gz...\n")
		flag.PrintDefaults()
	}
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
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	stats, err := run(ctx, databaseURL, flag.Args(), replay.Options{Capacity: capacity, FalsePositiveRate: fpr}, timeout)
	if err != nil {
		lg.Fatal("Replay failed", zap.Error(err))
	}
	lg.Info("Replay completed",
		zap.Int("events", stats.Events),
		zap.Int("applied", stats.Applied),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("unmatched", stats.Unmatched),
		zap.Int("ignored", stats.Ignored),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("malformed", stats.Malformed),
	)
}

func run(ctx context.Context, databaseURL string, files []string, opts replay.Options, timeout time.Duration) (replay.Stats, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return replay.Stats{}, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	notifier := notify.NewDispatcher(ctx, notify.LogSink, notify.Config{Timeout: time.Second, Concurrency: 16})
	defer func() {
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = notifier.Wait(waitCtx)
	}()

	d := webhook.NewDispatcher()
	webhook.NewReconciler(postgres.NewOrderRepository(pool), notifier, webhook.WithTimeout(timeout)).Register(d)

	return replay.New(d, opts).Run(ctx, files)
}
