package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/ruralpay/ledger-ingest/internal/config"
	"github.com/ruralpay/ledger-ingest/internal/database"
	"github.com/ruralpay/ledger-ingest/internal/logger"
	"github.com/ruralpay/ledger-ingest/internal/services"
	"github.com/ruralpay/ledger-ingest/internal/spapi"
)

type options struct {
	mock          bool
	real          bool
	scenario      string
	postedAfter   string
	marketplaceID string
	region        string
	sandbox       bool
	logLevel      string
	noDB          bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	cfg := config.LoadSPAPIConfig()

	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.BoolVar(&opts.mock, "mock", false, "Run against the scripted mock API (default when neither --mock nor --real is given)")
	fs.BoolVar(&opts.real, "real", false, "Run against the live API (requires LWA_* credentials)")
	fs.StringVar(&opts.scenario, "scenario", spapi.ScenarioOK, "Mock scenario: ok, empty, 401 or 429")
	fs.StringVar(&opts.postedAfter, "posted-after", "", "ISO-8601 UTC lower bound, e.g. 2025-08-23T00:00:00Z (default: now - 24h)")
	fs.StringVar(&opts.marketplaceID, "marketplace-id", cfg.MarketplaceID, "Marketplace id, e.g. ATVPDKIKX0DER")
	fs.StringVar(&opts.region, "region", cfg.Region, "API region: na, eu or fe")
	fs.BoolVar(&opts.sandbox, "sandbox", cfg.Sandbox, "Use the sandbox endpoint")
	fs.StringVar(&opts.logLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warning or error")
	fs.BoolVar(&opts.noDB, "no-db", false, "Validate only; do not connect to PostgreSQL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.mock && opts.real {
		return nil, errors.New("--mock and --real are mutually exclusive")
	}
	if !opts.real {
		opts.mock = true
	}
	return opts, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	log := logger.New(opts.logLevel)
	zlog.Logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	if err := ingest(ctx, opts, log, stdout); err != nil {
		log.Error().Err(err).Msg("Ingestion failed")
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func ingest(ctx context.Context, opts *options, log zerolog.Logger, stdout io.Writer) error {
	cfg := config.LoadSPAPIConfig()
	cfg.Region = opts.region
	cfg.Sandbox = opts.sandbox
	if err := cfg.Validate(); err != nil {
		return err
	}

	events := logger.NewEvents(log)
	mode := "real"
	if opts.mock {
		mode = "mock"
	}
	log.Info().Str("mode", mode).Str("scenario", opts.scenario).Str("region", cfg.Region).Bool("sandbox", cfg.Sandbox).Msg("Starting ingestion")

	var cache spapi.TokenCache
	if !opts.mock {
		if err := cfg.RequireCredentials(); err != nil {
			return err
		}
		if rdb := database.InitRedis(ctx); rdb != nil {
			defer rdb.Close()
			cache = spapi.NewRedisTokenCache(rdb)
		}
	}

	client, err := cfg.NewClient(opts.mock, opts.scenario, cache, events)
	if err != nil {
		return err
	}

	var store services.TransactionRepository
	if !opts.noDB {
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		store = services.NewTransactionStore(db, nil, events)
	}

	svc := services.NewIngestionService(client, store, events, nil)
	summary, err := svc.Run(ctx, services.RunOptions{
		Mode:          mode,
		PostedAfter:   opts.postedAfter,
		MarketplaceID: opts.marketplaceID,
	})
	printSummary(stdout, summary)
	return err
}

func openStore(ctx context.Context) (*sql.DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := database.InitDB(connectCtx, database.GetConfig())
	if err != nil {
		return nil, err
	}
	if err := database.EnsureTransactionSchema(connectCtx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func printSummary(w io.Writer, s *services.RunSummary) {
	if s == nil {
		return
	}
	fmt.Fprintf(w, "Run %s (%s) posted after %s\n", s.RunID, s.Mode, s.PostedAfter)
	fmt.Fprintf(w, "  fetched %d, valid %d, rejected %d, written %d\n", s.Fetched, s.Valid, s.Rejected, s.Written)
	if s.Note != "" {
		fmt.Fprintf(w, "  note: %s\n", s.Note)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}

	const shown = 3
	for i, tx := range s.Persisted {
		if i == shown {
			fmt.Fprintf(w, "  ... and %d more\n", len(s.Persisted)-shown)
			break
		}
		amount := "-"
		if tx.Amount.Valid {
			amount = tx.Amount.Decimal.StringFixed(2)
		}
		fmt.Fprintf(w, "  - %s: %s %s %s\n", tx.TransactionID, deref(tx.Type), amount, deref(tx.CurrencyCode))
	}
	fmt.Fprintf(w, "  took %s\n", s.Duration.Round(time.Millisecond))
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
