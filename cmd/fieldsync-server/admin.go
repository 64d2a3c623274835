package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcus/fieldsync/internal/api"
	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/ledger"
	"github.com/marcus/fieldsync/internal/projector"
)

func runSubcommand(cfg api.Config, name string, args []string) int {
	switch name {
	case "sweep":
		return runSweep(cfg, args)
	case "migrate":
		return runMigrate(cfg, args)
	case "seed-demo":
		return runSeedDemo(cfg, args)
	case "rules":
		return runRules(cfg, args)
	case "version":
		fmt.Printf("fieldsync-server %s\n", Version)
		return 0
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", name)
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: fieldsync-server [command] [flags]

With no command the server starts and listens on SYNC_LISTEN_ADDR.

Commands:
  sweep       Delete synced ledger rows older than the retention window
  migrate     Create or upgrade the ledger schema and exit
  seed-demo   Create the source schema and load a small demo data set
  rules       Print the active relevance rules as YAML
  version     Print the server version`)
}

func openLedger(path string) (*ledger.Ledger, bool) {
	store, err := ledger.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open ledger: %v\n", err)
		return nil, false
	}
	return store, true
}

func runSweep(cfg api.Config, args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	days := fs.Int("days", cfg.RetentionDays(), "maximum age in days of synced rows to keep")
	dbPath := fs.String("db", cfg.LedgerDBPath, "path to ledger.db")
	fs.Parse(args)

	store, ok := openLedger(*dbPath)
	if !ok {
		return 1
	}
	defer store.Close()

	sweeper := engine.NewSweeper(store, engine.SweeperOptions{RetentionDays: *days})
	deleted, err := sweeper.Sweep(context.Background(), *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("deleted %d synced rows older than %d days\n", deleted, *days)
	return 0
}

func runMigrate(cfg api.Config, args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", cfg.LedgerDBPath, "path to ledger.db")
	fs.Parse(args)

	// Open applies pending migrations.
	store, ok := openLedger(*dbPath)
	if !ok {
		return 1
	}
	defer store.Close()

	fmt.Printf("ledger %s at schema version %d\n", store.Path(), store.SchemaVersion())
	return 0
}

func runSeedDemo(cfg api.Config, args []string) int {
	fs := flag.NewFlagSet("seed-demo", flag.ExitOnError)
	driver := fs.String("driver", cfg.SourceDriver, "source driver (sqlite or sqlite3)")
	dsn := fs.String("dsn", cfg.SourceDSN, "source data source name")
	fs.Parse(args)

	if *dsn != ":memory:" && !strings.HasPrefix(*dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(*dsn), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "error: create source dir: %v\n", err)
			return 1
		}
	}

	db, err := projector.OpenSource(*driver, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer db.Close()

	n, err := seedDemo(context.Background(), db, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("seeded %d demo rows into %s\n", n, *dsn)
	return 0
}

func runRules(cfg api.Config, args []string) int {
	fs := flag.NewFlagSet("rules", flag.ExitOnError)
	path := fs.String("file", cfg.RulesFile, "rules file to validate and print (default: built-in rules)")
	fs.Parse(args)

	rules := projector.DefaultRules()
	if *path != "" {
		loaded, err := projector.LoadRules(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		rules = loaded
	}
	out, err := projector.MarshalRules(rules)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	os.Stdout.Write(out)
	return 0
}

// seedDemo creates the source schema and inserts two technicians with
// customers, interventions, projects and sales documents spread around now.
// Existing rows are kept. It returns the number of rows written.
func seedDemo(ctx context.Context, db *sql.DB, now time.Time) (int, error) {
	if _, err := db.ExecContext(ctx, projector.SourceSchema); err != nil {
		return 0, fmt.Errorf("create source schema: %w", err)
	}

	at := func(d time.Duration) string {
		return now.Add(d).UTC().Format("2006-01-02T15:04:05Z")
	}
	day := 24 * time.Hour

	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT OR IGNORE INTO devices (device_id, technician_id, territory, latitude, longitude, radius_km) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{"tablet-north-01", "tech-ana", "north", 48.8566, 2.3522, 25.0}},
		{`INSERT OR IGNORE INTO devices (device_id, technician_id, territory) VALUES (?, ?, ?)`,
			[]any{"tablet-south-01", "tech-ben", "south"}},

		{`INSERT OR IGNORE INTO customers (id, name, territory, latitude, longitude) VALUES (?, ?, ?, ?, ?)`,
			[]any{"cust-100", "Boulangerie Martin", "north", 48.8606, 2.3376}},
		{`INSERT OR IGNORE INTO customers (id, name, territory, latitude, longitude) VALUES (?, ?, ?, ?, ?)`,
			[]any{"cust-101", "Garage Dupont", "north", 48.8049, 2.1204}},
		{`INSERT OR IGNORE INTO customers (id, name, territory, latitude, longitude) VALUES (?, ?, ?, ?, ?)`,
			[]any{"cust-200", "Hotel du Port", "south", 43.2965, 5.3698}},
		{`INSERT OR IGNORE INTO customers (id, name, territory, latitude, longitude) VALUES (?, ?, ?, ?, ?)`,
			[]any{"cust-300", "Atelier Leroy", "east", 48.8700, 2.4000}},

		{`INSERT OR IGNORE INTO interventions (id, customer_id, technician_id, scheduled_at) VALUES (?, ?, ?, ?)`,
			[]any{"int-1000", "cust-100", "tech-ana", at(-2 * day)}},
		{`INSERT OR IGNORE INTO interventions (id, customer_id, technician_id, scheduled_at) VALUES (?, ?, ?, ?)`,
			[]any{"int-1001", "cust-101", "tech-ana", at(3 * day)}},
		{`INSERT OR IGNORE INTO interventions (id, customer_id, technician_id, scheduled_at) VALUES (?, ?, ?, ?)`,
			[]any{"int-1002", "cust-100", "tech-ana", at(-60 * day)}},
		{`INSERT OR IGNORE INTO interventions (id, customer_id, technician_id, scheduled_at) VALUES (?, ?, ?, ?)`,
			[]any{"int-2000", "cust-200", "tech-ben", at(1 * day)}},

		{`INSERT OR IGNORE INTO projects (id, customer_id, technician_id, status) VALUES (?, ?, ?, ?)`,
			[]any{"proj-10", "cust-100", "", "open"}},
		{`INSERT OR IGNORE INTO projects (id, customer_id, technician_id, status) VALUES (?, ?, ?, ?)`,
			[]any{"proj-11", "cust-101", "", "closed"}},
		{`INSERT OR IGNORE INTO projects (id, customer_id, technician_id, status) VALUES (?, ?, ?, ?)`,
			[]any{"proj-20", "cust-200", "tech-ben", "open"}},

		{`INSERT OR IGNORE INTO sales_documents (id, customer_id, document_date, kind) VALUES (?, ?, ?, ?)`,
			[]any{"quote-500", "cust-100", at(-1 * day), "quote"}},
		{`INSERT OR IGNORE INTO sales_documents (id, customer_id, document_date, kind) VALUES (?, ?, ?, ?)`,
			[]any{"invoice-501", "cust-200", at(-3 * day), "invoice"}},
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	written := 0
	for _, s := range stmts {
		res, err := tx.ExecContext(ctx, s.query, s.args...)
		if err != nil {
			return 0, fmt.Errorf("seed demo row: %w", err)
		}
		n, _ := res.RowsAffected()
		written += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}
