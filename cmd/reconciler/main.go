package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/ballotline/ballotline/internal/adapters/repository/postgres"
	"github.com/ballotline/ballotline/internal/core/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	var dbHost, dbPort, dbUser, dbPass, dbName string
	var heal bool
	var interval time.Duration

	flag.StringVar(&dbHost, "db-host", os.Getenv("POSTGRES_HOST"), "Database host")
	flag.StringVar(&dbPort, "db-port", os.Getenv("POSTGRES_PORT"), "Database port")
	flag.StringVar(&dbUser, "db-user", os.Getenv("POSTGRES_USER"), "Database user")
	flag.StringVar(&dbPass, "db-pass", os.Getenv("POSTGRES_PASSWORD"), "Database password")
	flag.StringVar(&dbName, "db-name", os.Getenv("POSTGRES_DB"), "Database name")
	flag.BoolVar(&heal, "heal", false, "Rewrite vote_totals from the ledger recount when they diverge")
	flag.DurationVar(&interval, "interval", 0, "Run continuously at this interval (0 runs once)")
	flag.Parse()

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPass, dbHost, dbPort, dbName)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal(err)
	}

	reconciler := services.NewReconcileService(postgres.NewLedgerRepository(db), heal)

	for {
		if err := runOnce(reconciler); err != nil {
			// A transient failure must not kill the periodic job; the
			// next pass covers the same ground. One-shot runs fail loud.
			if interval == 0 {
				log.Fatalf("Reconciliation failed: %v", err)
			}
			log.Printf("Reconciliation pass failed, retrying next interval: %v", err)
		}
		if interval == 0 {
			return
		}
		time.Sleep(interval)
	}
}

func runOnce(reconciler *services.ReconcileService) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Println("Starting reconciliation pass...")

	report, err := reconciler.Run(ctx)
	if err != nil {
		return err
	}

	if report.DuplicatePairs > 0 {
		// Duplicate (election, voter) pairs in the ledger mean the
		// uniqueness invariant was violated upstream. Operator escalation,
		// never auto-resolved.
		log.Fatalf("FATAL: %d duplicate ledger pairs detected", report.DuplicatePairs)
	}

	for _, d := range report.Discrepancies {
		log.Printf("discrepancy: election=%s candidate=%s ledger=%d published=%d",
			d.Key.ElectionID, d.Key.CandidateID, d.LedgerCount, d.TotalCount)
	}
	if len(report.Discrepancies) == 0 {
		log.Printf("Reconciliation clean: %d counters verified.", report.CountersSeen)
	} else if report.Healed {
		log.Printf("Reconciliation healed %d counters from the ledger.", len(report.Discrepancies))
	}
	return nil
}
