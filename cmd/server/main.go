package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/ballotline/ballotline/internal/adapters/cache/redis"
	"github.com/ballotline/ballotline/internal/adapters/handler/http"
	pipelinebolt "github.com/ballotline/ballotline/internal/adapters/pipeline/bolt"
	"github.com/ballotline/ballotline/internal/adapters/repository/postgres"
	"github.com/ballotline/ballotline/internal/adapters/token/jwks"
	votelogbolt "github.com/ballotline/ballotline/internal/adapters/votelog/bolt"
	"github.com/ballotline/ballotline/internal/core/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	port := getenv("PORT", "8080")
	jwksURL := getenv("OIDC_JWKS_URL", "http://localhost:4444/.well-known/jwks.json")
	issuer := getenv("OIDC_ISSUER_URL", "http://localhost:4444/")
	requiredScope := getenv("REQUIRED_SCOPE", "vote:cast")
	dataDir := getenv("DATA_DIR", "./data")
	partitions, err := strconv.Atoi(getenv("LOG_PARTITIONS", "8"))
	if err != nil {
		log.Fatalf("invalid LOG_PARTITIONS: %v", err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("POSTGRES_HOST"), os.Getenv("POSTGRES_PORT"), os.Getenv("POSTGRES_DB"))
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal(err)
	}

	voteLog, err := votelogbolt.Open(dataDir, partitions)
	if err != nil {
		log.Fatal(err)
	}
	defer voteLog.Close()

	pipeline, err := pipelinebolt.Open(dataDir, partitions)
	if err != nil {
		log.Fatal(err)
	}
	defer pipeline.Close()

	countCache := redis.NewCountCache(getenv("REDIS_ADDR", "localhost:6379"), os.Getenv("REDIS_PASSWORD"), 0)
	defer countCache.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier := jwks.NewVerifier(jwksURL, issuer, 5*time.Minute)
	verifier.Start(ctx)

	ledgerRepo := postgres.NewLedgerRepository(db)

	ingestService := services.NewIngestService(voteLog, pipeline)
	resultsService := services.NewResultsService(countCache, ledgerRepo, voteLog, pipeline)
	dedupService := services.NewDedupService(voteLog, pipeline)
	aggregatorService := services.NewAggregatorService(pipeline, countCache, ledgerRepo)

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		dedupService.Run(ctx)
	}()
	go func() {
		defer workers.Done()
		aggregatorService.Run(ctx, partitions)
	}()

	voteHandler := http.NewVoteHandler(ingestService, requiredScope)
	resultsHandler := http.NewResultsHandler(resultsService)
	handler := http.NewHandler(voteHandler, resultsHandler, http.RequireAuth(verifier))

	server := &stdhttp.Server{Addr: "0.0.0.0:" + port, Handler: handler}

	go func() {
		log.Printf("ballotline listening on port %s (%d partitions)", port, partitions)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	fmt.Println("Gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal(err)
	}
	workers.Wait()
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
