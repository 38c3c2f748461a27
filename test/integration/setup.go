package integration

import (
	"context"
	"database/sql"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	rediscache "github.com/ballotline/ballotline/internal/adapters/cache/redis"
	httphandler "github.com/ballotline/ballotline/internal/adapters/handler/http"
	pipelinebolt "github.com/ballotline/ballotline/internal/adapters/pipeline/bolt"
	"github.com/ballotline/ballotline/internal/adapters/repository/postgres"
	votelogbolt "github.com/ballotline/ballotline/internal/adapters/votelog/bolt"
	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
	"github.com/ballotline/ballotline/internal/core/services"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

const logPartitions = 4

func setupPostgresContainer(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := pgcontainer.Run(ctx, "postgres:15-alpine",
		pgcontainer.WithDatabase("testdb"),
		pgcontainer.WithUsername("user"),
		pgcontainer.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", err
	}
	return container, connStr, nil
}

func setupRedisContainer(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := rediscontainer.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, "", fmt.Errorf("failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		return nil, "", err
	}
	return container, strings.TrimPrefix(connStr, "redis://"), nil
}

func applyMigrations(db *sql.DB) error {
	dirPath := "../../internal/adapters/repository/postgres/migrations"

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "up.sql") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dirPath, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// tokenVerifier accepts tokens of the form "tok-<subject>". Real JWT
// verification is exercised by the jwks package tests; integration tests
// care about the pipeline behind the API.
type tokenVerifier struct{}

func (tokenVerifier) Verify(ctx context.Context, token string) (*ports.TokenClaims, error) {
	subject, ok := strings.CutPrefix(token, "tok-")
	if !ok || subject == "" {
		return nil, domain.ErrInvalidToken
	}
	return &ports.TokenClaims{
		Subject:   subject,
		Scopes:    []string{"openid", "vote:cast"},
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func tokenFor(subject string) string {
	return "tok-" + subject
}

type testApp struct {
	Server *httptest.Server
	DB     *sql.DB
	Cache  *rediscache.CountCache
	Ledger ports.LedgerRepository

	voteLog *votelogbolt.Log
	store   *pipelinebolt.Store

	workersCancel context.CancelFunc
	workersDone   *sync.WaitGroup

	pgContainer    testcontainers.Container
	redisContainer testcontainers.Container
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()

	pgC, connStr, err := setupPostgresContainer(ctx)
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, applyMigrations(db))

	redisC, redisAddr, err := setupRedisContainer(ctx)
	require.NoError(t, err)

	dir := t.TempDir()
	voteLog, err := votelogbolt.Open(dir, logPartitions)
	require.NoError(t, err)
	store, err := pipelinebolt.Open(dir, logPartitions)
	require.NoError(t, err)

	app := &testApp{
		DB:             db,
		Cache:          rediscache.NewCountCache(redisAddr, "", 0),
		Ledger:         postgres.NewLedgerRepository(db),
		voteLog:        voteLog,
		store:          store,
		pgContainer:    pgC,
		redisContainer: redisC,
	}
	app.StartWorkers()

	ingest := services.NewIngestService(voteLog, store)
	results := services.NewResultsService(app.Cache, app.Ledger, voteLog, store)
	handler := httphandler.NewHandler(
		httphandler.NewVoteHandler(ingest, "vote:cast"),
		httphandler.NewResultsHandler(results),
		httphandler.RequireAuth(tokenVerifier{}),
	)
	app.Server = httptest.NewServer(handler)
	return app
}

// StartWorkers runs the dedup and aggregation stages the way the server
// binary does. StopWorkers halts them without touching durable state, so
// a restart replays from committed offsets.
func (app *testApp) StartWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		services.NewDedupService(app.voteLog, app.store).Run(ctx)
	}()
	go func() {
		defer wg.Done()
		services.NewAggregatorService(app.store, app.Cache, app.Ledger).Run(ctx, logPartitions)
	}()
	app.workersCancel = cancel
	app.workersDone = &wg
}

func (app *testApp) StopWorkers() {
	app.workersCancel()
	app.workersDone.Wait()
}

func (app *testApp) Teardown(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	app.Server.Close()
	app.StopWorkers()
	app.Cache.Close()
	app.voteLog.Close()
	app.store.Close()
	app.DB.Close()
	require.NoError(t, app.pgContainer.Terminate(ctx))
	require.NoError(t, app.redisContainer.Terminate(ctx))
}
