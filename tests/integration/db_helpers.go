package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meridian-erp/gatekeeper/internal/database"
	"github.com/meridian-erp/gatekeeper/internal/models"
	"github.com/meridian-erp/gatekeeper/internal/repositories"
	pkgauth "github.com/meridian-erp/gatekeeper/pkg/auth"
)

// TestDB manages the PostgreSQL testcontainer shared by this package's tests.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	DB        *database.DB
}

var (
	testDB    *TestDB
	setupOnce sync.Once
	setupErr  error
)

// testDatabase lazily starts one container for the whole package. Tests are
// isolated through per-test users, not per-test databases.
func testDatabase(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	setupOnce.Do(func() {
		testDB, setupErr = setupTestDatabase(context.Background())
	})
	if setupErr != nil {
		t.Fatalf("failed to set up test database: %v", setupErr)
	}
	return testDB.DB
}

func setupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("gatekeeper"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Goose needs a database/sql connection; migrate through the same
	// embedded migrations the server applies at startup.
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()
	if err := database.Migrate(sqlDB); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &TestDB{
		Container: container,
		Pool:      pool,
		DB:        database.NewFromPool(pool, logger),
	}, nil
}

var (
	passwordHashOnce sync.Once
	passwordHash     string
	passwordHashErr  error
)

// createTestUser inserts a user with a unique email and a real bcrypt hash.
// The hash is computed once; production cost makes per-user hashing slow.
func createTestUser(t *testing.T, db *database.DB) *models.User {
	t.Helper()

	passwordHashOnce.Do(func() {
		passwordHash, passwordHashErr = pkgauth.HashPassword("Correct-Horse-9!")
	})
	if passwordHashErr != nil {
		t.Fatalf("failed to hash password: %v", passwordHashErr)
	}

	repo := repositories.NewUserRepository(db)
	user, err := repo.Create(context.Background(), &models.User{
		Email:        fmt.Sprintf("user-%s@example.com", uuid.New().String()),
		PasswordHash: passwordHash,
		Name:         "Test User",
	})
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// newTestSession builds an active session row for the given user.
func newTestSession(userID string) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:                uuid.New().String(),
		UserID:            userID,
		CreatedAt:         now,
		LastActivityAt:    now,
		AbsoluteExpiresAt: now.Add(8 * time.Hour),
		IdleTimeout:       30 * time.Minute,
		IPAddress:         "203.0.113.7",
		UserAgent:         "integration-test",
		RefreshJTI:        uuid.New().String(),
	}
}
