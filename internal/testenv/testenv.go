// Package testenv provides helpers for integration tests that need a real SurrealDB, PostgreSQL
// or MySQL server.
//
// Integration tests are skipped unless CURATOR_INTEGRATION is set. Connection settings come from
// the environment, with defaults that match a local `surreal start --user root --pass root`.
package testenv

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	surrealdb "github.com/surrealdb/surrealdb.go"

	"github.com/portfoliokit/curator/pkg/constants"
	"github.com/portfoliokit/curator/pkg/models"
	"github.com/portfoliokit/curator/pkg/store/gormstore"
	surrealstore "github.com/portfoliokit/curator/pkg/store/surrealdb"
)

const (
	// EnvIntegration enables integration tests when set to any non-empty value.
	EnvIntegration = "CURATOR_INTEGRATION"

	// EnvSurrealDBURL is the SurrealDB endpoint. Defaults to constants.DefaultSurrealDBURL.
	EnvSurrealDBURL = "SURREALDB_URL"

	// EnvSQLBackend selects the relational backend, postgres or mysql. Defaults to postgres.
	EnvSQLBackend = "CURATOR_SQL_BACKEND"

	// EnvSQLDSN is the relational DSN. SQL integration tests are skipped when it is unset.
	EnvSQLDSN = "CURATOR_SQL_DSN"

	namespace = "curator_test"
)

// SkipUnlessIntegration skips the test when integration tests are not enabled.
func SkipUnlessIntegration(t testing.TB) {
	t.Helper()
	if os.Getenv(EnvIntegration) == "" {
		t.Skipf("set %s to run integration tests", EnvIntegration)
	}
}

func surrealURL() string {
	if u := os.Getenv(EnvSurrealDBURL); u != "" {
		return u
	}
	return constants.DefaultSurrealDBURL
}

// SurrealDB returns connection settings for a database named after the test, with the tables of
// the given collections removed.
func SurrealDB(t testing.TB, collections ...models.CollectionType) surrealstore.Config {
	t.Helper()
	SkipUnlessIntegration(t)

	cfg := surrealstore.Config{
		URL:       surrealURL(),
		Namespace: namespace,
		Database:  databaseName(t),
		Username:  "root",
		Password:  "root",
	}
	if err := clean(cfg, collections...); err != nil {
		t.Fatalf("testenv: %v", err)
	}
	return cfg
}

func clean(cfg surrealstore.Config, collections ...models.CollectionType) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}
	defer db.Close(ctx)

	if _, err := db.SignIn(ctx, map[string]any{"user": cfg.Username, "pass": cfg.Password}); err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return fmt.Errorf("failed to use database: %w", err)
	}

	// Table names cannot be bound as parameters in REMOVE TABLE.
	for _, c := range collections {
		if _, err := surrealdb.Query[[]any](ctx, db, "REMOVE TABLE IF EXISTS "+c.Table(), nil); err != nil {
			return fmt.Errorf("failed to remove table %s: %w", c.Table(), err)
		}
	}
	return nil
}

// SQL returns relational connection settings, skipping the test when no DSN is configured.
func SQL(t testing.TB) gormstore.Config {
	t.Helper()
	SkipUnlessIntegration(t)

	dsn := os.Getenv(EnvSQLDSN)
	if dsn == "" {
		t.Skipf("set %s to run SQL integration tests", EnvSQLDSN)
	}
	backend := os.Getenv(EnvSQLBackend)
	if backend == "" {
		backend = constants.BackendPostgres
	}
	return gormstore.Config{
		Backend:      backend,
		DSN:          dsn,
		PollInterval: 100 * time.Millisecond,
	}
}

func databaseName(t testing.TB) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, t.Name())
}
