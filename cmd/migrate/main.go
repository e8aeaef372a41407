// Command migrate applies the embedded schema to the configured store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"genpipe/internal/adapter/repo"
	"genpipe/internal/db"
	"genpipe/internal/infra"
)

func main() {
	if err := infra.LoadDotEnv(infra.DotEnvFiles...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var (
		driver string
		dsn    string
	)
	flag.StringVar(&driver, "driver", envOr("STORE_DRIVER", infra.StoreDriverPostgres), "postgres or sqlite")
	flag.StringVar(&dsn, "dsn", "", "connection string; defaults to DATABASE_URL or SQLITE_PATH")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch strings.ToLower(driver) {
	case infra.StoreDriverPostgres:
		err = migratePostgres(ctx, firstNonEmpty(dsn, os.Getenv("DATABASE_URL")))
	case infra.StoreDriverSQLite:
		err = migrateSQLite(ctx, firstNonEmpty(dsn, os.Getenv("SQLITE_PATH"), "./genpipe.db"))
	default:
		err = fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s schema applied\n", driver)
}

func migratePostgres(ctx context.Context, dsn string) error {
	if dsn == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if _, err := conn.ExecContext(ctx, db.PostgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func migrateSQLite(ctx context.Context, path string) error {
	conn, err := infra.OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	defer conn.Close()
	return repo.NewSQLiteJobRepository(conn).EnsureSchema(ctx)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
