// Command setkey stores a provider API key in the credentials table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"genpipe/internal/infra"
	"genpipe/internal/infra/credentials"
)

func main() {
	if err := infra.LoadDotEnv(infra.DotEnvFiles...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var (
		keyFlag   string
		tokenFlag string
	)
	flag.StringVar(&keyFlag, "key", "", "credential to set: "+strings.Join(credentials.Keys, ", "))
	flag.StringVar(&tokenFlag, "token", "", "API key value (falls back to the environment variable of the same name)")
	flag.Parse()

	key := strings.ToUpper(strings.TrimSpace(keyFlag))
	if !credentials.Known(key) {
		fmt.Fprintf(os.Stderr, "unsupported key %q (one of %s)\n", keyFlag, strings.Join(credentials.Keys, ", "))
		os.Exit(1)
	}
	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(key))
	}
	if token == "" {
		fmt.Fprintf(os.Stderr, "%s is required via -token or environment\n", key)
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "setkey").Str("key", key).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))
	if err := store.Set(ctx, key, token, map[string]any{"set_by": "setkey"}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist %s: %v\n", key, err)
		os.Exit(1)
	}
	fmt.Printf("%s stored\n", key)
}
