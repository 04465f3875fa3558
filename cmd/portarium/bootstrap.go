package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"

	"github.com/portarium/core/pkg/config"
)

// runBootstrapCmd creates every database schema the server needs, so
// first boot and migrations in CI share one code path.
func runBootstrapCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var dbURL string
	cmd.StringVar(&dbURL, "db", "", "Database URL (defaults to DATABASE_URL)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	if err := initSchemas(context.Background(), db, cfg); err != nil {
		fmt.Fprintf(stderr, "init schemas: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "schemas initialized")
	return 0
}
