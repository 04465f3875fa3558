package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/portarium/core/pkg/config"
	"github.com/portarium/core/pkg/evidence"
	"github.com/portarium/core/pkg/primitives"
)

// runExportCmd seals a tenant's evidence chain into a signed bundle for
// external audit.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenant  string
		outPath string
		dbURL   string
	)
	cmd.StringVar(&tenant, "tenant", "", "Tenant whose chain to export (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Output path for the bundle JSON (default stdout)")
	cmd.StringVar(&dbURL, "db", "", "Database URL (defaults to DATABASE_URL)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if tenant == "" {
		fmt.Fprintln(stderr, "Error: --tenant is required")
		cmd.Usage()
		return 2
	}

	cfg := config.Load()
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if cfg.EvidenceSigningSecret == "" {
		fmt.Fprintln(stderr, "Error: EVIDENCE_SIGNING_SECRET is required to sign the bundle")
		return 2
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	entries, err := evidence.NewSQLStore(db).List(context.Background(), primitives.TenantID(tenant))
	if err != nil {
		fmt.Fprintf(stderr, "list evidence: %v\n", err)
		return 1
	}

	signer, err := evidence.NewDerivedSigner([]byte(cfg.EvidenceSigningSecret), "evidence-ledger")
	if err != nil {
		fmt.Fprintf(stderr, "derive signing key: %v\n", err)
		return 1
	}

	bundle, err := evidence.NewExporter(signer).Export(primitives.TenantID(tenant), entries)
	if err != nil {
		fmt.Fprintf(stderr, "export bundle: %v\n", err)
		return 1
	}

	out := stdout
	if outPath != "" {
		f, createErr := os.Create(outPath)
		if createErr != nil {
			fmt.Fprintf(stderr, "create %s: %v\n", outPath, createErr)
			return 1
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		fmt.Fprintf(stderr, "write bundle: %v\n", err)
		return 1
	}
	if outPath != "" {
		fmt.Fprintf(stdout, "bundle %s written to %s (%d entries)\n", bundle.BundleID, outPath, len(bundle.Artifacts))
	}
	return 0
}
