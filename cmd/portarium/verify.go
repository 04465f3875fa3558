package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/portarium/core/pkg/config"
	"github.com/portarium/core/pkg/evidence"
	"github.com/portarium/core/pkg/primitives"
)

// runVerifyCmd replays a tenant's evidence chain from the database and
// reports whether it is unbroken.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenant     string
		dbURL      string
		jsonOutput bool
	)
	cmd.StringVar(&tenant, "tenant", "", "Tenant whose chain to verify (REQUIRED)")
	cmd.StringVar(&dbURL, "db", "", "Database URL (defaults to DATABASE_URL)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
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

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	store := evidence.NewSQLStore(db)
	entries, err := store.List(context.Background(), primitives.TenantID(tenant))
	if err != nil {
		fmt.Fprintf(stderr, "list evidence: %v\n", err)
		return 1
	}

	var verifier evidence.SignatureVerifier
	if cfg.EvidenceSigningSecret != "" {
		signer, signErr := evidence.NewDerivedSigner([]byte(cfg.EvidenceSigningSecret), "evidence-ledger")
		if signErr != nil {
			fmt.Fprintf(stderr, "derive verification key: %v\n", signErr)
			return 1
		}
		verifier = evidence.NewEd25519Verifier(signer.PublicKey())
	}

	verifyErr := evidence.VerifyChain(entries, verifier)

	if jsonOutput {
		result := map[string]any{
			"tenant":  tenant,
			"entries": len(entries),
			"valid":   verifyErr == nil,
		}
		if verifyErr != nil {
			result["error"] = verifyErr.Error()
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else if verifyErr != nil {
		fmt.Fprintf(stderr, "chain INVALID after %d entries: %v\n", len(entries), verifyErr)
	} else {
		fmt.Fprintf(stdout, "chain valid: %d entries\n", len(entries))
	}

	if verifyErr != nil {
		return 1
	}
	return 0
}
