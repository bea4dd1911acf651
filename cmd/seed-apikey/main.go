// Command seed-apikey mints an API key for a tenant and stores its sha256
// hash in the api_keys table. The plaintext key is printed exactly once.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldworks-labs/protocol-hub/internal/platform/auth"
	"github.com/fieldworks-labs/protocol-hub/internal/platform/postgres"
)

const insertAPIKeyQuery = `INSERT INTO api_keys (key_id, tenant_id, label, key_sha256, disabled, created_at)
 VALUES ($1, $2, $3, $4, false, $5)`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	tenantID := flag.String("tenant", "", "tenant the key belongs to (required)")
	label := flag.String("label", "", "operator-facing label for the key (required)")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" || strings.TrimSpace(*label) == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	keyID := uuid.NewString()
	plaintext, err := newKeyMaterial()
	if err != nil {
		logger.Error("key generation failed", "error", err)
		os.Exit(1)
	}

	_, err = db.ExecContext(ctx, insertAPIKeyQuery,
		keyID,
		strings.TrimSpace(*tenantID),
		strings.TrimSpace(*label),
		auth.HashKey(plaintext),
		time.Now().UTC(),
	)
	if err != nil {
		logger.Error("insert api key failed", "error", err)
		os.Exit(1)
	}

	// Stdout carries only the minted credentials so the output can be piped.
	fmt.Printf("key_id:  %s\napi_key: %s\n", keyID, plaintext)
	logger.Info("api key minted", "key_id", keyID, "tenant_id", *tenantID, "label", *label)
}

func newKeyMaterial() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "phk_" + hex.EncodeToString(buf), nil
}
