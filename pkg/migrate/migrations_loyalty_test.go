package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/baltauto/loyalty-backend/pkg/migrate"
)

func TestLoyaltyMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_loyalty_tables.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no loyalty migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE accounts",
		"CHECK (balance >= 0)",
		"CHECK (total_spent >= 0)",
		"CREATE TABLE bonus_transactions",
		"CHECK (type IN ('accrual', 'redemption'))",
		"CHECK (amount > 0)",
		"CREATE TABLE processed_purchases",
		"purchase_id  TEXT PRIMARY KEY",
		"DROP TABLE processed_purchases",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateMigrationsDir(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}
