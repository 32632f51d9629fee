package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pesa/internal/storage"
)

const testStoreKey = "0123456789abcdef0123456789abcdef"

// withStoreKey sets or clears the secure store key for one test.
func withStoreKey(t *testing.T, key string) {
	t.Helper()
	t.Setenv("SECURE_STORE_KEY", key)
	t.Setenv("PESA_SECURE_STORE_KEY", "")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "pesa.db")
}

func TestMigrateReportsVersion(t *testing.T) {
	db := tempDB(t)
	out, err := run(t, "", "migrate", "--db", db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.HasPrefix(out, "schema version ") || strings.Contains(out, "dirty") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	db := tempDB(t)
	out, err := run(t, "", "seed", "--db", db)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.HasPrefix(out, "seeded ") {
		t.Errorf("first seed printed %q", out)
	}

	out, err = run(t, "", "seed", "--db", db)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if !strings.Contains(out, "nothing seeded") {
		t.Errorf("second seed printed %q", out)
	}
}

func TestExportToStdout(t *testing.T) {
	db := tempDB(t)
	out, err := run(t, "", "export", "--db", db, "--out", "-", "--month", "")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := strings.TrimSpace(out); got != "Date,Category,Type,Amount,Note" {
		t.Errorf("got %q, want header only", got)
	}
}

func TestBudgetsListsSeededCategories(t *testing.T) {
	db := tempDB(t)
	if _, err := run(t, "", "seed", "--db", db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	out, err := run(t, "", "budgets", "--db", db, "--display=false")
	if err != nil {
		t.Fatalf("budgets: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "CATEGORY") {
		t.Fatalf("unexpected table:\n%s", out)
	}
	for _, l := range lines[1:] {
		if !strings.HasSuffix(strings.TrimSpace(l), "-") {
			t.Errorf("category without budget should have no status: %q", l)
		}
	}
}

func TestLockRequiresStoreKey(t *testing.T) {
	withStoreKey(t, "")
	db := tempDB(t)

	for _, args := range [][]string{{"lock", "status"}, {"lock", "setup"}, {"lock", "disable"}} {
		_, err := run(t, "123456\n123456\n", append(args, "--db", db)...)
		if !errors.Is(err, errMissingStoreKey) {
			t.Errorf("%v: err = %v, want missing key", args, err)
		}
	}
}

func TestLockLifecycle(t *testing.T) {
	withStoreKey(t, testStoreKey)
	db := tempDB(t)

	if out, err := run(t, "", "lock", "status", "--db", db); err != nil || !strings.Contains(out, "disabled") {
		t.Fatalf("initial status %q, %v", out, err)
	}

	if _, err := run(t, "123456\n654321\n", "lock", "setup", "--db", db); err == nil {
		t.Fatal("mismatched confirmation should fail")
	}

	if _, err := run(t, "123456\n123456\n", "lock", "setup", "--db", db); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if out, _ := run(t, "", "lock", "status", "--db", db); !strings.Contains(out, "enabled") {
		t.Errorf("status after setup %q", out)
	}
	assertSealed(t, db)

	if _, err := run(t, "000000\n", "lock", "unlock", "--db", db); err == nil {
		t.Error("wrong PIN should fail")
	}
	if _, err := run(t, "12345\n", "lock", "unlock", "--db", db); err == nil {
		t.Error("short PIN should fail")
	}
	if out, err := run(t, "123456\n", "lock", "unlock", "--db", db); err != nil || !strings.Contains(out, "unlocked") {
		t.Errorf("unlock %q, %v", out, err)
	}

	if _, err := run(t, "123456\n", "lock", "disable", "--db", db); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if out, _ := run(t, "", "lock", "status", "--db", db); !strings.Contains(out, "disabled") {
		t.Errorf("status after disable %q", out)
	}
}

func TestParseMonthFlag(t *testing.T) {
	p, err := parseMonthFlag("2026-03")
	if err != nil {
		t.Fatalf("parseMonthFlag: %v", err)
	}
	if p.Start.Month() != time.March || p.Start.Year() != 2026 {
		t.Errorf("got start %v", p.Start)
	}

	if p, err := parseMonthFlag(" "); err != nil || p != nil {
		t.Errorf("blank month: %v, %v", p, err)
	}
	if _, err := parseMonthFlag("03/2026"); err == nil {
		t.Error("expected error for bad month")
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != "pesactl dev" {
		t.Errorf("got %q", out)
	}
}

// assertSealed checks the lock flag is not readable from the raw table.
func assertSealed(t *testing.T, db string) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(db, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	raw, err := repo.GetSecret(context.Background(), "applock.enabled")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if raw == "true" || raw == "" {
		t.Errorf("lock flag stored as %q, want ciphertext", raw)
	}
}
