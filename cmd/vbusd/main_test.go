package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/vbus/internal/api"
	"github.com/nerrad567/vbus/internal/infrastructure/config"
	"github.com/nerrad567/vbus/internal/infrastructure/database"
	"github.com/nerrad567/vbus/internal/journal"
	"github.com/nerrad567/vbus/internal/uevent"
)

const testSecret = "test-secret-for-development-only-0123456789"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vbusd.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := execute(t, ctx, "serve", "--config", "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("serve should fail with invalid config path")
	}
}

func TestRun_InvalidComponents(t *testing.T) {
	path := writeConfig(t, `
bus:
  name: ldd
components:
  - name: broken
api:
  enabled: false
database:
  enabled: false
`)

	if _, err := execute(t, context.Background(), "--config", path); err == nil {
		t.Fatal("serve should reject a component with neither driver nor devices")
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, context.Background(), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "vbusd version dev") {
		t.Errorf("output = %q", out)
	}
}

func TestTokenCmd(t *testing.T) {
	path := writeConfig(t, `
security:
  jwt:
    secret: "`+testSecret+`"
    issuer: vbusd
`)

	out, err := execute(t, context.Background(), "token", "--config", path, "--subject", "ops", "--ttl", "1m")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	claims, err := api.ParseToken(strings.TrimSpace(out), testSecret, "vbusd")
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("subject = %q, want ops", claims.Subject)
	}
}

func TestTokenCmd_NoSecret(t *testing.T) {
	path := writeConfig(t, `
api:
  enabled: false
`)

	if _, err := execute(t, context.Background(), "token", "--config", path); err == nil {
		t.Fatal("token should fail without a JWT secret")
	}
}

func TestMatcherFor(t *testing.T) {
	if matcherFor("exact") == nil || matcherFor("prefix") == nil || matcherFor("") == nil {
		t.Fatal("matcherFor returned nil")
	}
}

// TestRun_JournalsComponentLifecycle starts the daemon with one component,
// waits for its registrations to reach the journal, then shuts down and
// checks the removals were journalled too.
func TestRun_JournalsComponentLifecycle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vbus.db")
	path := writeConfig(t, `
bus:
  name: ldd
  autoprobe: true
components:
  - name: sculld
    driver:
      name: sculld
      version: "1.0"
    devices: [sculld0, sculld1]
database:
  enabled: true
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
api:
  enabled: false
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := execute(t, ctx, "serve", "--config", path)
		done <- err
	}()

	repo := waitForJournal(t, dbPath, config.DatabaseConfig{Path: dbPath, WALMode: true, BusyTimeout: 5}, done)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}

	res, err := repo.List(context.Background(), journal.Filter{Device: "sculld0"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 4 {
		t.Fatalf("sculld0 entries = %d, want add, bind, unbind, remove", res.Total)
	}
	if res.Entries[0].Action != uevent.ActionRemove || res.Entries[3].Action != uevent.ActionAdd {
		t.Errorf("entries = %+v", res.Entries)
	}
}

// waitForJournal polls until both devices have been journalled as bound.
func waitForJournal(t *testing.T, dbPath string, cfg config.DatabaseConfig, done <-chan error) journal.Repository {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for {
		select {
		case err := <-done:
			t.Fatalf("serve exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("components never reached the journal")
		}

		if _, err := os.Stat(dbPath); err == nil {
			db, err := database.Open(cfg)
			if err != nil {
				t.Fatalf("database.Open: %v", err)
			}
			t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

			repo := journal.NewSQLiteRepository(db.DB)
			for time.Now().Before(deadline) {
				res, err := repo.List(context.Background(), journal.Filter{Action: uevent.ActionBind})
				if err == nil && res.Total == 2 {
					return repo
				}
				time.Sleep(20 * time.Millisecond)
			}
			t.Fatal("bind events never reached the journal")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
