//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/accountpool/apiserver/config"
	"github.com/accountpool/apiserver/internal/db"
	"github.com/accountpool/apiserver/internal/server"
)

const serverPort = 18080

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d", "postgres"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestLeaseLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	user := setupUser(t, baseURL)

	// One account with a one minute cooldown.
	acctID := createAccount(t, baseURL, user, map[string]any{
		"user_id":  user.ID,
		"number":   fmt.Sprintf("555%d", time.Now().UnixNano()),
		"cooldown": 1,
	})

	leased, status := linkDevice(t, baseURL, user.APIKey, "dev-1")
	if status != http.StatusOK {
		t.Fatalf("link status %d", status)
	}
	if leased.ID != acctID {
		t.Fatalf("leased account %d, want %d", leased.ID, acctID)
	}
	if leased.Status != 1 {
		t.Fatalf("leased account status %d, want active", leased.Status)
	}

	// Linking the same device again returns the held account, not a new lease.
	again, status := linkDevice(t, baseURL, user.APIKey, "dev-1")
	if status != http.StatusOK || again.ID != acctID {
		t.Fatalf("relink got status %d account %d", status, again.ID)
	}

	// The only account is held; another device finds nothing.
	if _, status := linkDevice(t, baseURL, user.APIKey, "dev-2"); status != http.StatusNotFound {
		t.Fatalf("expected empty pool 404, got %d", status)
	}

	released := finishDevice(t, baseURL, user.APIKey, "dev-1", 5)
	if released.Status != 0 {
		t.Fatalf("released account status %d, want available", released.Status)
	}
	if released.Sent != 5 {
		t.Fatalf("released account sent %d, want 5", released.Sent)
	}

	// The release stamped updated_at, so the cooldown window gates the
	// account for the next minute.
	if _, status := linkDevice(t, baseURL, user.APIKey, "dev-2"); status != http.StatusNotFound {
		t.Fatalf("expected cooldown 404, got %d", status)
	}
}

func TestLeaseConcurrency(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	user := setupUser(t, baseURL)

	const accounts = 3
	const attempts = 10

	for i := 0; i < accounts; i++ {
		createAccount(t, baseURL, user, map[string]any{
			"user_id": user.ID,
			"number":  fmt.Sprintf("777%d%d", i, time.Now().UnixNano()),
		})
	}

	type result struct {
		id     int64
		status int
	}
	results := make([]result, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acct, status := linkDevice(t, baseURL, user.APIKey, fmt.Sprintf("race-dev-%d", i))
			results[i] = result{id: acct.ID, status: status}
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	var ok, empty int
	for _, r := range results {
		switch r.status {
		case http.StatusOK:
			ok++
			if seen[r.id] {
				t.Fatalf("account %d leased twice", r.id)
			}
			seen[r.id] = true
		case http.StatusNotFound:
			empty++
		default:
			t.Fatalf("unexpected link status %d", r.status)
		}
	}

	if ok != accounts {
		t.Fatalf("leased %d accounts, want %d", ok, accounts)
	}
	if empty != attempts-accounts {
		t.Fatalf("%d empty-pool responses, want %d", empty, attempts-accounts)
	}
}

func TestLeasePrefersLongestIdle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	user := setupUser(t, baseURL)

	// First account gets used once so its updated_at is stamped.
	usedID := createAccount(t, baseURL, user, map[string]any{
		"user_id": user.ID,
		"number":  fmt.Sprintf("666a%d", time.Now().UnixNano()),
	})
	if _, status := linkDevice(t, baseURL, user.APIKey, "idle-dev-1"); status != http.StatusOK {
		t.Fatalf("link status %d", status)
	}
	finishDevice(t, baseURL, user.APIKey, "idle-dev-1", 1)

	// A never-used account sorts before any timestamp.
	freshID := createAccount(t, baseURL, user, map[string]any{
		"user_id": user.ID,
		"number":  fmt.Sprintf("666b%d", time.Now().UnixNano()),
	})

	leased, status := linkDevice(t, baseURL, user.APIKey, "idle-dev-2")
	if status != http.StatusOK {
		t.Fatalf("link status %d", status)
	}
	if leased.ID != freshID {
		t.Fatalf("leased account %d, want never-used %d", leased.ID, freshID)
	}
	finishDevice(t, baseURL, user.APIKey, "idle-dev-2", 1)

	// Both are stamped now; the earlier release wins the tie-break.
	leased, status = linkDevice(t, baseURL, user.APIKey, "idle-dev-3")
	if status != http.StatusOK {
		t.Fatalf("link status %d", status)
	}
	if leased.ID != usedID {
		t.Fatalf("leased account %d, want longest idle %d", leased.ID, usedID)
	}
	finishDevice(t, baseURL, user.APIKey, "idle-dev-3", 1)
}

func TestBanRemovesAccount(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	user := setupUser(t, baseURL)

	createAccount(t, baseURL, user, map[string]any{
		"user_id": user.ID,
		"number":  fmt.Sprintf("888%d", time.Now().UnixNano()),
	})

	if _, status := linkDevice(t, baseURL, user.APIKey, "ban-dev"); status != http.StatusOK {
		t.Fatalf("link status %d", status)
	}

	banned := banDevice(t, baseURL, user.APIKey, "ban-dev", 2)
	if banned.Status != -1 {
		t.Fatalf("banned account status %d, want banned", banned.Status)
	}

	if _, status := linkDevice(t, baseURL, user.APIKey, "ban-dev"); status != http.StatusNotFound {
		t.Fatalf("expected 404 after ban, got %d", status)
	}
}

type testUser struct {
	ID     int64
	Token  string
	APIKey string
}

type accountResponse struct {
	ID     int64 `json:"id"`
	Status int   `json:"status"`
	Sent   int   `json:"sent"`
}

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

type apiKeyResponse struct {
	APIKey string `json:"api_key"`
}

// setupUser registers an admin user with a device API key.
func setupUser(t *testing.T, baseURL string) testUser {
	t.Helper()

	username := fmt.Sprintf("admin_%d", time.Now().UnixNano())
	payload := map[string]string{
		"username": username,
		"email":    fmt.Sprintf("%s@example.com", username),
		"name":     "Test Admin",
		"password": "testpass123!",
	}

	var auth authResponse
	status := postJSON(t, baseURL+"/auth/register", "", payload, &auth)
	if status != http.StatusCreated {
		t.Fatalf("register status %d", status)
	}

	if err := promoteUserToAdmin(username); err != nil {
		t.Fatalf("promote user: %v", err)
	}

	var key apiKeyResponse
	status = postJSON(t, baseURL+"/auth/api-key", auth.Token, nil, &key)
	if status != http.StatusOK {
		t.Fatalf("rotate api key status %d", status)
	}

	return testUser{ID: auth.User.ID, Token: auth.Token, APIKey: key.APIKey}
}

func createAccount(t *testing.T, baseURL string, user testUser, body map[string]any) int64 {
	t.Helper()

	var acct accountResponse
	status := postJSON(t, baseURL+"/accounts", user.Token, body, &acct)
	if status != http.StatusCreated {
		t.Fatalf("create account status %d", status)
	}
	return acct.ID
}

func linkDevice(t *testing.T, baseURL, apiKey, device string) (accountResponse, int) {
	t.Helper()
	return extCall(t, baseURL+"/ext/link", apiKey, map[string]any{"device": device})
}

func finishDevice(t *testing.T, baseURL, apiKey, device string, sent int) accountResponse {
	t.Helper()
	acct, status := extCall(t, baseURL+"/ext/finish", apiKey, map[string]any{"device": device, "sent": sent})
	if status != http.StatusOK {
		t.Fatalf("finish status %d", status)
	}
	return acct
}

func banDevice(t *testing.T, baseURL, apiKey, device string, sent int) accountResponse {
	t.Helper()
	acct, status := extCall(t, baseURL+"/ext/ban", apiKey, map[string]any{"device": device, "sent": sent})
	if status != http.StatusOK {
		t.Fatalf("ban status %d", status)
	}
	return acct
}

func extCall(t *testing.T, url, apiKey string, payload map[string]any) (accountResponse, int) {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var acct accountResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return acct, resp.StatusCode
}

func postJSON(t *testing.T, url, token string, payload, out any) int {
	t.Helper()

	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	} else {
		msg, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			t.Logf("response %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
	}
	return resp.StatusCode
}

func promoteUserToAdmin(username string) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.PostgresURL(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = conn.ExecContext(ctx,
		"UPDATE users SET role = 'admin', updated_at = NOW() WHERE username = $1", username)
	return err
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.PostgresURL(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsPath := filepath.Join(root, "internal", "db", "migrations")

	migrator, err := migrate.New("file://"+migrationsPath, db.PostgresURL(cfg))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer() (*server.Server, error) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "pool")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "pool_db")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("STORAGE_BACKEND", "")
	_ = os.Setenv("MQ_BACKEND", "")
	_ = os.Setenv("JOBS_ENABLED", "false")

	cfg := config.LoadConfig()
	srv, err := server.New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
