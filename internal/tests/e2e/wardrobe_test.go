//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/digiclo/apiserver/config"
	"github.com/digiclo/apiserver/internal/db"
	"github.com/digiclo/apiserver/internal/server"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d", "postgres", "minio"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	setEnv()

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

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type itemResponse struct {
	ID         string   `json:"_id"`
	Label      string   `json:"label"`
	Category   string   `json:"category"`
	ImageURL   string   `json:"imageUrl"`
	Tags       []string `json:"tags"`
	IsFavorite bool     `json:"isFavorite"`
}

type outfitResponse struct {
	ID     string       `json:"_id"`
	Top    itemResponse `json:"top"`
	Bottom itemResponse `json:"bottom"`
	Shoe   itemResponse `json:"shoe"`
}

func TestWardrobeLifecycle(t *testing.T) {
	token, user := signup(t, "alice")

	var items []itemResponse
	if status := call(t, http.MethodGet, "/api/clothes", token, nil, &items); status != http.StatusOK {
		t.Fatalf("list clothes: status %d", status)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty wardrobe, got %d items", len(items))
	}

	var uploaded struct {
		URL string `json:"url"`
	}
	payload := map[string]string{"image": "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG(t, 1600, 800))}
	if status := call(t, http.MethodPost, "/api/upload", "", payload, &uploaded); status != http.StatusOK {
		t.Fatalf("upload: status %d", status)
	}
	if !strings.Contains(uploaded.URL, "/digiclo-clothes/") {
		t.Fatalf("unexpected upload url %q", uploaded.URL)
	}
	assertResizedImage(t, uploaded.URL, 1000, 500)

	top := createItem(t, token, "Red Tee", "top", uploaded.URL)
	bottom := createItem(t, token, "Jeans", "bottom", uploaded.URL)
	shoe := createItem(t, token, "Sneakers", "shoe", uploaded.URL)
	if top.IsFavorite {
		t.Fatalf("new item should not be a favorite")
	}

	var toggled itemResponse
	if status := call(t, http.MethodPatch, "/api/clothes/"+top.ID+"/favorite", token, nil, &toggled); status != http.StatusOK || !toggled.IsFavorite {
		t.Fatalf("toggle favorite: status %d favorite %v", status, toggled.IsFavorite)
	}

	var tagged itemResponse
	if status := call(t, http.MethodPatch, "/api/clothes/"+top.ID, token, map[string]any{"tags": []string{"cotton", "red"}}, &tagged); status != http.StatusOK {
		t.Fatalf("update tags: status %d", status)
	}
	if strings.Join(tagged.Tags, ",") != "cotton,red" {
		t.Fatalf("unexpected tags %v", tagged.Tags)
	}
	if status := call(t, http.MethodPatch, "/api/clothes/"+top.ID, token, map[string]any{"tags": "red"}, nil); status != http.StatusBadRequest {
		t.Fatalf("non-array tags: expected 400, got %d", status)
	}

	var outfit outfitResponse
	refs := map[string]string{"top": top.ID, "bottom": bottom.ID, "shoe": shoe.ID}
	if status := call(t, http.MethodPost, "/api/outfits", token, refs, &outfit); status != http.StatusCreated {
		t.Fatalf("create outfit: status %d", status)
	}
	if outfit.Top.Label != "Red Tee" || outfit.Shoe.ID != shoe.ID {
		t.Fatalf("outfit not populated: %+v", outfit)
	}

	var outfits []outfitResponse
	if status := call(t, http.MethodGet, "/api/outfits", token, nil, &outfits); status != http.StatusOK || len(outfits) != 1 {
		t.Fatalf("list outfits: status %d count %d", status, len(outfits))
	}

	var me userResponse
	if status := call(t, http.MethodGet, "/api/auth/me", token, nil, &me); status != http.StatusOK || me.ID != user.ID {
		t.Fatalf("me: status %d id %q", status, me.ID)
	}

	if status := call(t, http.MethodDelete, "/api/outfits/"+outfit.ID, token, nil, nil); status != http.StatusOK {
		t.Fatalf("delete outfit: status %d", status)
	}
	if status := call(t, http.MethodDelete, "/api/outfits/"+outfit.ID, token, nil, nil); status != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", status)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	tokenA, _ := signup(t, "owner")
	tokenB, _ := signup(t, "intruder")

	top := createItem(t, tokenA, "Tee", "top", "https://example.com/t.png")
	bottom := createItem(t, tokenA, "Jeans", "bottom", "https://example.com/b.png")
	shoe := createItem(t, tokenA, "Boots", "shoe", "https://example.com/s.png")

	var items []itemResponse
	if status := call(t, http.MethodGet, "/api/clothes", tokenB, nil, &items); status != http.StatusOK || len(items) != 0 {
		t.Fatalf("intruder sees %d items (status %d)", len(items), status)
	}
	if status := call(t, http.MethodPatch, "/api/clothes/"+top.ID+"/favorite", tokenB, nil, nil); status != http.StatusNotFound {
		t.Fatalf("foreign toggle: expected 404, got %d", status)
	}

	refs := map[string]string{"top": top.ID, "bottom": bottom.ID, "shoe": shoe.ID}
	if status := call(t, http.MethodPost, "/api/outfits", tokenB, refs, nil); status != http.StatusNotFound {
		t.Fatalf("foreign outfit: expected 404, got %d", status)
	}

	var outfit outfitResponse
	if status := call(t, http.MethodPost, "/api/outfits", tokenA, refs, &outfit); status != http.StatusCreated {
		t.Fatalf("create outfit: status %d", status)
	}
	if status := call(t, http.MethodDelete, "/api/outfits/"+outfit.ID, tokenB, nil, nil); status != http.StatusNotFound {
		t.Fatalf("foreign delete: expected 404, got %d", status)
	}

	var outfits []outfitResponse
	if status := call(t, http.MethodGet, "/api/outfits", tokenA, nil, &outfits); status != http.StatusOK || len(outfits) != 1 {
		t.Fatalf("owner outfits after foreign delete: status %d count %d", status, len(outfits))
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	_, user := signup(t, "login")

	wrong := rawCall(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": user.Email, "password": "nope"})
	unknown := rawCall(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "missing-" + user.Email, "password": "nope"})

	if wrong.status != http.StatusUnauthorized || unknown.status != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wrong.status, unknown.status)
	}
	if !bytes.Equal(wrong.body, unknown.body) {
		t.Fatalf("bodies differ: %s vs %s", wrong.body, unknown.body)
	}
}

func signup(t *testing.T, prefix string) (string, userResponse) {
	t.Helper()
	name := fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	body := map[string]string{"email": name + "@example.com", "password": "testpass123!", "username": name}

	var resp authResponse
	if status := call(t, http.MethodPost, "/api/auth/signup", "", body, &resp); status != http.StatusCreated {
		t.Fatalf("signup %s: status %d", name, status)
	}
	if resp.Token == "" || resp.User.ID == "" {
		t.Fatalf("signup %s: missing token or id", name)
	}
	return resp.Token, resp.User
}

func createItem(t *testing.T, token, label, category, imageURL string) itemResponse {
	t.Helper()
	var item itemResponse
	body := map[string]any{"label": label, "category": category, "imageUrl": imageURL}
	if status := call(t, http.MethodPost, "/api/clothes", token, body, &item); status != http.StatusCreated {
		t.Fatalf("create item %s: status %d", label, status)
	}
	return item
}

type response struct {
	status int
	body   []byte
}

func rawCall(t *testing.T, method, path, token string, body any) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return response{status: resp.StatusCode, body: data}
}

func call(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	resp := rawCall(t, method, path, token, body)
	if out != nil && resp.status < 300 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, resp.body)
		}
	}
	return resp.status
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, height/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func assertResizedImage(t *testing.T, url string, width, height int) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("fetch uploaded image: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch uploaded image: status %d", resp.StatusCode)
	}
	cfg, err := png.DecodeConfig(resp.Body)
	if err != nil {
		t.Fatalf("decode uploaded image: %v", err)
	}
	if cfg.Width != width || cfg.Height != height {
		t.Fatalf("uploaded image is %dx%d, want %dx%d", cfg.Width, cfg.Height, width, height)
	}
}

func setEnv() {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_DRIVER", config.DriverPostgres)
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "digiclo")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "digiclo_db")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("STORAGE_DRIVER", config.DriverMinio)
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "digiclo")
	_ = os.Setenv("PUBLIC_BASE_URL", "http://localhost:9000/digiclo")
	_ = os.Setenv("MQ_DRIVER", "")
	_ = os.Setenv("AUTH_RATE_LIMIT_RPS", "100")
	_ = os.Setenv("AUTH_RATE_LIMIT_BURST", "100")
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.PostgresURL(cfg.Database))
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
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")

	migrator, err := migrate.New(migrationsURL, db.PostgresURL(cfg.Database))
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

// startServer retries while MinIO finishes booting; bucket creation fails
// until it does.
func startServer(ctx context.Context) (*server.Server, error) {
	cfg := config.LoadConfig()
	logger, _ := zap.NewDevelopment()

	var lastErr error
	for {
		srv, err := server.New(ctx, cfg, logger)
		if err == nil {
			go func() {
				_ = srv.Start()
			}()
			return srv, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(time.Second):
		}
	}
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
