//go:build integration || !unit

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"guest_reviews/internal/adapters/channel"
	httpserver "guest_reviews/internal/adapters/http_server"
	"guest_reviews/internal/adapters/observability"
	redisad "guest_reviews/internal/adapters/redis"
	"guest_reviews/internal/app"
	"guest_reviews/internal/cache"
	"guest_reviews/internal/domain"
	mysqlrepo "guest_reviews/internal/storage/mysql"
)

func migrationsDir() string {
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		return v
	}
	return filepath.Join("..", "..", "migrations")
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := migrationsDir()

	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		t.Fatalf("migrations dir %s is not a directory or missing", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("dockertest unavailable: %v", err)
	}
	runOpts := &dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=reviews",
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Skipf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	hostPort := resource.GetPort("3306/tcp")
	dsn := fmt.Sprintf("root:%s@tcp(127.0.0.1:%s)/%s?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC",
		"root", hostPort, "reviews")

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db)
	return db
}

func getPage(t *testing.T, url string) (domain.PageResult, string) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, res.StatusCode)
	}
	var p domain.PageResult
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return p, res.Header.Get("X-Cache")
}

// Sync into MySQL, read through the redis-backed cache, approve over HTTP
// and observe the invalidation.
func TestHTTP_EndToEnd_SyncApproveInvalidate(t *testing.T) {
	db := startMySQL(t)
	mr := miniredis.RunT(t)

	reg := observability.NewRegistry("e2e")
	repo := mysqlrepo.New(db)
	store := redisad.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = store.Close() })
	c := cache.New(store, reg, cache.Config{Prefix: "reviews", TTL: cache.MaxTTL})
	t.Cleanup(c.Close)

	client := channel.New(channel.Config{MockMode: true}, reg)
	norm := app.NewNormalizer()
	ingest := app.NewIngestionService(client, repo, c, norm)

	s := httpserver.New()
	s.MountHandlers(&httpserver.Handlers{
		Reviews:   app.NewReviewService(client, repo, c, norm),
		Approvals: app.NewApprovalService(repo, c, app.ApprovalConfig{}),
		Health:    app.NewHealthService(client, reg, map[string]app.Pinger{"mysql": repo, "redis": store}),
		Cache:     c,
	})
	ts := httptest.NewServer(s.Mux())
	defer ts.Close()

	ctx := context.Background()
	res, err := ingest.SyncListing(ctx, 103)
	if err != nil {
		t.Fatalf("SyncListing: %v", err)
	}
	if res.Stored == 0 || res.Source != domain.SourceMock {
		t.Fatalf("unexpected sync result: %+v", res)
	}

	stored, _ := getPage(t, ts.URL+"/v1/reviews?listingId=103")
	if stored.Meta.Total != res.Stored {
		t.Fatalf("stored total = %d, want %d", stored.Meta.Total, res.Stored)
	}

	page, xc := getPage(t, ts.URL+"/v1/reviews/upstream?listingId=103")
	if xc != "MISS" || page.Meta.Total != res.Stored {
		t.Fatalf("first read: X-Cache=%s total=%d", xc, page.Meta.Total)
	}
	if _, xc = getPage(t, ts.URL+"/v1/reviews/upstream?listingId=103"); xc != "HIT" {
		t.Fatalf("second read X-Cache = %s, want HIT", xc)
	}

	id := page.Reviews[0].ID
	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/v1/reviews/"+id+"/approval", strings.NewReader(`{"approved":true}`))
	req.Header.Set(httpserver.ActorHeader, "host-e2e")
	pr, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH: %v", err)
	}
	pr.Body.Close()
	if pr.StatusCode != http.StatusOK {
		t.Fatalf("PATCH status %d", pr.StatusCode)
	}

	page, xc = getPage(t, ts.URL+"/v1/reviews/upstream?listingId=103&status=approved")
	if xc != "MISS" || page.Meta.Total != 1 || page.Reviews[0].ID != id {
		t.Fatalf("approved read: X-Cache=%s total=%d", xc, page.Meta.Total)
	}

	audit, err := repo.ListAudit(ctx, id)
	if err != nil || len(audit) != 1 || audit[0].ActorID != "host-e2e" {
		t.Fatalf("audit = %+v, %v", audit, err)
	}

	hr, err := http.Get(ts.URL + "/v1/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer hr.Body.Close()
	var rep app.HealthReport
	if err := json.NewDecoder(hr.Body).Decode(&rep); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if rep.Status != app.StatusOK || len(rep.Dependencies) != 2 {
		t.Fatalf("health = %+v", rep)
	}
}
