//go:build integration || !unit

package mysql_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"guest_reviews/internal/domain"
	mysqlrepo "guest_reviews/internal/storage/mysql"
)

func pstr(s string) *string { return &s }
func pbool(b bool) *bool    { return &b }

func migrationsDir(t *testing.T) string {
	t.Helper()
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		return v
	}
	return filepath.Join("..", "..", "..", "migrations")
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := migrationsDir(t)

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

func seedReview(id, sourceID string, rating float64, at time.Time) domain.Review {
	return domain.Review{
		ID:          id,
		SourceID:    sourceID,
		ListingID:   101,
		ListingName: "2B N1 A - 29 Shoreditch Heights",
		GuestName:   "Shane Finkelstein",
		Comment:     "Lovely stay",
		Rating:      rating,
		Categories:  domain.Categories{domain.CategoryCleanliness: 10, domain.CategoryValue: 8},
		Type:        domain.ReviewTypeGuest,
		Channel:     domain.ChannelAirbnb,
		CreatedAt:   at,
		UpdatedAt:   at,
		SubmittedAt: at,
		Source:      string(domain.SourceUpstream),
		RawJSON:     []byte(`{}`),
	}
}

func TestRepo_MySQL_UpsertApproveAndAudit(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	if err := repo.UpsertListing(ctx, domain.Listing{ID: 101, ExternalID: "101", Name: "Shoreditch Heights", Slug: "shoreditch-heights"}); err != nil {
		t.Fatalf("UpsertListing: %v", err)
	}
	l, err := repo.GetListing(ctx, 101)
	if err != nil || l.Slug != "shoreditch-heights" {
		t.Fatalf("GetListing = %+v, %v", l, err)
	}

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r1 := seedReview("11111111-1111-1111-1111-111111111111", "7453", 9, t0)
	r2 := seedReview("22222222-2222-2222-2222-222222222222", "7454", 7.5, t0.Add(time.Hour))
	if err := repo.UpsertReviews(ctx, []domain.Review{r1, r2}); err != nil {
		t.Fatalf("UpsertReviews: %v", err)
	}

	got, err := repo.GetReview(ctx, r1.ID)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if got.Rating != 9 || got.Categories[domain.CategoryCleanliness] != 10 || got.Approved != nil {
		t.Fatalf("unexpected review: %+v", got)
	}

	lid := int64(101)
	list, err := repo.ListReviews(ctx, &lid)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListReviews = %d, %v", len(list), err)
	}
	if list[0].ID != r2.ID || len(list[0].Categories) != 2 {
		t.Fatalf("want newest first with categories, got %+v", list[0])
	}

	// approve r1 through the repository transaction
	at := t0.Add(48 * time.Hour)
	updated, err := repo.ApplyApproval(ctx, r1.ID, func(cur domain.Review) (domain.Review, domain.AuditEntry, error) {
		next := cur
		next.Approved = pbool(true)
		next.HostResponse = pstr("Thanks!")
		next.RespondedAt = &at
		next.UpdatedAt = at
		return next, domain.AuditEntry{
			ID:        "aaaaaaaa-0000-0000-0000-000000000001",
			ReviewID:  cur.ID,
			Action:    domain.AuditApproved,
			Previous:  domain.SnapshotOf(cur),
			New:       domain.SnapshotOf(next),
			ActorID:   "host-1",
			CreatedAt: at,
			Metadata:  map[string]string{"batchId": "b-1"},
		}, nil
	})
	if err != nil {
		t.Fatalf("ApplyApproval: %v", err)
	}
	if updated.ApprovalState() != domain.ApprovalApproved {
		t.Fatalf("state = %s", updated.ApprovalState())
	}

	// a failing transition writes nothing
	boom := errors.New("boom")
	if _, err := repo.ApplyApproval(ctx, r1.ID, func(domain.Review) (domain.Review, domain.AuditEntry, error) {
		return domain.Review{}, domain.AuditEntry{}, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	audit, err := repo.ListAudit(ctx, r1.ID)
	if err != nil || len(audit) != 1 {
		t.Fatalf("ListAudit = %d, %v", len(audit), err)
	}
	e := audit[0]
	if e.Action != domain.AuditApproved || e.Previous.Approved != nil || e.New.Approved == nil || !*e.New.Approved {
		t.Fatalf("unexpected audit entry: %+v", e)
	}
	if e.Metadata["batchId"] != "b-1" || e.ActorID != "host-1" {
		t.Fatalf("unexpected audit metadata: %+v", e)
	}

	// a re-sync keeps the approval decision and host response
	r1.Comment = "Lovely stay, edited"
	if err := repo.UpsertReviews(ctx, []domain.Review{r1}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	states, err := repo.ApprovalStates(ctx, []string{r1.ID, r2.ID, "missing"})
	if err != nil {
		t.Fatalf("ApprovalStates: %v", err)
	}
	if s := states[r1.ID]; s.Approved == nil || !*s.Approved || s.HostResponse == nil || *s.HostResponse != "Thanks!" {
		t.Fatalf("approval lost on re-sync: %+v", s)
	}
	if _, ok := states["missing"]; ok {
		t.Fatal("unknown ids must be absent")
	}
	if states[r2.ID].Approved != nil {
		t.Fatalf("r2 should be pending: %+v", states[r2.ID])
	}

	var nf *domain.NotFoundError
	if _, err := repo.GetReview(ctx, "nope"); !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if _, err := repo.ApplyApproval(ctx, "nope", nil); !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}

	// metadata the column accepts but Go cannot decode surfaces as an error
	if _, err := db.ExecContext(ctx, `INSERT INTO audit_entries
		(id, review_id, action, previous_state, new_state, actor_id, metadata, created_at)
		VALUES ('6c1b2f0e-9a51-4d8e-bb2a-3f7c1d0e5a90', ?, 'approved', '{}', '{}', 'ops', '{"batchId": 7}', UTC_TIMESTAMP(6))`,
		r2.ID); err != nil {
		t.Fatalf("insert audit row: %v", err)
	}
	if _, err := repo.ListAudit(ctx, r2.ID); err == nil || !strings.Contains(err.Error(), "metadata") {
		t.Fatalf("ListAudit err = %v, want metadata decode error", err)
	}
}
