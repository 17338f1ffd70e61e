package app_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"guest_reviews/internal/adapters/observability"
	"guest_reviews/internal/app"
	"guest_reviews/internal/cache"
	"guest_reviews/internal/domain"
)

// ---- fakes ----

type fakeClient struct {
	raws  []string
	src   domain.SourceTag
	err   error
	calls int32
}

func (c *fakeClient) FetchReviews(ctx context.Context, p domain.FetchParams) ([]domain.RawReview, domain.SourceTag, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, "", c.err
	}
	out := make([]domain.RawReview, len(c.raws))
	for i, r := range c.raws {
		out[i] = domain.RawReview(r)
	}
	src := c.src
	if src == "" {
		src = domain.SourceUpstream
	}
	return out, src, nil
}

func (c *fakeClient) Health() domain.ChannelHealth {
	return domain.ChannelHealth{Configured: true, Healthy: true}
}

type fakeRepo struct {
	mu       sync.Mutex
	listings map[int64]domain.Listing
	reviews  map[string]domain.Review
	audit    []domain.AuditEntry
}

func newFakeRepo(rs ...domain.Review) *fakeRepo {
	f := &fakeRepo{listings: map[int64]domain.Listing{}, reviews: map[string]domain.Review{}}
	for _, r := range rs {
		f.reviews[r.ID] = r
	}
	return f
}

func (f *fakeRepo) UpsertListing(ctx context.Context, l domain.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[l.ID] = l
	return nil
}

func (f *fakeRepo) UpsertReviews(ctx context.Context, rs []domain.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rs {
		if cur, ok := f.reviews[r.ID]; ok {
			r.Approved, r.HostResponse, r.RespondedAt = cur.Approved, cur.HostResponse, cur.RespondedAt
		}
		f.reviews[r.ID] = r
	}
	return nil
}

func (f *fakeRepo) ApplyApproval(ctx context.Context, id string, fn domain.ApprovalFunc) (domain.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.reviews[id]
	if !ok {
		return domain.Review{}, &domain.NotFoundError{Entity: "review", ID: id}
	}
	next, entry, err := fn(cur)
	if err != nil {
		return domain.Review{}, err
	}
	f.audit = append(f.audit, entry)
	f.reviews[id] = next
	return next, nil
}

func (f *fakeRepo) GetListing(ctx context.Context, id int64) (domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok {
		return domain.Listing{}, &domain.NotFoundError{Entity: "listing", ID: fmt.Sprint(id)}
	}
	return l, nil
}

func (f *fakeRepo) GetReview(ctx context.Context, id string) (domain.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[id]
	if !ok {
		return domain.Review{}, &domain.NotFoundError{Entity: "review", ID: id}
	}
	return r, nil
}

func (f *fakeRepo) ListReviews(ctx context.Context, listingID *int64) ([]domain.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Review
	for _, r := range f.reviews {
		if listingID == nil || r.ListingID == *listingID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) ApprovalStates(ctx context.Context, ids []string) (map[string]domain.ApprovalSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]domain.ApprovalSnapshot{}
	for _, id := range ids {
		if r, ok := f.reviews[id]; ok {
			out[id] = domain.SnapshotOf(r)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListAudit(ctx context.Context, reviewID string) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range f.audit {
		if e.ReviewID == reviewID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepo) auditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audit)
}

// ---- fixtures ----

const (
	rawA   = `{"id":"A","listingId":1,"listingName":"Shoreditch Heights","guestName":"Ann","submittedAt":"2024-01-02 10:00:00",
		"rating":null,"reviewCategory":[{"category":"cleanliness","rating":8},{"category":"communication","rating":9}]}`
	rawB   = `{"id":"B","listingId":1,"guestName":"Bob","submittedAt":"2024-02-03 10:00:00","rating":7.5,"reviewCategory":[]}`
	rawC   = `{"id":"C","listingId":2,"guestName":"Cy","submittedAt":"2024-02-04 10:00:00","rating":4}`
	rawBad = `{"id":"Z","listingId":1,"comment":"no score at all"}`
)

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	c := cache.New(cache.NewMemoryStore(), observability.NewRegistry("app-test"), cache.Config{Prefix: "reviews", TTL: cache.MaxTTL})
	t.Cleanup(c.Close)
	return c
}

func normalized(t *testing.T, raw string) domain.Review {
	t.Helper()
	return mustNormalize(t, raw)
}

func listingQuery(id int64) domain.ReviewQuery {
	q := domain.DefaultReviewQuery()
	q.Filter.ListingID = &id
	return q
}

func byGuest(rs []domain.Review) map[string]domain.Review {
	out := map[string]domain.Review{}
	for _, r := range rs {
		out[r.GuestName] = r
	}
	return out
}

// ---- review reads ----

func TestListReviews_DerivesRatingsAndCaches(t *testing.T) {
	client := &fakeClient{raws: []string{rawA, rawB, rawC, rawBad}}
	svc := app.NewReviewService(client, nil, newCache(t), nil)
	ctx := context.Background()

	page, status, err := svc.ListReviews(ctx, listingQuery(1))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if status != domain.CacheMiss {
		t.Fatalf("status = %s, want MISS", status)
	}
	got := byGuest(page.Reviews)
	if len(page.Reviews) != 2 || got["Ann"].Rating != 8.5 || got["Bob"].Rating != 7.5 {
		t.Fatalf("unexpected page: %+v", page.Reviews)
	}
	if page.Meta.Total != 2 || page.Source != domain.SourceUpstream || page.Dropped != 1 {
		t.Fatalf("unexpected meta: %+v source=%s dropped=%d", page.Meta, page.Source, page.Dropped)
	}

	again, status, err := svc.ListReviews(ctx, listingQuery(1))
	if err != nil || status != domain.CacheHit {
		t.Fatalf("second read = %s, %v; want HIT", status, err)
	}
	if len(again.Reviews) != 2 || again.Reviews[0].ID != page.Reviews[0].ID {
		t.Fatalf("cached page differs")
	}
	if client.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", client.calls)
	}
}

func TestListReviews_UpstreamUnavailable(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("%w: no mock either", domain.ErrUpstreamUnavailable)}
	svc := app.NewReviewService(client, nil, newCache(t), nil)
	if _, _, err := svc.ListReviews(context.Background(), domain.DefaultReviewQuery()); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestListStoredReviewsAndGetReview(t *testing.T) {
	a, b, c := normalized(t, rawA), normalized(t, rawB), normalized(t, rawC)
	svc := app.NewReviewService(&fakeClient{}, newFakeRepo(a, b, c), newCache(t), nil)

	page, err := svc.ListStoredReviews(context.Background(), listingQuery(1))
	if err != nil || page.Meta.Total != 2 || page.Source != domain.SourceStore {
		t.Fatalf("stored page = %+v, %v", page, err)
	}
	got, err := svc.GetReview(context.Background(), c.ID)
	if err != nil || got.GuestName != "Cy" {
		t.Fatalf("get = %+v, %v", got, err)
	}
	if _, err := svc.GetReview(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestGetStats(t *testing.T) {
	client := &fakeClient{raws: []string{rawA, rawB, rawC}}
	svc := app.NewReviewService(client, nil, newCache(t), nil)

	st, status, err := svc.GetStats(context.Background(), domain.ReviewFilter{ListingID: ptr(int64(1))})
	if err != nil || status != domain.CacheMiss {
		t.Fatalf("stats = %s, %v", status, err)
	}
	if st.Total != 2 || st.Pending != 2 || st.AverageRating != 8 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if len(st.MonthlyTrend) != 2 || st.MonthlyTrend[0].Month != "2024-01" {
		t.Fatalf("trend = %+v", st.MonthlyTrend)
	}
	if _, status, _ := svc.GetStats(context.Background(), domain.ReviewFilter{ListingID: ptr(int64(1))}); status != domain.CacheHit {
		t.Fatalf("second stats read = %s, want HIT", status)
	}
}

// ---- approvals ----

func TestSetApproval_AuditsAndInvalidates(t *testing.T) {
	a := normalized(t, rawA)
	repo := newFakeRepo(a, normalized(t, rawB))
	c := newCache(t)
	client := &fakeClient{raws: []string{rawA, rawB}}
	reads := app.NewReviewService(client, repo, c, nil)
	approvals := app.NewApprovalService(repo, c, app.ApprovalConfig{})
	ctx := app.WithActor(context.Background(), "manager-7")

	if _, _, err := reads.ListReviews(ctx, listingQuery(1)); err != nil {
		t.Fatal(err)
	}

	resp := "  Thanks Ann!  "
	rv, err := approvals.SetApproval(ctx, a.ID, true, &resp)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if rv.ApprovalState() != domain.ApprovalApproved || *rv.HostResponse != "Thanks Ann!" || rv.RespondedAt == nil {
		t.Fatalf("approved review = %+v", rv)
	}

	hist, err := approvals.GetApprovalHistory(ctx, a.ID)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %+v, %v", hist, err)
	}
	e := hist[0]
	if e.Action != domain.AuditApproved || e.ActorID != "manager-7" || e.Previous.Approved != nil || !*e.New.Approved || e.ID == "" {
		t.Fatalf("audit entry = %+v", e)
	}

	page, status, err := reads.ListReviews(ctx, listingQuery(1))
	if err != nil || status != domain.CacheMiss {
		t.Fatalf("read after approval = %s, %v; want MISS", status, err)
	}
	if got := byGuest(page.Reviews)["Ann"]; got.ApprovalState() != domain.ApprovalApproved || !got.HasResponse() {
		t.Fatalf("overlay missing: %+v", got)
	}
}

func TestSetApproval_DropsPagesWithoutListingFilter(t *testing.T) {
	a := normalized(t, rawA)
	repo := newFakeRepo(a, normalized(t, rawB))
	c := newCache(t)
	reads := app.NewReviewService(&fakeClient{raws: []string{rawA, rawB}}, repo, c, nil)
	approvals := app.NewApprovalService(repo, c, app.ApprovalConfig{})
	ctx := context.Background()

	all := domain.DefaultReviewQuery()
	if _, _, err := reads.ListReviews(ctx, all); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reads.GetStats(ctx, domain.ReviewFilter{}); err != nil {
		t.Fatal(err)
	}
	if _, status, _ := reads.ListReviews(ctx, all); status != domain.CacheHit {
		t.Fatalf("warm read = %s, want HIT", status)
	}

	if _, err := approvals.SetApproval(ctx, a.ID, true, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}

	page, status, err := reads.ListReviews(ctx, all)
	if err != nil || status != domain.CacheMiss {
		t.Fatalf("unfiltered read after approval = %s, %v; want MISS", status, err)
	}
	if got := byGuest(page.Reviews)["Ann"]; got.ApprovalState() != domain.ApprovalApproved {
		t.Fatalf("unfiltered page still shows %s", got.ApprovalState())
	}
	if _, status, _ := reads.GetStats(ctx, domain.ReviewFilter{}); status != domain.CacheMiss {
		t.Fatalf("unfiltered stats after approval = %s, want MISS", status)
	}
}

func TestSetApproval_ToggleAndClearResponse(t *testing.T) {
	a := normalized(t, rawA)
	repo := newFakeRepo(a)
	svc := app.NewApprovalService(repo, nil, app.ApprovalConfig{})
	ctx := context.Background()

	resp := "hello"
	if _, err := svc.SetApproval(ctx, a.ID, true, &resp); err != nil {
		t.Fatal(err)
	}
	empty := ""
	rv, err := svc.SetApproval(ctx, a.ID, false, &empty)
	if err != nil {
		t.Fatal(err)
	}
	if rv.ApprovalState() != domain.ApprovalRejected || rv.HostResponse != nil {
		t.Fatalf("toggled review = %+v", rv)
	}
	rv, err = svc.SetApproval(ctx, a.ID, true, nil)
	if err != nil || rv.ApprovalState() != domain.ApprovalApproved {
		t.Fatalf("re-approve = %+v, %v", rv, err)
	}

	hist, _ := svc.GetApprovalHistory(ctx, a.ID)
	want := []domain.AuditAction{domain.AuditApproved, domain.AuditUnapproved, domain.AuditApproved}
	if len(hist) != len(want) {
		t.Fatalf("history len = %d", len(hist))
	}
	for i, e := range hist {
		if e.Action != want[i] || e.ActorID != app.SystemActor {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}
	if *hist[1].Previous.Approved != true || *hist[1].New.Approved != false {
		t.Fatalf("snapshots = %+v", hist[1])
	}
}

func TestSetApproval_Failures(t *testing.T) {
	a := normalized(t, rawA)
	repo := newFakeRepo(a)
	svc := app.NewApprovalService(repo, nil, app.ApprovalConfig{MaxResponseLen: 10})
	ctx := context.Background()

	if _, err := svc.SetApproval(ctx, "missing", true, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	long := strings.Repeat("x", 11)
	_, err := svc.SetApproval(ctx, a.ID, true, &long)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "response" {
		t.Fatalf("err = %v, want response validation error", err)
	}
	if _, err := svc.SetApproval(ctx, "", true, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if repo.auditCount() != 0 {
		t.Fatalf("failed calls wrote %d audit entries", repo.auditCount())
	}
}

func TestBulkSetApproval_PartialFailure(t *testing.T) {
	a, b := normalized(t, rawA), normalized(t, rawB)
	repo := newFakeRepo(a, b)
	svc := app.NewApprovalService(repo, newCache(t), app.ApprovalConfig{})

	res, err := svc.BulkSetApproval(context.Background(), []string{a.ID, "ghost", b.ID}, true, nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Updated != 2 || res.Failed != 1 || len(res.Errors) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Errors[0].ID != "ghost" || res.Errors[0].Code != domain.CodeNotFound {
		t.Fatalf("error = %+v", res.Errors[0])
	}
	if repo.auditCount() != 2 {
		t.Fatalf("audit entries = %d, want 2", repo.auditCount())
	}
	ha, _ := repo.ListAudit(context.Background(), a.ID)
	hb, _ := repo.ListAudit(context.Background(), b.ID)
	if ha[0].Action != domain.AuditBulkApproved || ha[0].Metadata["batchId"] == "" || ha[0].Metadata["batchId"] != hb[0].Metadata["batchId"] {
		t.Fatalf("bulk audit entries = %+v / %+v", ha[0], hb[0])
	}
}

func TestBulkSetApproval_RejectsBatchBeforeMutating(t *testing.T) {
	a := normalized(t, rawA)
	repo := newFakeRepo(a)
	svc := app.NewApprovalService(repo, nil, app.ApprovalConfig{MaxBatch: 100})

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = a.ID
	}
	for name, batch := range map[string][]string{"too many": ids, "empty": {}, "blank id": {a.ID, ""}} {
		if _, err := svc.BulkSetApproval(context.Background(), batch, true, nil); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: err = %v, want validation error", name, err)
		}
	}
	if repo.auditCount() != 0 {
		t.Fatalf("rejected batches wrote %d audit entries", repo.auditCount())
	}
}

// ---- ingestion ----

func TestSyncListing(t *testing.T) {
	repo := newFakeRepo()
	c := newCache(t)
	client := &fakeClient{raws: []string{rawA, rawB, rawC, rawBad}, src: domain.SourceMock}
	svc := app.NewIngestionService(client, repo, c, nil)
	ctx := context.Background()

	stale := c.Key("", map[string]string{"listingId": "1"})
	if _, err := c.GetOrFetch(ctx, stale, func(context.Context) ([]byte, error) { return []byte("old"), nil }); err != nil {
		t.Fatal(err)
	}

	res, err := svc.SyncListing(ctx, 1)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	want := app.SyncResult{ListingID: 1, Fetched: 4, Stored: 2, Dropped: 1, Source: domain.SourceMock}
	if res != want {
		t.Fatalf("result = %+v, want %+v", res, want)
	}
	l, err := repo.GetListing(ctx, 1)
	if err != nil || l.Name != "Shoreditch Heights" || l.Slug != "shoreditch-heights" {
		t.Fatalf("listing = %+v, %v", l, err)
	}
	stored, _ := repo.ListReviews(ctx, nil)
	if len(stored) != 2 {
		t.Fatalf("stored %d reviews, want 2", len(stored))
	}
	if c.Stats().Deletes != 1 {
		t.Fatalf("listing cache scope not invalidated")
	}

	if _, err := svc.SyncListing(ctx, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestSyncListing_KeepsApprovalState(t *testing.T) {
	a := normalized(t, rawA)
	repo := newFakeRepo(a)
	approvals := app.NewApprovalService(repo, nil, app.ApprovalConfig{})
	if _, err := approvals.SetApproval(context.Background(), a.ID, true, nil); err != nil {
		t.Fatal(err)
	}
	svc := app.NewIngestionService(&fakeClient{raws: []string{rawA}}, repo, nil, nil)
	if _, err := svc.SyncListing(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetReview(context.Background(), a.ID)
	if got.ApprovalState() != domain.ApprovalApproved {
		t.Fatalf("sync overwrote approval: %+v", got)
	}
}

// ---- health ----

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	reg := observability.NewRegistry("h")
	ok := app.NewHealthService(&fakeClient{}, reg, map[string]app.Pinger{
		"mysql": pingFunc(func(context.Context) error { return nil }),
	})
	if r := ok.Check(context.Background()); r.Status != "ok" || len(r.Dependencies) != 1 {
		t.Fatalf("report = %+v", r)
	}

	bad := app.NewHealthService(&fakeClient{}, reg, map[string]app.Pinger{
		"redis": pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
	})
	r := bad.Check(context.Background())
	if r.Status != "degraded" || r.Dependencies[0].OK || r.Dependencies[0].Error == "" {
		t.Fatalf("report = %+v", r)
	}
}
