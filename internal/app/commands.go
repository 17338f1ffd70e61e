package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"guest_reviews/internal/adapters/observability"
	"guest_reviews/internal/domain"
)

const (
	DefaultMaxBatch       = 100
	DefaultMaxResponseLen = 2000
)

// ---- approval ----

type ApprovalConfig struct {
	MaxBatch       int
	MaxResponseLen int
}

// ApprovalService moves reviews through pending/approved/rejected, writing
// an audit entry for every transition and invalidating the listing's cache
// scope afterwards.
type ApprovalService struct {
	repo     domain.ReviewRepository
	cache    domain.Cache // optional
	validate *validator.Validate
	cfg      ApprovalConfig
	now      func() time.Time
}

func NewApprovalService(r domain.ReviewRepository, c domain.Cache, cfg ApprovalConfig) *ApprovalService {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.MaxResponseLen <= 0 {
		cfg.MaxResponseLen = DefaultMaxResponseLen
	}
	return &ApprovalService{repo: r, cache: c, validate: validator.New(), cfg: cfg, now: time.Now}
}

type BulkError struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type BulkResult struct {
	Updated int         `json:"updated"`
	Failed  int         `json:"failed"`
	Errors  []BulkError `json:"errors"`
}

// SetApproval sets one review's approval and optionally its host response.
// A nil response leaves the current one untouched; an empty one clears it.
func (s *ApprovalService) SetApproval(ctx context.Context, id string, approved bool, response *string) (domain.Review, error) {
	if err := s.check("id", id, "required"); err != nil {
		return domain.Review{}, err
	}
	if err := s.checkResponse(response); err != nil {
		return domain.Review{}, err
	}
	rv, err := s.apply(ctx, id, approved, response, "")
	if err != nil {
		return domain.Review{}, err
	}
	s.invalidate(ctx, rv.ListingID)
	return rv, nil
}

// BulkSetApproval applies one decision to many reviews. The batch is
// validated as a whole before anything changes; after that every id stands
// alone and failures are reported per id.
func (s *ApprovalService) BulkSetApproval(ctx context.Context, ids []string, approved bool, response *string) (BulkResult, error) {
	rule := fmt.Sprintf("required,min=1,max=%d,dive,required", s.cfg.MaxBatch)
	if err := s.check("reviewIds", ids, rule); err != nil {
		return BulkResult{}, err
	}
	if err := s.checkResponse(response); err != nil {
		return BulkResult{}, err
	}

	batch := uuid.NewString()
	res := BulkResult{Errors: []BulkError{}}
	listings := map[int64]struct{}{}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		rv, err := s.apply(ctx, id, approved, response, batch)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, BulkError{ID: id, Code: domain.CodeOf(err), Message: err.Error()})
			continue
		}
		res.Updated++
		listings[rv.ListingID] = struct{}{}
	}
	for l := range listings {
		s.invalidate(ctx, l)
	}
	log.Info().Str("batch", batch).Int("updated", res.Updated).Int("failed", res.Failed).Msg("bulk approval")
	return res, nil
}

// GetApprovalHistory lists the audit trail of a review, oldest first.
func (s *ApprovalService) GetApprovalHistory(ctx context.Context, id string) ([]domain.AuditEntry, error) {
	if _, err := s.repo.GetReview(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListAudit(ctx, id)
}

func (s *ApprovalService) apply(ctx context.Context, id string, approved bool, response *string, batch string) (domain.Review, error) {
	actor := ActorFrom(ctx)
	action := domain.ApprovalAction(approved, batch != "")
	now := s.now().UTC()

	rv, err := s.repo.ApplyApproval(ctx, id, func(cur domain.Review) (domain.Review, domain.AuditEntry, error) {
		next := cur
		a := approved
		next.Approved = &a
		if response != nil {
			if text := strings.TrimSpace(*response); text != "" {
				next.HostResponse, next.RespondedAt = &text, &now
			} else {
				next.HostResponse, next.RespondedAt = nil, nil
			}
		}
		next.UpdatedAt = now

		entry := domain.AuditEntry{
			ID:        uuid.NewString(),
			ReviewID:  cur.ID,
			Action:    action,
			Previous:  domain.SnapshotOf(cur),
			New:       domain.SnapshotOf(next),
			ActorID:   actor,
			CreatedAt: now,
		}
		if batch != "" {
			entry.Metadata = map[string]string{"batchId": batch}
		}
		return next, entry, nil
	})
	if err != nil {
		return domain.Review{}, err
	}
	observability.ObserveApproval(string(action))
	return rv, nil
}

func (s *ApprovalService) invalidate(ctx context.Context, listingID int64) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.InvalidateListing(ctx, listingID); err != nil {
		log.Warn().Err(err).Int64("listing", listingID).Msg("cache invalidation after approval failed")
	}
	// pages and stats without a listing filter include this review too
	if _, err := s.cache.InvalidateUnscoped(ctx); err != nil {
		log.Warn().Err(err).Msg("unscoped cache invalidation after approval failed")
	}
}

func (s *ApprovalService) checkResponse(response *string) error {
	if response == nil {
		return nil
	}
	return s.check("response", *response, "max="+strconv.Itoa(s.cfg.MaxResponseLen))
}

// check runs a validator rule against one value and maps failures onto
// *domain.ValidationError.
func (s *ApprovalService) check(field string, v any, rule string) error {
	err := s.validate.Var(v, rule)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return domain.NewValidationError(field, describeRule(verrs[0]))
	}
	return domain.NewValidationError(field, err.Error())
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must contain at least " + fe.Param() + " item(s)"
	case "max":
		if fe.Kind().String() == "string" {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must contain at most " + fe.Param() + " items"
	}
	return "failed " + fe.Tag() + " check"
}

// ---- ingestion ----

type SyncResult struct {
	ListingID int64            `json:"listingId"`
	Fetched   int              `json:"fetched"`
	Stored    int              `json:"stored"`
	Dropped   int              `json:"dropped"`
	Source    domain.SourceTag `json:"source"`
}

// IngestionService copies upstream reviews into the store.
type IngestionService struct {
	client domain.ChannelClient
	repo   domain.ReviewRepository
	cache  domain.Cache // optional
	norm   *Normalizer
}

func NewIngestionService(c domain.ChannelClient, r domain.ReviewRepository, cache domain.Cache, n *Normalizer) *IngestionService {
	if n == nil {
		n = NewNormalizer()
	}
	return &IngestionService{client: c, repo: r, cache: cache, norm: n}
}

// SyncListing fetches, normalizes and upserts one listing's reviews, then
// drops the listing's cached pages. Approval fields in the store are never
// overwritten by a sync.
func (s *IngestionService) SyncListing(ctx context.Context, listingID int64) (SyncResult, error) {
	if listingID <= 0 {
		return SyncResult{}, domain.NewValidationError("listingId", "must be a positive integer")
	}
	raws, src, err := s.client.FetchReviews(ctx, domain.FetchParams{ListingID: &listingID})
	if err != nil {
		return SyncResult{}, err
	}
	reviews, dropped := s.norm.NormalizeAll(raws)

	res := SyncResult{ListingID: listingID, Fetched: len(raws), Dropped: dropped, Source: src}
	keep := make([]domain.Review, 0, len(reviews))
	name := ""
	for _, r := range reviews {
		if r.ListingID == 0 {
			r.ListingID = listingID
		}
		if r.ListingID != listingID {
			continue
		}
		if name == "" {
			name = r.ListingName
		}
		keep = append(keep, r)
	}

	// Parent upsert first to satisfy the reviews foreign key.
	if name == "" {
		name = "Listing " + strconv.FormatInt(listingID, 10)
	}
	listing := domain.Listing{ID: listingID, ExternalID: strconv.FormatInt(listingID, 10), Name: name, Slug: domain.Slugify(name)}
	if err := s.repo.UpsertListing(ctx, listing); err != nil {
		return res, fmt.Errorf("upsert listing %d: %w", listingID, err)
	}
	if len(keep) > 0 {
		if err := s.repo.UpsertReviews(ctx, keep); err != nil {
			return res, fmt.Errorf("upsert reviews for %d: %w", listingID, err)
		}
	}
	res.Stored = len(keep)

	if s.cache != nil {
		if _, err := s.cache.InvalidateListing(ctx, listingID); err != nil {
			log.Warn().Err(err).Int64("listing", listingID).Msg("cache invalidation after sync failed")
		}
		if _, err := s.cache.InvalidateUnscoped(ctx); err != nil {
			log.Warn().Err(err).Msg("unscoped cache invalidation after sync failed")
		}
	}
	return res, nil
}
