package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"guest_reviews/internal/domain"
)

const statsNamespace = "stats"

// ReviewService serves review reads: the cache-fronted upstream path and the
// live store path.
type ReviewService struct {
	client domain.ChannelClient
	repo   domain.ReviewRepository // optional on the upstream path
	cache  domain.Cache
	norm   *Normalizer
}

func NewReviewService(c domain.ChannelClient, r domain.ReviewRepository, cache domain.Cache, n *Normalizer) *ReviewService {
	if n == nil {
		n = NewNormalizer()
	}
	return &ReviewService{client: c, repo: r, cache: cache, norm: n}
}

// ListReviews answers q from the upstream (or mock) dataset through the cache.
func (s *ReviewService) ListReviews(ctx context.Context, q domain.ReviewQuery) (domain.PageResult, domain.CacheStatus, error) {
	key := s.cache.Key("", q.Params())
	res, err := s.cache.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		reviews, src, dropped, err := s.upstreamReviews(ctx, q.Filter.ListingID)
		if err != nil {
			return nil, err
		}
		page := QueryReviews(reviews, q)
		page.Source = src
		page.Dropped = dropped
		return json.Marshal(page)
	})
	if err != nil {
		return domain.PageResult{}, "", err
	}
	var page domain.PageResult
	if err := json.Unmarshal(res.Payload, &page); err != nil {
		return domain.PageResult{}, "", fmt.Errorf("%w: decode cached page: %v", domain.ErrInternal, err)
	}
	return page, res.Status, nil
}

// ListStoredReviews answers q from the persisted store, uncached.
func (s *ReviewService) ListStoredReviews(ctx context.Context, q domain.ReviewQuery) (domain.PageResult, error) {
	reviews, err := s.repo.ListReviews(ctx, q.Filter.ListingID)
	if err != nil {
		return domain.PageResult{}, err
	}
	page := QueryReviews(reviews, q)
	page.Source = domain.SourceStore
	return page, nil
}

func (s *ReviewService) GetReview(ctx context.Context, id string) (domain.Review, error) {
	if id == "" {
		return domain.Review{}, domain.NewValidationError("id", "is required")
	}
	return s.repo.GetReview(ctx, id)
}

// GetStats aggregates the upstream dataset matching f, cached under the
// stats namespace.
func (s *ReviewService) GetStats(ctx context.Context, f domain.ReviewFilter) (domain.ReviewStats, domain.CacheStatus, error) {
	key := s.cache.Key(statsNamespace, f.Params())
	res, err := s.cache.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		reviews, _, _, err := s.upstreamReviews(ctx, f.ListingID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ComputeStats(FilterReviews(reviews, f)))
	})
	if err != nil {
		return domain.ReviewStats{}, "", err
	}
	var st domain.ReviewStats
	if err := json.Unmarshal(res.Payload, &st); err != nil {
		return domain.ReviewStats{}, "", fmt.Errorf("%w: decode cached stats: %v", domain.ErrInternal, err)
	}
	return st, res.Status, nil
}

// upstreamReviews fetches and normalizes the raw dataset, then overlays the
// persisted approval state.
func (s *ReviewService) upstreamReviews(ctx context.Context, listingID *int64) ([]domain.Review, domain.SourceTag, int, error) {
	raws, src, err := s.client.FetchReviews(ctx, domain.FetchParams{ListingID: listingID})
	if err != nil {
		return nil, "", 0, err
	}
	reviews, dropped := s.norm.NormalizeAll(raws)
	if listingID != nil {
		// payloads fetched for one listing may omit the listing id
		for i := range reviews {
			if reviews[i].ListingID == 0 {
				reviews[i].ListingID = *listingID
			}
		}
	}
	s.overlayApprovals(ctx, reviews)
	return reviews, src, dropped, nil
}

func (s *ReviewService) overlayApprovals(ctx context.Context, reviews []domain.Review) {
	if s.repo == nil || len(reviews) == 0 {
		return
	}
	ids := make([]string, len(reviews))
	for i, r := range reviews {
		ids[i] = r.ID
	}
	states, err := s.repo.ApprovalStates(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Msg("approval overlay skipped")
		return
	}
	for i := range reviews {
		st, ok := states[reviews[i].ID]
		if !ok {
			continue
		}
		reviews[i].Approved = st.Approved
		if st.HostResponse != nil {
			reviews[i].HostResponse = st.HostResponse
			reviews[i].RespondedAt = st.RespondedAt
		}
	}
}
