package app

import (
	"sort"
	"strings"

	"guest_reviews/internal/domain"
)

// QueryReviews filters, sorts and paginates an in-memory review set. The
// input slice is not modified. Pages past the end yield an empty slice.
func QueryReviews(reviews []domain.Review, q domain.ReviewQuery) domain.PageResult {
	matched := FilterReviews(reviews, q.Filter)
	SortReviews(matched, q.Sort)
	return Paginate(matched, q.Page)
}

// FilterReviews returns the reviews matching every set predicate.
func FilterReviews(reviews []domain.Review, f domain.ReviewFilter) []domain.Review {
	guest := lowerPtr(f.GuestName)
	search := lowerPtr(f.Search)

	out := make([]domain.Review, 0, len(reviews))
	for _, r := range reviews {
		if f.ListingID != nil && r.ListingID != *f.ListingID {
			continue
		}
		if f.From != nil && r.SubmittedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && r.SubmittedAt.After(*f.To) {
			continue
		}
		if f.Channel != nil && r.Channel != *f.Channel {
			continue
		}
		if f.Approval != nil && r.ApprovalState() != *f.Approval {
			continue
		}
		if f.Type != nil && r.Type != *f.Type {
			continue
		}
		if guest != "" && !strings.Contains(strings.ToLower(r.GuestName), guest) {
			continue
		}
		if f.MinRating != nil && r.Rating < *f.MinRating {
			continue
		}
		if f.MaxRating != nil && r.Rating > *f.MaxRating {
			continue
		}
		if f.HasResponse != nil && r.HasResponse() != *f.HasResponse {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(r.GuestName), search) &&
			!strings.Contains(strings.ToLower(r.Comment), search) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SortReviews sorts in place by s; ties fall back to ascending id.
func SortReviews(reviews []domain.Review, s domain.Sort) {
	field := s.Field
	if field == "" {
		field = domain.SortSubmittedAt
	}
	sort.SliceStable(reviews, func(i, j int) bool {
		a, b := reviews[i], reviews[j]
		c := compareBy(field, a, b)
		if c == 0 {
			return a.ID < b.ID
		}
		if s.Desc {
			return c > 0
		}
		return c < 0
	})
}

func compareBy(field domain.SortField, a, b domain.Review) int {
	switch field {
	case domain.SortRating:
		return cmpFloat(a.Rating, b.Rating)
	case domain.SortCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case domain.SortGuestName:
		return strings.Compare(strings.ToLower(a.GuestName), strings.ToLower(b.GuestName))
	case domain.SortChannel:
		return strings.Compare(string(a.Channel), string(b.Channel))
	default:
		return a.SubmittedAt.Compare(b.SubmittedAt)
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Paginate slices an already filtered and sorted set. Size is clamped to
// [1, MaxPageSize]; page numbers below 1 are treated as 1.
func Paginate(reviews []domain.Review, p domain.Page) domain.PageResult {
	size := p.Size
	switch {
	case size < 1:
		size = domain.DefaultPageSize
	case size > domain.MaxPageSize:
		size = domain.MaxPageSize
	}
	page := p.Number
	if page < 1 {
		page = 1
	}

	total := len(reviews)
	totalPages := (total + size - 1) / size
	meta := domain.PageMeta{
		Page:       page,
		Limit:      size,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}

	start := (page - 1) * size
	if start >= total {
		return domain.PageResult{Reviews: []domain.Review{}, Meta: meta}
	}
	end := min(start+size, total)
	items := make([]domain.Review, end-start)
	copy(items, reviews[start:end])
	return domain.PageResult{Reviews: items, Meta: meta}
}

func lowerPtr(p *string) string {
	if p == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*p))
}
