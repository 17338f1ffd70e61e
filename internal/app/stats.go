package app

import (
	"math"
	"sort"
	"strconv"

	"guest_reviews/internal/domain"
)

// ComputeStats aggregates a review set. Averages are rounded to one decimal;
// the rating distribution buckets ratings by nearest whole point (0-10).
func ComputeStats(reviews []domain.Review) domain.ReviewStats {
	st := domain.ReviewStats{
		Total:               len(reviews),
		RatingDistribution:  map[string]int{},
		ChannelDistribution: map[domain.Channel]int{},
		CategoryAverages:    map[string]float64{},
		MonthlyTrend:        []domain.MonthlyPoint{},
	}
	if len(reviews) == 0 {
		return st
	}

	type acc struct {
		sum float64
		n   int
	}
	var total acc
	cats := map[string]*acc{}
	months := map[string]*acc{}

	for _, r := range reviews {
		switch r.ApprovalState() {
		case domain.ApprovalApproved:
			st.Approved++
		case domain.ApprovalRejected:
			st.Rejected++
		default:
			st.Pending++
		}
		if r.HasResponse() {
			st.WithResponse++
		}
		total.sum += r.Rating
		total.n++
		st.RatingDistribution[strconv.Itoa(int(math.Round(r.Rating)))]++
		st.ChannelDistribution[r.Channel]++

		for k, v := range r.Categories {
			a := cats[k]
			if a == nil {
				a = &acc{}
				cats[k] = a
			}
			a.sum += v
			a.n++
		}

		m := r.SubmittedAt.UTC().Format("2006-01")
		a := months[m]
		if a == nil {
			a = &acc{}
			months[m] = a
		}
		a.sum += r.Rating
		a.n++
	}

	st.AverageRating = round1(total.sum / float64(total.n))
	for k, a := range cats {
		st.CategoryAverages[k] = round1(a.sum / float64(a.n))
	}
	keys := make([]string, 0, len(months))
	for m := range months {
		keys = append(keys, m)
	}
	sort.Strings(keys)
	for _, m := range keys {
		a := months[m]
		st.MonthlyTrend = append(st.MonthlyTrend, domain.MonthlyPoint{
			Month: m, Count: a.n, AverageRating: round1(a.sum / float64(a.n)),
		})
	}
	return st
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
