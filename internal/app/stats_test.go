package app_test

import (
	"testing"

	"guest_reviews/internal/app"
	"guest_reviews/internal/domain"
)

func TestComputeStats(t *testing.T) {
	rs := sampleReviews()
	rs[0].Categories = domain.Categories{"cleanliness": 10, "value": 8}
	rs[1].Categories = domain.Categories{"cleanliness": 7}

	st := app.ComputeStats(rs)
	if st.Total != 4 || st.Approved != 1 || st.Rejected != 1 || st.Pending != 2 || st.WithResponse != 1 {
		t.Fatalf("counts = %+v", st)
	}
	if st.AverageRating != 7.9 { // (9+6+9+7.5)/4 = 7.875
		t.Fatalf("average = %v", st.AverageRating)
	}
	if st.RatingDistribution["9"] != 2 || st.RatingDistribution["6"] != 1 || st.RatingDistribution["8"] != 1 {
		t.Fatalf("distribution = %v", st.RatingDistribution)
	}
	if st.ChannelDistribution[domain.ChannelAirbnb] != 2 {
		t.Fatalf("channels = %v", st.ChannelDistribution)
	}
	if st.CategoryAverages["cleanliness"] != 8.5 || st.CategoryAverages["value"] != 8 {
		t.Fatalf("categories = %v", st.CategoryAverages)
	}
	if len(st.MonthlyTrend) != 1 || st.MonthlyTrend[0].Count != 4 {
		t.Fatalf("trend = %+v", st.MonthlyTrend)
	}
}

func TestComputeStats_Empty(t *testing.T) {
	st := app.ComputeStats(nil)
	if st.Total != 0 || st.AverageRating != 0 || st.MonthlyTrend == nil {
		t.Fatalf("empty stats = %+v", st)
	}
}
