package domain

type MonthlyPoint struct {
	Month         string  `json:"month"` // YYYY-MM
	Count         int     `json:"count"`
	AverageRating float64 `json:"averageRating"`
}

type ReviewStats struct {
	Total               int                `json:"total"`
	Approved            int                `json:"approved"`
	Rejected            int                `json:"rejected"`
	Pending             int                `json:"pending"`
	WithResponse        int                `json:"withResponse"`
	AverageRating       float64            `json:"averageRating"`
	RatingDistribution  map[string]int     `json:"ratingDistribution"`
	ChannelDistribution map[Channel]int    `json:"channelDistribution"`
	CategoryAverages    map[string]float64 `json:"categoryAverages"`
	MonthlyTrend        []MonthlyPoint     `json:"monthlyTrend"`
}
