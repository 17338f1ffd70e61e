package channel

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"guest_reviews/internal/domain"
)

//go:embed mockdata/reviews.json
var embeddedReviews []byte

// mockSource is the static fallback dataset, loaded once at construction.
type mockSource struct {
	raws []domain.RawReview
	err  error
}

func newMockSource(file string) *mockSource {
	body := embeddedReviews
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return &mockSource{err: fmt.Errorf("read mock file: %w", err)}
		}
		body = b
	}
	raws, err := decodeReviews(body)
	if err == nil && len(raws) == 0 {
		err = errors.New("mock dataset is empty")
	}
	return &mockSource{raws: raws, err: err}
}

func (m *mockSource) available() bool { return m.err == nil }

// reviews returns the whole dataset; listing filters are applied downstream
// on normalized reviews.
func (m *mockSource) reviews(p domain.FetchParams) ([]domain.RawReview, error) {
	if m.err != nil {
		return nil, m.err
	}
	n := len(m.raws)
	if p.Limit > 0 && p.ListingID == nil && p.Limit < n {
		n = p.Limit
	}
	out := make([]domain.RawReview, n)
	copy(out, m.raws[:n])
	return out, nil
}
