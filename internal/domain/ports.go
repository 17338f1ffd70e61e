package domain

import (
	"context"
	"time"
)

// FetchParams scopes an upstream review fetch.
type FetchParams struct {
	ListingID *int64
	Limit     int
}

type ChannelClient interface {
	FetchReviews(ctx context.Context, p FetchParams) ([]RawReview, SourceTag, error)
	Health() ChannelHealth
}

// ChannelHealth is unhealthy only when neither the upstream is configured nor
// mock data is loadable.
type ChannelHealth struct {
	Configured        bool       `json:"configured"`
	MockMode          bool       `json:"mockMode"`
	MockDataAvailable bool       `json:"mockDataAvailable"`
	LastRequestAt     *time.Time `json:"lastRequestAt,omitempty"`
	Healthy           bool       `json:"healthy"`
}

// ApprovalFunc computes the new review state and its audit entry from the
// current persisted review. Returning an error aborts the mutation.
type ApprovalFunc func(current Review) (Review, AuditEntry, error)

type ReviewRepository interface {
	// Write paths
	UpsertListing(ctx context.Context, l Listing) error
	UpsertReviews(ctx context.Context, rs []Review) error
	// ApplyApproval appends the audit entry and updates the review as one
	// unit. The audit entry is written first.
	ApplyApproval(ctx context.Context, reviewID string, fn ApprovalFunc) (Review, error)

	// Read paths
	GetListing(ctx context.Context, id int64) (Listing, error)
	GetReview(ctx context.Context, id string) (Review, error)
	ListReviews(ctx context.Context, listingID *int64) ([]Review, error)
	ApprovalStates(ctx context.Context, ids []string) (map[string]ApprovalSnapshot, error)
	ListAudit(ctx context.Context, reviewID string) ([]AuditEntry, error)
}

type CacheStatus string

const (
	CacheHit    CacheStatus = "HIT"
	CacheMiss   CacheStatus = "MISS"
	CacheBypass CacheStatus = "BYPASS"
)

type CacheResult struct {
	Payload          []byte
	Status           CacheStatus
	Age              time.Duration
	RefreshScheduled bool
}

// FetchFunc computes the serialized value for a cache key.
type FetchFunc func(ctx context.Context) ([]byte, error)

type Cache interface {
	// Key derives the request fingerprint under the cache prefix.
	Key(namespace string, params map[string]string) string
	GetOrFetch(ctx context.Context, key string, fetch FetchFunc) (CacheResult, error)
	InvalidateListing(ctx context.Context, listingID int64) (int, error)
	// InvalidateUnscoped drops entries not filtered by listing.
	InvalidateUnscoped(ctx context.Context) (int, error)
}
