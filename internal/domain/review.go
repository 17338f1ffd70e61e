package domain

import "time"

type Channel string

const (
	ChannelAirbnb  Channel = "airbnb"
	ChannelBooking Channel = "booking.com"
	ChannelVrbo    Channel = "vrbo"
	ChannelGoogle  Channel = "google"
	ChannelDirect  Channel = "direct"
	ChannelOther   Channel = "other"
)

// ParseChannel maps a provider channel label onto the canonical set.
// Unknown labels become ChannelOther.
func ParseChannel(s string) Channel {
	switch normalizeLabel(s) {
	case "airbnb", "airbnbofficial":
		return ChannelAirbnb
	case "booking.com", "booking", "bookingcom":
		return ChannelBooking
	case "vrbo", "homeaway", "expedia":
		return ChannelVrbo
	case "google", "googlebusiness", "googlemaps":
		return ChannelGoogle
	case "direct", "website", "hostaway":
		return ChannelDirect
	}
	return ChannelOther
}

type ReviewType string

const (
	ReviewTypeGuest  ReviewType = "guest_review"
	ReviewTypeHost   ReviewType = "host_review"
	ReviewTypeAuto   ReviewType = "auto_review"
	ReviewTypeSystem ReviewType = "system_review"
)

// ParseReviewType accepts canonical names and the common provider spellings
// ("guest-to-host", "host-to-guest").
func ParseReviewType(s string) ReviewType {
	switch normalizeLabel(s) {
	case "hosttoguest", "hostreview", "host":
		return ReviewTypeHost
	case "auto", "autoreview", "automated":
		return ReviewTypeAuto
	case "system", "systemreview":
		return ReviewTypeSystem
	}
	return ReviewTypeGuest
}

// Category keys are stable across channels.
const (
	CategoryCleanliness   = "cleanliness"
	CategoryCommunication = "communication"
	CategoryCheckin       = "checkin"
	CategoryAccuracy      = "accuracy"
	CategoryLocation      = "location"
	CategoryValue         = "value"
)

var CategoryKeys = []string{
	CategoryCleanliness, CategoryCommunication, CategoryCheckin,
	CategoryAccuracy, CategoryLocation, CategoryValue,
}

// ApprovalState is the tri-state view of Review.Approved.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

type Review struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"sourceId"`
	ListingID   int64      `json:"listingId"`
	ListingName string     `json:"listingName,omitempty"`
	GuestName   string     `json:"guestName"`
	Comment     string     `json:"comment"`
	Language    string     `json:"language,omitempty"`
	Rating      float64    `json:"rating"`
	Categories  Categories `json:"categories"`
	Type        ReviewType `json:"type"`
	Channel     Channel    `json:"channel"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	SubmittedAt time.Time  `json:"submittedAt"`
	CheckIn     *time.Time `json:"checkIn,omitempty"`
	CheckOut    *time.Time `json:"checkOut,omitempty"`

	Approved     *bool      `json:"approved"`
	HostResponse *string    `json:"hostResponse,omitempty"`
	RespondedAt  *time.Time `json:"respondedAt,omitempty"`

	Source  string `json:"source"`
	RawJSON []byte `json:"-"`
}

// Categories maps a category key to a rating in [0,10].
type Categories map[string]float64

func (r Review) ApprovalState() ApprovalState {
	switch {
	case r.Approved == nil:
		return ApprovalPending
	case *r.Approved:
		return ApprovalApproved
	default:
		return ApprovalRejected
	}
}

func (r Review) HasResponse() bool {
	return r.HostResponse != nil && *r.HostResponse != ""
}

// RawReview is one upstream or mock review object, kept verbatim.
type RawReview []byte

// SourceTag says where a batch of raw reviews came from.
type SourceTag string

const (
	SourceUpstream SourceTag = "upstream"
	SourceMock     SourceTag = "mock"
	SourceStore    SourceTag = "store"
)
