package app

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"guest_reviews/internal/adapters/observability"
	"guest_reviews/internal/domain"
)

const (
	MaxCommentLength   = 5000
	MaxGuestNameLength = 200
)

// reviewNamespace seeds the name-based UUIDs of normalized reviews, so the
// same upstream review always gets the same internal id.
var reviewNamespace = uuid.MustParse("6f1f1c8e-3c55-4d0b-9d7c-2f9a8b1e5a01")

// Channels that rate on a 1-5 scale when a payload arrives in the generic
// shape. Typed shapes decide their own scale.
var fivePointChannels = map[domain.Channel]bool{
	domain.ChannelGoogle: true,
	domain.ChannelVrbo:   true,
}

var categoryKeys = map[string]string{
	"cleanliness":     domain.CategoryCleanliness,
	"clean":           domain.CategoryCleanliness,
	"communication":   domain.CategoryCommunication,
	"checkin":         domain.CategoryCheckin,
	"check_in":        domain.CategoryCheckin,
	"check-in":        domain.CategoryCheckin,
	"accuracy":        domain.CategoryAccuracy,
	"location":        domain.CategoryLocation,
	"value":           domain.CategoryValue,
	"value_for_money": domain.CategoryValue,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Normalizer turns raw provider payloads into canonical reviews.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer() *Normalizer { return &Normalizer{now: time.Now} }

// Normalize converts one raw payload. It fails with *domain.NormalizationError
// when the payload is unreadable or carries no rating data at all.
func (n *Normalizer) Normalize(raw domain.RawReview) (domain.Review, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return domain.Review{}, &domain.NormalizationError{Reason: "malformed payload: " + err.Error()}
	}
	if f.SourceID == "" {
		f.SourceID = syntheticSourceID(f)
	}

	channel := domain.ParseChannel(f.Channel)
	if f.Shape == "generic" && fivePointChannels[channel] {
		f.FivePoint = true
	}
	overall := f.Overall
	if overall != nil && f.FivePoint {
		ten := *overall * 2
		overall = &ten
	}
	categories := mapCategories(f.Categories, f.FivePoint)

	rating, nerr := deriveRating(overall, categories)
	if nerr != nil {
		nerr.SourceID = f.SourceID
		return domain.Review{}, nerr
	}

	rv := domain.Review{
		ID:          uuid.NewSHA1(reviewNamespace, []byte(string(channel)+":"+f.SourceID)).String(),
		SourceID:    f.SourceID,
		ListingID:   f.ListingID,
		ListingName: sanitizeText(f.ListingName, MaxGuestNameLength, false),
		GuestName:   sanitizeText(f.GuestName, MaxGuestNameLength, false),
		Comment:     sanitizeText(f.Comment, MaxCommentLength, true),
		Language:    strings.ToLower(strings.TrimSpace(f.Language)),
		Rating:      rating,
		Categories:  categories,
		Type:        domain.ParseReviewType(f.Type),
		Channel:     channel,
		Source:      f.Shape,
		RawJSON:     append([]byte(nil), raw...),
	}
	if rv.GuestName == "" {
		rv.GuestName = "Guest"
	}

	submitted, ok := parseTime(f.Submitted)
	if !ok {
		submitted = n.now().UTC()
	}
	rv.SubmittedAt = submitted
	rv.CreatedAt = firstTime(f.Created, submitted)
	rv.UpdatedAt = firstTime(f.Updated, rv.CreatedAt)
	rv.CheckIn = optTime(f.CheckIn)
	rv.CheckOut = optTime(f.CheckOut)

	if resp := sanitizeText(f.HostResponse, MaxCommentLength, true); resp != "" {
		rv.HostResponse = &resp
		rv.RespondedAt = optTime(f.RespondedAt)
	}
	return rv, nil
}

// NormalizeAll normalizes a batch, skipping records that fail. It returns the
// good reviews and the number dropped.
func (n *Normalizer) NormalizeAll(raws []domain.RawReview) ([]domain.Review, int) {
	out := make([]domain.Review, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		rv, err := n.Normalize(raw)
		if err != nil {
			dropped++
			reason := "no rating data"
			var ne *domain.NormalizationError
			if errors.As(err, &ne) && strings.HasPrefix(ne.Reason, "malformed") {
				reason = "malformed"
			}
			observability.ObserveDropped(reason)
			log.Warn().Err(err).Msg("dropping unprocessable review")
			continue
		}
		out = append(out, rv)
	}
	return out, dropped
}

// deriveRating: overall wins (clamped to [0,10]); otherwise the mean of the
// category ratings rounded to one decimal; otherwise an error.
func deriveRating(overall *float64, categories domain.Categories) (float64, *domain.NormalizationError) {
	if overall != nil && !math.IsNaN(*overall) {
		return clamp(*overall, 0, 10), nil
	}
	if len(categories) == 0 {
		return 0, &domain.NormalizationError{Reason: "no rating data"}
	}
	vals := make([]float64, 0, len(categories))
	for _, v := range categories {
		vals = append(vals, v)
	}
	// fixed summation order keeps the mean independent of map/payload order
	sort.Float64s(vals)
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return math.Round(sum/float64(len(vals))*10) / 10, nil
}

// mapCategories keeps the stable category keys only, rescaling five-point
// payloads and clamping to [0,10].
func mapCategories(in map[string]float64, fivePoint bool) domain.Categories {
	out := domain.Categories{}
	for label, v := range in {
		key, known := categoryKeys[strings.ToLower(strings.TrimSpace(label))]
		if !known || math.IsNaN(v) {
			continue
		}
		if fivePoint {
			v *= 2
		}
		out[key] = clamp(v, 0, 10)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// sanitizeText strips control characters, trims, and caps length in runes.
// Newlines and tabs survive in multi-line text.
func sanitizeText(s string, limit int, multiline bool) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.Map(func(r rune) rune {
		if multiline && (r == '\n' || r == '\t') {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > limit {
		s = strings.TrimSpace(string([]rune(s)[:limit]))
	}
	return s
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func optTime(s string) *time.Time {
	if t, ok := parseTime(s); ok {
		return &t
	}
	return nil
}

func firstTime(s string, def time.Time) time.Time {
	if t, ok := parseTime(s); ok {
		return t
	}
	return def
}
