package domain

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type SortField string

const (
	SortRating      SortField = "rating"
	SortSubmittedAt SortField = "submittedAt"
	SortCreatedAt   SortField = "createdAt"
	SortGuestName   SortField = "guestName"
	SortChannel     SortField = "channel"
)

var sortFields = map[string]SortField{
	"rating":      SortRating,
	"submittedat": SortSubmittedAt,
	"submitted":   SortSubmittedAt,
	"date":        SortSubmittedAt,
	"createdat":   SortCreatedAt,
	"created":     SortCreatedAt,
	"guestname":   SortGuestName,
	"guest":       SortGuestName,
	"channel":     SortChannel,
}

// ReviewFilter holds conjunctive predicates; nil fields are not applied.
type ReviewFilter struct {
	ListingID   *int64
	From        *time.Time // inclusive, on SubmittedAt
	To          *time.Time // inclusive, on SubmittedAt
	Channel     *Channel
	Approval    *ApprovalState
	Type        *ReviewType
	GuestName   *string
	MinRating   *float64
	MaxRating   *float64
	HasResponse *bool
	Search      *string
}

type Sort struct {
	Field SortField
	Desc  bool
}

// Page is 1-indexed.
type Page struct {
	Number int
	Size   int
}

type ReviewQuery struct {
	Filter ReviewFilter
	Sort   Sort
	Page   Page
}

type PageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

type PageResult struct {
	Reviews []Review  `json:"reviews"`
	Meta    PageMeta  `json:"pagination"`
	Source  SourceTag `json:"source,omitempty"`
	Dropped int       `json:"dropped,omitempty"`
}

func DefaultReviewQuery() ReviewQuery {
	return ReviewQuery{
		Sort: Sort{Field: SortSubmittedAt, Desc: true},
		Page: Page{Number: 1, Size: DefaultPageSize},
	}
}

// ParseReviewQuery builds a ReviewQuery from URL query parameters.
// Unknown parameters are ignored; malformed recognized ones are rejected.
func ParseReviewQuery(v url.Values) (ReviewQuery, error) {
	q := DefaultReviewQuery()
	f := &q.Filter

	if s := v.Get("listingId"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return q, NewValidationError("listingId", "must be a positive integer")
		}
		f.ListingID = &id
	}
	if s := v.Get("from"); s != "" {
		t, err := parseDate(s, false)
		if err != nil {
			return q, NewValidationError("from", "must be a date (YYYY-MM-DD) or RFC3339 timestamp")
		}
		f.From = &t
	}
	if s := v.Get("to"); s != "" {
		t, err := parseDate(s, true)
		if err != nil {
			return q, NewValidationError("to", "must be a date (YYYY-MM-DD) or RFC3339 timestamp")
		}
		f.To = &t
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return q, NewValidationError("to", "must not be before from")
	}
	if s := v.Get("channel"); s != "" {
		ch := ParseChannel(s)
		f.Channel = &ch
	}
	if s := firstNonEmpty(v.Get("approval"), v.Get("status")); s != "" {
		st, err := parseApproval(s)
		if err != nil {
			return q, err
		}
		f.Approval = &st
	}
	if s := v.Get("type"); s != "" {
		rt := ParseReviewType(s)
		f.Type = &rt
	}
	if s := strings.TrimSpace(v.Get("guestName")); s != "" {
		f.GuestName = &s
	}
	if s := strings.TrimSpace(v.Get("search")); s != "" {
		f.Search = &s
	}
	var err error
	if f.MinRating, err = parseRating(v, "minRating"); err != nil {
		return q, err
	}
	if f.MaxRating, err = parseRating(v, "maxRating"); err != nil {
		return q, err
	}
	if f.MinRating != nil && f.MaxRating != nil && *f.MinRating > *f.MaxRating {
		return q, NewValidationError("minRating", "must not exceed maxRating")
	}
	if s := v.Get("hasResponse"); s != "" {
		b, perr := strconv.ParseBool(s)
		if perr != nil {
			return q, NewValidationError("hasResponse", "must be true or false")
		}
		f.HasResponse = &b
	}

	if s := v.Get("sortBy"); s != "" {
		sf, ok := sortFields[strings.ToLower(s)]
		if !ok {
			return q, NewValidationError("sortBy", "must be one of rating, submittedAt, createdAt, guestName, channel")
		}
		q.Sort.Field = sf
	}
	if s := v.Get("sortOrder"); s != "" {
		switch strings.ToLower(s) {
		case "asc":
			q.Sort.Desc = false
		case "desc":
			q.Sort.Desc = true
		default:
			return q, NewValidationError("sortOrder", "must be asc or desc")
		}
	}

	if s := v.Get("page"); s != "" {
		n, perr := strconv.Atoi(s)
		if perr != nil || n < 1 {
			return q, NewValidationError("page", "must be an integer >= 1")
		}
		q.Page.Number = n
	}
	if s := v.Get("limit"); s != "" {
		n, perr := strconv.Atoi(s)
		if perr != nil || n < 1 || n > MaxPageSize {
			return q, NewValidationError("limit", "must be an integer between 1 and 100")
		}
		q.Page.Size = n
	}
	return q, nil
}

// Params renders every set field of the query as name/value pairs.
// Unset filters are omitted so that equivalent queries render identically.
func (q ReviewQuery) Params() map[string]string {
	p := q.Filter.Params()
	if q.Sort.Field != "" {
		p["sortBy"] = string(q.Sort.Field)
		p["sortOrder"] = "asc"
		if q.Sort.Desc {
			p["sortOrder"] = "desc"
		}
	}
	if q.Page.Number > 0 {
		p["page"] = strconv.Itoa(q.Page.Number)
	}
	if q.Page.Size > 0 {
		p["limit"] = strconv.Itoa(q.Page.Size)
	}
	return p
}

func (f ReviewFilter) Params() map[string]string {
	p := make(map[string]string, 12)
	if f.ListingID != nil {
		p["listingId"] = strconv.FormatInt(*f.ListingID, 10)
	}
	if f.From != nil {
		p["from"] = f.From.UTC().Format(time.RFC3339Nano)
	}
	if f.To != nil {
		p["to"] = f.To.UTC().Format(time.RFC3339Nano)
	}
	if f.Channel != nil {
		p["channel"] = string(*f.Channel)
	}
	if f.Approval != nil {
		p["approval"] = string(*f.Approval)
	}
	if f.Type != nil {
		p["type"] = string(*f.Type)
	}
	if f.GuestName != nil {
		p["guestName"] = strings.ToLower(*f.GuestName)
	}
	if f.MinRating != nil {
		p["minRating"] = strconv.FormatFloat(*f.MinRating, 'f', -1, 64)
	}
	if f.MaxRating != nil {
		p["maxRating"] = strconv.FormatFloat(*f.MaxRating, 'f', -1, 64)
	}
	if f.HasResponse != nil {
		p["hasResponse"] = strconv.FormatBool(*f.HasResponse)
	}
	if f.Search != nil {
		p["search"] = strings.ToLower(*f.Search)
	}
	return p
}

func parseApproval(s string) (ApprovalState, error) {
	switch strings.ToLower(s) {
	case "approved", "true":
		return ApprovalApproved, nil
	case "rejected", "false", "unapproved":
		return ApprovalRejected, nil
	case "pending", "null":
		return ApprovalPending, nil
	}
	return "", NewValidationError("approval", "must be approved, rejected or pending")
}

func parseRating(v url.Values, name string) (*float64, error) {
	s := v.Get(name)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 10 {
		return nil, NewValidationError(name, "must be a number between 0 and 10")
	}
	return &f, nil
}

// parseDate accepts RFC3339 or YYYY-MM-DD. A date-only upper bound covers
// the whole day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
