package app

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// reviewFields is the provider-neutral intermediate every payload shape is
// decoded into before normalization.
type reviewFields struct {
	Shape        string
	FivePoint    bool // Overall and Categories are 1-5 ratings
	SourceID     string
	ListingID    int64
	ListingName  string
	Channel      string
	Type         string
	GuestName    string
	Comment      string
	Language     string
	Overall      *float64
	Categories   map[string]float64
	Submitted    string
	Created      string
	Updated      string
	CheckIn      string
	CheckOut     string
	HostResponse string
	RespondedAt  string
}

// flexFloat accepts numbers, numeric strings and null.
type flexFloat struct{ v *float64 }

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		f.v = parseFlexFloat(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return nil
	}
	f.v = &n
	return nil
}

// flexString accepts strings and numbers (ids are sent both ways).
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*s = flexString(n.String())
	}
	return nil
}

func (s flexString) int64() int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(string(s)), 10, 64)
	return n
}

// ---- hostaway (property-management channel manager) ----

type hostawayReview struct {
	ID             flexString `json:"id"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	Rating         flexFloat  `json:"rating"`
	PublicReview   string     `json:"publicReview"`
	ReviewCategory []struct {
		Category string    `json:"category"`
		Rating   flexFloat `json:"rating"`
	} `json:"reviewCategory"`
	SubmittedAt   string     `json:"submittedAt"`
	GuestName     string     `json:"guestName"`
	ListingName   string     `json:"listingName"`
	ListingMapID  flexString `json:"listingMapId"`
	ListingID     flexString `json:"listingId"`
	Channel       string     `json:"channel"`
	ArrivalDate   string     `json:"arrivalDate"`
	DepartureDate string     `json:"departureDate"`
	Language      string     `json:"language"`
	HostResponse  string     `json:"hostResponse"`
	UpdatedOn     string     `json:"updatedOn"`
	InsertedOn    string     `json:"insertedOn"`
}

func (h hostawayReview) fields() reviewFields {
	f := reviewFields{
		Shape:        "hostaway",
		SourceID:     string(h.ID),
		ListingID:    h.ListingMapID.int64(),
		ListingName:  h.ListingName,
		Channel:      h.Channel,
		Type:         h.Type,
		GuestName:    h.GuestName,
		Comment:      h.PublicReview,
		Language:     h.Language,
		Overall:      h.Rating.v,
		Submitted:    h.SubmittedAt,
		Created:      h.InsertedOn,
		Updated:      h.UpdatedOn,
		CheckIn:      h.ArrivalDate,
		CheckOut:     h.DepartureDate,
		HostResponse: h.HostResponse,
	}
	if f.ListingID == 0 {
		f.ListingID = h.ListingID.int64()
	}
	if f.Channel == "" {
		f.Channel = "airbnb"
	}
	if len(h.ReviewCategory) > 0 {
		f.Categories = make(map[string]float64, len(h.ReviewCategory))
		for _, c := range h.ReviewCategory {
			if c.Rating.v != nil {
				f.Categories[c.Category] = *c.Rating.v
			}
		}
	}
	return f
}

// ---- google business profile ----

var googleStars = map[string]float64{"ONE": 1, "TWO": 2, "THREE": 3, "FOUR": 4, "FIVE": 5}

type googleReview struct {
	ReviewID string `json:"reviewId"`
	Reviewer struct {
		DisplayName string `json:"displayName"`
	} `json:"reviewer"`
	StarRating  json.RawMessage `json:"starRating"`
	Comment     string          `json:"comment"`
	CreateTime  string          `json:"createTime"`
	UpdateTime  string          `json:"updateTime"`
	ListingID   flexString      `json:"listingId"`
	Language    string          `json:"languageCode"`
	ReviewReply *struct {
		Comment    string `json:"comment"`
		UpdateTime string `json:"updateTime"`
	} `json:"reviewReply"`
}

// stars reads starRating as either the enum ("FIVE") or a number, on a
// five-point scale.
func (g googleReview) stars() *float64 {
	var s string
	if err := json.Unmarshal(g.StarRating, &s); err == nil {
		if v, ok := googleStars[strings.ToUpper(s)]; ok {
			return &v
		}
		return parseFlexFloat(s)
	}
	var n float64
	if err := json.Unmarshal(g.StarRating, &n); err == nil {
		return &n
	}
	return nil
}

func (g googleReview) fields() reviewFields {
	f := reviewFields{
		Shape:     "google",
		SourceID:  g.ReviewID,
		ListingID: g.ListingID.int64(),
		Channel:   "google",
		Type:      "guest_review",
		GuestName: g.Reviewer.DisplayName,
		Comment:   g.Comment,
		Language:  g.Language,
		Submitted: g.CreateTime,
		Created:   g.CreateTime,
		Updated:   g.UpdateTime,
	}
	if s := g.stars(); s != nil {
		f.Overall = s
		f.FivePoint = true
	}
	if g.ReviewReply != nil {
		f.HostResponse = g.ReviewReply.Comment
		f.RespondedAt = g.ReviewReply.UpdateTime
	}
	return f
}

// ---- booking.com ----

var bookingCategories = map[string]string{
	"cleanliness":     "cleanliness",
	"staff":           "communication",
	"location":        "location",
	"value_for_money": "value",
	"comfort":         "accuracy",
}

type bookingReview struct {
	ReviewID     flexString           `json:"review_id"`
	ListingID    flexString           `json:"listing_id"`
	HotelID      flexString           `json:"hotel_id"`
	AverageScore flexFloat            `json:"average_score"`
	Scores       map[string]flexFloat `json:"scores"`
	Reviewer     struct {
		Name string `json:"name"`
	} `json:"reviewer"`
	Title    string `json:"title"`
	Pros     string `json:"pros"`
	Cons     string `json:"cons"`
	Language string `json:"language"`
	Created  string `json:"created"`
	Modified string `json:"modified"`
	Checkin  string `json:"checkin"`
	Checkout string `json:"checkout"`
	Reply    *struct {
		Text    string `json:"text"`
		Created string `json:"created"`
	} `json:"reply"`
}

func (b bookingReview) fields() reviewFields {
	f := reviewFields{
		Shape:     "booking.com",
		SourceID:  string(b.ReviewID),
		ListingID: b.ListingID.int64(),
		Channel:   "booking.com",
		Type:      "guest_review",
		GuestName: b.Reviewer.Name,
		Comment:   bookingText(b.Title, b.Pros, b.Cons),
		Language:  b.Language,
		Overall:   b.AverageScore.v,
		Submitted: b.Created,
		Created:   b.Created,
		Updated:   b.Modified,
		CheckIn:   b.Checkin,
		CheckOut:  b.Checkout,
	}
	if f.ListingID == 0 {
		f.ListingID = b.HotelID.int64()
	}
	for k, v := range b.Scores {
		key, ok := bookingCategories[k]
		if !ok || v.v == nil {
			continue
		}
		if f.Categories == nil {
			f.Categories = map[string]float64{}
		}
		f.Categories[key] = *v.v
	}
	if b.Reply != nil {
		f.HostResponse = b.Reply.Text
		f.RespondedAt = b.Reply.Created
	}
	return f
}

func bookingText(title, pros, cons string) string {
	var parts []string
	if t := strings.TrimSpace(title); t != "" {
		parts = append(parts, t)
	}
	if p := strings.TrimSpace(pros); p != "" {
		parts = append(parts, "Pros: "+p)
	}
	if c := strings.TrimSpace(cons); c != "" {
		parts = append(parts, "Cons: "+c)
	}
	return strings.Join(parts, "\n")
}

// decodeFields picks the payload shape from the source/platform
// discriminator. Payloads without a known discriminator use the alias-driven
// generic shape.
func decodeFields(raw []byte) (reviewFields, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return reviewFields{}, err
	}
	disc := strings.ToLower(strings.TrimSpace(firstAlias(m, "source")))

	var (
		f   reviewFields
		err error
	)
	switch disc {
	case "hostaway":
		var h hostawayReview
		err = json.Unmarshal(raw, &h)
		f = h.fields()
	case "google", "google_business":
		var g googleReview
		err = json.Unmarshal(raw, &g)
		f = g.fields()
	case "booking.com", "booking":
		var b bookingReview
		err = json.Unmarshal(raw, &b)
		f = b.fields()
	default:
		f = fieldsFromMap(m)
		f.Shape = "generic"
	}
	if err != nil {
		return reviewFields{}, err
	}
	return f, nil
}
