package app

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

/********** alias registries (single source of truth) **********/

var reviewAliases = map[string][]string{
	"guest":         {"guestName", "guest_name", "author", "name", "userName", "reviewer", "reviewer.name", "reviewer.displayName"},
	"guest_first":   {"first_name", "firstname", "user.first_name", "user.firstName"},
	"guest_last":    {"last_name", "lastname", "user.last_name", "user.lastName"},
	"text":          {"publicReview", "comment", "text", "review_text", "review", "content", "body", "message"},
	"lang":          {"lang", "language", "language_code", "languageCode", "locale"},
	"source":        {"source", "platform", "provider", "site", "origin"},
	"channel":       {"channel", "channelName", "channel_name", "source", "platform"},
	"type":          {"type", "reviewType", "review_type"},
	"source_id":     {"id", "review_id", "reviewId"},
	"listing":       {"listingId", "listingMapId", "listing_id", "propertyId", "property_id", "hotel_id"},
	"listing_name":  {"listingName", "listing_name", "propertyName", "hotel_name"},
	"rating":        {"rating", "rate", "score", "rating.value", "scores.overall", "overall_score", "average_score", "overallRating"},
	"submitted":     {"submittedAt", "submitted_at", "date", "reviewDate", "createTime", "created"},
	"created":       {"createdAt", "created_at", "insertedOn"},
	"updated":       {"updatedAt", "updated_at", "updatedOn", "updateTime"},
	"checkin":       {"arrivalDate", "checkIn", "check_in", "checkin"},
	"checkout":      {"departureDate", "checkOut", "check_out", "checkout"},
	"response":      {"hostResponse", "host_response", "response", "reply", "reviewReply.comment", "hotel_response"},
	"responded":     {"respondedAt", "responseDate", "reviewReply.updateTime"},
	"categories":    {"reviewCategory", "categories", "categoryRatings", "subratings", "scores"},
	"category_name": {"category", "name", "key"},
	"category_val":  {"rating", "value", "score"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// lookupStr returns the string (or stringified number) at path, or "".
func lookupStr(m map[string]any, path string) string {
	switch v := lookupAny(m, path).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// firstAlias: first non-empty string for a named alias set.
func firstAlias(m map[string]any, key string) string {
	for _, p := range reviewAliases[key] {
		if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
			return s
		}
	}
	return ""
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, " ")
}

// parseFlexFloat: number from float64/int/string like "8,0".
func parseFlexFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}

// getFloatFlexible: number from several paths.
func getFloatFlexible(m map[string]any, paths ...string) *float64 {
	for _, k := range paths {
		if f := parseFlexFloat(lookupAny(m, k)); f != nil {
			return f
		}
	}
	return nil
}

// firstInt64Flexible: int64 from several paths (float64/int/string).
func firstInt64Flexible(m map[string]any, paths ...string) int64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			return int64(v)
		case int:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

// categoryRatings accepts either [{category, rating}] arrays or {name: rating}
// objects and returns raw label -> value.
func categoryRatings(m map[string]any) map[string]float64 {
	for _, path := range reviewAliases["categories"] {
		out := map[string]float64{}
		switch raw := lookupAny(m, path).(type) {
		case []any:
			for _, it := range raw {
				obj, ok := it.(map[string]any)
				if !ok {
					continue
				}
				name := firstOf(obj, reviewAliases["category_name"])
				val := getFloatFlexible(obj, reviewAliases["category_val"]...)
				if name != "" && val != nil {
					out[name] = *val
				}
			}
		case map[string]any:
			for k, v := range raw {
				if f := parseFlexFloat(v); f != nil {
					out[k] = *f
				}
			}
		default:
			continue
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func firstOf(m map[string]any, paths []string) string {
	for _, p := range paths {
		if s := lookupStr(m, p); s != "" {
			return s
		}
	}
	return ""
}

// syntheticSourceID derives a stable id for payloads that carry none.
func syntheticSourceID(f reviewFields) string {
	r := ""
	if f.Overall != nil {
		r = fmt.Sprintf("%.3f", *f.Overall)
	}
	sig := strings.Join([]string{f.GuestName, f.Comment, f.Submitted, strconv.FormatInt(f.ListingID, 10), r}, "|")
	sum := sha1.Sum([]byte(sig))
	return hex.EncodeToString(sum[:])
}

// fieldsFromMap is the generic fallback shape: every field is resolved via
// the alias registry.
func fieldsFromMap(m map[string]any) reviewFields {
	f := reviewFields{
		SourceID:     firstAlias(m, "source_id"),
		ListingID:    firstInt64Flexible(m, reviewAliases["listing"]...),
		ListingName:  firstAlias(m, "listing_name"),
		Channel:      firstAlias(m, "channel"),
		Type:         firstAlias(m, "type"),
		GuestName:    firstAlias(m, "guest"),
		Comment:      firstAlias(m, "text"),
		Language:     firstAlias(m, "lang"),
		Overall:      getFloatFlexible(m, reviewAliases["rating"]...),
		Categories:   categoryRatings(m),
		Submitted:    firstAlias(m, "submitted"),
		Created:      firstAlias(m, "created"),
		Updated:      firstAlias(m, "updated"),
		CheckIn:      firstAlias(m, "checkin"),
		CheckOut:     firstAlias(m, "checkout"),
		HostResponse: firstAlias(m, "response"),
		RespondedAt:  firstAlias(m, "responded"),
	}
	if f.GuestName == "" {
		f.GuestName = joinNonEmpty(firstAlias(m, "guest_first"), firstAlias(m, "guest_last"))
	}
	// Text -> fallback compose from pros/cons.
	if f.Comment == "" {
		pros, cons := lookupStr(m, "pros"), lookupStr(m, "cons")
		if pros != "" || cons != "" {
			f.Comment = strings.TrimSpace("Pros: " + pros + "\nCons: " + cons)
		}
	}
	return f
}
