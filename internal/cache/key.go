package cache

import (
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"guest_reviews/internal/domain"
)

// Key derives the cache key for a request: unset parameters are dropped, the
// rest are sorted by name, URL-encoded and joined as prefix:a=1&b=2.
// Insertion order of params never changes the result.
func Key(prefix string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(':')
	for i, k := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// listingComponent is the encoded filter component a listing-scoped key carries.
func listingComponent(listingID int64) string {
	return "listingId=" + strconv.FormatInt(listingID, 10)
}

// keyHasListing reports whether key encodes exactly that listing filter.
func keyHasListing(key string, listingID int64) bool {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return false
	}
	want := listingComponent(listingID)
	for _, part := range strings.Split(key[i+1:], "&") {
		if part == want {
			return true
		}
	}
	return false
}

// keyHasAnyListing reports whether key carries any listingId filter.
func keyHasAnyListing(key string) bool {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return false
	}
	for _, part := range strings.Split(key[i+1:], "&") {
		if strings.HasPrefix(part, "listingId=") {
			return true
		}
	}
	return false
}

// matchGlob matches key against a glob pattern (*, ?, [...]).
func matchGlob(pattern, key string) bool {
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

func validatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return domain.NewValidationError("pattern", "must not be empty")
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return domain.NewValidationError("pattern", "malformed glob pattern")
	}
	return nil
}
