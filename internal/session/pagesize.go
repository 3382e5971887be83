package session

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// PageSizeCookie is the cookie carrying the preferred list page size.
const PageSizeCookie = "qdadm_pageSize"

// PageSizeMaxAge keeps the preference for a year.
const PageSizeMaxAge = 365 * 24 * time.Hour

// DefaultPageSize is used when no valid preference exists.
const DefaultPageSize = 10

// AllowedPageSizes are the only page sizes a list accepts.
var AllowedPageSizes = []int{10, 50, 100}

// ValidPageSize reports whether n is an accepted page size.
func ValidPageSize(n int) bool {
	for _, s := range AllowedPageSizes {
		if n == s {
			return true
		}
	}
	return false
}

// ReadPageSize returns the page size from the request cookie, falling back
// to the default when the cookie is missing or holds an invalid value.
func ReadPageSize(r *http.Request) int {
	c, err := r.Cookie(PageSizeCookie)
	if err != nil {
		return DefaultPageSize
	}
	n, err := strconv.Atoi(c.Value)
	if err != nil || !ValidPageSize(n) {
		return DefaultPageSize
	}
	return n
}

// WritePageSize persists the page size preference. Invalid sizes are
// rejected so a bad client cannot poison the cookie.
func WritePageSize(w http.ResponseWriter, size int) error {
	if !ValidPageSize(size) {
		return fmt.Errorf("page size %d is not one of %v", size, AllowedPageSizes)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     PageSizeCookie,
		Value:    strconv.Itoa(size),
		Path:     "/",
		MaxAge:   int(PageSizeMaxAge.Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
