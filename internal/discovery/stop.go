package discovery

import (
	"fmt"
)

// StopReason says why the walk of one resource type ended.
type StopReason int

const (
	// StopExhausted means a page returned a non-success status.
	StopExhausted StopReason = iota
	// StopDenied means a page body carried the access-denial marker.
	StopDenied
	// StopMalformed means a page body was not a well-formed sitemap.
	StopMalformed
	// StopFetchFailed means a page could not be retrieved at all. The run
	// fails without writing the URL list and the next run retries that page.
	StopFetchFailed
	// StopCanceled means the walk was interrupted.
	StopCanceled
)

func (r StopReason) String() string {
	switch r {
	case StopExhausted:
		return "exhausted"
	case StopDenied:
		return "denied"
	case StopMalformed:
		return "malformed"
	case StopFetchFailed:
		return "fetch_failed"
	case StopCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Complete reports whether the walk reached the natural end of the sitemap.
func (r StopReason) Complete() bool {
	return r == StopExhausted
}

// MalformedPageError reports a sitemap page that failed to parse. Body holds
// the raw response for diagnosis.
type MalformedPageError struct {
	URL  string
	Page int
	Body []byte
	Err  error
}

func (e *MalformedPageError) Error() string {
	return fmt.Sprintf("malformed sitemap page %d at %s: %v", e.Page, e.URL, e.Err)
}

func (e *MalformedPageError) Unwrap() error {
	return e.Err
}
