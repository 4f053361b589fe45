package harvest

import (
	"errors"
	"fmt"
)

// ErrUnparseableURL marks a URL that yields no ProviderID.
var ErrUnparseableURL = errors.New("unparseable url: no provider id")

// Stage names the step of an attempt that failed.
type Stage string

// Attempt stages that can fail independently.
const (
	StageDocument      Stage = "document"
	StageSaveDocument  Stage = "save_document"
	StageRecord        Stage = "record"
	StageDecodeRecord  Stage = "decode_record"
	StageSaveRecord    Stage = "save_record"
	StageSitemap       Stage = "sitemap"
	StagePublishRecord Stage = "publish"
)

// TransientError is a failed attempt that is worth retrying: transport errors,
// non-success statuses, malformed structured data and artifact write failures.
type TransientError struct {
	Stage      Stage
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d: %v", e.Stage, e.URL, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Stage, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s: status %d", e.Stage, e.URL, e.StatusCode)
	}
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
