// Package transcript fetches caption segments for a YouTube video.
//
// A Fetcher never returns an error to its caller: any failure along the
// pipeline is logged with a category and reason and yields nil segments.
package transcript

import (
	"context"
	"errors"
	"fmt"
)

// Request names the video and the caller's language preferences.
type Request struct {
	VideoURL           string   `json:"videoUrl"`
	PreferredLanguages []string `json:"preferredLanguages,omitempty"`
}

// Segment is one caption line. Times are in milliseconds.
type Segment struct {
	Text      string `json:"text"`
	StartInMs int64  `json:"startInMs"`
	Duration  int64  `json:"duration"`
}

// Fetcher resolves a transcript. It returns nil when none is available.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) []Segment
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) []Segment

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) []Segment {
	return f(ctx, req)
}

// Category groups failures for logging.
type Category string

const (
	CategoryInvalidURL   Category = "invalid_url"
	CategoryInaccessible Category = "inaccessible"
	CategoryNoCaptions   Category = "no_captions"
	CategoryNetwork      Category = "network_error"
	CategoryOther        Category = "other_error"
)

// Failure is a categorized pipeline failure.
type Failure struct {
	Category Category
	Reason   string
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Category, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Category, f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(category Category, reason string) *Failure {
	return &Failure{Category: category, Reason: reason}
}

// Reason returns the failure reason of err, or "unexpected_error".
func Reason(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return "unexpected_error"
}

// CategoryOf returns the failure category of err.
func CategoryOf(err error) Category {
	var f *Failure
	if errors.As(err, &f) {
		return f.Category
	}
	return CategoryOther
}
