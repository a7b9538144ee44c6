// Package impressions turns evaluation results into telemetry. Depending on
// the configured Mode it deduplicates impressions, counts them per flag and
// hour, records unique keys, and queues eligible impressions for upload.
package impressions

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Impression records one evaluation decision.
type Impression struct {
	MatchingKey  string
	BucketingKey string
	FlagName     string
	Treatment    string
	Label        string
	Time         int64 // epoch milliseconds
	ChangeNumber int64
	// PreviousTime is the last time an identical impression was seen, or nil.
	PreviousTime *int64
	ShouldQueue  bool
	Disabled     bool
}

// Mode selects how impressions are processed.
type Mode string

const (
	// ModeOptimized uploads the first occurrence per hour and counts the rest.
	ModeOptimized Mode = "optimized"
	// ModeDebug uploads every impression.
	ModeDebug Mode = "debug"
	// ModeNone uploads no impressions, only counts and unique keys.
	ModeNone Mode = "none"
)

// ErrInvalidMode is returned by ParseMode for unknown names.
var ErrInvalidMode = errors.New("invalid impressions mode")

// ParseMode parses a mode name case-insensitively. An empty name means ModeOptimized.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeOptimized:
		return ModeOptimized, nil
	case ModeDebug:
		return ModeDebug, nil
	case ModeNone:
		return ModeNone, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

const timeFrameMs = int64(time.Hour / time.Millisecond)

// TruncateTimeFrame floors an epoch-milliseconds timestamp to its hour bucket.
func TruncateTimeFrame(ms int64) int64 {
	return ms - ms%timeFrameMs
}
