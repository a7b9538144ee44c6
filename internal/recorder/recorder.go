// Package recorder defines the telemetry upload payloads and the sinks that
// ship them. Field names are shared with other client implementations and
// must not change.
package recorder

import "context"

// KeyImpression is one evaluation decision inside an ImpressionsDTO.
type KeyImpression struct {
	KeyName      string `json:"k"`
	Treatment    string `json:"t"`
	Time         int64  `json:"m"`
	ChangeNumber int64  `json:"c"`
	Label        string `json:"r"`
	BucketingKey string `json:"b,omitempty"`
	PreviousTime *int64 `json:"pt,omitempty"`
}

// ImpressionsDTO groups impressions by flag.
type ImpressionsDTO struct {
	FlagName       string          `json:"f"`
	KeyImpressions []KeyImpression `json:"i"`
}

// ImpressionCount is the number of impressions of a flag within one hour bucket.
type ImpressionCount struct {
	FlagName  string `json:"f"`
	TimeFrame int64  `json:"m"`
	Count     int64  `json:"rc"`
}

// ImpressionCountsPayload is the bulk impression-count upload.
type ImpressionCountsPayload struct {
	PerFlag []ImpressionCount `json:"pf"`
}

// UniqueKeys lists the matching keys seen for one flag.
type UniqueKeys struct {
	FlagName string   `json:"f"`
	Keys     []string `json:"ks"`
}

// UniqueKeysPayload is the bulk unique-keys upload.
type UniqueKeysPayload struct {
	Keys []UniqueKeys `json:"keys"`
}

// Recorder ships telemetry. Implementations must be safe for concurrent use.
// Callers never retry a failed call.
type Recorder interface {
	RecordImpressions(ctx context.Context, impressions []ImpressionsDTO) error
	RecordImpressionCounts(ctx context.Context, counts ImpressionCountsPayload) error
	RecordUniqueKeys(ctx context.Context, keys UniqueKeysPayload) error
}
