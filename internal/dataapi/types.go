package dataapi

import (
	"strings"

	"github.com/rafaeljc/bifrost/internal/evaluator"
)

// maxKeyLength is the longest accepted matching or bucketing key.
const maxKeyLength = 250

// TreatmentsRequest is the body of POST /api/v1/treatments. Flags and
// FlagSets may be combined; at least one of them is required.
type TreatmentsRequest struct {
	Key          string         `json:"key" validate:"required,max=250"`
	BucketingKey string         `json:"bucketingKey,omitempty" validate:"max=250"`
	Flags        []string       `json:"flags,omitempty" validate:"required_without=FlagSets,omitempty,max=500,dive,max=250"`
	FlagSets     []string       `json:"flagSets,omitempty" validate:"required_without=Flags,omitempty,max=50,dive,max=100"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// Sanitize trims surrounding whitespace from keys and names in place.
func (r *TreatmentsRequest) Sanitize() {
	r.Key = strings.TrimSpace(r.Key)
	r.BucketingKey = strings.TrimSpace(r.BucketingKey)
	for i := range r.Flags {
		r.Flags[i] = strings.TrimSpace(r.Flags[i])
	}
	for i := range r.FlagSets {
		r.FlagSets[i] = strings.ToLower(strings.TrimSpace(r.FlagSets[i]))
	}
}

// TreatmentResponse is the evaluation of one flag.
type TreatmentResponse struct {
	Flag         string  `json:"flag"`
	Treatment    string  `json:"treatment"`
	Config       *string `json:"config"`
	Label        string  `json:"label,omitempty"`
	ChangeNumber int64   `json:"changeNumber,omitempty"`
}

// TreatmentsResponse lists evaluations in request order.
type TreatmentsResponse struct {
	Treatments []TreatmentResponse `json:"treatments"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details lists failed fields, when any.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail describes one invalid field.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func toResponse(res evaluator.Result) TreatmentResponse {
	return TreatmentResponse{
		Flag:         res.FlagName,
		Treatment:    res.Treatment,
		Config:       res.Config,
		Label:        res.Label,
		ChangeNumber: res.ChangeNumber,
	}
}
